package http

import (
	"net/http"
	"time"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the REST endpoints, the websocket endpoint and operational routes.
func NewRouter(service *app.QuizService, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	if len(allowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     allowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", gin.WrapF(NewWSHandler(service).ServeWS))

	api := &API{service: service}
	sessions := r.Group("/api/sessions")
	sessions.POST("", api.createSession)
	sessions.GET("/:code", api.getSession)
	sessions.POST("/:code/join", api.join)
	sessions.POST("/:code/start", api.start)
	sessions.POST("/:code/finish", api.finish)
	sessions.POST("/:code/answers", api.submitAnswer)
	sessions.GET("/:code/participants/:id/current", api.currentQuestion)
	sessions.GET("/:code/ranking", api.ranking)
	return r
}

func requestLogger() gin.HandlerFunc {
	log := logger.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// API exposes the quiz use cases as JSON endpoints for host and participant views.
type API struct {
	service *app.QuizService
}

type createSessionRequest struct {
	QuizID           string `json:"quizId" binding:"required"`
	TimeLimitSeconds int    `json:"timeLimitSeconds"`
}

type joinRequest struct {
	Nickname string `json:"nickname" binding:"required"`
	RealName string `json:"realName"`
	Phone    string `json:"phone"`
}

type answerRequest struct {
	ParticipantID  string `json:"participantId" binding:"required"`
	QuestionID     string `json:"questionId" binding:"required"`
	OptionID       string `json:"optionId"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
}

func (a *API) fail(c *gin.Context, err error) {
	_, status := classify(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": toErrorPayload(err)})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": errorPayload{Code: "BadRequest", Message: err.Error()}})
}

func (a *API) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	session, err := a.service.CreateSession(c.Request.Context(), req.QuizID, req.TimeLimitSeconds)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"code": session.Code, "status": session.Status})
}

func (a *API) getSession(c *gin.Context) {
	session, err := a.service.GetSession(c.Request.Context(), c.Param("code"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (a *API) join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	participant, err := a.service.Join(c.Request.Context(), c.Param("code"), req.Nickname, req.RealName, req.Phone)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"participantId": participant.ID, "participant": participant})
}

func (a *API) start(c *gin.Context) {
	if err := a.service.StartGame(c.Request.Context(), c.Param("code")); err != nil {
		a.fail(c, err)
		return
	}
	a.getSession(c)
}

func (a *API) finish(c *gin.Context) {
	if err := a.service.FinishGame(c.Request.Context(), c.Param("code")); err != nil {
		a.fail(c, err)
		return
	}
	a.getSession(c)
}

func (a *API) submitAnswer(c *gin.Context) {
	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := a.service.SubmitAnswer(c.Request.Context(), c.Param("code"), domain.AnswerEvent{
		ParticipantID:    req.ParticipantID,
		QuestionID:       req.QuestionID,
		SelectedOptionID: req.OptionID,
		ResponseTimeMs:   req.ResponseTimeMs,
	})
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (a *API) currentQuestion(c *gin.Context) {
	current, err := a.service.GetCurrentQuestionFor(c.Request.Context(), c.Param("code"), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, current)
}

func (a *API) ranking(c *gin.Context) {
	board, err := a.service.Leaderboard(c.Request.Context(), c.Param("code"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, board)
}
