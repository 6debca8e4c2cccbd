package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"livequiz-service/internal/app"
	"livequiz-service/internal/config"
	"livequiz-service/internal/domain"
	amqppub "livequiz-service/internal/infra/amqp"
	"livequiz-service/internal/infra/memory"
	"livequiz-service/internal/infra/postgres"
	redisstore "livequiz-service/internal/infra/redis"
	"livequiz-service/internal/logger"
	transport "livequiz-service/internal/transport/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.Level, cfg.Log.JSON)
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var (
		loader  memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
		archive app.ResultArchive = memory.NewResultArchive()
	)
	if cfg.Postgres.URL != "" {
		db := openBunDB(cfg.Postgres.URL)
		defer db.Close()
		if err := runMigrations(ctx, db); err != nil {
			return err
		}
		archive = postgres.NewResultArchive(db)

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = postgres.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	sessionTTL := config.TTLDuration(cfg.Session.TTL, 24*time.Hour)

	var (
		quizRepo     app.QuizRepository
		sessions     app.SessionRepository
		participants app.ParticipantRepository
		events       app.Broadcaster
	)
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		quizRepo = redisstore.NewQuizRepository(redisClient, loader, quizTTL)
		sessions = redisstore.NewSessionStore(redisClient, sessionTTL)
		participants = redisstore.NewParticipantStore(redisClient, sessionTTL)
		events = redisstore.NewBroadcaster(redisClient)
		logger.Info("using redis state", "addr", cfg.Redis.Addr)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
		sessions = memory.NewSessionStore()
		participants = memory.NewParticipantStore()
		events = memory.NewHub()
		logger.Info("using in-memory state")
	}

	if cfg.AMQP.URL != "" {
		publisher, err := amqppub.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		defer publisher.Close()
		events = app.NewMultiBroadcaster(events, publisher)
		logger.Info("mirroring events to amqp", "exchange", cfg.AMQP.Exchange)
	}

	service := app.NewQuizService(sessions, participants, quizRepo, events,
		app.WithResultArchive(archive),
		app.WithScoringPolicy(app.ScoringPolicy{
			BasePoints:      cfg.Scoring.BasePoints,
			MinPoints:       cfg.Scoring.MinPoints,
			MaxWrongAnswers: cfg.Scoring.MaxWrongAnswers,
		}),
		app.WithCodeGenerator(app.NumericCodes(cfg.Session.CodeDigits)),
	)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     transport.NewRouter(service, cfg.Server.AllowedOrigins),
		ReadTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting quiz service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		logger.Info("shutting down server")
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	case err := <-errCh:
		logger.Error("server failed", "error", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleQuizzes is served when no Postgres is configured.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"quiz-1": {
			ID:    "quiz-1",
			Title: "Warm-up arithmetic",
			Questions: []domain.Question{
				{
					ID:              "q1",
					Text:            "What is 2 + 2?",
					Options:         []domain.Option{{ID: "o1", Text: "3"}, {ID: "o2", Text: "4"}, {ID: "o3", Text: "5"}},
					CorrectOptionID: "o2",
				},
				{
					ID:              "q2",
					Text:            "What is 6 x 7?",
					Options:         []domain.Option{{ID: "o1", Text: "42"}, {ID: "o2", Text: "48"}, {ID: "o3", Text: "36"}},
					CorrectOptionID: "o1",
				},
				{
					ID:              "q3",
					Text:            "What is 81 / 9?",
					Options:         []domain.Option{{ID: "o1", Text: "8"}, {ID: "o2", Text: "9"}, {ID: "o3", Text: "7"}},
					CorrectOptionID: "o2",
					TimerSeconds:    20,
				},
			},
		},
	}
}
