package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"livequiz-service/internal/app"
	"livequiz-service/internal/domain"
	"livequiz-service/internal/infra/memory"
)

type fixture struct {
	service *app.QuizService
	hub     *memory.Hub
	archive *memory.ResultArchive
}

func newFixture(t *testing.T, opts ...app.Option) fixture {
	t.Helper()
	hub := memory.NewHub()
	archive := memory.NewResultArchive()
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{
		"quiz-1": sampleQuiz(),
		"empty":  {ID: "empty"},
	}), 5*time.Minute)

	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	codes := []string{"111111", "111111", "222222", "333333", "444444"}
	var mu sync.Mutex
	next := 0
	base := []app.Option{
		app.WithResultArchive(archive),
		app.WithClock(func() time.Time { return now }),
		app.WithCodeGenerator(func() string {
			mu.Lock()
			defer mu.Unlock()
			code := codes[next%len(codes)]
			next++
			return code
		}),
	}
	service := app.NewQuizService(memory.NewSessionStore(), memory.NewParticipantStore(), quizzes, hub, append(base, opts...)...)
	return fixture{service: service, hub: hub, archive: archive}
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "quiz-1",
		Questions: []domain.Question{
			{ID: "q1", Text: "2+2", Options: []domain.Option{{ID: "a", Text: "3"}, {ID: "b", Text: "4"}}, CorrectOptionID: "b"},
			{ID: "q2", Text: "3+3", Options: []domain.Option{{ID: "a", Text: "6"}, {ID: "b", Text: "7"}}, CorrectOptionID: "a"},
			{ID: "q3", Text: "4+4", Options: []domain.Option{{ID: "a", Text: "8"}, {ID: "b", Text: "9"}}, CorrectOptionID: "a"},
		},
	}
}

// startedSession creates a session with the given nicknames joined and the game started.
func startedSession(t *testing.T, f fixture, nicknames ...string) (string, []domain.Participant) {
	t.Helper()
	ctx := context.Background()
	session, err := f.service.CreateSession(ctx, "quiz-1", 10)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	var joined []domain.Participant
	for _, nick := range nicknames {
		p, err := f.service.Join(ctx, session.Code, nick, "", "")
		if err != nil {
			t.Fatalf("join %s: %v", nick, err)
		}
		joined = append(joined, p)
	}
	if err := f.service.StartGame(ctx, session.Code); err != nil {
		t.Fatalf("start: %v", err)
	}
	return session.Code, joined
}

func answer(t *testing.T, f fixture, code, participantID, questionID, optionID string, rt int64) (domain.AnswerResult, error) {
	t.Helper()
	return f.service.SubmitAnswer(context.Background(), code, domain.AnswerEvent{
		ParticipantID:    participantID,
		QuestionID:       questionID,
		SelectedOptionID: optionID,
		ResponseTimeMs:   rt,
	})
}

func participant(t *testing.T, f fixture, code, id string) domain.Participant {
	t.Helper()
	ranked, err := f.service.GetRanked(context.Background(), code)
	if err != nil {
		t.Fatalf("ranked: %v", err)
	}
	for _, p := range ranked {
		if p.ID == id {
			return p
		}
	}
	t.Fatalf("participant %s not ranked", id)
	return domain.Participant{}
}

func TestCreateSessionRetriesTakenCodes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.service.CreateSession(ctx, "quiz-1", 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := f.service.CreateSession(ctx, "quiz-1", 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.Code != "111111" || second.Code != "222222" {
		t.Fatalf("expected collision to be skipped, got %s and %s", first.Code, second.Code)
	}
	if first.Status != domain.SessionWaiting {
		t.Fatalf("new session should be waiting, got %s", first.Status)
	}
}

func TestCreateSessionRejectsEmptyQuiz(t *testing.T) {
	f := newFixture(t)
	if _, err := f.service.CreateSession(context.Background(), "empty", 10); !errors.Is(err, domain.ErrInvalidQuiz) {
		t.Fatalf("expected ErrInvalidQuiz, got %v", err)
	}
	if _, err := f.service.CreateSession(context.Background(), "missing", 10); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

func TestCreateSessionExhaustsCodes(t *testing.T) {
	f := newFixture(t, app.WithCodeGenerator(func() string { return "999999" }))
	ctx := context.Background()
	if _, err := f.service.CreateSession(ctx, "quiz-1", 10); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.service.CreateSession(ctx, "quiz-1", 10); !errors.Is(err, domain.ErrCodeExhausted) {
		t.Fatalf("expected ErrCodeExhausted, got %v", err)
	}
}

func TestFasterCorrectAnswerScoresHigher(t *testing.T) {
	f := newFixture(t)
	code, ps := startedSession(t, f, "A", "B")
	a, b := ps[0], ps[1]

	ra, err := answer(t, f, code, a.ID, "q1", "b", 2000)
	if err != nil {
		t.Fatalf("A answer: %v", err)
	}
	rb, err := answer(t, f, code, b.ID, "q1", "b", 8000)
	if err != nil {
		t.Fatalf("B answer: %v", err)
	}
	if ra.PointsEarned != 800 || rb.PointsEarned != 200 {
		t.Fatalf("unexpected points A=%d B=%d", ra.PointsEarned, rb.PointsEarned)
	}
	pa, pb := participant(t, f, code, a.ID), participant(t, f, code, b.ID)
	if pa.Score <= pb.Score {
		t.Fatalf("expected A ahead: A=%d B=%d", pa.Score, pb.Score)
	}
	if pa.ProgressIndex != 1 || pb.ProgressIndex != 1 {
		t.Fatalf("expected both at index 1, got %d %d", pa.ProgressIndex, pb.ProgressIndex)
	}
}

func TestWrongAnswerEliminates(t *testing.T) {
	f := newFixture(t)
	code, ps := startedSession(t, f, "A", "B")
	a := ps[0]

	res, err := answer(t, f, code, a.ID, "q1", "a", 1000)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if res.Outcome != domain.OutcomeEliminated || res.ParticipantStatus != domain.ParticipantEliminated {
		t.Fatalf("expected elimination, got %+v", res)
	}
	if res.ProgressIndex != 1 {
		t.Fatalf("expected progress 1, got %d", res.ProgressIndex)
	}

	if _, err := answer(t, f, code, a.ID, "q2", "a", 1000); !errors.Is(err, domain.ErrNotActive) {
		t.Fatalf("expected ErrNotActive after elimination, got %v", err)
	}
	after := participant(t, f, code, a.ID)
	if after.Score != 0 || after.ProgressIndex != 1 || after.TotalResponseTimeMs != 1000 {
		t.Fatalf("terminal participant mutated: %+v", after)
	}

	current, err := f.service.GetCurrentQuestionFor(context.Background(), code, a.ID)
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if current.Status != domain.CurrentEliminated || current.Question != nil {
		t.Fatalf("expected eliminated view, got %+v", current)
	}
}

func TestMaxWrongAnswersPolicy(t *testing.T) {
	f := newFixture(t, app.WithScoringPolicy(app.ScoringPolicy{BasePoints: 100, MinPoints: 1, MaxWrongAnswers: 2}))
	code, ps := startedSession(t, f, "A")
	a := ps[0]

	res, err := answer(t, f, code, a.ID, "q1", "a", 0)
	if err != nil || res.Outcome != domain.OutcomeWrong || res.ParticipantStatus != domain.ParticipantActive {
		t.Fatalf("first miss should keep A active: %+v %v", res, err)
	}
	res, err = answer(t, f, code, a.ID, "q2", "b", 0)
	if err != nil || res.Outcome != domain.OutcomeEliminated {
		t.Fatalf("second miss should eliminate: %+v %v", res, err)
	}
}

func TestDuplicateNickname(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, _ := f.service.CreateSession(ctx, "quiz-1", 10)

	if _, err := f.service.Join(ctx, session.Code, "fox", "", ""); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := f.service.Join(ctx, session.Code, "fox", "", ""); !errors.Is(err, domain.ErrDuplicateNickname) {
		t.Fatalf("expected ErrDuplicateNickname, got %v", err)
	}
	if _, err := f.service.Join(ctx, session.Code, "   ", "", ""); !errors.Is(err, domain.ErrInvalidNickname) {
		t.Fatalf("expected ErrInvalidNickname, got %v", err)
	}
}

func TestFinishMidGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, ps := startedSession(t, f, "A", "B")
	a := ps[0]

	if _, err := answer(t, f, code, a.ID, "q1", "b", 3000); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := f.service.FinishGame(ctx, code); err != nil {
		t.Fatalf("finish: %v", err)
	}
	session, _ := f.service.GetSession(ctx, code)
	if session.Status != domain.SessionFinished || session.FinishedAt == nil {
		t.Fatalf("expected finished session, got %+v", session)
	}

	if _, err := answer(t, f, code, a.ID, "q2", "a", 1000); !errors.Is(err, domain.ErrNotActive) {
		t.Fatalf("expected ErrNotActive after finish, got %v", err)
	}
	ranked, err := f.service.GetRanked(ctx, code)
	if err != nil {
		t.Fatalf("ranked: %v", err)
	}
	if len(ranked) != 2 || ranked[0].ID != a.ID || ranked[0].Score != 700 {
		t.Fatalf("unexpected ranking %+v", ranked)
	}
	for _, p := range ranked {
		if p.Status != domain.ParticipantFinished {
			t.Fatalf("expected sealed participants, got %s for %s", p.Status, p.Nickname)
		}
	}

	board, ok := f.archive.Results(code)
	if !ok || len(board.Entries) != 2 || board.Status != domain.SessionFinished {
		t.Fatalf("expected archived results, got %+v %v", board, ok)
	}
	if _, err := f.service.Join(ctx, code, "late", "", ""); !errors.Is(err, domain.ErrSessionNotJoinable) {
		t.Fatalf("expected ErrSessionNotJoinable, got %v", err)
	}
	if err := f.service.FinishGame(ctx, code); err != nil {
		t.Fatalf("second finish should be a no-op, got %v", err)
	}
}

func TestStartWithoutParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, _ := f.service.CreateSession(ctx, "quiz-1", 10)

	if err := f.service.StartGame(ctx, session.Code); !errors.Is(err, domain.ErrNoParticipants) {
		t.Fatalf("expected ErrNoParticipants, got %v", err)
	}
	got, _ := f.service.GetSession(ctx, session.Code)
	if got.Status != domain.SessionWaiting {
		t.Fatalf("expected session to stay waiting, got %s", got.Status)
	}
	if err := f.service.FinishGame(ctx, session.Code); !errors.Is(err, domain.ErrGameNotStarted) {
		t.Fatalf("expected ErrGameNotStarted, got %v", err)
	}
}

func TestStartGameIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, _ := f.service.CreateSession(ctx, "quiz-1", 10)
	p, _ := f.service.Join(ctx, session.Code, "A", "", "")

	events, cancel, err := f.service.Subscribe(ctx, session.Code)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	if err := f.service.StartGame(ctx, session.Code); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := answer(t, f, session.Code, p.ID, "q1", "b", 1000); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := f.service.StartGame(ctx, session.Code); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if got := participant(t, f, session.Code, p.ID); got.ProgressIndex != 1 || got.Score != 900 {
		t.Fatalf("second start must not reset progress, got %+v", got)
	}

	started := 0
	for len(events) > 0 {
		if (<-events).Type() == domain.EventGameStarted {
			started++
		}
	}
	if started != 1 {
		t.Fatalf("expected exactly one game-started event, got %d", started)
	}
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, _ := f.service.CreateSession(ctx, "quiz-1", 10)
	p, _ := f.service.Join(ctx, session.Code, "A", "", "")

	if _, err := answer(t, f, session.Code, p.ID, "q1", "b", 0); !errors.Is(err, domain.ErrNotActive) {
		t.Fatalf("expected ErrNotActive before start, got %v", err)
	}
	if err := f.service.StartGame(ctx, session.Code); err != nil {
		t.Fatalf("start: %v", err)
	}

	cases := []struct {
		name   string
		id     string
		qid    string
		option string
		want   error
	}{
		{"unknown participant", "nobody", "q1", "b", domain.ErrParticipantNotFound},
		{"unknown question", p.ID, "q9", "b", domain.ErrQuestionNotFound},
		{"unknown option", p.ID, "q1", "z", domain.ErrOptionNotFound},
		{"ahead of progress", p.ID, "q2", "a", domain.ErrNotActive},
	}
	for _, tc := range cases {
		if _, err := answer(t, f, session.Code, tc.id, tc.qid, tc.option, 0); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if got := participant(t, f, session.Code, p.ID); got.ProgressIndex != 0 || len(got.Answered) != 0 {
		t.Fatalf("rejected answers must not mutate, got %+v", got)
	}

	if _, err := answer(t, f, session.Code, p.ID, "q1", "b", 0); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := answer(t, f, session.Code, p.ID, "q1", "b", 0); !errors.Is(err, domain.ErrAlreadyAnswered) {
		t.Fatalf("expected ErrAlreadyAnswered on replay, got %v", err)
	}
	if _, err := answer(t, f, "000000", p.ID, "q1", "b", 0); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestConcurrentSubmitsForSameQuestion(t *testing.T) {
	f := newFixture(t)
	code, ps := startedSession(t, f, "A")
	a := ps[0]

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := answer(t, f, code, a.ID, "q1", "b", 1000)
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrAlreadyAnswered) && !errors.Is(err, domain.ErrNotActive) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 {
		t.Fatalf("expected exactly one accepted answer, got %d", succeeded)
	}
	if got := participant(t, f, code, a.ID); got.Score != 900 || got.ProgressIndex != 1 {
		t.Fatalf("answer applied more than once: %+v", got)
	}
}

func TestAutoFinishWhenEveryoneIsDone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code, ps := startedSession(t, f, "A", "B")
	a, b := ps[0], ps[1]

	if _, err := answer(t, f, code, b.ID, "q1", "a", 500); err != nil {
		t.Fatalf("B answer: %v", err)
	}
	for _, step := range []struct{ q, o string }{{"q1", "b"}, {"q2", "a"}, {"q3", "a"}} {
		if _, err := answer(t, f, code, a.ID, step.q, step.o, 1000); err != nil {
			t.Fatalf("A answer %s: %v", step.q, err)
		}
	}

	session, _ := f.service.GetSession(ctx, code)
	if session.Status != domain.SessionFinished {
		t.Fatalf("expected auto finish, got %s", session.Status)
	}
	current, _ := f.service.GetCurrentQuestionFor(ctx, code, a.ID)
	if current.Status != domain.CurrentFinished || current.Score != 2700 {
		t.Fatalf("unexpected final view %+v", current)
	}
	board, err := f.service.Leaderboard(ctx, code)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if board.Entries[0].ParticipantID != a.ID || board.Entries[0].Rank != 1 || board.Entries[1].Rank != 2 {
		t.Fatalf("unexpected leaderboard %+v", board.Entries)
	}
}

func TestCurrentQuestionSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, _ := f.service.CreateSession(ctx, "quiz-1", 15)
	p, _ := f.service.Join(ctx, session.Code, "A", "", "")

	current, err := f.service.GetCurrentQuestionFor(ctx, session.Code, p.ID)
	if err != nil || current.Status != domain.CurrentWaitingHost {
		t.Fatalf("expected waiting_host, got %+v %v", current, err)
	}
	_ = f.service.StartGame(ctx, session.Code)

	for i := 0; i < 2; i++ {
		current, err = f.service.GetCurrentQuestionFor(ctx, session.Code, p.ID)
		if err != nil {
			t.Fatalf("current: %v", err)
		}
		if current.Status != domain.CurrentActive || current.Question.ID != "q1" || current.TimerSeconds != 15 || current.Total != 3 {
			t.Fatalf("unexpected active view %+v", current)
		}
	}
}

func TestRankingBreaksTiesByTimeThenJoinOrder(t *testing.T) {
	f := newFixture(t, app.WithScoringPolicy(app.ScoringPolicy{BasePoints: 100, MinPoints: 100, MaxWrongAnswers: 1}))
	code, ps := startedSession(t, f, "first", "second", "third")

	// Equal points thanks to the MinPoints floor.
	_, _ = answer(t, f, code, ps[0].ID, "q1", "b", 4000)
	_, _ = answer(t, f, code, ps[1].ID, "q1", "b", 2000)
	_, _ = answer(t, f, code, ps[2].ID, "q1", "b", 4000)

	ranked, err := f.service.GetRanked(context.Background(), code)
	if err != nil {
		t.Fatalf("ranked: %v", err)
	}
	got := []string{ranked[0].Nickname, ranked[1].Nickname, ranked[2].Nickname}
	want := []string{"second", "first", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestEventsAreBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	session, _ := f.service.CreateSession(ctx, "quiz-1", 10)

	events, cancel, err := f.service.Subscribe(ctx, session.Code)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	p, _ := f.service.Join(ctx, session.Code, "A", "", "")
	_ = f.service.StartGame(ctx, session.Code)
	_, _ = answer(t, f, session.Code, p.ID, "q1", "a", 100)

	want := []domain.EventType{domain.EventPlayerJoined, domain.EventGameStarted, domain.EventAnswerSubmitted, domain.EventGameFinished}
	for _, typ := range want {
		select {
		case ev := <-events:
			if ev.Type() != typ {
				t.Fatalf("expected %s, got %s", typ, ev.Type())
			}
			if submitted, ok := ev.(domain.AnswerSubmitted); ok && submitted.Status != domain.ParticipantEliminated {
				t.Fatalf("expected eliminated in event, got %+v", submitted)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", typ)
		}
	}

	if _, _, err := f.service.Subscribe(ctx, "000000"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

// pausingParticipants, once armed, holds the participant lock during the next Update until
// release is closed, and records the session status at the moment that update commits.
type pausingParticipants struct {
	*memory.ParticipantStore
	sessions *memory.SessionStore

	armed    atomic.Bool
	entered  chan struct{}
	release  chan struct{}
	statusMu sync.Mutex
	status   domain.SessionStatus
}

func (p *pausingParticipants) Update(ctx context.Context, code, id string, fn func(*domain.Participant) error) (domain.Participant, error) {
	if !p.armed.CompareAndSwap(true, false) {
		return p.ParticipantStore.Update(ctx, code, id, fn)
	}
	return p.ParticipantStore.Update(ctx, code, id, func(participant *domain.Participant) error {
		close(p.entered)
		<-p.release
		if err := fn(participant); err != nil {
			return err
		}
		session, err := p.sessions.Get(ctx, code)
		if err != nil {
			return err
		}
		p.statusMu.Lock()
		p.status = session.Status
		p.statusMu.Unlock()
		return nil
	})
}

func TestAnswerInFlightDuringFinishNeverCommitsAfterFinish(t *testing.T) {
	ctx := context.Background()
	sessions := memory.NewSessionStore()
	participants := &pausingParticipants{
		ParticipantStore: memory.NewParticipantStore(),
		sessions:         sessions,
		entered:          make(chan struct{}),
		release:          make(chan struct{}),
	}
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(map[string]domain.Quiz{"quiz-1": sampleQuiz()}), time.Minute)
	service := app.NewQuizService(sessions, participants, quizzes, memory.NewHub())

	session, err := service.CreateSession(ctx, "quiz-1", 10)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	a, err := service.Join(ctx, session.Code, "A", "", "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := service.StartGame(ctx, session.Code); err != nil {
		t.Fatalf("start: %v", err)
	}
	participants.armed.Store(true)

	type submitResult struct {
		res domain.AnswerResult
		err error
	}
	submitted := make(chan submitResult, 1)
	go func() {
		res, err := service.SubmitAnswer(ctx, session.Code, domain.AnswerEvent{
			ParticipantID:    a.ID,
			QuestionID:       "q1",
			SelectedOptionID: "b",
			ResponseTimeMs:   1000,
		})
		submitted <- submitResult{res, err}
	}()

	<-participants.entered
	finished := make(chan error, 1)
	go func() { finished <- service.FinishGame(ctx, session.Code) }()

	// Give the host's finish time to run as far as it can while the evaluation is paused.
	time.Sleep(50 * time.Millisecond)
	close(participants.release)

	got := <-submitted
	if err := <-finished; err != nil {
		t.Fatalf("finish: %v", err)
	}

	switch {
	case got.err == nil:
		participants.statusMu.Lock()
		status := participants.status
		participants.statusMu.Unlock()
		if status == domain.SessionFinished {
			t.Fatalf("answer committed after the session was finished: %+v", got.res)
		}
	case !errors.Is(got.err, domain.ErrNotActive):
		t.Fatalf("expected ErrNotActive or an answer accepted before finish, got %v", got.err)
	}

	final, _ := service.GetSession(ctx, session.Code)
	if final.Status != domain.SessionFinished {
		t.Fatalf("expected finished session, got %s", final.Status)
	}
}
