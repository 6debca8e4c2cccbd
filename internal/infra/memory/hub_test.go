package memory

import (
	"context"
	"testing"
	"time"

	"livequiz-service/internal/domain"
)

func TestHubFansOutPerSession(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()

	first, cancelFirst, _ := hub.Subscribe(ctx, "111111")
	defer cancelFirst()
	second, cancelSecond, _ := hub.Subscribe(ctx, "111111")
	other, cancelOther, _ := hub.Subscribe(ctx, "222222")
	defer cancelOther()

	_ = hub.Publish(ctx, "111111", domain.GameStarted{StartedAt: time.Now()})

	for _, ch := range []<-chan domain.Event{first, second} {
		select {
		case ev := <-ch:
			if ev.Type() != domain.EventGameStarted {
				t.Fatalf("expected game-started, got %s", ev.Type())
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event")
		}
	}
	select {
	case ev := <-other:
		t.Fatalf("unexpected event on other session: %v", ev)
	default:
	}

	cancelSecond()
	cancelSecond()
	if _, ok := <-second; ok {
		t.Fatalf("expected channel closed after cancel")
	}
	if hub.Subscribers("111111") != 1 {
		t.Fatalf("expected one subscriber left, got %d", hub.Subscribers("111111"))
	}
}

func TestHubDropsOldestForSlowSubscriber(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	ch, cancel, _ := hub.Subscribe(ctx, "111111")
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		_ = hub.Publish(ctx, "111111", domain.AnswerSubmitted{ParticipantID: "p", PointsEarned: i})
	}

	first := (<-ch).(domain.AnswerSubmitted)
	if first.PointsEarned != 5 {
		t.Fatalf("expected oldest events dropped, first seen %d", first.PointsEarned)
	}
}
