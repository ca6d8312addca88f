package notifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"republisher/pkg/logx"
)

func TestNewDisabledIsNoop(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"disabled", Config{Enabled: false, Token: "123:abc"}},
		{"empty token", Config{Enabled: true, Token: ""}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := New(tc.cfg, logx.Nop())
			if err != nil {
				t.Fatalf("New error: %v", err)
			}
			if s.bot != nil {
				t.Fatalf("bot constructed for %+v, want no-op", tc.cfg)
			}
			// Observer calls on the no-op must be harmless.
			if err := s.OnRepublishSuccess(context.Background(), 1, time.Now(), time.Now()); err != nil {
				t.Fatalf("OnRepublishSuccess error: %v", err)
			}
		})
	}
}

func TestNewEnabledConstructsWithoutNetwork(t *testing.T) {
	// The token is not verified at construction time, so New must succeed
	// even when Telegram is unreachable or the token is bogus.
	s, err := New(Config{Enabled: true, Token: "123:not-a-real-token"}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if s.bot == nil {
		t.Fatal("bot = nil, want constructed bot")
	}
	if s.limiter == nil {
		t.Fatal("limiter = nil, want default limiter")
	}
}

func TestEnqueueDropsOnFullQueue(t *testing.T) {
	s, err := New(Config{Enabled: true, Token: "123:abc"}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	for i := 0; i < cap(s.queue)+10; i++ {
		s.enqueue("msg")
	}
	if got := len(s.queue); got != cap(s.queue) {
		t.Fatalf("queue length = %d, want %d", got, cap(s.queue))
	}
}

func TestObserverMessages(t *testing.T) {
	s, err := New(Config{Enabled: true, Token: "123:abc"}, logx.Nop())
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	old := time.Date(2026, 1, 2, 8, 0, 0, 0, time.UTC)
	now := time.Date(2026, 3, 14, 10, 30, 0, 0, time.UTC)
	if err := s.OnRepublishSuccess(context.Background(), 42, old, now); err != nil {
		t.Fatalf("OnRepublishSuccess error: %v", err)
	}
	if err := s.OnRepublishFailure(context.Background(), 7, errors.New("db busy")); err != nil {
		t.Fatalf("OnRepublishFailure error: %v", err)
	}

	got := []string{<-s.queue, <-s.queue}
	if !strings.Contains(got[0], "Item 42 republished") || !strings.Contains(got[0], "2026-03-14 10:30") {
		t.Fatalf("success message = %q", got[0])
	}
	if !strings.Contains(got[1], "Item 7 republish failed") || !strings.Contains(got[1], "db busy") {
		t.Fatalf("failure message = %q", got[1])
	}
}
