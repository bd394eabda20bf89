package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: time.Hour, AlignToBucket: true}, zerolog.Nop())
	now := time.Date(2024, 3, 10, 9, 15, 0, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("nextTick = %s", got)
	}
	onBoundary := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	if got := s.nextTick(onBoundary); !got.Equal(onBoundary.Add(time.Hour)) {
		t.Fatalf("boundary nextTick = %s", got)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: 30 * time.Minute}, zerolog.Nop())
	now := time.Date(2024, 3, 10, 9, 15, 7, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(30 * time.Minute)) {
		t.Fatalf("nextTick = %s", got)
	}
	if got := s.tickStart(now); !got.Equal(now) {
		t.Fatalf("tickStart = %s", got)
	}
}

func TestRunOnStartFiresBeforeWaiting(t *testing.T) {
	s := New(Options{Interval: time.Hour, RunOnStart: true}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := s.Run(ctx, func(context.Context, time.Time) error {
		calls++
		cancel()
		return errors.New("tick errors are only logged")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run should stop on cancel, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}
