package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	base := time.Date(2024, 1, 17, 10, 30, 0, 0, time.UTC) // Wednesday

	tests := []struct {
		expr    string
		want    time.Time
		wantErr bool
	}{
		{"@hourly", time.Date(2024, 1, 17, 11, 0, 0, 0, time.UTC), false},
		{"@daily", time.Date(2024, 1, 18, 0, 0, 0, 0, time.UTC), false},
		{"@weekly", time.Date(2024, 1, 21, 0, 0, 0, 0, time.UTC), false},
		{"@monthly", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), false},
		{"@every 30m", base.Add(30 * time.Minute), false},
		{"@every 2d", base.Add(48 * time.Hour), false},
		{" 15m ", base.Add(15 * time.Minute), false},
		{"", time.Time{}, true},
		{"@yearlyish", time.Time{}, true},
		{"@every soon", time.Time{}, true},
		{"@every -1h", time.Time{}, true},
		{"0d", time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := Parse(tt.expr)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error", tt.expr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.expr, err)
			}
			if got := s.Next(base); !got.Equal(tt.want) {
				t.Errorf("Next = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNextWeek_FromSunday(t *testing.T) {
	sunday := time.Date(2024, 1, 21, 9, 0, 0, 0, time.UTC)
	want := time.Date(2024, 1, 28, 0, 0, 0, 0, time.UTC)
	if got := nextWeek(sunday); !got.Equal(want) {
		t.Errorf("nextWeek = %s, want %s", got, want)
	}
}

func TestNextMonth_December(t *testing.T) {
	got := nextMonth(time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC))
	if want := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("nextMonth = %s, want %s", got, want)
	}
}

func TestRunner_RunsDueTasks(t *testing.T) {
	var fast, slow atomic.Int32
	r := NewRunner(nil,
		Task{Name: "fast", Schedule: Every(5 * time.Millisecond), Run: func(context.Context) error {
			fast.Add(1)
			return nil
		}},
		Task{Name: "slow", Schedule: Every(time.Hour), Run: func(context.Context) error {
			slow.Add(1)
			return nil
		}},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	deadline := time.After(time.Second)
	for fast.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("fast task ran %d times, want at least 3", fast.Load())
		case <-time.After(time.Millisecond):
		}
	}
	r.Stop()
	r.Stop()
	<-done

	if slow.Load() != 0 {
		t.Errorf("slow task ran %d times before it was due", slow.Load())
	}
}

func TestRunner_FailureDoesNotStopOthers(t *testing.T) {
	var ran []string
	r := NewRunner(nil,
		Task{Name: "broken", Schedule: Every(time.Hour), Run: func(context.Context) error {
			ran = append(ran, "broken")
			return errors.New("boom")
		}},
		Task{Name: "ok", Schedule: Every(time.Hour), Run: func(context.Context) error {
			ran = append(ran, "ok")
			return nil
		}},
	)
	r.RunAll(context.Background())
	if len(ran) != 2 || ran[0] != "broken" || ran[1] != "ok" {
		t.Errorf("ran = %v, want [broken ok]", ran)
	}
}

func TestRunner_NoTasksReturnsOnCancel(t *testing.T) {
	r := NewRunner(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
