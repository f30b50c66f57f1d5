package supervisor

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	logx "jiranotifier/pkg/logx"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestWaitJoinsAll(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		s.Go("worker", func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			n.Add(1)
			return nil
		})
	}
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if n.Load() != 10 {
		t.Fatalf("joined %d of 10", n.Load())
	}
	if c := s.Counters(); c.Started != 10 || c.Active != 0 {
		t.Fatalf("counters = %+v", c)
	}
}

func TestPanicBecomesError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithLogger(logx.Nop()))
	s.Go("boom", func(context.Context) error { panic("kaboom") })
	err := s.Wait(waitCtx(t))
	if err == nil || !strings.Contains(err.Error(), "kaboom") {
		t.Fatalf("Wait error = %v", err)
	}
	snap := s.Snapshot()
	if snap.Counters.Panics != 1 || len(snap.Tasks) != 1 || snap.Tasks[0].Panics != 1 {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestCancelOnError(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name       string
		cancel     bool
		wantCancel bool
	}{
		{"cancels", true, true},
		{"isolated", false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := New(context.Background(), WithCancelOnError(tc.cancel))
			var sibling atomic.Bool
			s.Go("fail", func(context.Context) error { return errors.New("bad") })
			s.Go("sibling", func(ctx context.Context) error {
				select {
				case <-ctx.Done():
					sibling.Store(true)
				case <-time.After(200 * time.Millisecond):
				}
				return nil
			})
			_ = s.Wait(waitCtx(t))
			if sibling.Load() != tc.wantCancel {
				t.Fatalf("sibling canceled = %v, want %v", sibling.Load(), tc.wantCancel)
			}
			if s.Err() == nil {
				t.Fatal("first error not recorded")
			}
		})
	}
}

func TestCanceledIsNotAnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err := s.Stop(waitCtx(t)); err != nil {
		t.Fatalf("Stop error: %v", err)
	}
}

func TestGoAfterWaitIsRefused(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	ran := make(chan struct{}, 1)
	s.Go("late", func(context.Context) error {
		ran <- struct{}{}
		return nil
	})
	select {
	case <-ran:
		t.Fatal("goroutine ran after Wait")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWaitHonorsContext(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	release := make(chan struct{})
	s.Go("stuck", func(context.Context) error {
		<-release
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Wait error = %v", err)
	}
	close(release)
	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("second Wait error: %v", err)
	}
}

func TestGoRestart(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))
	var runs atomic.Int32
	s.GoRestart("flaky", func(context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	if err := s.Wait(waitCtx(t)); err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
	for _, st := range s.Snapshot().Tasks {
		if st.Name == "flaky" && st.Restarts != 2 {
			t.Fatalf("restarts = %d, want 2", st.Restarts)
		}
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(context.Context) error {
		runs.Add(1)
		return errors.New("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	err := s.Wait(waitCtx(t))
	if err == nil || !strings.Contains(err.Error(), "gave up") {
		t.Fatalf("Wait error = %v", err)
	}
	if runs.Load() != 3 {
		t.Fatalf("runs = %d, want 3", runs.Load())
	}
}
