package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// TestBreakerStateMachineInvariants fuzzes a sequence of successes and
// failures and checks an invariant that must hold regardless of the
// sequence: the breaker never serves a call while genuinely open and
// not yet past its base reset timeout.
func TestBreakerStateMachineInvariants(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		threshold := rapid.IntRange(1, 5).Draw(t, "threshold")
		maxHalfOpen := rapid.IntRange(1, 4).Draw(t, "maxHalfOpen")
		resetTimeout := 5 * time.Millisecond

		b := New("fuzz", &Config{
			Threshold:        threshold,
			Timeout:          time.Second,
			ResetTimeout:     resetTimeout,
			HalfOpenMaxCalls: maxHalfOpen,
		}, zap.NewNop())

		outcomes := rapid.SliceOfN(rapid.Bool(), 1, 50).Draw(t, "outcomes")

		openedAt := time.Time{}
		servedWhileOpenAndFresh := false

		for _, succeed := range outcomes {
			stateBefore := b.State()

			var err error
			if succeed {
				err = b.Call(context.Background(), func() error { return nil })
			} else {
				err = b.Call(context.Background(), func() error { return errors.New("BACKEND_TRANSIENT: synthetic") })
			}

			if stateBefore == StateOpen && time.Since(openedAt) < resetTimeout {
				if !errors.Is(err, ErrOpen) && !errors.Is(err, ErrHalfOpenLimit) {
					servedWhileOpenAndFresh = true
				}
			}

			if b.State() == StateOpen && stateBefore != StateOpen {
				openedAt = time.Now()
			}
		}

		if servedWhileOpenAndFresh {
			t.Fatal("breaker served a call while open and within its reset timeout")
		}
	})
}
