package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoValue(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name      string
		failures  int
		permanent bool
		constant  bool
		attempts  int
		wantCalls int
		wantErr   bool
	}{
		{name: "first try", failures: 0, attempts: 3, wantCalls: 1},
		{name: "recovers", failures: 2, attempts: 3, wantCalls: 3},
		{name: "exhausted", failures: 5, attempts: 3, wantCalls: 3, wantErr: true},
		{name: "permanent stops early", failures: 5, permanent: true, attempts: 3, wantCalls: 1, wantErr: true},
		{name: "zero attempts still runs once", failures: 0, attempts: 0, wantCalls: 1},
		{name: "constant delay recovers", failures: 1, constant: true, attempts: 2, wantCalls: 2},
		{name: "single attempt fails", failures: 1, attempts: 1, wantCalls: 1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			p := Policy{MaxAttempts: tt.attempts, BaseDelay: time.Millisecond, Exponential: !tt.constant, Label: "fetch"}
			v, err := DoValue(context.Background(), p, func(context.Context) (int, error) {
				calls++
				if calls <= tt.failures {
					if tt.permanent {
						return 0, Permanent(errBoom)
					}
					return 0, errBoom
				}
				return 42, nil
			})
			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, errBoom)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 42, v)
		})
	}
}

func TestDo_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 5, BaseDelay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errors.New("unavailable")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_AlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, DefaultPolicy("quote"), func(context.Context) error {
		calls++
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls)
}
