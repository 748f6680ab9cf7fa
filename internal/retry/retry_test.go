package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nano-banana/internal/genai"
)

func fastPolicy(retries int) Policy {
	return Policy{
		MaxRetries:   retries,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", genai.NewError(genai.KindUpstreamUnavailable, "503")
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) (int, error) {
		calls++
		return 0, genai.NewError(genai.KindInvalidCredential, "bad key")
	})

	assert.Equal(t, genai.KindInvalidCredential, genai.KindOf(err))
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsRetries(t *testing.T) {
	calls := 0
	var retried []int
	p := fastPolicy(2)
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	}

	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		return 0, genai.NewError(genai.KindRateLimited, "429")
	})

	assert.Equal(t, genai.KindRateLimited, genai.KindOf(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxRetries: 5, InitialDelay: time.Hour}

	calls := 0
	done := make(chan error, 1)
	go func() {
		_, err := Do(ctx, p, func(ctx context.Context) (int, error) {
			calls++
			return 0, genai.NewError(genai.KindRateLimited, "429")
		})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		assert.Equal(t, genai.KindRateLimited, genai.KindOf(err))
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
}

func TestDoCustomRetryable(t *testing.T) {
	sentinel := errors.New("flaky")
	calls := 0
	p := fastPolicy(1)
	p.Retryable = func(err error) bool { return errors.Is(err, sentinel) }

	_, err := Do(context.Background(), p, func(ctx context.Context) (int, error) {
		calls++
		return 0, sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, calls)
}

func TestDelayBounds(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2, Jitter: true}.normalized()
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.delay(attempt)
		assert.GreaterOrEqual(t, d, p.InitialDelay)
		assert.LessOrEqual(t, d, time.Duration(float64(p.MaxDelay)*1.25))
	}
}
