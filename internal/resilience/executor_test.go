package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-intake/internal/common"
)

func fastConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
	}
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	var retries []int
	exec := NewExecutor(fastConfig(), nil).OnRetry(func(_ string, attempt int, _ error) {
		retries = append(retries, attempt)
	})

	attempts := 0
	err := exec.Execute(context.Background(), "ocr", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("engine busy: %w", common.ErrOCRUnavailable)
		}
		return nil
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
	require.Equal(t, []int{1, 2}, retries)
}

func TestExecuteStopsOnPermanentFailure(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	attempts := 0
	err := exec.Execute(context.Background(), "submit", func(context.Context) error {
		attempts++
		return common.ErrUnsupportedFileType
	}, nil)
	require.ErrorIs(t, err, common.ErrUnsupportedFileType)
	require.Equal(t, 1, attempts)
}

func TestExecuteReturnsLastErrorWhenAttemptsExhausted(t *testing.T) {
	exec := NewExecutor(fastConfig(), nil)

	attempts := 0
	err := exec.Execute(context.Background(), "submit", func(context.Context) error {
		attempts++
		return common.ErrServiceUnavailable
	}, nil)
	require.ErrorIs(t, err, common.ErrServiceUnavailable)
	require.Equal(t, 3, attempts)
}

func TestExecuteHonoursContext(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryInitialBackoff = time.Hour
	cfg.RetryMaxBackoff = time.Hour
	exec := NewExecutor(cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := exec.Execute(ctx, "submit", func(context.Context) error {
		attempts++
		cancel()
		return common.ErrServiceUnavailable
	}, nil)
	require.ErrorIs(t, err, common.ErrServiceUnavailable)
	require.Equal(t, 1, attempts)
}

func TestBreakerOpensAndReportsUnavailable(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryMaxAttempts = 1
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 2
	cfg.BreakerFailureRatio = 0.5
	cfg.BreakerOpenTimeout = time.Minute
	exec := NewExecutor(cfg, nil)

	boom := errors.New("registry down")
	for range 2 {
		err := exec.Execute(context.Background(), "templates", func(context.Context) error { return boom }, nil)
		require.ErrorIs(t, err, boom)
	}

	called := false
	err := exec.Execute(context.Background(), "templates", func(context.Context) error {
		called = true
		return nil
	}, nil)
	require.False(t, called)
	require.ErrorIs(t, err, common.ErrServiceUnavailable)
	require.True(t, common.IsRetryable(err))

	// Breakers are per operation.
	require.NoError(t, exec.Execute(context.Background(), "ocr", func(context.Context) error { return nil }, nil))
}

func TestCallerErrorsDoNotTripBreaker(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryMaxAttempts = 1
	cfg.BreakerEnabled = true
	cfg.BreakerMinRequests = 1
	cfg.BreakerFailureRatio = 0.1
	exec := NewExecutor(cfg, nil)

	for range 5 {
		err := exec.Execute(context.Background(), "submit", func(context.Context) error {
			return common.ErrFileNotFound
		}, nil)
		require.ErrorIs(t, err, common.ErrFileNotFound)
	}
	require.NoError(t, exec.Execute(context.Background(), "submit", func(context.Context) error { return nil }, nil))
}

func TestDefaultClassifier(t *testing.T) {
	require.Equal(t, ErrorClassification{Retryable: true, RecordFailure: true}, DefaultClassifier(common.ErrProcessingTimeout))
	require.Equal(t, ErrorClassification{}, DefaultClassifier(common.ErrInvalidInput))
	require.Equal(t, ErrorClassification{}, DefaultClassifier(context.Canceled))
	require.Equal(t, ErrorClassification{RecordFailure: true}, DefaultClassifier(errors.New("disk on fire")))
}

func TestNormalizeFillsDefaults(t *testing.T) {
	cfg := Config{RetryInitialBackoff: time.Second, RetryMaxBackoff: time.Millisecond}.normalize()
	require.Equal(t, 4, cfg.RetryMaxAttempts)
	require.Equal(t, time.Second, cfg.RetryMaxBackoff)
	require.Equal(t, 2.0, cfg.RetryMultiplier)
	require.Equal(t, uint32(10), cfg.BreakerMinRequests)
}

func TestJitterStaysUnderTheCap(t *testing.T) {
	const d = 10 * time.Second
	seen := map[time.Duration]bool{}
	for range 200 {
		w := jitter(d)
		require.LessOrEqual(t, w, d)
		require.GreaterOrEqual(t, w, d-time.Duration(retryJitter*float64(d)))
		seen[w] = true
	}
	require.Greater(t, len(seen), 1)
	require.Zero(t, jitter(0))
}
