package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChecker struct {
	name    string
	err     error
	delay   time.Duration
	details map[string]interface{}
}

func (m *mockChecker) Name() string {
	return m.name
}

func (m *mockChecker) Check(ctx context.Context) error {
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return m.err
}

type detailedMock struct {
	mockChecker
}

func (d *detailedMock) Details() map[string]interface{} {
	return d.details
}

type countingChecker struct {
	calls atomic.Int64
}

func (c *countingChecker) Name() string { return "counter" }

func (c *countingChecker) Check(ctx context.Context) error {
	c.calls.Add(1)
	return nil
}

func (c *countingChecker) count() int64 { return c.calls.Load() }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func TestManager(t *testing.T) {
	logger := testLogger()

	t.Run("Register and RunChecks", func(t *testing.T) {
		manager := NewManager(logger)
		manager.Register(&mockChecker{name: "redis"})
		manager.Register(&mockChecker{name: "bench", err: errors.New("streamer failed")})
		manager.Register(&mockChecker{name: "queue", err: Degraded("queue at 95% pressure")})

		results := manager.RunChecks(context.Background())
		require.Len(t, results, 3)

		assert.Equal(t, StatusOK, results["redis"].Status)
		assert.Empty(t, results["redis"].Message)

		assert.Equal(t, StatusDown, results["bench"].Status)
		assert.Contains(t, results["bench"].Message, "streamer failed")

		assert.Equal(t, StatusDegraded, results["queue"].Status)
		assert.Equal(t, "queue at 95% pressure", results["queue"].Message)
	})

	t.Run("Details", func(t *testing.T) {
		manager := NewManager(logger)
		manager.Register(&detailedMock{mockChecker{name: "bench", details: map[string]interface{}{"frames": 3}}})

		results := manager.RunChecks(context.Background())
		assert.Equal(t, 3, results["bench"].Details["frames"])
	})

	t.Run("GetResults copies", func(t *testing.T) {
		manager := NewManager(logger)
		manager.Register(&mockChecker{name: "test"})
		manager.RunChecks(context.Background())

		results := manager.GetResults()
		require.Contains(t, results, "test")
		results["test"].Status = StatusDown
		assert.Equal(t, StatusOK, manager.GetResults()["test"].Status)
	})

	t.Run("GetOverallStatus", func(t *testing.T) {
		tests := []struct {
			name     string
			checkers []Checker
			want     Status
		}{
			{
				name:     "all healthy",
				checkers: []Checker{&mockChecker{name: "c1"}, &mockChecker{name: "c2"}},
				want:     StatusOK,
			},
			{
				name:     "one degraded",
				checkers: []Checker{&mockChecker{name: "c1"}, &mockChecker{name: "c2", err: Degraded("slow")}},
				want:     StatusDegraded,
			},
			{
				name: "down beats degraded",
				checkers: []Checker{
					&mockChecker{name: "c1", err: Degraded("slow")},
					&mockChecker{name: "c2", err: errors.New("error")},
				},
				want: StatusDown,
			},
			{
				name: "no checkers",
				want: StatusDown,
			},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				manager := NewManager(logger)
				for _, checker := range tt.checkers {
					manager.Register(checker)
				}
				manager.RunChecks(context.Background())
				assert.Equal(t, tt.want, manager.GetOverallStatus())
			})
		}
	})

	t.Run("Timeout handling", func(t *testing.T) {
		manager := NewManager(logger)
		manager.Register(&mockChecker{name: "slow", delay: 10 * time.Second})

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		start := time.Now()
		results := manager.RunChecks(ctx)
		assert.Less(t, time.Since(start), 6*time.Second)

		check := results["slow"]
		require.NotNil(t, check)
		assert.Equal(t, StatusDown, check.Status)
		assert.Contains(t, check.Message, "timed out")
	})
}

func TestStartPeriodicChecks(t *testing.T) {
	manager := NewManager(testLogger())

	var calls countingChecker
	manager.Register(&calls)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		manager.StartPeriodicChecks(ctx, 20*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return calls.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("periodic checks did not stop")
	}
}

func TestCheckDurationTracking(t *testing.T) {
	manager := NewManager(testLogger())
	manager.Register(&mockChecker{name: "delayed", delay: 50 * time.Millisecond})

	check := manager.RunChecks(context.Background())["delayed"]
	require.NotNil(t, check)
	assert.GreaterOrEqual(t, check.Duration, 50*time.Millisecond)
	assert.GreaterOrEqual(t, check.DurationMS, float64(50))
}
