package resilience

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	appErrors "github.com/NikhilSetiya/textbook-assistant/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockAnsweringService simulates the remote answering service
type MockAnsweringService struct {
	mutex        sync.Mutex
	responseTime time.Duration
	requestCount int
	failureCount int
	forceFailure bool
}

func NewMockAnsweringService(responseTime time.Duration) *MockAnsweringService {
	return &MockAnsweringService{responseTime: responseTime}
}

func (m *MockAnsweringService) Answer(ctx context.Context, query string) (string, error) {
	m.mutex.Lock()
	m.requestCount++
	requestNum := m.requestCount
	fail := m.forceFailure
	m.mutex.Unlock()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(m.responseTime):
	}

	if fail {
		m.mutex.Lock()
		m.failureCount++
		m.mutex.Unlock()
		return "", fmt.Errorf("simulated failure for request %d", requestNum)
	}
	return fmt.Sprintf("answer to %q", query), nil
}

func (m *MockAnsweringService) SetForceFailure(force bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.forceFailure = force
}

func (m *MockAnsweringService) GetStats() (int, int) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.requestCount, m.failureCount
}

func TestIntegration_OutageAndRecovery(t *testing.T) {
	service := NewMockAnsweringService(time.Millisecond)
	clock := newFakeClock()
	cache := newMapCache()

	exec := NewExecutor(ExecutorConfig{
		Name:           "chatbot",
		CircuitBreaker: DefaultCircuitBreakerConfig("chatbot"),
		Cache:          cache,
		Sleep:          (&sleepRecorder{}).Sleep,
		Queue:          fastQueue,
	})
	defer exec.Close()
	exec.breaker.now = clock.Now

	fallback := NewFallbackResponder(nil)
	ctx := context.Background()

	ask := func(query string, opts ExecuteOptions) (string, error) {
		return Do(ctx, exec, func(ctx context.Context, attempt int) (string, error) {
			return service.Answer(ctx, query)
		}, opts)
	}

	t.Run("normal operation", func(t *testing.T) {
		answer, err := ask("what is ROS?", ExecuteOptions{CacheKey: "ros"})
		require.NoError(t, err)
		assert.Contains(t, answer, "what is ROS?")
	})

	t.Run("outage opens the circuit", func(t *testing.T) {
		service.SetForceFailure(true)

		// 3 attempts, then 2 more: five consecutive failures.
		_, err := ask("q1", ExecuteOptions{})
		require.Error(t, err)
		_, err = ask("q2", ExecuteOptions{MaxAttempts: 2})
		require.Error(t, err)

		assert.Equal(t, StateOpen, exec.Breaker().State())

		before, _ := service.GetStats()
		_, err = ask("q3", ExecuteOptions{})
		require.Error(t, err)
		assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeCircuitOpen))
		after, _ := service.GetStats()
		assert.Equal(t, before, after, "open circuit must not reach the service")

		resp := fallback.GetFallbackResponse("q3", err)
		assert.Equal(t, 0.1, resp.Confidence)
	})

	t.Run("cached answers are refused while open", func(t *testing.T) {
		_, err := ask("what is ROS?", ExecuteOptions{CacheKey: "ros"})
		assert.True(t, appErrors.IsType(err, appErrors.ErrorTypeCircuitOpen))
	})

	t.Run("recovery closes the circuit", func(t *testing.T) {
		service.SetForceFailure(false)
		clock.Advance(61 * time.Second)

		for i := 0; i < 3; i++ {
			_, err := ask(fmt.Sprintf("recovery %d", i), ExecuteOptions{})
			require.NoError(t, err)
		}
		assert.Equal(t, StateClosed, exec.Breaker().State())
	})
}

func TestIntegration_ConcurrentCallers(t *testing.T) {
	service := NewMockAnsweringService(time.Millisecond)
	exec := NewExecutor(ExecutorConfig{
		Name:           "concurrent",
		CircuitBreaker: CircuitBreakerConfig{FailureThreshold: 10, ResetTimeout: time.Hour, SuccessThreshold: 1},
		Cache:          newMapCache(),
		Sleep:          (&sleepRecorder{}).Sleep,
		Queue:          fastQueue,
	})
	defer exec.Close()

	const numGoroutines = 20
	const requestsPerGoroutine = 10

	var wg sync.WaitGroup
	var mutex sync.Mutex
	successCount := 0

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < requestsPerGoroutine; j++ {
				key := fmt.Sprintf("q%d", j)
				_, err := Do(context.Background(), exec, func(ctx context.Context, attempt int) (string, error) {
					return service.Answer(ctx, key)
				}, ExecuteOptions{CacheKey: key})

				if err == nil {
					mutex.Lock()
					successCount++
					mutex.Unlock()
				}
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, numGoroutines*requestsPerGoroutine, successCount)
	assert.Equal(t, StateClosed, exec.Breaker().State())

	requests, failures := service.GetStats()
	assert.Zero(t, failures)
	assert.LessOrEqual(t, requests, numGoroutines*requestsPerGoroutine)
	assert.Equal(t, requestsPerGoroutine, exec.CacheStats().Size)
}
