// Package resilience guards calls from the chat gateway to the remote
// answering service.
//
// # Circuit Breaker
//
// CircuitBreaker counts consecutive failures. After FailureThreshold of them
// it opens and refuses calls until ResetTimeout has passed since the last
// failure; the next caller is then admitted as a trial and the breaker is
// half-open. SuccessThreshold consecutive successes close it again.
//
// # Executor
//
// Executor composes the breaker with a response cache, a per-attempt timeout
// and retry with exponential backoff:
//
//	exec := resilience.NewExecutor(resilience.ExecutorConfig{
//		Name:           "chatbot",
//		CircuitBreaker: resilience.DefaultCircuitBreakerConfig("chatbot"),
//		Cache:          cache.NewTimedCache(cache.DefaultConfig()),
//	})
//
//	answer, err := resilience.Do(ctx, exec, func(ctx context.Context, attempt int) (*types.ChatResponse, error) {
//		return client.Query(ctx, q)
//	}, resilience.ExecuteOptions{CacheKey: key})
//
// A timed-out attempt is abandoned, not stopped: its context is cancelled and
// its result discarded.
//
// # Request Queue
//
// With QueueWhenOpen set, a call refused by an open breaker waits in a FIFO
// queue. A single drain goroutine replays queued calls one at a time once the
// breaker allows.
//
// # Fallback
//
// FallbackResponder maps a classified failure to a canned degraded answer.
package resilience
