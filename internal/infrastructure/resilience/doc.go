/*
Package resilience provides a circuit breaker.

The capture pool runs execution context replacement through a breaker so a
crashed or unreachable browser does not turn every dequeued job into a slow
reconnect attempt: after repeated failures the breaker opens and jobs fail
fast until a half-open probe succeeds.

# Usage

	breaker := resilience.New("execution-context", resilience.Settings{
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	})

	err := breaker.Execute(func() error {
		return replace(ctx)
	})

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                       [failure]
	                                           v
	                                         Open
*/
package resilience
