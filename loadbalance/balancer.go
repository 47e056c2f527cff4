// Package loadbalance decides which endpoint of a ranked set serves the next attempt.
//
// Endpoints are ranked: index 0 is the preferred (primary) endpoint. Traffic stays on one
// endpoint until it fails, then moves forward to the next one and stays there:
//
//	primary ──fail──► backup-1 ──fail──► backup-2   (never wraps)
//	                     ▲
//	                 success: later calls start here
//
// A failed primary is likely still down, so it is not retried first on the next call.
package loadbalance

// Balancer is the interface for endpoint selection strategies.
// All methods must be goroutine-safe: concurrent calls share one Balancer.
type Balancer interface {
	// Pick returns the index of the endpoint for the next attempt.
	Pick() int

	// Failed reports that an attempt against index failed. It returns the index the next
	// attempt will use and whether this call moved it.
	Failed(index int) (next int, moved bool)

	// Reset moves back to the primary endpoint.
	Reset()

	// Name returns the strategy name (for logging/debugging).
	Name() string
}
