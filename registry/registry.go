package registry

import (
	"context"
	"sort"
)

// Endpoint is one JSON-RPC node URL published for a network.
// Lower Priority ranks first; the first endpoint of a ranked list is the primary.
type Endpoint struct {
	URL      string `json:"url"`
	Priority int    `json:"priority"`
	Version  string `json:"version,omitempty"`
}

type Registry interface {
	Register(ctx context.Context, network string, endpoint Endpoint, ttl int64) error
	Deregister(ctx context.Context, network string, url string) error
	// Discover returns the endpoints of network, ranked.
	Discover(ctx context.Context, network string) ([]Endpoint, error)
}

// Rank orders endpoints by Priority, then URL so the order is stable across lookups.
func Rank(endpoints []Endpoint) {
	sort.SliceStable(endpoints, func(i, j int) bool {
		if endpoints[i].Priority != endpoints[j].Priority {
			return endpoints[i].Priority < endpoints[j].Priority
		}
		return endpoints[i].URL < endpoints[j].URL
	})
}

// URLs returns the URLs of endpoints in their current order.
func URLs(endpoints []Endpoint) []string {
	urls := make([]string, 0, len(endpoints))
	for _, e := range endpoints {
		urls = append(urls, e.URL)
	}
	return urls
}
