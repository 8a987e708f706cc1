package upstream

import "context"

// API is the capability surface the sync engine and reactive lookup
// depend on; Client implements it against the real People API, and
// tests supply their own stub.
type API interface {
	ListDelta(ctx context.Context, syncToken, pageToken string) (*DeltaPage, error)
	Search(ctx context.Context, query string) (*SearchResult, error)
	WarmupSearch(ctx context.Context) error
	EnsureWarm(ctx context.Context) error
}

var _ API = (*Client)(nil)
