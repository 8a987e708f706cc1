// Package storage defines the contact store contract shared by the sync
// engine, the protocol surface, and the reactive lookup path.
package storage

import "context"

// Contact is one row of the local encrypted cache, one per upstream
// contact record.
type Contact struct {
	ResourceName    string
	ETag            string
	DisplayName     string
	VCard           string
	SearchablePhone string
	UpdatedAt       int64
}

// Store is the contact store contract. resource_name is the only key;
// put is the only write path besides delete. Implementations must permit
// concurrent readers while serializing writers.
type Store interface {
	Close()

	Put(ctx context.Context, c Contact) error
	Delete(ctx context.Context, resourceName string) error
	Get(ctx context.Context, resourceName string) (*Contact, error)
	List(ctx context.Context) ([]Contact, error)
	SearchByPhone(ctx context.Context, normalized string) ([]Contact, error)

	// ApplyBatch applies every put and delete of one sync cycle, then
	// persists the new sync token, all inside a single transaction —
	// readers never observe a partially replaced collection, and a
	// crash mid-cycle leaves the previous token in place.
	ApplyBatch(ctx context.Context, puts []Contact, deletes []string, syncToken string, lastSync int64) error

	GetSyncToken(ctx context.Context) (string, error)
	SetSyncToken(ctx context.Context, token string, lastSync int64) error

	GetGoogleEmail(ctx context.Context) (string, error)
	SetGoogleEmail(ctx context.Context, email string) error

	StoreOAuthToken(ctx context.Context, tokenJSON string) error
	GetOAuthToken(ctx context.Context) (string, bool, error)
	ClearOAuthToken(ctx context.Context) error
}

// NormalizePhone preserves ASCII digits and a single leading '+' at
// position 0 of raw, dropping everything else. It is pure and must be
// applied identically on write and query paths.
func NormalizePhone(raw string) string {
	out := make([]byte, 0, len(raw))
	for i, r := range []byte(raw) {
		switch {
		case r >= '0' && r <= '9':
			out = append(out, r)
		case r == '+' && i == 0:
			out = append(out, r)
		}
	}
	return string(out)
}
