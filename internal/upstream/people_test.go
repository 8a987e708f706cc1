package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "test"}), zerolog.Nop())
	c.baseURL = srv.URL
	return c
}

func TestListDeltaParsesConnections(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"connections": []map[string]any{
				{
					"resourceName": "people/c1",
					"etag":         "e1",
					"names":        []map[string]any{{"displayName": "Alice"}},
					"phoneNumbers": []map[string]any{{"value": "+1-555-0100", "type": "mobile"}},
				},
			},
			"nextSyncToken": "T2",
		})
	})

	page, err := c.ListDelta(context.Background(), "", "")
	if err != nil {
		t.Fatalf("list delta: %v", err)
	}
	if len(page.Records) != 1 || page.Records[0].ResourceName != "people/c1" || page.Records[0].ETag != "e1" {
		t.Fatalf("unexpected page: %+v", page)
	}
	if page.NextSyncToken != "T2" {
		t.Fatalf("expected next sync token T2, got %q", page.NextSyncToken)
	}
}

func TestListDeltaPagination(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("pageToken") == "" {
			json.NewEncoder(w).Encode(map[string]any{
				"connections":   []map[string]any{{"resourceName": "people/c1", "etag": "e1"}},
				"nextPageToken": "page2",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"connections":   []map[string]any{{"resourceName": "people/c2", "etag": "e2"}},
			"nextSyncToken": "Tfinal",
		})
	})

	var all []DeltaRecord
	var nextSyncToken, pageToken string
	for {
		page, err := c.ListDelta(context.Background(), "", pageToken)
		if err != nil {
			t.Fatalf("list delta: %v", err)
		}
		all = append(all, page.Records...)
		if page.NextPageToken == "" {
			nextSyncToken = page.NextSyncToken
			break
		}
		pageToken = page.NextPageToken
	}

	if calls != 2 {
		t.Fatalf("expected 2 requests, got %d", calls)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 records accumulated, got %d", len(all))
	}
	if nextSyncToken != "Tfinal" {
		t.Fatalf("unexpected final sync token: %q", nextSyncToken)
	}
}

func TestListDeltaReportsDeleted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"connections": []map[string]any{
				{"resourceName": "people/gone", "metadata": map[string]any{"deleted": true}},
			},
			"nextSyncToken": "T2",
		})
	})
	page, err := c.ListDelta(context.Background(), "T1", "")
	if err != nil {
		t.Fatalf("list delta: %v", err)
	}
	if len(page.Records) != 1 || !page.Records[0].Deleted {
		t.Fatalf("expected a deleted record, got %+v", page.Records)
	}
}

func TestSearchReturnsFirstMatch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"person": map[string]any{
					"resourceName": "people/c98765",
					"etag":         "google_etag_xyz",
					"names":        []map[string]any{{"displayName": "Eve Searcher"}},
					"phoneNumbers": []map[string]any{{"value": "+1 (555) 987-6543"}},
				}},
			},
		})
	})

	res, err := c.Search(context.Background(), "+1 (555) 987-6543")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res == nil || res.ResourceName != "people/c98765" || res.ETag != "google_etag_xyz" {
		t.Fatalf("unexpected search result: %+v", res)
	}
}

func TestSearchNoMatchReturnsNil(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
	})
	res, err := c.Search(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res != nil {
		t.Fatalf("expected nil result, got %+v", res)
	}
}

func TestEnsureWarmCallsWarmupOnlyWhenStale(t *testing.T) {
	warmupCalls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		warmupCalls++
		json.NewEncoder(w).Encode(map[string]any{"results": []map[string]any{}})
	})

	start := time.Now()
	if err := c.EnsureWarm(context.Background()); err != nil {
		t.Fatalf("ensure warm: %v", err)
	}
	if time.Since(start) < PostWarmupDelay {
		t.Fatalf("expected ensure warm to wait out the post-warmup delay")
	}
	if warmupCalls != 1 {
		t.Fatalf("expected exactly one warmup call, got %d", warmupCalls)
	}

	if err := c.EnsureWarm(context.Background()); err != nil {
		t.Fatalf("ensure warm (second): %v", err)
	}
	if warmupCalls != 1 {
		t.Fatalf("second ensure-warm within TTL should not re-warm, got %d calls", warmupCalls)
	}
}

func TestIsTokenExpiredClassification(t *testing.T) {
	cases := map[string]bool{
		"upstream request failed: 410 FAILED_PRECONDITION sync token expired": true,
		"Sync token is no longer valid":                                      true,
		"token expired, please refresh":                                      true,
		"connection reset by peer":                                           false,
	}
	for msg, want := range cases {
		err := &testErr{msg: msg}
		if got := IsTokenExpired(err); got != want {
			t.Errorf("IsTokenExpired(%q) = %v, want %v", msg, got, want)
		}
	}
}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }

func TestGetJSONSurfacesAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"status": "FAILED_PRECONDITION", "message": "Sync token is expired"},
		})
	})
	_, err := c.ListDelta(context.Background(), "stale", "")
	if err == nil || !strings.Contains(err.Error(), "Sync token") {
		t.Fatalf("expected error mentioning sync token, got %v", err)
	}
	if !IsTokenExpired(err) {
		t.Fatalf("expected IsTokenExpired to classify this error as recoverable")
	}
}
