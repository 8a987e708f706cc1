// Package upstream wraps the remote contact API (Google People) behind
// a thin, cloneable handle: paged list/delta enumeration, live search
// with the warmup contract it requires, and failure classification for
// the sync engine's token-expiry fallback.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/cybercypher/setu-carddav/pkg/vcard"
)

const (
	defaultBaseURL = "https://people.googleapis.com/v1"
	personFields   = "names,emailAddresses,phoneNumbers,addresses,organizations,birthdays,photos,metadata"
	pageSize       = 1000
	searchPageSize = 5

	// WarmupTTL is how long a successful warmup stays valid.
	WarmupTTL = 300 * time.Second
	// PostWarmupDelay is the contractual pause after a (re-)warmup
	// before the upstream search index is guaranteed visible.
	PostWarmupDelay = 2 * time.Second
)

// DeltaRecord is one contact as reported by list/delta: either an
// upsert (Deleted == false) or a tombstone (Deleted == true, in which
// case only ResourceName is meaningful).
type DeltaRecord struct {
	vcard.Record
	ETag    string
	Deleted bool
}

// DeltaPage is one page of list_delta results.
type DeltaPage struct {
	Records       []DeltaRecord
	NextPageToken string
	NextSyncToken string
}

// Client is a cloneable handle over the people API, authenticated by an
// injected oauth2.TokenSource (acquisition and refresh are an external
// concern, per the project's standing interfaces).
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     zerolog.Logger

	mu         sync.Mutex
	lastWarmup time.Time
}

func New(ctx context.Context, ts oauth2.TokenSource, logger zerolog.Logger) *Client {
	return &Client{
		httpClient: oauth2.NewClient(ctx, ts),
		baseURL:    defaultBaseURL,
		logger:     logger,
	}
}

// IsTokenExpired classifies an upstream error as the recoverable class
// that should trigger a full resync: the sync engine relies on this
// substring match, fragile as it is.
func IsTokenExpired(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "410") ||
		strings.Contains(msg, "Sync token") ||
		strings.Contains(msg, "expired")
}

// ListDelta fetches one page of connections. syncToken empty means a
// full enumeration; pageToken empty means the first page of whichever
// mode is in effect.
func (c *Client) ListDelta(ctx context.Context, syncToken, pageToken string) (*DeltaPage, error) {
	q := url.Values{}
	q.Set("personFields", personFields)
	q.Set("pageSize", strconv.Itoa(pageSize))
	q.Set("requestSyncToken", "true")
	if syncToken != "" {
		q.Set("syncToken", syncToken)
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}

	var body struct {
		Connections   []personJSON `json:"connections"`
		NextPageToken string       `json:"nextPageToken"`
		NextSyncToken string       `json:"nextSyncToken"`
	}
	if err := c.getJSON(ctx, "/people/me/connections", q, &body); err != nil {
		return nil, err
	}

	page := &DeltaPage{NextPageToken: body.NextPageToken, NextSyncToken: body.NextSyncToken}
	for _, p := range body.Connections {
		page.Records = append(page.Records, p.toDeltaRecord())
	}
	return page, nil
}

// SearchResult is a live search hit: the record plus its upstream etag,
// which may be empty if the upstream did not supply one.
type SearchResult struct {
	vcard.Record
	ETag string
}

// Search performs a live free-text query, returning the first matching
// record, or nil if none matched.
func (c *Client) Search(ctx context.Context, query string) (*SearchResult, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("readMask", personFields)
	q.Set("pageSize", strconv.Itoa(searchPageSize))

	var body struct {
		Results []struct {
			Person personJSON `json:"person"`
		} `json:"results"`
	}
	if err := c.getJSON(ctx, "/people:searchContacts", q, &body); err != nil {
		return nil, err
	}
	if len(body.Results) == 0 {
		return nil, nil
	}
	p := body.Results[0].Person
	return &SearchResult{Record: p.toRecord(), ETag: p.ETag}, nil
}

// WarmupSearch issues the empty search the upstream API requires
// before real queries return populated results, and stamps the warmup
// timestamp on success.
func (c *Client) WarmupSearch(ctx context.Context) error {
	q := url.Values{}
	q.Set("query", "")
	q.Set("readMask", personFields)
	q.Set("pageSize", "1")

	var body struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := c.getJSON(ctx, "/people:searchContacts", q, &body); err != nil {
		return err
	}

	c.mu.Lock()
	c.lastWarmup = time.Now()
	c.mu.Unlock()
	return nil
}

// EnsureWarm re-warms the search index if the last warmup is stale or
// never happened, then sleeps PostWarmupDelay: a contract, not a
// heuristic.
func (c *Client) EnsureWarm(ctx context.Context) error {
	c.mu.Lock()
	last := c.lastWarmup
	c.mu.Unlock()

	if !last.IsZero() && time.Since(last) < WarmupTTL {
		return nil
	}

	if err := c.WarmupSearch(ctx); err != nil {
		return err
	}

	select {
	case <-time.After(PostWarmupDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error struct {
				Message string `json:"message"`
				Status  string `json:"status"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("upstream request failed: %d %s %s", resp.StatusCode, apiErr.Error.Status, apiErr.Error.Message)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// personJSON mirrors the subset of the People API's Person resource
// the codec needs.
type personJSON struct {
	ResourceName string `json:"resourceName"`
	ETag         string `json:"etag"`
	Metadata     struct {
		Deleted bool `json:"deleted"`
	} `json:"metadata"`
	Names []struct {
		DisplayName      string `json:"displayName"`
		FamilyName       string `json:"familyName"`
		GivenName        string `json:"givenName"`
		MiddleName       string `json:"middleName"`
		HonorificPrefix  string `json:"honorificPrefix"`
		HonorificSuffix  string `json:"honorificSuffix"`
	} `json:"names"`
	EmailAddresses []struct {
		Value string `json:"value"`
		Type  string `json:"type"`
	} `json:"emailAddresses"`
	PhoneNumbers []struct {
		Value string `json:"value"`
		Type  string `json:"type"`
	} `json:"phoneNumbers"`
	Addresses []struct {
		StreetAddress string `json:"streetAddress"`
		City          string `json:"city"`
		Region        string `json:"region"`
		PostalCode    string `json:"postalCode"`
		Country       string `json:"country"`
		Type          string `json:"type"`
	} `json:"addresses"`
	Organizations []struct {
		Name  string `json:"name"`
		Title string `json:"title"`
	} `json:"organizations"`
	Birthdays []struct {
		Date struct {
			Year  int `json:"year"`
			Month int `json:"month"`
			Day   int `json:"day"`
		} `json:"date"`
	} `json:"birthdays"`
	Photos []struct {
		URL     string `json:"url"`
		Default bool   `json:"default"`
	} `json:"photos"`
}

func (p personJSON) toRecord() vcard.Record {
	r := vcard.Record{ResourceName: p.ResourceName}
	for _, n := range p.Names {
		r.Names = append(r.Names, vcard.Name{
			DisplayName: n.DisplayName,
			Family:      n.FamilyName,
			Given:       n.GivenName,
			Middle:      n.MiddleName,
			Prefix:      n.HonorificPrefix,
			Suffix:      n.HonorificSuffix,
		})
	}
	for _, e := range p.EmailAddresses {
		r.Emails = append(r.Emails, vcard.Email{Value: e.Value, Type: e.Type})
	}
	for _, t := range p.PhoneNumbers {
		r.Phones = append(r.Phones, vcard.Phone{Value: t.Value, Type: t.Type})
	}
	for _, a := range p.Addresses {
		r.Addresses = append(r.Addresses, vcard.Address{
			Street: a.StreetAddress, City: a.City, Region: a.Region,
			Postal: a.PostalCode, Country: a.Country, Type: a.Type,
		})
	}
	for _, o := range p.Organizations {
		r.Organizations = append(r.Organizations, vcard.Organization{Name: o.Name, Title: o.Title})
	}
	for _, b := range p.Birthdays {
		r.Birthdays = append(r.Birthdays, vcard.Date{Year: b.Date.Year, Month: b.Date.Month, Day: b.Date.Day})
	}
	for _, ph := range p.Photos {
		r.Photos = append(r.Photos, vcard.Photo{URL: ph.URL, Default: ph.Default})
	}
	return r
}

func (p personJSON) toDeltaRecord() DeltaRecord {
	return DeltaRecord{Record: p.toRecord(), ETag: p.ETag, Deleted: p.Metadata.Deleted}
}
