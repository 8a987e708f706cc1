package carddav

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cybercypher/setu-carddav/internal/storage"
	"github.com/cybercypher/setu-carddav/internal/upstream"
	"github.com/cybercypher/setu-carddav/pkg/vcard"
)

// maxReportBodyBytes is the REPORT body size cap; a larger body is
// rejected with 400 before it is even parsed.
const maxReportBodyBytes = 64 * 1024

// handleReport dispatches a REPORT body on /addressbook/ to the
// multiget, query, or generic "return all" path.
func (h *Handler) handleReport(ctx context.Context, body string) (string, error) {
	if strings.Contains(body, "addressbook-multiget") {
		return h.multigetReport(ctx, body)
	}
	if strings.Contains(body, "addressbook-query") {
		if raw, ok := extractTELTextMatch(body); ok {
			return h.reactiveQueryReport(ctx, raw)
		}
	}
	return h.allContactsReport(ctx)
}

func (h *Handler) allContactsReport(ctx context.Context) (string, error) {
	contacts, err := h.store.List(ctx)
	if err != nil {
		return "", err
	}
	return reportBody(contacts), nil
}

// multigetReport extracts every <href> in body (namespaced or bare)
// and returns one response per requested resource that exists. An
// empty href list means "return all".
func (h *Handler) multigetReport(ctx context.Context, body string) (string, error) {
	hrefs := extractHrefs(body)
	if len(hrefs) == 0 {
		return h.allContactsReport(ctx)
	}

	var out []storage.Contact
	for _, href := range hrefs {
		rn, ok := resourceForHref(href)
		if !ok {
			continue
		}
		c, err := h.store.Get(ctx, rn)
		if err != nil {
			return "", err
		}
		if c != nil {
			out = append(out, *c)
		}
	}
	return reportBody(out), nil
}

// reactiveQueryReport implements the TEL prop-filter lookup: cache hit
// first, then an upstream live search on miss, with a write-through
// into the store so the next request is a cache hit.
func (h *Handler) reactiveQueryReport(ctx context.Context, rawPhone string) (string, error) {
	normalized := storage.NormalizePhone(rawPhone)
	if normalized == "" {
		return multistatus(""), nil
	}

	hits, err := h.store.SearchByPhone(ctx, normalized)
	if err != nil {
		return "", err
	}
	if len(hits) > 0 {
		return reportBody(hits), nil
	}

	if h.upstream == nil {
		return multistatus(""), nil
	}

	if err := h.upstream.EnsureWarm(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("carddav: upstream warmup failed during reactive lookup")
		return multistatus(""), nil
	}

	result, err := h.upstream.Search(ctx, rawPhone)
	if err != nil {
		h.logger.Warn().Err(err).Msg("carddav: upstream search failed during reactive lookup")
		return multistatus(""), nil
	}
	if result == nil {
		return multistatus(""), nil
	}

	c := cacheContact(result.Record, result.ETag, time.Now())
	if err := h.store.Put(ctx, c); err != nil {
		return "", err
	}
	return reportBody([]storage.Contact{c}), nil
}

// cacheContact converts a live search hit into a storage.Contact,
// defaulting the etag to a random UUID when the upstream omitted one —
// unlike the sync path, this value is returned in an outbound ETag
// header immediately and must never be empty.
func cacheContact(rec vcard.Record, etag string, now time.Time) storage.Contact {
	if etag == "" {
		etag = uuid.NewString()
	}
	return storage.Contact{
		ResourceName:    rec.ResourceName,
		ETag:            etag,
		DisplayName:     vcard.DisplayName(rec),
		VCard:           vcard.Encode(rec, now),
		SearchablePhone: vcard.SearchablePhone(rec, storage.NormalizePhone),
		UpdatedAt:       now.Unix(),
	}
}

// extractHrefs finds every <href> or <D:href> element's textual
// content in body, in order.
func extractHrefs(body string) []string {
	var out []string
	rest := body
	for {
		content, next, ok := nextTagContent(rest, "href")
		if !ok {
			break
		}
		out = append(out, strings.TrimSpace(content))
		rest = rest[next:]
	}
	return out
}

// extractTELTextMatch locates the earliest prop-filter name="TEL" (or
// name='TEL') and, within the text that follows, the next text-match
// element's content. Returns ok=false if no filter or empty content is
// found, signaling a fall-through to the generic report.
func extractTELTextMatch(body string) (string, bool) {
	idx := indexPropFilterTEL(body)
	if idx < 0 {
		return "", false
	}
	content, _, ok := nextTagContent(body[idx:], "text-match")
	if !ok {
		return "", false
	}
	value := strings.TrimSpace(content)
	if value == "" {
		return "", false
	}
	return value, true
}

// nextTagContent finds the earliest element named localName in s
// (bare or namespaced), skips past its opening tag's closing '>', and
// returns the text up to the following '<' along with the offset in s
// immediately after that '<', so callers can resume scanning past it.
func nextTagContent(s, localName string) (content string, next int, ok bool) {
	start, tagLen, found := findOpenTag(s, localName)
	if !found {
		return "", 0, false
	}
	afterName := s[start+tagLen:]
	gt := strings.IndexByte(afterName, '>')
	if gt < 0 {
		return "", 0, false
	}
	body := afterName[gt+1:]
	lt := strings.IndexByte(body, '<')
	if lt < 0 {
		return "", 0, false
	}
	absoluteNext := start + tagLen + gt + 1 + lt + 1
	return body[:lt], absoluteNext, true
}

// indexPropFilterTEL returns the byte offset of the first
// `prop-filter name="TEL"` (single or double quotes, any namespace
// prefix on the element), or -1.
func indexPropFilterTEL(body string) int {
	for _, q := range []byte{'"', '\''} {
		needle := `prop-filter name=` + string(q) + "TEL" + string(q)
		if i := strings.Index(body, needle); i >= 0 {
			return i
		}
	}
	return -1
}

// findOpenTag finds the earliest occurrence of an element named
// localName, matching both a bare "<localName" and any namespaced
// "<X:localName" form. It returns the start offset of the "<" and the
// length of the matched opening substring up to (but not including)
// the first attribute or ">" character.
func findOpenTag(s, localName string) (start int, matchLen int, ok bool) {
	bare := "<" + localName
	best := -1
	bestLen := 0
	for i := 0; i+len(bare) <= len(s); i++ {
		if s[i] != '<' {
			continue
		}
		j := i + 1
		for j < len(s) && s[j] != ' ' && s[j] != '>' && s[j] != '/' {
			j++
		}
		tagName := s[i+1 : j]
		name := tagName
		if k := strings.IndexByte(tagName, ':'); k >= 0 {
			name = tagName[k+1:]
		}
		if name == localName {
			best = i
			bestLen = j - i
			break
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return best, bestLen, true
}
