// Package carddav implements the read-only CardDAV protocol surface:
// discovery, collection PROPFIND, REPORT (multiget and query), and
// per-contact GET/HEAD, plus the REPORT-time reactive lookup that
// queries upstream on a cache miss.
package carddav

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cybercypher/setu-carddav/internal/auth"
	"github.com/cybercypher/setu-carddav/internal/storage"
	"github.com/cybercypher/setu-carddav/internal/upstream"
)

const davHeader = "1, 3, addressbook"
const allowHeader = "OPTIONS, GET, HEAD, PROPFIND, REPORT"

// Handler serves the whole protocol surface rooted at "/". upstream
// may be nil, in which case the reactive lookup never escalates past
// the local cache.
type Handler struct {
	store    storage.Store
	upstream upstream.API
	authn    *auth.BasicAuth
	logger   zerolog.Logger
}

func New(store storage.Store, up upstream.API, authn *auth.BasicAuth, logger zerolog.Logger) *Handler {
	return &Handler{store: store, upstream: up, authn: authn, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/.well-known/carddav" {
		http.Redirect(w, r, "/", http.StatusMovedPermanently)
		return
	}

	if r.Method != http.MethodOptions {
		if _, err := h.authn.Authenticate(r.Context(), r.Header.Get("Authorization")); err != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="Setu CardDAV"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	switch {
	case path == "/":
		h.serveRoot(w, r)
	case path == "/principals/":
		h.servePrincipals(w, r)
	case path == "/addressbook/":
		h.serveAddressbook(w, r)
	case strings.HasPrefix(path, "/addressbook/"):
		h.serveContact(w, r, strings.TrimPrefix(path, "/addressbook/"))
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) serveRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		writeOptions(w)
	case "PROPFIND":
		writeMultistatus(w, rootPropfindBody())
	default:
		methodNotAllowed(w)
	}
}

func (h *Handler) servePrincipals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		writeOptions(w)
	case "PROPFIND":
		writeMultistatus(w, principalsPropfindBody())
	default:
		methodNotAllowed(w)
	}
}

func (h *Handler) serveAddressbook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		writeOptions(w)
	case "PROPFIND":
		h.handlePropfindCollection(w, r)
	case "REPORT":
		h.handleReportRequest(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (h *Handler) handlePropfindCollection(w http.ResponseWriter, r *http.Request) {
	depth := r.Header.Get("Depth")

	var contacts []storage.Contact
	if depth == "1" || depth == "infinity" {
		var err error
		contacts, err = h.store.List(r.Context())
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	writeMultistatus(w, collectionPropfindBody(contacts, time.Now()))
}

func (h *Handler) handleReportRequest(w http.ResponseWriter, r *http.Request) {
	limited := io.LimitReader(r.Body, maxReportBodyBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if len(raw) > maxReportBodyBytes {
		http.Error(w, "report body too large", http.StatusBadRequest)
		return
	}

	result, err := h.handleReport(r.Context(), string(raw))
	if err != nil {
		h.logger.Error().Err(err).Msg("carddav: REPORT failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeMultistatus(w, result)
}

func (h *Handler) serveContact(w http.ResponseWriter, r *http.Request, idWithSuffix string) {
	resourceName, ok := resourceForHref(idWithSuffix)
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodOptions:
		writeOptions(w)
		return
	case "PROPFIND":
		h.handlePropfindContact(w, r, resourceName)
		return
	case http.MethodGet, http.MethodHead:
		h.handleGetContact(w, r, resourceName)
		return
	default:
		methodNotAllowed(w)
	}
}

func (h *Handler) handlePropfindContact(w http.ResponseWriter, r *http.Request, resourceName string) {
	c, err := h.store.Get(r.Context(), resourceName)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if c == nil {
		http.NotFound(w, r)
		return
	}
	writeMultistatus(w, multistatus(contactResponse(*c, false)))
}

func (h *Handler) handleGetContact(w http.ResponseWriter, r *http.Request, resourceName string) {
	c, err := h.store.Get(r.Context(), resourceName)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if c == nil {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/vcard;charset=utf-8")
	w.Header().Set("ETag", `"`+c.ETag+`"`)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = io.WriteString(w, c.VCard)
	}
}

func writeOptions(w http.ResponseWriter) {
	w.Header().Set("Allow", allowHeader)
	w.Header().Set("DAV", davHeader)
	w.WriteHeader(http.StatusOK)
}

func writeMultistatus(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/xml;charset=utf-8")
	w.Header().Set("DAV", davHeader)
	w.WriteHeader(http.StatusMultiStatus)
	_, _ = io.WriteString(w, body)
}

func methodNotAllowed(w http.ResponseWriter) {
	w.Header().Set("Allow", allowHeader)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
}
