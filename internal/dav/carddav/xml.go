package carddav

import (
	"strconv"
	"strings"
	"time"

	"github.com/cybercypher/setu-carddav/internal/storage"
)

// escapeXML applies the minimal escaping the wire format calls for:
// dynamic content never needs more than these four substitutions, so a
// full XML tree builder buys nothing here.
func escapeXML(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
	)
	return r.Replace(s)
}

const xmlHeader = `<?xml version="1.0" encoding="utf-8"?>` + "\n"

func multistatus(body string) string {
	return xmlHeader +
		`<D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:carddav">` + "\n" +
		body +
		`</D:multistatus>`
}

// rootPropfindBody is the Depth-0 response for PROPFIND on "/".
func rootPropfindBody() string {
	return multistatus(
		`  <D:response>` + "\n" +
			`    <D:href>/</D:href>` + "\n" +
			`    <D:propstat>` + "\n" +
			`      <D:prop>` + "\n" +
			`        <D:resourcetype><D:collection/></D:resourcetype>` + "\n" +
			`        <D:current-user-principal><D:href>/principals/</D:href></D:current-user-principal>` + "\n" +
			`      </D:prop>` + "\n" +
			`      <D:status>HTTP/1.1 200 OK</D:status>` + "\n" +
			`    </D:propstat>` + "\n" +
			`  </D:response>` + "\n",
	)
}

// principalsPropfindBody is the response for PROPFIND on "/principals/".
func principalsPropfindBody() string {
	return multistatus(
		`  <D:response>` + "\n" +
			`    <D:href>/principals/</D:href>` + "\n" +
			`    <D:propstat>` + "\n" +
			`      <D:prop>` + "\n" +
			`        <D:resourcetype><D:collection/></D:resourcetype>` + "\n" +
			`        <C:addressbook-home-set><D:href>/addressbook/</D:href></C:addressbook-home-set>` + "\n" +
			`      </D:prop>` + "\n" +
			`      <D:status>HTTP/1.1 200 OK</D:status>` + "\n" +
			`    </D:propstat>` + "\n" +
			`  </D:response>` + "\n",
	)
}

// collectionPropfindBody is the response for PROPFIND on "/addressbook/".
// contacts is nil unless Depth is 1 or infinity.
func collectionPropfindBody(contacts []storage.Contact, now time.Time) string {
	ctag := strconv.FormatInt(now.Unix(), 10)

	var b strings.Builder
	b.WriteString("  <D:response>\n")
	b.WriteString("    <D:href>/addressbook/</D:href>\n")
	b.WriteString("    <D:propstat>\n")
	b.WriteString("      <D:prop>\n")
	b.WriteString("        <D:resourcetype><D:collection/><C:addressbook/></D:resourcetype>\n")
	b.WriteString("        <D:displayname>Setu Contacts</D:displayname>\n")
	b.WriteString(`        <CS:getctag xmlns:CS="http://calendarserver.org/ns/">` + ctag + "</CS:getctag>\n")
	b.WriteString("        <D:supported-report-set>\n")
	b.WriteString("          <D:supported-report><D:report><C:addressbook-multiget/></D:report></D:supported-report>\n")
	b.WriteString("          <D:supported-report><D:report><C:addressbook-query/></D:report></D:supported-report>\n")
	b.WriteString("        </D:supported-report-set>\n")
	b.WriteString("      </D:prop>\n")
	b.WriteString("      <D:status>HTTP/1.1 200 OK</D:status>\n")
	b.WriteString("    </D:propstat>\n")
	b.WriteString("  </D:response>\n")

	for _, c := range contacts {
		b.WriteString(contactResponse(c, false))
	}
	return multistatus(b.String())
}

// contactResponse renders one per-contact <D:response> per the wire
// template; includeAddressData controls whether the full vCard is
// embedded (REPORT responses only, never plain PROPFIND).
func contactResponse(c storage.Contact, includeAddressData bool) string {
	var b strings.Builder
	b.WriteString("  <D:response>\n")
	b.WriteString("    <D:href>" + escapeXML(hrefForResource(c.ResourceName)) + "</D:href>\n")
	b.WriteString("    <D:propstat>\n")
	b.WriteString("      <D:prop>\n")
	b.WriteString(`        <D:getetag>"` + escapeXML(c.ETag) + `"</D:getetag>` + "\n")
	if includeAddressData {
		b.WriteString("        <C:address-data>" + escapeXML(c.VCard) + "</C:address-data>\n")
	}
	b.WriteString("        <D:getcontenttype>text/vcard;charset=utf-8</D:getcontenttype>\n")
	b.WriteString("        <D:resourcetype/>\n")
	b.WriteString("      </D:prop>\n")
	b.WriteString("      <D:status>HTTP/1.1 200 OK</D:status>\n")
	b.WriteString("    </D:propstat>\n")
	b.WriteString("  </D:response>\n")
	return b.String()
}

// reportBody wraps a set of per-contact responses (possibly zero) in a
// multistatus envelope, always with address data embedded.
func reportBody(contacts []storage.Contact) string {
	var b strings.Builder
	for _, c := range contacts {
		b.WriteString(contactResponse(c, true))
	}
	return multistatus(b.String())
}
