package carddav

import "testing"

func TestExtractHrefsNamespacedAndBare(t *testing.T) {
	body := `<C:addressbook-multiget xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:carddav">
  <D:href>/addressbook/people_c111.vcf</D:href>
  <href>/addressbook/people_c222.vcf</href>
</C:addressbook-multiget>`

	got := extractHrefs(body)
	want := []string{"/addressbook/people_c111.vcf", "/addressbook/people_c222.vcf"}
	if len(got) != len(want) {
		t.Fatalf("expected %d hrefs, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("href %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestExtractHrefsEmptyList(t *testing.T) {
	if got := extractHrefs(`<C:addressbook-multiget xmlns:D="DAV:"/>`); len(got) != 0 {
		t.Fatalf("expected no hrefs, got %v", got)
	}
}

func TestExtractTELTextMatchNamespaced(t *testing.T) {
	body := `<C:addressbook-query xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:carddav">
  <C:filter>
    <C:prop-filter name="TEL">
      <C:text-match>+1 (555) 987-6543</C:text-match>
    </C:prop-filter>
  </C:filter>
</C:addressbook-query>`

	got, ok := extractTELTextMatch(body)
	if !ok {
		t.Fatal("expected a match")
	}
	if got != "+1 (555) 987-6543" {
		t.Fatalf("unexpected extracted text: %q", got)
	}
}

func TestExtractTELTextMatchSingleQuotes(t *testing.T) {
	body := `<filter><prop-filter name='TEL'><text-match>555-1234</text-match></prop-filter></filter>`
	got, ok := extractTELTextMatch(body)
	if !ok || got != "555-1234" {
		t.Fatalf("expected 555-1234, got %q ok=%v", got, ok)
	}
}

func TestExtractTELTextMatchMissingFiltersFallsThrough(t *testing.T) {
	if _, ok := extractTELTextMatch(`<C:addressbook-query/>`); ok {
		t.Fatal("expected no match without a TEL prop-filter")
	}
}

func TestExtractTELTextMatchEmptyContentFallsThrough(t *testing.T) {
	body := `<prop-filter name="TEL"><text-match></text-match></prop-filter>`
	if _, ok := extractTELTextMatch(body); ok {
		t.Fatal("expected no match for empty text-match content")
	}
}

func TestHrefResourceRoundTrip(t *testing.T) {
	href := hrefForResource("people/c123")
	if href != "/addressbook/people_c123.vcf" {
		t.Fatalf("unexpected href: %q", href)
	}
	rn, ok := resourceForHref(href)
	if !ok || rn != "people/c123" {
		t.Fatalf("round trip failed: %q ok=%v", rn, ok)
	}
}
