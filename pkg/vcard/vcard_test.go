package vcard

import (
	"strings"
	"testing"
	"time"

	govcard "github.com/emersion/go-vcard"
)

func mockRecord() Record {
	return Record{
		ResourceName: "people/c1234567890",
		Names: []Name{{
			DisplayName: "Jane Doe",
			Family:      "Doe",
			Given:       "Jane",
			Middle:      "M",
			Prefix:      "Dr.",
			Suffix:      "PhD",
		}},
		Emails: []Email{
			{Value: "jane@example.com", Type: "home"},
			{Value: "jane@work.com", Type: "work"},
		},
		Phones: []Phone{{Value: "+1-555-0100", Type: "mobile"}},
		Addresses: []Address{{
			Street: "123 Main St", City: "Springfield", Region: "IL",
			Postal: "62701", Country: "US", Type: "home",
		}},
		Organizations: []Organization{{Name: "Acme Corp", Title: "Engineer"}},
		Birthdays:     []Date{{Year: 1990, Month: 3, Day: 15}},
		Photos:        []Photo{{URL: "https://lh3.google.com/photo.jpg", Default: false}},
	}
}

var fixedNow = time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)

func TestVCardHasRequiredStructure(t *testing.T) {
	v := Encode(mockRecord(), fixedNow)
	if !strings.HasPrefix(v, "BEGIN:VCARD\r\n") {
		t.Fatalf("missing BEGIN:VCARD prefix: %q", v)
	}
	if !strings.HasSuffix(v, "END:VCARD\r\n") {
		t.Fatalf("missing END:VCARD suffix: %q", v)
	}
	if !strings.Contains(v, "VERSION:3.0\r\n") {
		t.Fatalf("missing VERSION:3.0")
	}
	if !strings.Contains(v, "UID:people-c1234567890\r\n") {
		t.Fatalf("missing expected UID")
	}
}

func TestVCardUsesCRLFLineEndings(t *testing.T) {
	v := Encode(mockRecord(), fixedNow)
	for _, line := range strings.Split(v, "\r\n") {
		if strings.Contains(line, "\n") {
			t.Fatalf("found bare LF in line: %q", line)
		}
	}
}

func TestVCardNameFields(t *testing.T) {
	v := Encode(mockRecord(), fixedNow)
	if !strings.Contains(v, "N:Doe;Jane;M;Dr.;PhD\r\n") {
		t.Fatalf("unexpected N line: %q", v)
	}
	if !strings.Contains(v, "FN:Jane Doe\r\n") {
		t.Fatalf("unexpected FN line: %q", v)
	}
}

func TestVCardEmailTypes(t *testing.T) {
	v := Encode(mockRecord(), fixedNow)
	if !strings.Contains(v, "EMAIL;TYPE=HOME:jane@example.com\r\n") {
		t.Fatalf("missing home email")
	}
	if !strings.Contains(v, "EMAIL;TYPE=WORK:jane@work.com\r\n") {
		t.Fatalf("missing work email")
	}
}

func TestVCardPhone(t *testing.T) {
	v := Encode(mockRecord(), fixedNow)
	if !strings.Contains(v, "TEL;TYPE=CELL:+1-555-0100\r\n") {
		t.Fatalf("unexpected TEL line: %q", v)
	}
}

func TestVCardAddress(t *testing.T) {
	v := Encode(mockRecord(), fixedNow)
	if !strings.Contains(v, "ADR;TYPE=HOME:;;123 Main St;Springfield;IL;62701;US\r\n") {
		t.Fatalf("unexpected ADR line: %q", v)
	}
}

func TestVCardOrgAndTitle(t *testing.T) {
	v := Encode(mockRecord(), fixedNow)
	if !strings.Contains(v, "ORG:Acme Corp\r\n") || !strings.Contains(v, "TITLE:Engineer\r\n") {
		t.Fatalf("unexpected org/title: %q", v)
	}
}

func TestVCardBirthday(t *testing.T) {
	v := Encode(mockRecord(), fixedNow)
	if !strings.Contains(v, "BDAY:1990-03-15\r\n") {
		t.Fatalf("unexpected BDAY: %q", v)
	}
}

func TestVCardBirthdayNoYear(t *testing.T) {
	r := mockRecord()
	r.Birthdays = []Date{{Month: 12, Day: 25}}
	v := Encode(r, fixedNow)
	if !strings.Contains(v, "BDAY:--12-25\r\n") {
		t.Fatalf("unexpected BDAY: %q", v)
	}
}

func TestVCardPhoto(t *testing.T) {
	v := Encode(mockRecord(), fixedNow)
	if !strings.Contains(v, "PHOTO;VALUE=URI:https://lh3.google.com/photo.jpg\r\n") {
		t.Fatalf("unexpected PHOTO: %q", v)
	}
}

func TestVCardSkipsDefaultPhoto(t *testing.T) {
	r := mockRecord()
	r.Photos = []Photo{{URL: "https://lh3.google.com/default.jpg", Default: true}}
	v := Encode(r, fixedNow)
	if strings.Contains(v, "PHOTO;") {
		t.Fatalf("default photo should be skipped: %q", v)
	}
}

func TestVCardMinimalPerson(t *testing.T) {
	r := Record{ResourceName: "people/c999"}
	v := Encode(r, fixedNow)
	if !strings.Contains(v, "BEGIN:VCARD") || !strings.Contains(v, "N:;;;;") ||
		!strings.Contains(v, "FN:") || !strings.Contains(v, "END:VCARD") {
		t.Fatalf("minimal vcard missing required lines: %q", v)
	}
}

func TestVCardEscapesSpecialChars(t *testing.T) {
	r := mockRecord()
	r.Names = []Name{{
		DisplayName: "O'Brien, Jr.",
		Family:      "O'Brien, Jr.",
		Given:       "Miles",
	}}
	v := Encode(r, fixedNow)
	if !strings.Contains(v, `N:O'Brien\, Jr.;Miles;;;`) {
		t.Fatalf("unexpected escaped N: %q", v)
	}
	if !strings.Contains(v, `FN:O'Brien\, Jr.`) {
		t.Fatalf("unexpected escaped FN: %q", v)
	}
}

func TestDisplayNameExtraction(t *testing.T) {
	if got := DisplayName(mockRecord()); got != "Jane Doe" {
		t.Fatalf("DisplayName = %q, want Jane Doe", got)
	}
	if got := DisplayName(Record{}); got != "" {
		t.Fatalf("DisplayName of empty record = %q, want empty", got)
	}
}

// TestVCardRoundTripsThroughConformantParser asserts our hand-assembled
// output is accepted by an independent vCard 3.0 parser and preserves
// the required fields, without relying on that parser's own encoder.
func TestVCardRoundTripsThroughConformantParser(t *testing.T) {
	v := Encode(mockRecord(), fixedNow)
	dec := govcard.NewDecoder(strings.NewReader(v))
	card, err := dec.Decode()
	if err != nil {
		t.Fatalf("generated vcard failed to parse: %v", err)
	}
	if card.Value(govcard.FieldVersion) != "3.0" {
		t.Fatalf("unexpected VERSION after round trip: %q", card.Value(govcard.FieldVersion))
	}
	if card.Value(govcard.FieldFormattedName) != "Jane Doe" {
		t.Fatalf("unexpected FN after round trip: %q", card.Value(govcard.FieldFormattedName))
	}
}
