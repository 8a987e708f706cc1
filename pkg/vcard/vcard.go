// Package vcard converts an upstream contact record into vCard 3.0
// (RFC 2426) text. Encoding is a pure, hand-assembled function of its
// input — no templating engine and no general-purpose vCard library is
// used on the write path, because the output must be byte-identical to
// the layout pinned down by the wire format (see vcard_test.go and
// DESIGN.md).
package vcard

import (
	"fmt"
	"strings"
	"time"
)

// Name is one upstream name entry.
type Name struct {
	Family      string
	Given       string
	Middle      string
	Prefix      string
	Suffix      string
	DisplayName string
}

type Email struct {
	Value string
	Type  string
}

type Phone struct {
	Value string
	Type  string
}

type Address struct {
	Street  string
	City    string
	Region  string
	Postal  string
	Country string
	Type    string
}

type Organization struct {
	Name  string
	Title string
}

// Date is a possibly-partial birthday: Year may be zero (unknown).
type Date struct {
	Year  int
	Month int
	Day   int
}

type Photo struct {
	URL     string
	Default bool
}

// Record is the minimal set of upstream fields the codec needs.
type Record struct {
	ResourceName  string
	Names         []Name
	Emails        []Email
	Phones        []Phone
	Addresses     []Address
	Organizations []Organization
	Birthdays     []Date
	Photos        []Photo
}

// escape applies the four vCard 3.0 text escapes. Order matters: the
// backslash escape must run first or it would double-escape the
// backslashes introduced by the later replacements.
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `;`, `\;`)
	s = strings.ReplaceAll(s, `,`, `\,`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

// Encode renders r as vCard 3.0 text. now is used for the REV line and
// is the only non-deterministic input; everything else is a pure
// function of r.
func Encode(r Record, now time.Time) string {
	var lines []string

	lines = append(lines, "BEGIN:VCARD", "VERSION:3.0")

	uid := r.ResourceName
	if uid == "" {
		uid = "unknown"
	}
	uid = strings.ReplaceAll(uid, "/", "-")
	lines = append(lines, "UID:"+uid)

	if len(r.Names) > 0 {
		n := r.Names[0]
		lines = append(lines, fmt.Sprintf("N:%s;%s;%s;%s;%s",
			escape(n.Family), escape(n.Given), escape(n.Middle), escape(n.Prefix), escape(n.Suffix)))

		if n.DisplayName != "" {
			lines = append(lines, "FN:"+escape(n.DisplayName))
		} else {
			fallback := strings.TrimSpace(n.Given + " " + n.Family)
			lines = append(lines, "FN:"+escape(fallback))
		}
	} else {
		lines = append(lines, "N:;;;;", "FN:")
	}

	for _, e := range r.Emails {
		if e.Value == "" {
			continue
		}
		typ := "INTERNET"
		switch e.Type {
		case "home":
			typ = "HOME"
		case "work":
			typ = "WORK"
		}
		lines = append(lines, fmt.Sprintf("EMAIL;TYPE=%s:%s", typ, e.Value))
	}

	for _, p := range r.Phones {
		if p.Value == "" {
			continue
		}
		typ := "VOICE"
		switch p.Type {
		case "mobile":
			typ = "CELL"
		case "home":
			typ = "HOME"
		case "work":
			typ = "WORK"
		case "homeFax", "workFax":
			typ = "FAX"
		}
		lines = append(lines, fmt.Sprintf("TEL;TYPE=%s:%s", typ, p.Value))
	}

	for _, a := range r.Addresses {
		typ := "HOME"
		switch a.Type {
		case "work":
			typ = "WORK"
		}
		lines = append(lines, fmt.Sprintf("ADR;TYPE=%s:;;%s;%s;%s;%s;%s",
			typ, escape(a.Street), escape(a.City), escape(a.Region), escape(a.Postal), escape(a.Country)))
	}

	if len(r.Organizations) > 0 {
		org := r.Organizations[0]
		if org.Name != "" {
			lines = append(lines, "ORG:"+escape(org.Name))
		}
		if org.Title != "" {
			lines = append(lines, "TITLE:"+escape(org.Title))
		}
	}

	if len(r.Birthdays) > 0 {
		b := r.Birthdays[0]
		if b.Month > 0 && b.Day > 0 {
			if b.Year > 0 {
				lines = append(lines, fmt.Sprintf("BDAY:%04d-%02d-%02d", b.Year, b.Month, b.Day))
			} else {
				lines = append(lines, fmt.Sprintf("BDAY:--%02d-%02d", b.Month, b.Day))
			}
		}
	}

	if len(r.Photos) > 0 {
		p := r.Photos[0]
		if p.URL != "" && !p.Default {
			lines = append(lines, "PHOTO;VALUE=URI:"+p.URL)
		}
	}

	lines = append(lines, "REV:"+now.UTC().Format("2006-01-02T15:04:05Z"))
	lines = append(lines, "END:VCARD")

	return strings.Join(lines, "\r\n") + "\r\n"
}

// DisplayName returns the display name of the first name entry, or
// empty if there is none.
func DisplayName(r Record) string {
	if len(r.Names) == 0 {
		return ""
	}
	return r.Names[0].DisplayName
}

// SearchablePhone derives the space-separated, normalized phone list
// stored alongside a contact, using normalize from the contact store.
func SearchablePhone(r Record, normalize func(string) string) string {
	var tokens []string
	for _, p := range r.Phones {
		n := normalize(p.Value)
		if n != "" {
			tokens = append(tokens, n)
		}
	}
	return strings.Join(tokens, " ")
}
