// Package vcard reads and writes the line-oriented structured-card format.
package vcard

import (
	"strings"

	"github.com/kalambet/tapping/internal/contact"
)

// Card is the field map extracted from structured-card text.
type Card struct {
	Name        string
	ContactInfo contact.ContactInfo
	SocialLinks []contact.SocialLink
	Notes       string
}

// IsEmpty reports whether parsing recovered nothing usable.
func (c Card) IsEmpty() bool {
	return c.Name == "" && c.ContactInfo.IsZero() && len(c.SocialLinks) == 0 && c.Notes == ""
}

// Parse extracts a Card from structured-card text. Unrecognized keys and
// lines without a colon are skipped; Parse never fails.
func Parse(raw string) Card {
	return ParseWithIDs(raw, contact.NewID)
}

// ParseWithIDs is Parse with a caller-supplied id generator for social links.
func ParseWithIDs(raw string, newID func() string) Card {
	var card Card
	for _, line := range unfold(raw) {
		if strings.TrimSpace(line) == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch normalizeKey(key) {
		case "FN":
			if card.Name == "" {
				card.Name = value
			}
		case "N":
			if card.Name == "" {
				card.Name = structuredName(value)
			}
		case "EMAIL":
			card.ContactInfo.Email = value
		case "TEL":
			card.ContactInfo.Phone = value
		case "ORG":
			card.ContactInfo.Company = strings.TrimRight(value, ";")
		case "TITLE":
			card.ContactInfo.Position = value
		case "ADR":
			card.ContactInfo.Address = joinComponents(value)
		case "URL":
			if value == "" {
				continue
			}
			card.SocialLinks = append(card.SocialLinks, contact.SocialLink{
				ID:       newID(),
				Platform: contact.PlatformWebsite,
				URL:      value,
			})
		case "NOTE":
			card.Notes = unescape(value)
		}
	}
	return card
}

// unfold splits on line breaks and joins folded continuation lines, which
// begin with a space or tab.
func unfold(raw string) []string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	raw = strings.ReplaceAll(raw, "\r", "\n")

	var lines []string
	for _, l := range strings.Split(raw, "\n") {
		if len(lines) > 0 && (strings.HasPrefix(l, " ") || strings.HasPrefix(l, "\t")) {
			lines[len(lines)-1] += l[1:]
			continue
		}
		lines = append(lines, l)
	}
	return lines
}

// normalizeKey uppercases a property name and drops its parameters and
// group prefix: "item1.EMAIL;TYPE=work" becomes "EMAIL".
func normalizeKey(key string) string {
	key, _, _ = strings.Cut(key, ";")
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		key = key[i+1:]
	}
	return strings.ToUpper(strings.TrimSpace(key))
}

// structuredName turns "Family;Given;Additional;Prefix;Suffix" into
// display order. Values without separators pass through.
func structuredName(v string) string {
	if !strings.Contains(v, ";") {
		return v
	}
	parts := strings.Split(v, ";")
	for len(parts) < 5 {
		parts = append(parts, "")
	}
	order := []string{parts[3], parts[1], parts[2], parts[0], parts[4]}
	var out []string
	for _, p := range order {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// joinComponents replaces the internal ';' separators with ", ".
// Empty components are dropped.
func joinComponents(v string) string {
	var out []string
	for _, p := range strings.Split(v, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ", ")
}

var unescaper = strings.NewReplacer(`\n`, "\n", `\N`, "\n", `\,`, ",", `\;`, ";", `\\`, `\`)

func unescape(v string) string {
	return unescaper.Replace(v)
}
