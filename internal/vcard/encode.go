package vcard

import (
	"strings"

	"github.com/kalambet/tapping/internal/contact"
)

var lineSafe = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

var noteEscaper = strings.NewReplacer(`\`, `\\`, "\r\n", `\n`, "\n", `\n`, "\r", `\n`)

// Encode renders a contact's card fields as structured-card text. Every
// social link becomes one URL line.
func Encode(name string, info contact.ContactInfo, links []contact.SocialLink, notes string) string {
	var sb strings.Builder
	sb.WriteString("BEGIN:VCARD\n")
	sb.WriteString("VERSION:3.0\n")

	writeLine(&sb, "FN", name)
	writeLine(&sb, "ORG", info.Company)
	writeLine(&sb, "TITLE", info.Position)
	writeLine(&sb, "EMAIL", info.Email)
	writeLine(&sb, "TEL", info.Phone)
	if info.Address != "" {
		writeLine(&sb, "ADR", ";;"+info.Address+";;;;")
	}
	for _, l := range links {
		writeLine(&sb, "URL", l.URL)
	}
	if notes != "" {
		sb.WriteString("NOTE:" + noteEscaper.Replace(notes) + "\n")
	}

	sb.WriteString("END:VCARD\n")
	return sb.String()
}

// EncodeContact is Encode over a stored Contact.
func EncodeContact(c contact.Contact) string {
	return Encode(c.Name, c.ContactInfo, c.SocialLinks, c.Notes)
}

func writeLine(sb *strings.Builder, key, value string) {
	value = strings.TrimSpace(lineSafe.Replace(value))
	if value == "" {
		return
	}
	sb.WriteString(key + ":" + value + "\n")
}
