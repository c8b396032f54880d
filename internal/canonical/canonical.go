// Package canonical merges the output of any scan path into a complete
// contact.Contact.
package canonical

import (
	"net/url"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/idna"

	"github.com/kalambet/tapping/internal/classify"
	"github.com/kalambet/tapping/internal/contact"
	"github.com/kalambet/tapping/internal/optical"
	"github.com/kalambet/tapping/internal/vcard"
)

const (
	avatarBase = "https://api.dicebear.com/7.x/avataaars/svg?seed="

	ColorFeatured = "#4A90E2"
	ColorPlain    = "#EBEEF1"

	TagDigitalProfile = "digital-profile"
)

// Source is one of ProfileSource, CardSource, SocialSource, URLSource,
// OpticalSource or ContactInfoSource.
type Source interface {
	source()
}

// ProfileSource is a first-party profile. Snapshot marks a copy carried by
// the scanned payload itself rather than one resolved from the directory;
// only resolved profiles produce an active contact.
type ProfileSource struct {
	Profile  contact.Profile
	Snapshot bool
}

// CardSource is a parsed structured card.
type CardSource struct{ Card vcard.Card }

// SocialSource is a recognized social profile link.
type SocialSource struct{ Link classify.SocialProfileLink }

// URLSource is any other URL.
type URLSource struct{ URL string }

// OpticalSource is a card, badge or document extraction.
type OpticalSource struct{ Result optical.Result }

// ContactInfoSource is bare contact information, as carried by a tag.
type ContactInfoSource struct{ Info contact.ContactInfo }

func (ProfileSource) source()     {}
func (CardSource) source()        {}
func (SocialSource) source()      {}
func (URLSource) source()         {}
func (OpticalSource) source()     {}
func (ContactInfoSource) source() {}

// Canonicalizer builds contacts. The zero value is not usable; call New.
type Canonicalizer struct {
	newID func() string
	now   func() time.Time
}

// Option configures a Canonicalizer.
type Option func(*Canonicalizer)

// WithIDs replaces the id generator.
func WithIDs(f func() string) Option { return func(c *Canonicalizer) { c.newID = f } }

// WithClock replaces the time source.
func WithClock(f func() time.Time) Option { return func(c *Canonicalizer) { c.now = f } }

// New creates a Canonicalizer using uuids and the wall clock.
func New(opts ...Option) *Canonicalizer {
	c := &Canonicalizer{newID: contact.NewID, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Canonicalize builds the contact for src scanned with intent.
func (c *Canonicalizer) Canonicalize(src Source, intent contact.Intent) contact.Contact {
	var out contact.Contact
	switch s := src.(type) {
	case ProfileSource:
		out = c.fromProfile(s.Profile, intent)
		out.IsActive = !s.Snapshot
	case CardSource:
		out = c.fromCard(s.Card, intent)
	case SocialSource:
		out = c.fromSocial(s.Link)
	case URLSource:
		out = c.fromURL(s.URL)
	case OpticalSource:
		out = c.fromOptical(s.Result, intent)
	case ContactInfoSource:
		out = c.fromContactInfo(s.Info)
	}
	return c.finish(out)
}

func (c *Canonicalizer) fromProfile(p contact.Profile, intent contact.Intent) contact.Contact {
	out := contact.Contact{Profile: p}
	out.SocialLinks = append([]contact.SocialLink(nil), p.SocialLinks...)
	if out.CardColor == "" {
		out.CardColor = ColorFeatured
	}
	out.Tags = []string{TagDigitalProfile}
	out.MeetingContext = scannedFrom(intent, "Scanned from QR code")
	return out
}

func (c *Canonicalizer) fromCard(card vcard.Card, intent contact.Intent) contact.Contact {
	out := contact.Contact{
		Profile: contact.Profile{
			Name:        card.Name,
			Headline:    card.ContactInfo.Position,
			Bio:         card.Notes,
			CardColor:   ColorPlain,
			ContactInfo: card.ContactInfo,
			SocialLinks: append([]contact.SocialLink(nil), card.SocialLinks...),
		},
		Notes: card.Notes,
	}
	if card.ContactInfo.Company != "" {
		out.Tags = []string{card.ContactInfo.Company}
	}
	out.MeetingContext = scannedFrom(intent, "Imported from vCard")
	return out
}

func (c *Canonicalizer) fromSocial(l classify.SocialProfileLink) contact.Contact {
	name := "Social Contact"
	if l.Username != "" {
		name = "@" + l.Username
	}
	return contact.Contact{
		Profile: contact.Profile{
			Name:      name,
			Headline:  l.Platform.DisplayName() + " Profile",
			CardColor: ColorPlain,
			SocialLinks: []contact.SocialLink{
				{Platform: l.Platform, URL: l.URL, Username: l.Username},
			},
		},
		Tags:           []string{string(l.Platform)},
		MeetingContext: "Connected via " + string(l.Platform),
	}
}

type knownSite struct {
	domains  []string
	platform contact.Platform
	name     string
	headline string
}

var knownSites = []knownSite{
	{[]string{"linkedin.com"}, contact.PlatformLinkedIn, "LinkedIn Profile", "Professional Network"},
	{[]string{"twitter.com", "x.com"}, contact.PlatformTwitter, "Twitter Profile", "Social Media"},
	{[]string{"instagram.com"}, contact.PlatformInstagram, "Instagram Profile", "Social Media"},
	{[]string{"github.com"}, contact.PlatformGitHub, "GitHub Profile", "Developer Portfolio"},
}

func (c *Canonicalizer) fromURL(raw string) contact.Contact {
	host := displayHost(raw)
	platform, name, headline := contact.PlatformWebsite, capitalize(host), "Website"
	for _, site := range knownSites {
		if matchesDomain(host, site.domains) {
			platform, name, headline = site.platform, site.name, site.headline
			break
		}
	}
	if name == "" {
		name = "Web Contact"
	}
	return contact.Contact{
		Profile: contact.Profile{
			Name:        name,
			Headline:    headline,
			CardColor:   ColorPlain,
			SocialLinks: []contact.SocialLink{{Platform: platform, URL: raw}},
		},
		Tags:           []string{string(platform)},
		MeetingContext: "Scanned from URL QR code",
	}
}

func (c *Canonicalizer) fromOptical(r optical.Result, intent contact.Intent) contact.Contact {
	out := contact.Contact{
		Profile: contact.Profile{
			Name:        r.Name,
			Headline:    r.ContactInfo.Position,
			CardColor:   ColorFeatured,
			ContactInfo: r.ContactInfo,
		},
	}
	for _, l := range r.SocialLinks {
		if l.URL == "" {
			continue
		}
		out.SocialLinks = append(out.SocialLinks, contact.SocialLink{
			Platform: contact.ParsePlatform(l.Platform),
			URL:      l.URL,
			Username: l.Username,
		})
	}

	switch {
	case intent == contact.IntentDocument:
		out.MeetingContext = "Imported from document"
	case intent == contact.IntentBadge:
		out.MeetingContext = "Scanned from event badge"
	default:
		out.MeetingContext = "Scanned from business card"
	}

	if ev := r.EventInfo; ev != nil {
		if ev.EventName != "" {
			out.Bio = "Met at " + ev.EventName
			if intent == contact.IntentBadge {
				out.MeetingContext += " at " + ev.EventName
			}
		}
		out.Notes = "Badge: " + orDefault(ev.BadgeNumber, "N/A") + "\nType: " + orDefault(ev.AttendeeType, "Attendee")
		for _, t := range []string{ev.EventName, ev.AttendeeType} {
			if t != "" {
				out.Tags = append(out.Tags, t)
			}
		}
	}
	return out
}

func (c *Canonicalizer) fromContactInfo(info contact.ContactInfo) contact.Contact {
	return contact.Contact{
		Profile: contact.Profile{
			Headline:    info.Position,
			CardColor:   ColorPlain,
			ContactInfo: info,
		},
		MeetingContext: "Received via NFC tag",
	}
}

// finish applies the fields every contact receives regardless of source.
func (c *Canonicalizer) finish(out contact.Contact) contact.Contact {
	out.ID = c.newID()
	out.Name = strings.TrimSpace(out.Name)
	if out.Name == "" {
		out.Name = contact.PlaceholderName
	}
	if out.Avatar == "" {
		out.Avatar = Avatar(out.Name)
	}

	seen := make(map[string]bool, len(out.SocialLinks))
	for i := range out.SocialLinks {
		l := &out.SocialLinks[i]
		if l.ID == "" || seen[l.ID] {
			l.ID = c.newID()
		}
		if l.Platform == "" {
			l.Platform = contact.PlatformOther
		}
		seen[l.ID] = true
	}
	if out.SocialLinks == nil {
		out.SocialLinks = []contact.SocialLink{}
	}

	now := c.now().UnixMilli()
	out.CreatedAt = now
	out.UpdatedAt = now
	out.LastInteraction = now
	return out
}

// Avatar returns the placeholder avatar URL for name.
func Avatar(name string) string {
	return avatarBase + url.QueryEscape(name)
}

func scannedFrom(intent contact.Intent, fallback string) string {
	switch intent {
	case contact.IntentPaperCard:
		return "Scanned from business card"
	case contact.IntentBadge:
		return "Scanned from event badge"
	case contact.IntentTag:
		return "Received via NFC tag"
	case contact.IntentDocument:
		return "Imported from document"
	}
	return fallback
}

// displayHost returns the unicode hostname of raw without a leading "www.".
func displayHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if uni, err := idna.Lookup.ToUnicode(host); err == nil {
		host = uni
	}
	return strings.TrimPrefix(host, "www.")
}

func matchesDomain(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
