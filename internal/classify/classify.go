// Package classify decides which ingestion path a scanned string takes.
package classify

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/kalambet/tapping/internal/contact"
)

// StructuredCardHeader marks the start of structured-card text.
const StructuredCardHeader = "BEGIN:VCARD"

// DefaultProfileHosts are the first-party hosts whose profile links resolve
// to a live profile.
var DefaultProfileHosts = []string{
	"digitalcard.app",
	"tapping.app",
	"tapni.com",
	"popl.co",
	"linq.team",
}

// Kind names a classification variant.
type Kind int

const (
	KindUnknown Kind = iota
	KindProfileReference
	KindSocialProfileLink
	KindStructuredCard
	KindGenericURL
)

func (k Kind) String() string {
	switch k {
	case KindProfileReference:
		return "profile"
	case KindSocialProfileLink:
		return "social"
	case KindStructuredCard:
		return "vcard"
	case KindGenericURL:
		return "url"
	default:
		return "unknown"
	}
}

// Result is one of ProfileReference, SocialProfileLink, StructuredCard,
// GenericURL or Unknown.
type Result interface {
	Kind() Kind
	sealed()
}

// ProfileReference points at a first-party profile by id.
type ProfileReference struct {
	ProfileID string
}

// SocialProfileLink is a recognized social-network profile URL.
type SocialProfileLink struct {
	Platform contact.Platform
	Username string
	URL      string
}

// StructuredCard carries structured-card text verbatim.
type StructuredCard struct {
	Raw string
}

// GenericURL is a well-formed URL that matched no specific pattern.
type GenericURL struct {
	URL string
}

// Unknown is returned when nothing matched.
type Unknown struct {
	Raw string
}

func (ProfileReference) Kind() Kind  { return KindProfileReference }
func (SocialProfileLink) Kind() Kind { return KindSocialProfileLink }
func (StructuredCard) Kind() Kind    { return KindStructuredCard }
func (GenericURL) Kind() Kind        { return KindGenericURL }
func (Unknown) Kind() Kind           { return KindUnknown }

func (ProfileReference) sealed()  {}
func (SocialProfileLink) sealed() {}
func (StructuredCard) sealed()    {}
func (GenericURL) sealed()        {}
func (Unknown) sealed()           {}

type socialPattern struct {
	platform contact.Platform
	re       *regexp.Regexp
}

// Order matters: the first matching pattern wins.
var socialPatterns = []socialPattern{
	{contact.PlatformLinkedIn, regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?linkedin\.com/in/([a-z0-9_-]+)`)},
	{contact.PlatformTwitter, regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?(?:twitter\.com|x\.com)/([a-z0-9_]+)`)},
	{contact.PlatformInstagram, regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?instagram\.com/([a-z0-9_.]+)`)},
}

const byteOrderMark = "\ufeff"

// Classifier holds the compiled first-party profile pattern.
type Classifier struct {
	profileRE *regexp.Regexp
}

// New builds a Classifier recognizing the given first-party hosts.
// With no hosts it falls back to DefaultProfileHosts.
func New(profileHosts ...string) *Classifier {
	var quoted []string
	for _, h := range profileHosts {
		h = strings.TrimSpace(strings.ToLower(h))
		if h == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(strings.TrimPrefix(h, "www.")))
	}
	if len(quoted) == 0 {
		for _, h := range DefaultProfileHosts {
			quoted = append(quoted, regexp.QuoteMeta(h))
		}
	}
	re := regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.)?(?:` + strings.Join(quoted, "|") + `)(?::\d+)?/(?:profile|p|u|card)/([a-z0-9_-]+)(?:[/?#]|$)`)
	return &Classifier{profileRE: re}
}

var defaultClassifier = New()

// Classify runs the default classifier.
func Classify(raw string) Result {
	return defaultClassifier.Classify(raw)
}

// Classify returns exactly one variant for any input. It never panics and
// returns the same variant for the same input.
func (c *Classifier) Classify(raw string) Result {
	raw = strings.TrimPrefix(raw, byteOrderMark)
	s := strings.TrimFunc(raw, func(r rune) bool { return unicode.IsSpace(r) || r == '\ufeff' })

	if m := c.profileRE.FindStringSubmatch(s); m != nil {
		return ProfileReference{ProfileID: m[1]}
	}

	for _, p := range socialPatterns {
		if m := p.re.FindStringSubmatch(s); m != nil {
			return SocialProfileLink{Platform: p.platform, Username: m[1], URL: s}
		}
	}

	if strings.HasPrefix(strings.ToUpper(s), StructuredCardHeader) {
		return StructuredCard{Raw: raw}
	}

	if IsURL(s) {
		return GenericURL{URL: s}
	}

	return Unknown{Raw: raw}
}

// IsURL reports whether s is a syntactically valid absolute URL.
func IsURL(s string) bool {
	if s == "" || strings.IndexFunc(s, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return false
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.Host != ""
	}
	return u.Host != "" || u.Opaque != ""
}
