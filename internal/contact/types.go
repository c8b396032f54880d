package contact

import (
	"strings"

	"github.com/google/uuid"
)

// PlaceholderName is used when no evidence of a name survives extraction.
const PlaceholderName = "Unknown Contact"

// Platform identifies the network a SocialLink points at.
type Platform string

const (
	PlatformLinkedIn  Platform = "linkedin"
	PlatformTwitter   Platform = "twitter"
	PlatformInstagram Platform = "instagram"
	PlatformFacebook  Platform = "facebook"
	PlatformGitHub    Platform = "github"
	PlatformYouTube   Platform = "youtube"
	PlatformTikTok    Platform = "tiktok"
	PlatformWebsite   Platform = "website"
	PlatformOther     Platform = "other"
)

var platformNames = map[Platform]string{
	PlatformLinkedIn:  "LinkedIn",
	PlatformTwitter:   "Twitter",
	PlatformInstagram: "Instagram",
	PlatformFacebook:  "Facebook",
	PlatformGitHub:    "GitHub",
	PlatformYouTube:   "YouTube",
	PlatformTikTok:    "TikTok",
	PlatformWebsite:   "Website",
	PlatformOther:     "Other",
}

// ParsePlatform maps a free-form platform name onto a known Platform.
// Anything unrecognized becomes PlatformOther.
func ParsePlatform(s string) Platform {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if p == "x" {
		return PlatformTwitter
	}
	if _, ok := platformNames[p]; ok {
		return p
	}
	return PlatformOther
}

// DisplayName returns the human-readable platform name, e.g. "LinkedIn".
func (p Platform) DisplayName() string {
	if n, ok := platformNames[p]; ok {
		return n
	}
	return platformNames[PlatformOther]
}

// Intent is the kind of scan that produced a payload.
type Intent string

const (
	IntentQR        Intent = "qr"
	IntentPaperCard Intent = "paper-card"
	IntentBadge     Intent = "badge"
	IntentTag       Intent = "nfc"
	IntentDocument  Intent = "document"
)

// ParseIntent accepts the canonical intent names plus the short aliases
// used by older clients ("paper", "tag").
func ParseIntent(s string) (Intent, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "qr":
		return IntentQR, true
	case "paper-card", "paper":
		return IntentPaperCard, true
	case "badge":
		return IntentBadge, true
	case "nfc", "tag":
		return IntentTag, true
	case "document":
		return IntentDocument, true
	}
	return "", false
}

// IsOptical reports whether the intent requires image extraction.
func (i Intent) IsOptical() bool {
	return i == IntentPaperCard || i == IntentBadge
}

// ContactInfo holds the optional reachability fields of a profile.
type ContactInfo struct {
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
	Company  string `json:"company,omitempty"`
	Position string `json:"position,omitempty"`
}

// IsZero reports whether no field is set.
func (c ContactInfo) IsZero() bool {
	return c == ContactInfo{}
}

// SocialLink is a link to one of the owner's accounts.
type SocialLink struct {
	ID       string   `json:"id"`
	Platform Platform `json:"platform"`
	URL      string   `json:"url"`
	Username string   `json:"username,omitempty"`
}

// Profile is the shape shared by first-party profiles and contacts.
// Timestamps are epoch milliseconds.
type Profile struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Headline    string       `json:"headline,omitempty"`
	Bio         string       `json:"bio,omitempty"`
	Avatar      string       `json:"avatar,omitempty"`
	CoverImage  string       `json:"coverImage,omitempty"`
	CardColor   string       `json:"cardColor,omitempty"`
	ContactInfo ContactInfo  `json:"contactInfo"`
	SocialLinks []SocialLink `json:"socialLinks"`
	IsActive    bool         `json:"isActive"`
	CreatedAt   int64        `json:"createdAt"`
	UpdatedAt   int64        `json:"updatedAt"`
}

// Contact is a Profile acquired from someone else, plus the owner's annotations.
type Contact struct {
	Profile
	Notes           string   `json:"notes,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	MeetingContext  string   `json:"meetingContext,omitempty"`
	LastInteraction int64    `json:"lastInteraction,omitempty"`
}

// NewID returns a fresh globally unique identifier.
func NewID() string {
	return uuid.NewString()
}
