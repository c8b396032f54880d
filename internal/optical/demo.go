package optical

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kalambet/tapping/internal/contact"
)

var demoCards = []Result{
	{
		Name: "Sarah Johnson",
		ContactInfo: contact.ContactInfo{
			Email:    "sarah.johnson@techcorp.com",
			Phone:    "+1 (555) 987-6543",
			Company:  "TechCorp Solutions",
			Position: "Senior Product Manager",
			Address:  "123 Innovation Drive, San Francisco, CA 94105",
		},
		SocialLinks: []Link{{Platform: "linkedin", URL: "https://linkedin.com/in/sarahjohnson", Username: "sarahjohnson"}},
	},
	{
		Name: "David Kim",
		ContactInfo: contact.ContactInfo{
			Email:    "david.kim@designstudio.com",
			Phone:    "+1 (555) 234-5678",
			Company:  "Creative Design Studio",
			Position: "UX Designer",
			Address:  "456 Creative Ave, New York, NY 10001",
		},
		SocialLinks: []Link{{Platform: "website", URL: "https://davidkim.design"}},
	},
	{
		Name: "Maria Rodriguez",
		ContactInfo: contact.ContactInfo{
			Email:    "maria@marketingpro.com",
			Phone:    "+1 (555) 345-6789",
			Company:  "Marketing Pro Agency",
			Position: "Marketing Director",
		},
		SocialLinks: []Link{{Platform: "twitter", URL: "https://twitter.com/mariarodriguez", Username: "mariarodriguez"}},
	},
}

var demoBadges = []Result{
	{
		Name:        "Michael Chen",
		ContactInfo: contact.ContactInfo{Email: "michael.chen@startup.io", Company: "StartupIO", Position: "CTO"},
		EventInfo:   &EventInfo{EventName: "Tech Conference 2024", AttendeeType: "Speaker", BadgeNumber: "SPK-001"},
	},
	{
		Name:        "Emily Watson",
		ContactInfo: contact.ContactInfo{Email: "emily.watson@venture.com", Company: "Venture Capital Partners", Position: "Investment Partner"},
		EventInfo:   &EventInfo{EventName: "Startup Summit 2024", AttendeeType: "Investor", BadgeNumber: "INV-042"},
	},
	{
		Name:        "Alex Thompson",
		ContactInfo: contact.ContactInfo{Email: "alex@techstartup.com", Company: "Tech Startup Inc", Position: "Founder & CEO"},
		EventInfo:   &EventInfo{EventName: "Innovation Expo", AttendeeType: "Exhibitor", BadgeNumber: "EXH-123"},
	},
}

// DemoCompleter answers every request with one of a fixed set of sample
// cards or badges, wrapped in chatty text the way a language model would.
type DemoCompleter struct {
	mu     sync.Mutex
	random Random
}

// NewDemoCompleter creates a DemoCompleter. random may be nil.
func NewDemoCompleter(random Random) *DemoCompleter {
	if random == nil {
		now := uint64(time.Now().UnixNano())
		random = rand.New(rand.NewPCG(now, now>>29))
	}
	return &DemoCompleter{random: random}
}

func (d *DemoCompleter) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	pool := demoCards
	if req.Intent == contact.IntentBadge {
		pool = demoBadges
	}
	d.mu.Lock()
	pick := pool[d.random.IntN(len(pool))]
	d.mu.Unlock()

	data, err := json.MarshalIndent(pick, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Here is the extracted contact information:\n%s\n", data), nil
}
