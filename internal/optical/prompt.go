package optical

import (
	"github.com/kalambet/tapping/internal/contact"
)

const paperCardPrompt = `Extract contact information from this business card image. Return a JSON object with the following structure:
{
  "name": "Full Name",
  "contactInfo": {
    "email": "email@example.com",
    "phone": "+1234567890",
    "company": "Company Name",
    "position": "Job Title",
    "address": "Full Address"
  },
  "socialLinks": [
    {
      "platform": "linkedin",
      "url": "https://linkedin.com/in/username",
      "username": "username"
    }
  ]
}
Only include fields that are clearly visible in the image. If a field is not present, omit it from the JSON.`

const badgePrompt = `Extract contact information from this event badge/name tag image. Return a JSON object with the following structure:
{
  "name": "Full Name",
  "contactInfo": {
    "email": "email@example.com",
    "company": "Company Name",
    "position": "Job Title"
  },
  "eventInfo": {
    "eventName": "Event Name",
    "attendeeType": "Speaker/Attendee/Staff",
    "badgeNumber": "Badge ID if visible"
  }
}
Only include fields that are clearly visible in the image. Focus on name, company, and any contact information.`

// Prompt returns the instruction sent with the image for the given intent.
func Prompt(intent contact.Intent) string {
	if intent == contact.IntentBadge {
		return badgePrompt
	}
	return paperCardPrompt
}

// FailureMessage is the user-facing hint for an unreadable source.
func FailureMessage(intent contact.Intent) string {
	if intent == contact.IntentBadge {
		return "Could not extract information from the badge. Please ensure the text is clearly visible."
	}
	return "Could not clearly read the business card. Please ensure good lighting and try again."
}
