package optical

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// Runs of digits and separators; phoneIn picks the phone inside a run.
	phonePattern = regexp.MustCompile(`\+?\(?\d[\d \t().\-]{8,}\d`)
	namePattern  = regexp.MustCompile(`^[A-Z][a-zA-Z'\-]*(?:[ \t]+[A-Z][a-zA-Z'\-.]*)*$`)
)

const maxNameLen = 50

// Heuristic extracts a name, email and phone from free text. Any field may
// come back empty.
func Heuristic(text string) Result {
	var r Result
	r.ContactInfo.Email = emailPattern.FindString(text)

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for _, line := range lines {
		if r.ContactInfo.Phone != "" {
			break
		}
		for _, m := range phonePattern.FindAllString(line, -1) {
			if p := phoneIn(m); p != "" {
				r.ContactInfo.Phone = p
				break
			}
		}
	}

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || utf8.RuneCountInString(line) >= maxNameLen {
			continue
		}
		if namePattern.MatchString(line) {
			r.Name = line
			break
		}
	}
	return r
}

// phoneIn returns the first 10 or 11 digit number inside run. Candidates
// start and end on digit group boundaries, so a neighbouring number on the
// same line is never split or swallowed.
func phoneIn(run string) string {
	for i := 0; i < len(run); i++ {
		if !groupStart(run, i) {
			continue
		}
		best := ""
		digits := 0
		for k := i; k < len(run) && digits <= 11; k++ {
			if !isDigit(run[k]) {
				continue
			}
			digits++
			if k+1 < len(run) && isDigit(run[k+1]) {
				continue
			}
			if digits >= 10 && digits <= 11 {
				best = run[i : k+1]
			}
		}
		if best != "" {
			return best
		}
	}
	return ""
}

func groupStart(s string, i int) bool {
	if i > 0 && isDigit(s[i-1]) {
		return false
	}
	switch c := s[i]; {
	case isDigit(c):
		return true
	case c == '+' || c == '(':
		return i+1 < len(s) && (isDigit(s[i+1]) || s[i+1] == '(')
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
