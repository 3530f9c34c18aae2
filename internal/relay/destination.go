package relay

import (
	"strings"

	"releasebot/internal/telegram"
)

// Destination is one configured chat (and optional topic) that receives
// announcements.
type Destination struct {
	ChatID    string
	ThreadID  int
	FilterTag string
}

func (d Destination) chat() telegram.Chat {
	return telegram.Chat{ID: d.ChatID, ThreadID: d.ThreadID}
}

// Accepts reports whether a release tagged tag should reach d. An empty
// filter accepts everything; otherwise the filter must appear in the tag,
// ignoring case.
func (d Destination) Accepts(tag string) bool {
	if d.FilterTag == "" {
		return true
	}
	return strings.Contains(strings.ToLower(tag), strings.ToLower(d.FilterTag))
}

// matching returns the destinations accepting tag, in configured order.
func matching(dests []Destination, tag string) []Destination {
	out := make([]Destination, 0, len(dests))
	for _, d := range dests {
		if d.Accepts(tag) {
			out = append(out, d)
		}
	}
	return out
}

// Settings is the per-request snapshot of routing configuration.
type Settings struct {
	// TargetUser is the repository owner whose releases are relayed. Empty
	// accepts any owner.
	TargetUser   string
	Destinations []Destination
}

func (s Settings) ownerAllowed(owner string) bool {
	return s.TargetUser == "" || strings.EqualFold(owner, s.TargetUser)
}
