// Package display derives presentation attributes from raw chat,
// membership and user rows. Every function is pure and re-run on each
// render; nothing here mutates or caches canonical data.
package display

import (
	"strings"
	"time"

	"github.com/chatview/internal/model"
)

// tagVocabulary is scanned against chat names in this fixed order; a chat
// may carry several tags and they keep this order.
var tagVocabulary = []string{"Demo", "Internal", "Signup", "Content", "Support"}

var tagColors = map[string]string{
	"demo":     "blue",
	"internal": "purple",
	"signup":   "green",
	"content":  "orange",
	"support":  "red",
}

// DefaultTagColor is used for any tag outside the vocabulary table.
const DefaultTagColor = "gray"

// systemTokens mark a username as a system author when contained in it,
// case-insensitively. "periskope" is the brand account token.
var systemTokens = []string{"system", "periskope"}

// counterpart returns the membership of the other participant in a direct
// chat, or nil when none is found.
func counterpart(members []model.Membership, currentUserID string) *model.Membership {
	for i := range members {
		if members[i].UserID != currentUserID {
			return &members[i]
		}
	}
	return nil
}

// Name resolves the chat's display name. Group chats keep their own name;
// direct chats show the counterpart's username. Falls back to the raw chat
// name when the counterpart is missing or its user row is dangling.
func Name(chat model.Chat, members []model.Membership, currentUserID string) string {
	if chat.ChatType == model.ChatTypeGroup {
		return chat.Name
	}
	other := counterpart(members, currentUserID)
	if other == nil || other.User == nil || other.User.Username == "" {
		return chat.Name
	}
	return other.User.Username
}

// Avatar resolves the chat's avatar reference. Group chats get none (the
// caller renders a generic group icon); direct chats get the counterpart's
// avatar, or none when absent or dangling.
func Avatar(chat model.Chat, members []model.Membership, currentUserID string) string {
	if chat.ChatType == model.ChatTypeGroup {
		return ""
	}
	other := counterpart(members, currentUserID)
	if other == nil || other.User == nil {
		return ""
	}
	return other.User.AvatarURL
}

// Tags scans the chat name case-insensitively against the fixed vocabulary
// and returns every matching term in scan order.
func Tags(chat model.Chat) []string {
	name := strings.ToLower(chat.Name)
	var tags []string
	for _, tag := range tagVocabulary {
		if strings.Contains(name, strings.ToLower(tag)) {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Vocabulary returns the fixed tag vocabulary in scan order.
func Vocabulary() []string {
	out := make([]string, len(tagVocabulary))
	copy(out, tagVocabulary)
	return out
}

// TagColor maps a tag to its badge color, with a fallback for tags outside
// the table.
func TagColor(tag string) string {
	if color, ok := tagColors[strings.ToLower(tag)]; ok {
		return color
	}
	return DefaultTagColor
}

// IsSystemAuthor reports whether the username marks a system account.
func IsSystemAuthor(username string) bool {
	lower := strings.ToLower(username)
	for _, token := range systemTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

// FormatMessageTime renders a message timestamp relative to now: "15:04"
// for today, "Yesterday 15:04", or "Jan 2, 15:04" for anything older.
func FormatMessageTime(ts, now time.Time) string {
	ts = ts.In(now.Location())
	switch {
	case sameDay(ts, now):
		return ts.Format("15:04")
	case sameDay(ts, now.AddDate(0, 0, -1)):
		return "Yesterday " + ts.Format("15:04")
	default:
		return ts.Format("Jan 2, 15:04")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
