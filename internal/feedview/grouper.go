// Package feedview turns an ordered message feed into date-bucketed groups
// with per-message presentation flags. Pure derivation, recomputed per
// render.
package feedview

import (
	"time"

	"github.com/chatview/internal/display"
	"github.com/chatview/internal/model"
)

// Group partitions the already-ordered feed into calendar-day buckets
// relative to now. Bucket order is the chronological order of each bucket's
// first message; in-bucket order is preserved from the input.
//
// ShowAvatar is set iff the message is not the viewer's own and either
// opens its bucket or follows a message by a different author; ShowUsername
// always equals ShowAvatar.
func Group(messages []model.Message, currentUserID string, now time.Time) []model.MessageGroup {
	var groups []model.MessageGroup
	index := make(map[string]int, 4)

	for _, m := range messages {
		label := dateLabel(m.CreatedAt, now)
		i, ok := index[label]
		if !ok {
			groups = append(groups, model.MessageGroup{Label: label})
			i = len(groups) - 1
			index[label] = i
		}
		bucket := &groups[i]

		isOwn := m.SenderID == currentUserID
		showAvatar := false
		if !isOwn {
			if len(bucket.Messages) == 0 {
				showAvatar = true
			} else {
				prev := bucket.Messages[len(bucket.Messages)-1]
				showAvatar = prev.Message.SenderID != m.SenderID
			}
		}

		// An unresolved author (dangling sender reference) still groups;
		// it just cannot be flagged as a system account.
		system := m.Sender != nil && display.IsSystemAuthor(m.Sender.Username)

		bucket.Messages = append(bucket.Messages, model.MessageViewModel{
			Message:      m,
			ShowAvatar:   showAvatar,
			ShowUsername: showAvatar,
			IsOwn:        isOwn,
			SystemAuthor: system,
		})
	}
	return groups
}

func dateLabel(ts, now time.Time) string {
	ts = ts.In(now.Location())
	switch {
	case sameDay(ts, now):
		return "Today"
	case sameDay(ts, now.AddDate(0, 0, -1)):
		return "Yesterday"
	default:
		return ts.Format("January 2, 2006")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
