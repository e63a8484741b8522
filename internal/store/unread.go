package store

import (
	"sort"

	"github.com/eldtechnologies/chatline/internal/models"
)

// summarizeUnread groups messages involving username by the other participant.
// msgs must be ordered newest first; the first message seen for a partner is
// its latest.
func summarizeUnread(username string, msgs []models.Message) []models.UnreadSummary {
	index := make(map[string]int)
	summaries := make([]models.UnreadSummary, 0)

	for _, msg := range msgs {
		other := msg.To
		if msg.From != username {
			other = msg.From
		}

		i, ok := index[other]
		if !ok {
			i = len(summaries)
			index[other] = i
			summaries = append(summaries, models.UnreadSummary{
				Username:        other,
				LastMessage:     msg.Body,
				LastMessageTime: msg.Timestamp,
			})
		}

		if msg.To == username && !msg.Read {
			summaries[i].Count++
		}
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastMessageTime > summaries[j].LastMessageTime
	})
	return summaries
}
