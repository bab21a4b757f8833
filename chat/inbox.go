package chat

import "github.com/davitg0407/daypay-project/models"

// Inbox reduces a participant's messages, newest first, to one summary per
// (job, counterpart) pair. The summary carries the newest message of the pair and
// the result keeps newest-first order. Messages not involving participant are skipped.
func Inbox(messages []models.Message, participant string) []models.ConversationSummary {
	seen := make(map[string]struct{})
	out := make([]models.ConversationSummary, 0)
	for _, m := range messages {
		if !m.Involves(participant) {
			continue
		}
		other := m.ReceiverID
		if m.SenderID != participant {
			other = m.SenderID
		}
		key := models.Conversation{JobID: m.JobID, Local: participant, Counterpart: other}.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, models.ConversationSummary{JobID: m.JobID, CounterpartID: other, Last: m})
	}
	return out
}
