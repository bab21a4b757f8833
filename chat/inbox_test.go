package chat

import (
	"testing"
	"time"

	"github.com/davitg0407/daypay-project/models"
)

func TestInbox(t *testing.T) {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	msg := func(id, job, from, to string, min int) models.Message {
		return models.Message{ID: id, JobID: job, SenderID: from, ReceiverID: to, Content: id, CreatedAt: base.Add(time.Duration(min) * time.Minute)}
	}
	// newest first
	in := []models.Message{
		msg("m6", "job-1", "u2", "me", 6),
		msg("m5", "job-2", "me", "u2", 5),
		msg("m4", "job-1", "me", "u2", 4),
		msg("m3", "job-1", "u3", "me", 3),
		msg("m2", "job-9", "u7", "u8", 2),
		msg("m1", "job-2", "u2", "me", 1),
	}

	got := Inbox(in, "me")
	want := []models.ConversationSummary{
		{JobID: "job-1", CounterpartID: "u2", Last: in[0]},
		{JobID: "job-2", CounterpartID: "u2", Last: in[1]},
		{JobID: "job-1", CounterpartID: "u3", Last: in[3]},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d summaries, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].JobID != want[i].JobID || got[i].CounterpartID != want[i].CounterpartID || got[i].Last.ID != want[i].Last.ID {
			t.Errorf("summary %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestInboxEmpty(t *testing.T) {
	if got := Inbox(nil, "me"); len(got) != 0 {
		t.Errorf("expected empty inbox, got %v", got)
	}
}

func TestInboxOneEntryPerConversation(t *testing.T) {
	in := []models.Message{
		{ID: "m4", JobID: "job-1", SenderID: "me", ReceiverID: "me"},
		{ID: "m3", JobID: "job-1", SenderID: "u2", ReceiverID: "me"},
		{ID: "m2", JobID: "job-1", SenderID: "me", ReceiverID: "u2"},
		{ID: "m1", JobID: "job-1", SenderID: "me", ReceiverID: "me"},
	}
	got := Inbox(in, "me")
	if len(got) != 2 {
		t.Fatalf("got %d summaries, want 2: %+v", len(got), got)
	}
	keys := make(map[string]string)
	for _, s := range got {
		key := models.Conversation{JobID: s.JobID, Local: "me", Counterpart: s.CounterpartID}.Key()
		if prev, ok := keys[key]; ok {
			t.Errorf("conversation %s listed twice (%s, %s)", key, prev, s.Last.ID)
		}
		keys[key] = s.Last.ID
	}
	if keys[models.Conversation{JobID: "job-1", Local: "u2", Counterpart: "me"}.Key()] != "m3" {
		t.Errorf("u2 conversation should end at m3: %v", keys)
	}
	if keys[models.Conversation{JobID: "job-1", Local: "me", Counterpart: "me"}.Key()] != "m4" {
		t.Errorf("self conversation should end at m4: %v", keys)
	}
}
