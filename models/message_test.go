package models

import (
	"testing"
	"time"
)

func TestConversationContains(t *testing.T) {
	c := Conversation{JobID: "job-1", Local: "u1", Counterpart: "u2"}
	tests := []struct {
		name string
		msg  Message
		want bool
	}{
		{"outgoing", Message{JobID: "job-1", SenderID: "u1", ReceiverID: "u2"}, true},
		{"incoming", Message{JobID: "job-1", SenderID: "u2", ReceiverID: "u1"}, true},
		{"other job", Message{JobID: "job-2", SenderID: "u1", ReceiverID: "u2"}, false},
		{"third party to counterpart", Message{JobID: "job-1", SenderID: "u3", ReceiverID: "u2"}, false},
		{"local to third party", Message{JobID: "job-1", SenderID: "u1", ReceiverID: "u3"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Contains(tt.msg); got != tt.want {
				t.Errorf("Contains() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConversationKeyIsDirectionIndependent(t *testing.T) {
	a := Conversation{JobID: "j", Local: "alice", Counterpart: "bob"}
	b := Conversation{JobID: "j", Local: "bob", Counterpart: "alice"}
	if a.Key() != b.Key() {
		t.Errorf("keys differ: %q vs %q", a.Key(), b.Key())
	}
}

func TestConversationValid(t *testing.T) {
	if (Conversation{JobID: "j", Local: "a", Counterpart: " "}).Valid() {
		t.Error("blank counterpart should be invalid")
	}
	if !(Conversation{JobID: "j", Local: "a", Counterpart: "b"}).Valid() {
		t.Error("complete conversation should be valid")
	}
}

func TestMessageBeforeBreaksTiesBySeq(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	first := Message{CreatedAt: ts, Seq: 1}
	second := Message{CreatedAt: ts, Seq: 2}
	if !first.Before(second) || second.Before(first) {
		t.Error("equal timestamps should order by seq")
	}
	later := Message{CreatedAt: ts.Add(time.Second)}
	if !second.Before(later) {
		t.Error("earlier timestamp should sort first")
	}
}
