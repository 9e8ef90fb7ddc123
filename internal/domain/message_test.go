package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestMessageJSON(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := Message{Sender: SenderAgent, Text: "Top regions: EMEA, APAC", IsError: false, Timestamp: ts}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "is_error") {
		t.Errorf("is_error should be omitted when false: %s", data)
	}

	var got Message
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.Sender != SenderAgent || got.Text != msg.Text || !got.Timestamp.Equal(ts) {
		t.Errorf("round trip = %+v", got)
	}
}

func TestMessageJSONErrorFlag(t *testing.T) {
	data, err := json.Marshal(Message{Sender: SenderAgent, Text: "failed", IsError: true})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"is_error":true`) {
		t.Errorf("missing is_error: %s", data)
	}
	if !strings.Contains(string(data), `"sender":"agent"`) {
		t.Errorf("missing sender: %s", data)
	}
}

func TestChatReplyWireTag(t *testing.T) {
	var reply ChatReply
	if err := json.Unmarshal([]byte(`{"reply":"hello"}`), &reply); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if reply.Reply != "hello" {
		t.Errorf("Reply = %q", reply.Reply)
	}
}

func TestEmbedURLWireTag(t *testing.T) {
	var u EmbedURL
	if err := json.Unmarshal([]byte(`{"embedUrl":"https://eu-west-1.quicksight.aws.amazon.com/embed/x"}`), &u); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if u.EmbedURL != "https://eu-west-1.quicksight.aws.amazon.com/embed/x" {
		t.Errorf("EmbedURL = %q", u.EmbedURL)
	}

	data, _ := json.Marshal(EmbedURL{EmbedURL: "u"})
	if string(data) != `{"embedUrl":"u"}` {
		t.Errorf("Marshal = %s", data)
	}
}

func TestViewModeValid(t *testing.T) {
	tests := []struct {
		mode ViewMode
		want bool
	}{
		{ViewChat, true},
		{ViewEmbed, true},
		{"", false},
		{"dashboard", false},
	}
	for _, tt := range tests {
		if got := tt.mode.Valid(); got != tt.want {
			t.Errorf("ViewMode(%q).Valid() = %v, want %v", tt.mode, got, tt.want)
		}
	}
}
