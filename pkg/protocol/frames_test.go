package protocol

import (
	"encoding/json"
	"testing"
)

func TestNewEvent(t *testing.T) {
	f := NewEvent(EventChatCleared, ChatClearedPayload{Generation: 2})
	f.Seq = 7

	data, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"event","event":"chat.cleared","payload":{"generation":2},"seq":7}`
	if string(data) != want {
		t.Errorf("frame = %s, want %s", data, want)
	}
}

func TestParseFrameType(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{`{"type":"ping"}`, FrameTypePing, false},
		{`{"other":1}`, "", false},
		{`not json`, "", true},
	}
	for _, tt := range tests {
		got, err := ParseFrameType([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFrameType(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseFrameType(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
