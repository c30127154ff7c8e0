package realtime

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"

	"github.com/queendesk/lounge/chat"
)

func TestKeyLayout(t *testing.T) {
	if got, want := chatChannel("community"), "lounge:chat:community"; got != want {
		t.Errorf("chatChannel() = %q, want %q", got, want)
	}
	if got, want := presenceKey("community"), "lounge:presence:community"; got != want {
		t.Errorf("presenceKey() = %q, want %q", got, want)
	}
	if got, want := presenceMetaKey("community"), "lounge:presence:community:meta"; got != want {
		t.Errorf("presenceMetaKey() = %q, want %q", got, want)
	}
}

func TestStaleCutoff(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	want := now.Add(-staleAfter).Unix()
	if got := staleCutoff(now); got != want {
		t.Errorf("staleCutoff() = %d, want %d", got, want)
	}
}

func TestSession_Deliver(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantMsgs []chat.Message
	}{
		{
			name:    "Message",
			payload: `{"kind":"message","message":{"id":"m1","author":"calm-lynx-12","body":"hi","created_at":"2024-01-01T00:00:00Z"}}`,
			wantMsgs: []chat.Message{
				{ID: "m1", Author: "calm-lynx-12", Body: "hi", CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
			},
		},
		{
			name:    "MessageKindWithoutBody",
			payload: `{"kind":"message"}`,
		},
		{
			name:    "UnknownKind",
			payload: `{"kind":"typing"}`,
		},
		{
			name:    "Garbage",
			payload: `not json`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []chat.Message
			s := &session{
				r:     &Redis{Logger: slogt.New(t)},
				topic: "community",
				h: chat.Handlers{
					OnMessage: func(msg chat.Message) { got = append(got, msg) },
				},
			}

			s.deliver(context.Background(), tt.payload)

			if diff := cmp.Diff(tt.wantMsgs, got); diff != "" {
				t.Errorf("Delivered messages mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
