package chat

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/neilotoole/slogt"

	"github.com/queendesk/lounge/chat/validator"
)

func TestSynchronizer_Send(t *testing.T) {
	insertErr := errors.New("store down")

	tests := []struct {
		name        string
		body        string
		store       *teststore
		session     *testsession
		wantErr     error
		wantDraft   string
		wantList    []Message
		containsLog string
	}{
		{
			name: "Empty",
			body: "",
			store: &teststore{
				insertMessage: func(t *testing.T, msg Message) (Message, error) {
					t.Error("Store called for empty body")
					return Message{}, nil
				},
			},
			wantErr: ErrEmptyMessage,
		},
		{
			name: "WhitespaceOnly",
			body: " \t\n ",
			store: &teststore{
				insertMessage: func(t *testing.T, msg Message) (Message, error) {
					t.Error("Store called for whitespace-only body")
					return Message{}, nil
				},
			},
			wantErr: ErrEmptyMessage,
		},
		{
			name: "OK",
			body: "  hello  ",
			store: &teststore{
				insertMessage: func(t *testing.T, msg Message) (Message, error) {
					if msg.Body != "hello" {
						t.Errorf("Got Body %q, want trimmed hello", msg.Body)
					}
					if msg.Author != "brave-otter-07" {
						t.Errorf("Got Author %q, want brave-otter-07", msg.Author)
					}
					return Message{ID: "m1", Author: msg.Author, Body: msg.Body, CreatedAt: date(1)}, nil
				},
			},
			session: &testsession{
				broadcast: func(t *testing.T, msg Message) error {
					if msg.ID != "m1" {
						t.Errorf("Got broadcast ID %q, want m1", msg.ID)
					}
					return nil
				},
			},
			wantList: []Message{{ID: "m1", Author: "brave-otter-07", Body: "hello", CreatedAt: date(1)}},
		},
		{
			name: "InsertError",
			body: "hello",
			store: &teststore{
				insertMessage: func(t *testing.T, msg Message) (Message, error) {
					return Message{}, insertErr
				},
			},
			session: &testsession{
				broadcast: func(t *testing.T, msg Message) error {
					t.Error("Broadcast attempted after failed insert")
					return nil
				},
			},
			wantErr:   insertErr,
			wantDraft: "hello",
		},
		{
			name: "BroadcastErrorSwallowed",
			body: "hello",
			store: &teststore{
				insertMessage: func(t *testing.T, msg Message) (Message, error) {
					return Message{ID: "m1", Author: msg.Author, Body: msg.Body, CreatedAt: date(1)}, nil
				},
			},
			session: &testsession{
				broadcast: func(t *testing.T, msg Message) error {
					return errors.New("channel gone")
				},
			},
			wantList:    []Message{{ID: "m1", Author: "brave-otter-07", Body: "hello", CreatedAt: date(1)}},
			containsLog: "Could not broadcast message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			tt.store.T = t
			if tt.session != nil {
				tt.session.T = t
			}
			s := &Synchronizer{
				Logger:   slog.New(slog.NewTextHandler(buf, nil)),
				Store:    tt.store,
				Val:      validator.New(),
				Identity: "brave-otter-07",
			}
			if tt.session != nil {
				s.session = tt.session
			}

			msg, err := s.Send(context.Background(), tt.body)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Got error %v, want %v", err, tt.wantErr)
				}
				if tt.wantDraft != "" {
					var sendErr *SendError
					if !errors.As(err, &sendErr) {
						t.Fatalf("Got error %T, want *SendError", err)
					}
					if sendErr.Draft != tt.wantDraft {
						t.Errorf("Got draft %q, want %q", sendErr.Draft, tt.wantDraft)
					}
				}
			} else {
				if err != nil {
					t.Fatalf("Send: %v", err)
				}
				if msg.ID == "" {
					t.Error("Send returned message without id")
				}
			}
			if diff := cmp.Diff(tt.wantList, s.Messages()); len(tt.wantList) > 0 && diff != "" {
				t.Errorf("Message list mismatch (-want +got):\n%s", diff)
			}
			if tt.wantList == nil && len(s.Messages()) != 0 {
				t.Errorf("Got %d messages, want none", len(s.Messages()))
			}
			if tt.containsLog != "" && !strings.Contains(buf.String(), tt.containsLog) {
				t.Errorf("Log does not contain %q", tt.containsLog)
			}
		})
	}
}

// The optimistic append and the broadcast echo must converge to the same
// list no matter which arrives first.
func TestSynchronizer_EchoConvergence(t *testing.T) {
	stored := Message{ID: "m1", Author: "brave-otter-07", Body: "hello", CreatedAt: date(1)}

	orders := []struct {
		name      string
		echoFirst bool
	}{
		{name: "InsertThenEcho", echoFirst: false},
		{name: "EchoBeforeInsertResponse", echoFirst: true},
	}

	for _, tt := range orders {
		t.Run(tt.name, func(t *testing.T) {
			var handlers Handlers
			store := &teststore{
				T: t,
				insertMessage: func(t *testing.T, msg Message) (Message, error) {
					if tt.echoFirst {
						// The channel echoes the stored record before the
						// insert call returns to the sender.
						handlers.OnMessage(stored)
					}
					return stored, nil
				},
			}
			channel := &testchannel{
				T: t,
				subscribe: func(t *testing.T, topic string, h Handlers) (Session, error) {
					handlers = h
					return &testsession{T: t}, nil
				},
			}
			s := &Synchronizer{
				Logger:   slogt.New(t),
				Store:    store,
				Channel:  channel,
				Val:      validator.New(),
				Identity: "brave-otter-07",
			}
			leave, err := s.Subscribe(context.Background(), "community")
			if err != nil {
				t.Fatal(err)
			}
			defer leave()

			if _, err := s.Send(context.Background(), "hello"); err != nil {
				t.Fatal(err)
			}
			if !tt.echoFirst {
				handlers.OnMessage(stored)
			}

			want := []Message{stored}
			if diff := cmp.Diff(want, s.Messages()); diff != "" {
				t.Errorf("Message list mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSynchronizer_LoadHistory(t *testing.T) {
	history := []Message{
		{ID: "m1", Author: "a", Body: "first", CreatedAt: date(1)},
		{ID: "m2", Author: "b", Body: "second", CreatedAt: date(2)},
		{ID: "m3", Author: "a", Body: "third", CreatedAt: date(3)},
	}

	tests := []struct {
		name     string
		store    *teststore
		wantErr  error
		wantList []Message
	}{
		{
			name: "StoreOrderPreserved",
			store: &teststore{
				listRecent: func(t *testing.T, limit int) ([]Message, error) {
					if limit != 50 {
						t.Errorf("Got limit %d, want 50", limit)
					}
					return history, nil
				},
			},
			wantList: history,
		},
		{
			name: "StoreUnavailable",
			store: &teststore{
				listRecent: func(t *testing.T, limit int) ([]Message, error) {
					return nil, errors.New("connection refused")
				},
			},
			wantErr: ErrHistoryLoad,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.store.T = t
			s := &Synchronizer{
				Logger:   slogt.New(t),
				Store:    tt.store,
				Identity: "brave-otter-07",
			}

			err := s.LoadHistory(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Got error %v, want %v", err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.wantList, s.Messages()); tt.wantList != nil && diff != "" {
				t.Errorf("Message list mismatch (-want +got):\n%s", diff)
			}
			if tt.wantList == nil && len(s.Messages()) != 0 {
				t.Error("List should start empty after a failed history load")
			}
		})
	}
}

func TestSynchronizer_PresenceSnapshot(t *testing.T) {
	var handlers Handlers
	s := &Synchronizer{
		Logger: slogt.New(t),
		Channel: &testchannel{
			T: t,
			subscribe: func(t *testing.T, topic string, h Handlers) (Session, error) {
				handlers = h
				return &testsession{T: t}, nil
			},
		},
		Identity: "brave-otter-07",
	}
	leave, err := s.Subscribe(context.Background(), "community")
	if err != nil {
		t.Fatal(err)
	}
	defer leave()

	handlers.OnPresence(map[string]MemberMeta{
		"brave-otter-07": {JoinedAt: date(1)},
		"calm-lynx-12":   {JoinedAt: date(2)},
		"witty-crane-03": {JoinedAt: date(3)},
	})
	if got := s.OnlineCount(); got != 3 {
		t.Errorf("Got online count %d, want 3", got)
	}

	// One member leaves; the next snapshot replaces the previous one
	// wholesale.
	handlers.OnPresence(map[string]MemberMeta{
		"brave-otter-07": {JoinedAt: date(1)},
		"witty-crane-03": {JoinedAt: date(3)},
	})
	if got := s.OnlineCount(); got != 2 {
		t.Errorf("Got online count %d, want 2", got)
	}
	if _, ok := s.Presence()["calm-lynx-12"]; ok {
		t.Error("Departed member still present in snapshot")
	}
}

func TestSynchronizer_Notify(t *testing.T) {
	var notified []Message
	s := &Synchronizer{
		Logger:   slogt.New(t),
		Identity: "brave-otter-07",
		Notify:   func(msg Message) { notified = append(notified, msg) },
	}

	remote := Message{ID: "m1", Author: "calm-lynx-12", Body: "hi", CreatedAt: date(1)}
	s.onBroadcastMessage(remote)
	s.onBroadcastMessage(remote) // duplicate delivery
	if len(notified) != 1 {
		t.Fatalf("Got %d notifications, want 1", len(notified))
	}

	// A self-authored echo never notifies, even when it is the first
	// delivery of its id.
	own := Message{ID: "m2", Author: "brave-otter-07", Body: "mine", CreatedAt: date(2)}
	s.onBroadcastMessage(own)
	if len(notified) != 1 {
		t.Errorf("Got %d notifications after self echo, want 1", len(notified))
	}
}

func TestSynchronizer_DisposerRunsOnce(t *testing.T) {
	unsubscribes := 0
	s := &Synchronizer{
		Logger: slogt.New(t),
		Channel: &testchannel{
			T: t,
			subscribe: func(t *testing.T, topic string, h Handlers) (Session, error) {
				return &testsession{
					T: t,
					unsubscribe: func(t *testing.T) error {
						unsubscribes++
						return nil
					},
				}, nil
			},
		},
		Identity: "brave-otter-07",
	}

	leave, err := s.Subscribe(context.Background(), "community")
	if err != nil {
		t.Fatal(err)
	}
	if err := leave(); err != nil {
		t.Fatal(err)
	}
	if err := leave(); err != nil {
		t.Fatal(err)
	}
	if unsubscribes != 1 {
		t.Errorf("Got %d unsubscribe calls, want 1", unsubscribes)
	}
}

func date(day int) time.Time {
	return time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
}

type teststore struct {
	T             *testing.T
	listRecent    func(t *testing.T, limit int) ([]Message, error)
	insertMessage func(t *testing.T, msg Message) (Message, error)
}

func (db *teststore) ListRecent(_ context.Context, limit int) ([]Message, error) {
	return db.listRecent(db.T, limit)
}

func (db *teststore) InsertMessage(_ context.Context, msg Message) (Message, error) {
	return db.insertMessage(db.T, msg)
}

type testchannel struct {
	T         *testing.T
	subscribe func(t *testing.T, topic string, h Handlers) (Session, error)
}

func (c *testchannel) Subscribe(_ context.Context, topic string, h Handlers) (Session, error) {
	return c.subscribe(c.T, topic, h)
}

type testsession struct {
	T           *testing.T
	broadcast   func(t *testing.T, msg Message) error
	track       func(t *testing.T) error
	unsubscribe func(t *testing.T) error
}

func (s *testsession) Broadcast(_ context.Context, msg Message) error {
	if s.broadcast == nil {
		return nil
	}
	return s.broadcast(s.T, msg)
}

func (s *testsession) Track(_ context.Context) error {
	if s.track == nil {
		return nil
	}
	return s.track(s.T)
}

func (s *testsession) Unsubscribe() error {
	if s.unsubscribe == nil {
		return nil
	}
	return s.unsubscribe(s.T)
}
