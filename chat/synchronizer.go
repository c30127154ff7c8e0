// Package chat maintains a deduplicated, store-ordered view of a shared
// chat topic for one local identity.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/queendesk/lounge/chat/validator"
)

// historyLimit bounds the initial history fetch.
const historyLimit = 50

// A Store provides the durable storage layer that persists messages.
type Store interface {
	ListRecent(ctx context.Context, limit int) ([]Message, error)
	InsertMessage(ctx context.Context, msg Message) (Message, error)
}

// Handlers receive deliveries from an open channel session. Handlers are
// invoked in delivery order, one at a time.
type Handlers struct {
	OnMessage  func(Message)
	OnPresence func(map[string]MemberMeta)
}

// A Channel provides realtime pub/sub sessions on named topics.
type Channel interface {
	Subscribe(ctx context.Context, topic string, h Handlers) (Session, error)
}

// A Session is one live subscription to a topic. It is the sole path for
// broadcasts and presence for this client's lifetime on the topic.
type Session interface {
	Broadcast(ctx context.Context, msg Message) error
	Track(ctx context.Context) error
	Unsubscribe() error
}

var (
	// ErrHistoryLoad reports that the initial history fetch failed. The
	// feed starts empty; presence and broadcasts still deliver new traffic.
	ErrHistoryLoad = errors.New("chat: history load failed")

	// ErrEmptyMessage reports an empty or whitespace-only message body. No
	// store call is made for it.
	ErrEmptyMessage = errors.New("chat: message body is empty")
)

// A SendError reports a failed durable insert. Draft holds the rejected
// body so the caller can restore it.
type SendError struct {
	Draft string
	Err   error
}

func (e *SendError) Error() string { return fmt.Sprintf("send message: %v", e.Err) }

func (e *SendError) Unwrap() error { return e.Err }

// A Synchronizer owns the ordered message list and presence snapshot for
// one topic. Messages are appended in arrival order and deduplicated by
// id; the list is never re-sorted client-side, so it always reflects store
// insertion order. All exported methods are safe for concurrent use.
type Synchronizer struct {
	Logger   *slog.Logger
	Store    Store
	Channel  Channel
	Val      *validator.Validator
	Identity string

	// Notify, when set, is called at most once per delivered message
	// authored by someone else. Self-originated echoes never notify.
	Notify func(Message)

	mu       sync.Mutex
	session  Session
	messages []Message
	seen     map[string]struct{}
	presence map[string]MemberMeta
}

// LoadHistory seeds the message list with the most recent messages from
// the store, in insertion order. Failure is non-fatal: the list simply
// starts empty.
func (s *Synchronizer) LoadHistory(ctx context.Context) error {
	msgs, err := s.Store.ListRecent(ctx, historyLimit)
	if err != nil {
		s.Logger.Error("Could not load history", "error", err.Error())
		return fmt.Errorf("%w: %v", ErrHistoryLoad, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range msgs {
		s.appendLocked(msg)
	}
	s.Logger.Info("Loaded history", "count", len(msgs))
	return nil
}

// Subscribe opens the channel session for topic, registers the broadcast
// and presence handlers and announces this identity's presence. The
// returned disposer leaves presence and releases the session; it must be
// called exactly once and is safe to call more than that.
func (s *Synchronizer) Subscribe(ctx context.Context, topic string) (func() error, error) {
	sess, err := s.Channel.Subscribe(ctx, topic, Handlers{
		OnMessage:  s.onBroadcastMessage,
		OnPresence: s.onPresenceSync,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if err := sess.Track(ctx); err != nil {
		// Broadcasts still flow; only the member entry is missing.
		s.Logger.Error("Could not track presence", "topic", topic, "error", err.Error())
	}
	s.mu.Lock()
	s.session = sess
	s.mu.Unlock()

	var once sync.Once
	leave := func() error {
		var err error
		once.Do(func() {
			s.mu.Lock()
			s.session = nil
			s.mu.Unlock()
			err = sess.Unsubscribe()
		})
		return err
	}
	return leave, nil
}

// Send durably inserts body as a new message, optimistically appends the
// stored record to the local list and broadcasts it to the topic. An
// insert failure is returned as a *SendError carrying the draft. A
// broadcast failure after a successful insert is swallowed: the message is
// durable and peers recover it on their next history load.
func (s *Synchronizer) Send(ctx context.Context, body string) (Message, error) {
	if errs := s.Val.ValidateStruct(&draft{Body: body}); len(errs) > 0 {
		return Message{}, ErrEmptyMessage
	}

	msg, err := s.Store.InsertMessage(ctx, Message{
		Author: s.Identity,
		Body:   strings.TrimSpace(body),
	})
	if err != nil {
		s.Logger.Error("Could not insert message", "error", err.Error())
		return Message{}, &SendError{Draft: body, Err: err}
	}

	// The broadcast echo for this id may already have arrived; appendLocked
	// makes whichever path runs second a no-op.
	s.mu.Lock()
	s.appendLocked(msg)
	sess := s.session
	s.mu.Unlock()

	if sess != nil {
		if err := sess.Broadcast(ctx, msg); err != nil {
			s.Logger.Error("Could not broadcast message", "id", msg.ID, "error", err.Error())
		}
	}
	return msg, nil
}

// Messages returns a copy of the ordered message list.
func (s *Synchronizer) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// OnlineCount reports the size of the latest presence snapshot.
func (s *Synchronizer) OnlineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.presence)
}

// Presence returns a copy of the latest presence snapshot.
func (s *Synchronizer) Presence() map[string]MemberMeta {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]MemberMeta, len(s.presence))
	for handle, meta := range s.presence {
		out[handle] = meta
	}
	return out
}

func (s *Synchronizer) onBroadcastMessage(msg Message) {
	s.mu.Lock()
	added := s.appendLocked(msg)
	s.mu.Unlock()
	if added && msg.Author != s.Identity && s.Notify != nil {
		s.Notify(msg)
	}
}

// onPresenceSync replaces the snapshot wholesale. No incremental join or
// leave diffing: a full replacement cannot drift from missed events.
func (s *Synchronizer) onPresenceSync(snapshot map[string]MemberMeta) {
	s.mu.Lock()
	s.presence = snapshot
	s.mu.Unlock()
}

// appendLocked appends msg unless its id is already present. Both the
// optimistic path and the broadcast echo funnel through here, in either
// order.
func (s *Synchronizer) appendLocked(msg Message) bool {
	if s.seen == nil {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[msg.ID]; ok {
		return false
	}
	s.seen[msg.ID] = struct{}{}
	s.messages = append(s.messages, msg)
	return true
}

type draft struct {
	Body string `validate:"notblank"`
}
