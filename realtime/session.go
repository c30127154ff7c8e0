package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/queendesk/lounge/chat"
)

// envelope is the wire format on the topic's pub/sub channel.
type envelope struct {
	Kind    string        `json:"kind"`
	Message *chat.Message `json:"message,omitempty"`
}

const (
	kindMessage  = "message"
	kindPresence = "presence"
)

// A session is one live subscription to a topic. Handler delivery stops
// synchronously when Unsubscribe returns.
type session struct {
	r      *Redis
	topic  string
	ref    string
	h      chat.Handlers
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

// Subscribe opens a session on topic and starts delivering broadcasts and
// presence snapshots to h.
func (r *Redis) Subscribe(ctx context.Context, topic string, h chat.Handlers) (chat.Session, error) {
	pubsub := r.cli.Subscribe(ctx, chatChannel(topic))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		r:      r,
		topic:  topic,
		ref:    uuid.NewString(),
		h:      h,
		pubsub: pubsub,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.run(runCtx)
	r.Logger.Info("Subscribed to topic", "topic", topic, "ref", s.ref)
	return s, nil
}

func (s *session) run(ctx context.Context) {
	defer close(s.done)
	deliveries := s.pubsub.Channel()
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.heartbeat(ctx)
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			s.deliver(ctx, msg.Payload)
		}
	}
}

func (s *session) deliver(ctx context.Context, payload string) {
	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		s.r.Logger.Error("Could not decode channel payload", "topic", s.topic, "error", err.Error())
		return
	}
	switch env.Kind {
	case kindMessage:
		if env.Message != nil && s.h.OnMessage != nil {
			s.h.OnMessage(*env.Message)
		}
	case kindPresence:
		s.syncPresence(ctx)
	default:
		s.r.Logger.Warn("Unknown channel payload kind", "topic", s.topic, "kind", env.Kind)
	}
}

// syncPresence fetches the full membership view and hands it to the
// presence handler. A fetch failure keeps the previous snapshot.
func (s *session) syncPresence(ctx context.Context) {
	snapshot, err := s.r.snapshot(ctx, s.topic)
	if err != nil {
		s.r.Logger.Error("Could not read presence snapshot", "topic", s.topic, "error", err.Error())
		return
	}
	if s.h.OnPresence != nil {
		s.h.OnPresence(snapshot)
	}
}

// Broadcast publishes msg to every current subscriber of the topic,
// including this session, whose own echo is deduplicated upstream.
func (s *session) Broadcast(ctx context.Context, msg chat.Message) error {
	if err := s.publish(ctx, envelope{Kind: kindMessage, Message: &msg}); err != nil {
		return fmt.Errorf("broadcast message: %w", err)
	}
	return nil
}

// Track writes this identity's membership entry and announces the change
// so every subscriber, this one included, refreshes its snapshot.
func (s *session) Track(ctx context.Context) error {
	meta, err := json.Marshal(chat.MemberMeta{Ref: s.ref, JoinedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal presence meta: %w", err)
	}
	_, err = s.r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, presenceKey(s.topic), redis.Z{
			Score:  float64(time.Now().Unix()),
			Member: s.r.identity,
		})
		pipe.HSet(ctx, presenceMetaKey(s.topic), s.r.identity, meta)
		return nil
	})
	if err != nil {
		return fmt.Errorf("track presence: %w", err)
	}
	if err := s.publish(ctx, envelope{Kind: kindPresence}); err != nil {
		return fmt.Errorf("announce presence: %w", err)
	}
	return nil
}

// Unsubscribe leaves presence, announces the departure and releases the
// subscription. It is idempotent; the first call wins.
func (s *session) Unsubscribe() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		if cerr := s.pubsub.Close(); cerr != nil {
			err = fmt.Errorf("close pubsub: %w", cerr)
		}
		// Handler delivery has fully stopped once the run loop exits.
		<-s.done

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, perr := s.r.cli.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, presenceKey(s.topic), s.r.identity)
			pipe.HDel(ctx, presenceMetaKey(s.topic), s.r.identity)
			return nil
		})
		if perr != nil {
			if err == nil {
				err = fmt.Errorf("leave presence: %w", perr)
			}
			return
		}
		if perr := s.publish(ctx, envelope{Kind: kindPresence}); perr != nil && err == nil {
			err = fmt.Errorf("announce departure: %w", perr)
		}
		s.r.Logger.Info("Unsubscribed from topic", "topic", s.topic, "ref", s.ref)
	})
	return err
}

// heartbeat refreshes this member's liveness score so snapshots keep
// counting it. Because ZAdd recreates the entry, it also re-announces
// presence after a transient disconnect without any extra handling.
func (s *session) heartbeat(ctx context.Context) {
	err := s.r.cli.ZAdd(ctx, presenceKey(s.topic), redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: s.r.identity,
	}).Err()
	if err != nil {
		s.r.Logger.Warn("Could not refresh presence heartbeat", "topic", s.topic, "error", err.Error())
	}
}

func (s *session) publish(ctx context.Context, env envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := s.r.cli.Publish(ctx, chatChannel(s.topic), payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
