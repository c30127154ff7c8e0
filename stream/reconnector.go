// Package stream keeps a live audio source in the state the user last
// asked for, reconnecting through transient transport failures with
// bounded exponential backoff.
package stream

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status is the playback lifecycle state.
type Status int

const (
	Idle Status = iota
	Loading
	Playing
	Paused
	Stopped
	Reconnecting
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	case Reconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// A Source is one of the fixed set of live stream endpoints.
type Source struct {
	ID   string
	Name string
	URL  string
}

// A Player is the underlying media handle. Implementations report
// transport failures through whatever error callback they were wired with;
// the Reconnector receives them via OnTransportError.
type Player interface {
	Load(url string)
	Play() error
	Pause()
	Stop()
	SetVolume(v float64)
}

const (
	maxReconnectAttempts = 5
	reconnectBaseDelay   = 2 * time.Second
)

var (
	// ErrPlaybackStart reports that an explicit play request failed. No
	// reconnect is scheduled for it; retrying is the user's call.
	ErrPlaybackStart = errors.New("stream: playback start failed")

	// ErrUnknownSource reports a source id outside the configured set.
	ErrUnknownSource = errors.New("stream: unknown source")
)

// State is a snapshot of the playback state record.
type State struct {
	Status   Status
	Volume   float64
	Muted    bool
	Source   Source
	Attempt  int
	Intended bool
}

// A Reconnector owns exactly one Player. All mutation goes through its
// exported operations and its transport-error handler.
type Reconnector struct {
	Logger *slog.Logger

	player  Player
	sources []Source

	mu       sync.Mutex
	status   Status
	volume   float64
	muted    bool
	source   Source
	attempt  int
	intended bool
	retry    *time.Timer

	// afterFunc schedules the reconnect timer; tests replace it.
	afterFunc func(d time.Duration, f func()) *time.Timer
}

// New returns a Reconnector over player with the given source set. The
// first source becomes active and is loaded; playback does not start.
func New(player Player, sources []Source, logger *slog.Logger) *Reconnector {
	r := &Reconnector{
		Logger:    logger,
		player:    player,
		sources:   sources,
		status:    Idle,
		volume:    1,
		afterFunc: time.AfterFunc,
	}
	if len(sources) > 0 {
		r.source = sources[0]
		player.Load(r.source.URL)
	}
	return r
}

// Play records the intent to play and starts the active source. A start
// failure returns ErrPlaybackStart and settles at Idle without scheduling
// a reconnect: automatic retries only follow errors on a stream the user
// already committed to.
func (r *Reconnector) Play() error {
	r.mu.Lock()
	r.cancelRetryLocked()
	r.intended = true
	r.status = Loading
	r.mu.Unlock()

	if err := r.player.Play(); err != nil {
		r.mu.Lock()
		r.status = Idle
		r.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrPlaybackStart, err)
	}

	r.mu.Lock()
	r.status = Playing
	r.attempt = 0
	r.mu.Unlock()
	r.Logger.Info("Playback started", "source", r.SourceID())
	return nil
}

// Pause clears any pending reconnect, clears the play intent and pauses
// the player.
func (r *Reconnector) Pause() {
	r.mu.Lock()
	r.cancelRetryLocked()
	r.intended = false
	r.status = Paused
	r.mu.Unlock()
	r.player.Pause()
}

// Stop clears any pending reconnect, stops the player and reloads the
// source to discard any broken buffering state left by a prior error.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	r.cancelRetryLocked()
	r.intended = false
	r.attempt = 0
	r.status = Stopped
	url := r.source.URL
	r.mu.Unlock()
	r.player.Stop()
	r.player.Load(url)
}

// SwitchSource stops playback, clears reconnect state and activates the
// source with the given id. It never auto-starts: switching sources is an
// explicit user decision.
func (r *Reconnector) SwitchSource(id string) error {
	var next Source
	found := false
	for _, src := range r.sources {
		if src.ID == id {
			next = src
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownSource, id)
	}

	r.mu.Lock()
	r.cancelRetryLocked()
	r.intended = false
	r.attempt = 0
	r.status = Idle
	r.source = next
	r.mu.Unlock()

	r.player.Stop()
	r.player.Load(next.URL)
	r.Logger.Info("Switched source", "source", next.ID)
	return nil
}

// SetVolume clamps v to [0, 1] and pushes the effective volume to the
// player.
func (r *Reconnector) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	r.mu.Lock()
	r.volume = v
	effective := r.effectiveVolumeLocked()
	r.mu.Unlock()
	r.player.SetVolume(effective)
}

// SetMuted toggles mute. Muting never pauses playback; it only drops the
// effective volume to zero.
func (r *Reconnector) SetMuted(muted bool) {
	r.mu.Lock()
	r.muted = muted
	effective := r.effectiveVolumeLocked()
	r.mu.Unlock()
	r.player.SetVolume(effective)
}

// OnTransportError is the player's error callback. While the user intends
// playback and attempts remain, a retry is scheduled after
// reconnectBaseDelay doubled per consecutive failure. Exhausted attempts
// settle at Idle; the user must press play again.
func (r *Reconnector) OnTransportError(err error) {
	r.mu.Lock()
	if !r.intended || (r.status != Playing && r.status != Loading) {
		r.mu.Unlock()
		return
	}
	if r.attempt >= maxReconnectAttempts {
		r.status = Idle
		r.mu.Unlock()
		r.Logger.Error("Reconnect attempts exhausted", "source", r.SourceID(), "error", err.Error())
		return
	}
	delay := reconnectBaseDelay << r.attempt
	r.attempt++
	attempt := r.attempt
	r.status = Reconnecting
	r.retry = r.afterFunc(delay, r.reconnect)
	r.mu.Unlock()

	r.Logger.Warn("Stream transport error, reconnect scheduled",
		"source", r.SourceID(), "attempt", attempt, "delay", delay, "error", err.Error())
}

// State returns a snapshot of the playback state record.
func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Status:   r.status,
		Volume:   r.volume,
		Muted:    r.muted,
		Source:   r.source,
		Attempt:  r.attempt,
		Intended: r.intended,
	}
}

// SourceID reports the active source id.
func (r *Reconnector) SourceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.source.ID
}

// Sources returns the configured source set.
func (r *Reconnector) Sources() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// reconnect fires when the retry timer elapses. Any explicit user action
// in the meantime has left Reconnecting, which makes this a no-op.
func (r *Reconnector) reconnect() {
	r.mu.Lock()
	if !r.intended || r.status != Reconnecting {
		r.mu.Unlock()
		return
	}
	r.retry = nil
	r.status = Loading
	url := r.source.URL
	r.mu.Unlock()

	r.player.Load(url)
	if err := r.player.Play(); err != nil {
		r.Logger.Warn("Reconnect attempt failed", "source", r.SourceID(), "error", err.Error())
		r.OnTransportError(err)
		return
	}

	r.mu.Lock()
	r.status = Playing
	r.attempt = 0
	r.mu.Unlock()
	r.Logger.Info("Stream resumed", "source", r.SourceID())
}

func (r *Reconnector) cancelRetryLocked() {
	if r.retry != nil {
		r.retry.Stop()
		r.retry = nil
	}
}

func (r *Reconnector) effectiveVolumeLocked() float64 {
	if r.muted {
		return 0
	}
	return r.volume
}
