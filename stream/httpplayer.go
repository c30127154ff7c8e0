package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
)

// HTTPPlayer drains a live HTTP audio stream. It does not decode or output
// audio; it holds the connection open and surfaces transport failures,
// which is all the Reconnector needs to drive its state machine. Decoding
// and output belong to the presentation layer.
type HTTPPlayer struct {
	Logger *slog.Logger

	// Client is used for stream requests. Defaults to http.DefaultClient.
	Client *http.Client

	// OnError receives transport errors from the read loop. Errors caused
	// by Pause, Stop or a reload are suppressed.
	OnError func(error)

	mu     sync.Mutex
	url    string
	volume float64
	cancel context.CancelFunc
}

// Load stops any active drain and points the player at url.
func (p *HTTPPlayer) Load(url string) {
	p.stopDrain()
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
}

// Play connects to the loaded URL and starts draining it. A connect
// failure or non-200 response is returned synchronously; failures after a
// successful connect go to OnError.
func (p *HTTPPlayer) Play() error {
	p.stopDrain()

	p.mu.Lock()
	url := p.url
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	cli := p.Client
	if cli == nil {
		cli = http.DefaultClient
	}
	resp, err := cli.Do(req)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("connect stream: unexpected status %s", resp.Status)
	}

	go p.drain(ctx, resp.Body)
	return nil
}

// Pause stops draining. A live stream has no position to hold, so pause
// and stop act the same at this layer.
func (p *HTTPPlayer) Pause() {
	p.stopDrain()
}

// Stop stops draining.
func (p *HTTPPlayer) Stop() {
	p.stopDrain()
}

// SetVolume records the effective volume. Output volume is applied by the
// presentation layer.
func (p *HTTPPlayer) SetVolume(v float64) {
	p.mu.Lock()
	p.volume = v
	p.mu.Unlock()
}

// Volume reports the last effective volume pushed by the owner.
func (p *HTTPPlayer) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

func (p *HTTPPlayer) drain(ctx context.Context, body io.ReadCloser) {
	defer body.Close()
	buf := make([]byte, 32*1024)
	for {
		_, err := body.Read(buf)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			// Deliberate teardown, not a transport failure.
			return
		}
		// EOF on a live stream means the server dropped us.
		if p.Logger != nil {
			p.Logger.Warn("Stream read failed", "error", err.Error())
		}
		if p.OnError != nil {
			p.OnError(err)
		}
		return
	}
}

func (p *HTTPPlayer) stopDrain() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
}
