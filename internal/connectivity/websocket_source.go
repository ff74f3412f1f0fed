package connectivity

import (
	"context"
	"errors"
	"strings"
	"time"

	"nhooyr.io/websocket"
)

// WebSocketSource holds a heartbeat connection to the sync backend and
// reports online for as long as it stays up.
type WebSocketSource struct {
	URL          string
	PingInterval time.Duration
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Logger       Logger
}

func NewWebSocketSource(url string, logger Logger) *WebSocketSource {
	return &WebSocketSource{URL: url, Logger: logger}
}

func (s *WebSocketSource) Run(ctx context.Context, report func(online bool)) error {
	if strings.TrimSpace(s.URL) == "" {
		return errors.New("websocket url is required")
	}
	reporter := newChangeReporter(report)
	attempt := 0
	for {
		err := s.session(ctx, reporter)
		if ctx.Err() != nil {
			return nil
		}
		reporter.set(false)
		if err != nil {
			attempt++
			warnf(s.Logger, "connectivity heartbeat lost (attempt %d): %v", attempt, err)
		} else {
			attempt = 1
		}
		if waitErr := waitWithContext(ctx, s.retryDelay(attempt)); waitErr != nil {
			return nil
		}
	}
}

// session returns nil when an established connection dropped and an error
// when dialing failed.
func (s *WebSocketSource) session(ctx context.Context, reporter *changeReporter) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, s.URL, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	reporter.set(true)
	readCtx := conn.CloseRead(ctx)
	interval := s.PingInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-readCtx.Done():
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				return nil
			}
		}
	}
}

func (s *WebSocketSource) retryDelay(attempt int) time.Duration {
	maxDelay := s.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 30 * time.Second
	}
	delay := s.BaseDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}
