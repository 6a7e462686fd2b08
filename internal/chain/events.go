package chain

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventFeed tails the gateway's read-only notification stream. It is used
// only for diagnostic tracing during batch runs; nothing in the console
// mutates state based on these events.
type EventFeed struct {
	URL string
	log zerolog.Logger
}

// NewEventFeed builds a feed against the given websocket URL.
func NewEventFeed(url string, log zerolog.Logger) *EventFeed {
	return &EventFeed{URL: url, log: log}
}

type diagEvent struct {
	Type   string          `json:"type"`
	Market string          `json:"market"`
	Data   json.RawMessage `json:"data"`
}

// Attach connects and traces events until the returned detach function is
// called. Detach is idempotent and safe on every exit path; a feed that
// fails to connect returns the error without leaking a subscription.
func (f *EventFeed) Attach(ctx context.Context) (func(), error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-runCtx.Done():
				return
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				if runCtx.Err() == nil {
					f.log.Warn().Err(err).Msg("diagnostic feed closed")
				}
				return
			}
			var event diagEvent
			if err := json.Unmarshal(message, &event); err != nil {
				f.log.Warn().Err(err).Msg("undecodable diagnostic event")
				continue
			}
			f.log.Debug().
				Str("type", event.Type).
				Str("market", event.Market).
				RawJSON("data", normalizeRaw(event.Data)).
				Msg("remote event")
		}
	}()

	var once sync.Once
	detach := func() {
		once.Do(func() {
			cancel()
			_ = conn.Close()
			wg.Wait()
		})
	}
	return detach, nil
}

func normalizeRaw(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
