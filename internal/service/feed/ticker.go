package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"OptionPilot/internal/domain/models"
	drepo "OptionPilot/internal/domain/repository"
	"OptionPilot/pkg/logger"
)

type Config struct {
	URL            string
	APIKey         string
	AccessToken    string
	ReconnectDelay time.Duration
	MaxReconnects  int
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	BufferSize     int
}

// Ticker implements MarketDataFeed over a JSON websocket ticker.
type Ticker struct {
	cfg     Config
	log     *logger.Logger
	metrics drepo.Metrics
	dialer  *websocket.Dialer
	now     func() time.Time

	mu        sync.RWMutex
	conn      *websocket.Conn
	connected bool
	subs      []string

	writeMu sync.Mutex
}

func NewTicker(cfg Config, log *logger.Logger, m drepo.Metrics) *Ticker {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = 5
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	return &Ticker{
		cfg:     cfg,
		log:     log,
		metrics: m,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		now:     time.Now,
	}
}

// Connect dials the ticker endpoint.
func (t *Ticker) Connect(ctx context.Context) error {
	h := http.Header{}
	if t.cfg.APIKey != "" {
		h.Set("Authorization", fmt.Sprintf("token %s:%s", t.cfg.APIKey, t.cfg.AccessToken))
	}
	conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, h)
	if err != nil {
		return fmt.Errorf("ticker connect: %w", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(t.now().Add(t.cfg.ReadTimeout))
	})

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.mu.Unlock()
	t.metrics.SetConnected(true)
	t.log.Info("ticker connected", logger.String("url", t.cfg.URL))
	return nil
}

// Subscribe adds instruments to the stream.
func (t *Ticker) Subscribe(_ context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := t.send(map[string]interface{}{"a": "subscribe", "v": ids}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	t.mu.Lock()
	t.subs = mergeIDs(t.subs, ids)
	t.mu.Unlock()
	t.log.Info("ticker subscribed", logger.Strings("ids", ids))
	return nil
}

// Resubscribe replaces the subscription set, unsubscribing what is no longer
// wanted.
func (t *Ticker) Resubscribe(ctx context.Context, ids []string) error {
	t.mu.RLock()
	current := append([]string(nil), t.subs...)
	t.mu.RUnlock()

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var stale []string
	for _, id := range current {
		if _, ok := want[id]; !ok {
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := t.send(map[string]interface{}{"a": "unsubscribe", "v": stale}); err != nil {
			return fmt.Errorf("unsubscribe: %w", err)
		}
	}
	t.mu.Lock()
	t.subs = nil
	t.mu.Unlock()
	return t.Subscribe(ctx, ids)
}

func (t *Ticker) send(msg interface{}) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return errors.New("ticker not connected")
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(t.now().Add(5 * time.Second))
	return conn.WriteJSON(msg)
}

// Read streams ticks until the connection fails or ctx ends. A read error is
// delivered once on the error channel and both channels are closed.
func (t *Ticker) Read(ctx context.Context) (<-chan models.Tick, <-chan error) {
	ticks := make(chan models.Tick, t.cfg.BufferSize)
	errs := make(chan error, 1)

	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	pingCtx, stopPing := context.WithCancel(ctx)
	go t.pingLoop(pingCtx, conn)

	go func() {
		defer close(ticks)
		defer close(errs)
		defer stopPing()
		if conn == nil {
			errs <- errors.New("ticker conn nil")
			return
		}
		for {
			if ctx.Err() != nil {
				return
			}
			_ = conn.SetReadDeadline(t.now().Add(t.cfg.ReadTimeout))
			_, b, err := conn.ReadMessage()
			if err != nil {
				t.markDisconnected()
				if ctx.Err() == nil {
					errs <- fmt.Errorf("ticker read: %w", err)
				}
				return
			}
			for _, tk := range ParseFrame(b, t.now) {
				select {
				case ticks <- tk:
				default:
					t.metrics.RecordTickDropped("feed_backpressure")
				}
			}
		}
	}()

	return ticks, errs
}

func (t *Ticker) pingLoop(ctx context.Context, conn *websocket.Conn) {
	if conn == nil {
		return
	}
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, t.now().Add(5*time.Second))
			t.writeMu.Unlock()
			if err != nil {
				t.log.Warn("ticker ping failed", logger.Error(err))
				return
			}
		}
	}
}

// ParseFrame extracts ticks from a ticker frame. Non-tick frames yield none.
func ParseFrame(b []byte, now func() time.Time) []models.Tick {
	if !gjson.ValidBytes(b) {
		return nil
	}
	frame := gjson.ParseBytes(b)
	if frame.Get("type").String() != "tick" {
		return nil
	}
	var out []models.Tick
	frame.Get("data").ForEach(func(_, d gjson.Result) bool {
		id := d.Get("token").String()
		price := d.Get("ltp").Float()
		if id == "" || price <= 0 {
			return true
		}
		ts := now()
		if ms := d.Get("ts").Int(); ms > 0 {
			ts = time.UnixMilli(ms)
		}
		out = append(out, models.Tick{InstrumentID: id, Price: price, Timestamp: ts})
		return true
	})
	return out
}

// Reconnect closes the connection and redials with bounded attempts, then
// restores the subscription set.
func (t *Ticker) Reconnect(ctx context.Context) error {
	_ = t.Close()
	t.mu.RLock()
	subs := append([]string(nil), t.subs...)
	t.mu.RUnlock()

	delay := t.cfg.ReconnectDelay
	var lastErr error
	for attempt := 1; attempt <= t.cfg.MaxReconnects; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if lastErr = t.Connect(ctx); lastErr == nil {
			t.mu.Lock()
			t.subs = nil
			t.mu.Unlock()
			return t.Subscribe(ctx, subs)
		}
		t.log.Warn("ticker reconnect failed",
			logger.Int("attempt", attempt),
			logger.Error(lastErr))
		delay = min(delay*2, 30*time.Second)
	}
	return fmt.Errorf("ticker reconnect: gave up after %d attempts: %w", t.cfg.MaxReconnects, lastErr)
}

func (t *Ticker) markDisconnected() {
	t.mu.Lock()
	was := t.connected
	t.connected = false
	t.mu.Unlock()
	if was {
		t.metrics.SetConnected(false)
	}
}

// Close closes the websocket connection.
func (t *Ticker) Close() error {
	t.markDisconnected()
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (t *Ticker) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func mergeIDs(have, add []string) []string {
	seen := make(map[string]struct{}, len(have))
	for _, id := range have {
		seen[id] = struct{}{}
	}
	for _, id := range add {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			have = append(have, id)
		}
	}
	return have
}
