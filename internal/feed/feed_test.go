package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/cache/memory"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/domain"
	"github.com/jonesconnor/prediction-market-arbitrage/internal/platform/polymarket"
)

func TestBackoff(t *testing.T) {
	b := NewBackoff(5*time.Second, 60*time.Second)
	want := []time.Duration{5, 10, 20, 40, 60, 60}
	for i, w := range want {
		if got := b.Next(); got != w*time.Second {
			t.Errorf("Next() #%d = %v, want %v", i, got, w*time.Second)
		}
	}
	b.Reset()
	if got := b.Next(); got != 5*time.Second {
		t.Errorf("Next() after Reset = %v, want 5s", got)
	}
}

func TestSubscriptionQueue_NextDrainsAndDedups(t *testing.T) {
	q := NewSubscriptionQueue(10, nil)
	ctx := context.Background()

	if err := q.Enqueue(ctx, "a", "b", "a", "c", "b"); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	batch, err := q.Next(ctx)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if strings.Join(batch, ",") != "a,b,c" {
		t.Errorf("batch = %v, want [a b c]", batch)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

func TestSubscriptionQueue_NextBlocksUntilCancel(t *testing.T) {
	q := NewSubscriptionQueue(1, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := q.Next(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Next() error = %v, want DeadlineExceeded", err)
	}
}

func TestSubscriptionQueue_EnqueueWaitsForSpace(t *testing.T) {
	q := NewSubscriptionQueue(2, nil)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(ctx, "a", "b", "c", "d") }()

	select {
	case <-done:
		t.Fatal("Enqueue() returned while queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	var got []string
	for len(got) < 4 {
		batch, err := q.Next(ctx)
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		got = append(got, batch...)
	}
	if err := <-done; err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if strings.Join(got, ",") != "a,b,c,d" {
		t.Errorf("received %v, want [a b c d]", got)
	}

	full := NewSubscriptionQueue(1, nil)
	_ = full.Enqueue(ctx, "x")
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if err := full.Enqueue(cctx, "y"); !errors.Is(err, context.Canceled) {
		t.Errorf("Enqueue() on full queue with cancelled ctx = %v, want Canceled", err)
	}
}

type recordingProcessor struct {
	mu      sync.Mutex
	markets []domain.Market
	notify  chan struct{}
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{notify: make(chan struct{}, 64)}
}

func (p *recordingProcessor) ProcessMarket(_ context.Context, m domain.Market) {
	p.mu.Lock()
	p.markets = append(p.markets, m)
	p.mu.Unlock()
	p.notify <- struct{}{}
}

func (p *recordingProcessor) wait(t *testing.T) domain.Market {
	t.Helper()
	select {
	case <-p.notify:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ProcessMarket")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.markets[len(p.markets)-1]
}

// mockFeed is a websocket server that records client frames and lets the
// test push frames to the client.
type mockFeed struct {
	server   *httptest.Server
	received chan string
	outbound chan string
}

func newMockFeed(t *testing.T) *mockFeed {
	t.Helper()
	f := &mockFeed{received: make(chan string, 64), outbound: make(chan string, 64)}
	upgrader := websocket.Upgrader{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for msg := range f.outbound {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
					return
				}
			}
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f.received <- string(data)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *mockFeed) url() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *mockFeed) next(t *testing.T) string {
	t.Helper()
	for {
		select {
		case msg := <-f.received:
			if msg == "PING" {
				continue
			}
			return msg
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for client frame")
			return ""
		}
	}
}

func decodeSubscribe(t *testing.T, raw string) []string {
	t.Helper()
	var msg struct {
		AssetsIDs []string `json:"assets_ids"`
		Type      string   `json:"type"`
	}
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("subscribe frame %q: %v", raw, err)
	}
	if msg.Type != "market" {
		t.Errorf("type = %q, want market", msg.Type)
	}
	return msg.AssetsIDs
}

func TestMarketStream_SubscribeAndApply(t *testing.T) {
	feed := newMockFeed(t)

	cache := memory.NewMarketCache(nil)
	cache.Sync([]domain.Market{
		{ID: "m1", Outcomes: []domain.Outcome{{Name: "Yes", Price: 0.5, TokenID: "a1"}, {Name: "No", Price: 0.5, TokenID: "a2"}}},
		{ID: "m2", Outcomes: []domain.Outcome{{Name: "Yes", Price: 0.5, TokenID: "b1"}}},
	})
	proc := newRecordingProcessor()
	queue := NewSubscriptionQueue(16, nil)

	// Queued before connecting so the first incremental batch is deterministic.
	if err := queue.Enqueue(context.Background(), "a1", "c1", "c2"); err != nil {
		t.Fatal(err)
	}

	stream := NewMarketStream(Config{URL: feed.url(), ChunkSize: 2, PingInterval: time.Hour}, cache, proc, queue, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- stream.Run(ctx) }()

	first := decodeSubscribe(t, feed.next(t))
	second := decodeSubscribe(t, feed.next(t))
	if strings.Join(first, ",") != "a1,a2" || strings.Join(second, ",") != "b1" {
		t.Errorf("initial chunks = %v %v, want [a1 a2] [b1]", first, second)
	}
	if ids := decodeSubscribe(t, feed.next(t)); strings.Join(ids, ",") != "c1,c2" {
		t.Errorf("incremental subscribe = %v, want [c1 c2]", ids)
	}

	feed.outbound <- `{"event_type":"book","asset_id":"a1","bids":[{"price":"0.40","size":"10"}],"asks":[{"price":"0.45","size":"5"}]}`
	m := proc.wait(t)
	if m.ID != "m1" || m.Outcomes[0].Price != 0.45 {
		t.Errorf("processed market = %+v, want m1 with price 0.45", m)
	}

	feed.outbound <- `not json`
	feed.outbound <- `PONG`
	feed.outbound <- `[{"event_type":"price_change","price_changes":[{"asset_id":"b1","side":"SELL","best_ask":"0.3","size":"2"},{"asset_id":"a2","side":"SELL","best_ask":"0.5","size":"1"}]}]`
	got := map[string]bool{}
	got[proc.wait(t).ID] = true
	got[proc.wait(t).ID] = true
	if !got["m1"] || !got["m2"] {
		t.Errorf("processed = %v, want m1 and m2", got)
	}

	stats := stream.Stats()
	if !stats.Connected || stats.Subscribed != 5 {
		t.Errorf("Stats() = %+v, want connected with 5 subscribed", stats)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestMarketStream_Heartbeat(t *testing.T) {
	feed := newMockFeed(t)
	stream := NewMarketStream(Config{URL: feed.url(), PingInterval: time.Second}, memory.NewMarketCache(nil), newRecordingProcessor(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = stream.Run(ctx) }()

	select {
	case msg := <-feed.received:
		if msg != "PING" {
			t.Errorf("frame = %q, want PING", msg)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no heartbeat received")
	}
}

func TestMarketStream_BackoffDoubles(t *testing.T) {
	// Nothing listens on this server once closed, so every dial fails.
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	tests := []struct {
		name    string
		initial time.Duration
		want    []time.Duration
	}{
		{"doubling", time.Second, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}},
		{"capped at sixty seconds", 20 * time.Second, []time.Duration{20 * time.Second, 40 * time.Second, 60 * time.Second, 60 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := NewMarketStream(Config{URL: url, ReconnectDelay: tt.initial, HandshakeTimeout: time.Second},
				memory.NewMarketCache(nil), newRecordingProcessor(), nil, nil)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var delays []time.Duration
			stream.sleep = func(ctx context.Context, d time.Duration) error {
				delays = append(delays, d)
				if len(delays) == len(tt.want) {
					cancel()
					return ctx.Err()
				}
				return nil
			}

			if err := stream.Run(ctx); !errors.Is(err, context.Canceled) {
				t.Fatalf("Run() error = %v, want Canceled", err)
			}
			if len(delays) != len(tt.want) {
				t.Fatalf("delays = %v, want %v", delays, tt.want)
			}
			for i := range tt.want {
				if delays[i] != tt.want[i] {
					t.Errorf("delay[%d] = %v, want %v", i, delays[i], tt.want[i])
				}
			}
		})
	}
}

func TestMarketStream_CleanCloseResetsBackoff(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_, _, _ = conn.ReadMessage()
	}))
	defer server.Close()

	stream := NewMarketStream(Config{URL: "ws" + strings.TrimPrefix(server.URL, "http"), ReconnectDelay: 2 * time.Second},
		memory.NewMarketCache(nil), newRecordingProcessor(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var delays []time.Duration
	stream.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		if len(delays) == 3 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	_ = stream.Run(ctx)
	for i, d := range delays {
		if d != 2*time.Second {
			t.Errorf("delay[%d] = %v, want 2s after clean close", i, d)
		}
	}
	if got := stream.Stats().Reconnects; got != 2 {
		t.Errorf("Reconnects = %d, want 2", got)
	}
}

func TestMarketStream_AbnormalCloseBackoff(t *testing.T) {
	tests := []struct {
		name string
		hold time.Duration
		want []time.Duration
	}{
		{"dropped immediately", 0, []time.Duration{2 * time.Second, 4 * time.Second}},
		{"streamed past ping interval", 1500 * time.Millisecond, []time.Duration{2 * time.Second, 2 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upgrader := websocket.Upgrader{}
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				conn, err := upgrader.Upgrade(w, r, nil)
				if err != nil {
					return
				}
				go func() {
					for {
						if _, _, err := conn.ReadMessage(); err != nil {
							return
						}
					}
				}()
				time.Sleep(tt.hold)
				// Drop the socket without a close frame.
				_ = conn.UnderlyingConn().Close()
			}))
			defer server.Close()

			stream := NewMarketStream(Config{
				URL:            "ws" + strings.TrimPrefix(server.URL, "http"),
				PingInterval:   time.Second,
				ReconnectDelay: 2 * time.Second,
			}, memory.NewMarketCache(nil), newRecordingProcessor(), nil, nil)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			var delays []time.Duration
			stream.sleep = func(ctx context.Context, d time.Duration) error {
				delays = append(delays, d)
				if len(delays) == len(tt.want) {
					cancel()
					return ctx.Err()
				}
				return nil
			}

			if err := stream.Run(ctx); !errors.Is(err, context.Canceled) {
				t.Fatalf("Run() error = %v, want Canceled", err)
			}
			if len(delays) != len(tt.want) {
				t.Fatalf("delays = %v, want %v", delays, tt.want)
			}
			for i := range tt.want {
				if delays[i] != tt.want[i] {
					t.Errorf("delay[%d] = %v, want %v", i, delays[i], tt.want[i])
				}
			}
		})
	}
}

func TestMarketStream_PingFailureEndsConnection(t *testing.T) {
	feed := newMockFeed(t)
	stream := NewMarketStream(Config{URL: feed.url(), PingInterval: time.Second},
		memory.NewMarketCache(nil), newRecordingProcessor(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := polymarket.Dial(ctx, polymarket.DialConfig{URL: feed.url(), HandshakeTimeout: time.Second})
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	_ = conn.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- stream.pingLoop(ctx, conn) }()

	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, context.Canceled) {
			t.Errorf("pingLoop() error = %v, want write failure", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("pingLoop() kept running on a closed connection")
	}
}

func TestMarketStream_DroppedConnectionReconnects(t *testing.T) {
	var connections atomic.Int32
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connections.Add(1)
		// Drop the TCP connection once the first heartbeat arrives.
		for {
			_, data, err := conn.ReadMessage()
			if err != nil || string(data) == "PING" {
				break
			}
		}
		_ = conn.UnderlyingConn().Close()
	}))
	defer server.Close()

	stream := NewMarketStream(Config{URL: "ws" + strings.TrimPrefix(server.URL, "http"), PingInterval: time.Second},
		memory.NewMarketCache(nil), newRecordingProcessor(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sleeps int
	stream.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps++
		if sleeps == 2 {
			cancel()
			return ctx.Err()
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx) }()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want Canceled", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not reconnect after the connection dropped")
	}

	if got := stream.Stats().Reconnects; got != 1 {
		t.Errorf("Reconnects = %d, want 1", got)
	}
	if got := connections.Load(); got != 2 {
		t.Errorf("connections = %d, want 2", got)
	}
	if stream.Stats().Connected {
		t.Error("Connected = true after Run returned")
	}
}

// captureHandler records every log record, including those from derived
// loggers.
type captureHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
}

func newCaptureHandler() captureHandler {
	return captureHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
}

func (h captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h captureHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r.Clone())
	return nil
}

func (h captureHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h captureHandler) WithGroup(string) slog.Handler { return h }

func (h captureHandler) has(level slog.Level, substr string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range *h.records {
		if r.Level == level && strings.Contains(r.Message, substr) {
			return true
		}
	}
	return false
}

func TestMarketStream_InsecureTLSWarns(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(dead.URL, "http")
	dead.Close()

	tests := []struct {
		name     string
		insecure bool
		want     bool
	}{
		{"verification disabled", true, true},
		{"verification enabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newCaptureHandler()
			stream := NewMarketStream(Config{URL: url, InsecureSkipVerify: tt.insecure, HandshakeTimeout: time.Second},
				memory.NewMarketCache(nil), newRecordingProcessor(), nil, slog.New(h))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			stream.sleep = func(ctx context.Context, d time.Duration) error {
				cancel()
				return ctx.Err()
			}

			if err := stream.Run(ctx); !errors.Is(err, context.Canceled) {
				t.Fatalf("Run() error = %v, want Canceled", err)
			}
			if got := h.has(slog.LevelWarn, "TLS verification disabled"); got != tt.want {
				t.Errorf("TLS warning logged = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMarketStream_MixedBatchAppliesKnownEvents(t *testing.T) {
	feed := newMockFeed(t)

	cache := memory.NewMarketCache(nil)
	cache.Sync([]domain.Market{
		{ID: "m1", Outcomes: []domain.Outcome{{Name: "Yes", Price: 0.5, TokenID: "a1"}, {Name: "No", Price: 0.5, TokenID: "a2"}}},
	})
	proc := newRecordingProcessor()

	stream := NewMarketStream(Config{URL: feed.url(), PingInterval: time.Hour}, cache, proc, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = stream.Run(ctx) }()

	if ids := decodeSubscribe(t, feed.next(t)); strings.Join(ids, ",") != "a1,a2" {
		t.Fatalf("initial subscribe = %v, want [a1 a2]", ids)
	}

	feed.outbound <- `[42, "PING", {"event_type":"foo"}, {"event_type":"book","asset_id":"a1","bids":[{"price":"0.41","size":"3"}],"asks":[{"price":"0.44"}]}]`
	m := proc.wait(t)
	if m.ID != "m1" {
		t.Fatalf("processed market = %s, want m1", m.ID)
	}
	o := m.Outcomes[0]
	if o.Price != 0.44 || o.BestBid == nil || *o.BestBid != 0.41 {
		t.Errorf("outcome = %+v, want bid 0.41 ask 0.44", o)
	}
	if o.BestAskSize != nil {
		t.Errorf("BestAskSize = %v, want nil for a level without size", *o.BestAskSize)
	}

	select {
	case <-proc.notify:
		t.Error("unknown event triggered an extra ProcessMarket call")
	case <-time.After(100 * time.Millisecond):
	}
}
