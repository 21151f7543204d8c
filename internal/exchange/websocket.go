package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/amirphl/breakout-trader/internal/utils"
)

// WallexTrade is one trade pushed on a "<SYMBOL>@trade" channel.
type WallexTrade struct {
	IsBuyOrder bool   `json:"isBuyOrder"`
	Quantity   string `json:"quantity"`
	Price      string `json:"price"`
	Timestamp  string `json:"timestamp"`
}

type lastTrade struct {
	price float64
	at    time.Time
}

// TradeStream keeps the last traded price per symbol from the Wallex
// Socket.IO feed. Each symbol has its own connection, reconnected with
// exponential backoff up to a minute.
type TradeStream struct {
	endpoint string
	symbols  []string
	maxAge   time.Duration

	mu   sync.RWMutex
	last map[string]lastTrade
	log  *logrus.Entry
}

func NewTradeStream(symbols []string, maxAge time.Duration) *TradeStream {
	u := url.URL{Scheme: "wss", Host: "api.wallex.ir", Path: "/socket.io/"}
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return newTradeStream(u.String(), symbols, maxAge)
}

func newTradeStream(endpoint string, symbols []string, maxAge time.Duration) *TradeStream {
	if maxAge <= 0 {
		maxAge = 30 * time.Second
	}
	normalized := make([]string, len(symbols))
	for i, s := range symbols {
		normalized[i] = NormalizeSymbol(s)
	}
	return &TradeStream{
		endpoint: endpoint,
		symbols:  normalized,
		maxAge:   maxAge,
		last:     make(map[string]lastTrade),
		log:      utils.Component("wallex-stream"),
	}
}

// LastPrice returns the most recent trade price when it is younger than maxAge.
func (s *TradeStream) LastPrice(symbol string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.last[NormalizeSymbol(symbol)]
	if !ok || time.Since(t.at) > s.maxAge {
		return 0, false
	}
	return t.price, true
}

func (s *TradeStream) record(symbol string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last[symbol] = lastTrade{price: price, at: time.Now()}
}

// Run streams every symbol until ctx is cancelled.
func (s *TradeStream) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sym := range s.symbols {
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			s.follow(ctx, sym)
		}(sym)
	}
	wg.Wait()
}

func (s *TradeStream) follow(ctx context.Context, symbol string) {
	delay := time.Second
	for {
		err := s.session(ctx, symbol)
		if ctx.Err() != nil {
			return
		}
		s.log.WithFields(logrus.Fields{"symbol": symbol, "retry_in": delay}).WithError(err).Warn("trade stream disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, time.Minute)
	}
}

func subscribeFrame(symbol string) []byte {
	return fmt.Appendf(nil, `42["subscribe",{"channel":%q}]`, symbol+"@trade")
}

func (s *TradeStream) session(ctx context.Context, symbol string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	// Socket.IO namespace connect
	if err := conn.WriteMessage(websocket.TextMessage, []byte("40")); err != nil {
		return err
	}
	subscribed := false
	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		switch {
		case string(msg) == "2":
			if err := conn.WriteMessage(websocket.TextMessage, []byte("3")); err != nil {
				return err
			}
		case strings.HasPrefix(string(msg), "40") && !subscribed:
			if err := conn.WriteMessage(websocket.TextMessage, subscribeFrame(symbol)); err != nil {
				return err
			}
			subscribed = true
			s.log.WithField("symbol", symbol).Info("trade stream subscribed")
		default:
			if trade, ok := parseTradeFrame(symbol+"@trade", msg); ok {
				if p := parseFloat(trade.Price); p > 0 {
					s.record(symbol, p)
				}
			}
		}
	}
}

// parseTradeFrame decodes `42["Broadcaster","<channel>",{...}]`.
func parseTradeFrame(channel string, msg []byte) (WallexTrade, bool) {
	body, ok := strings.CutPrefix(string(msg), "42")
	if !ok {
		return WallexTrade{}, false
	}
	var parts []json.RawMessage
	if err := json.Unmarshal([]byte(body), &parts); err != nil || len(parts) < 3 {
		return WallexTrade{}, false
	}
	var event, ch string
	if json.Unmarshal(parts[0], &event) != nil || event != "Broadcaster" {
		return WallexTrade{}, false
	}
	if json.Unmarshal(parts[1], &ch) != nil || ch != channel {
		return WallexTrade{}, false
	}
	var t WallexTrade
	if err := json.Unmarshal(parts[2], &t); err != nil {
		return WallexTrade{}, false
	}
	return t, true
}
