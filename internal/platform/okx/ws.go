// Package okx streams top-of-book tickers from the OKX public websocket.
package okx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

const (
	writeWait         = 10 * time.Second
	readWait          = 40 * time.Second
	pingPeriod        = 25 * time.Second
	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// Ticker is the latest top of book for one instrument.
type Ticker struct {
	InstID string
	Bid    float64
	Ask    float64
	Last   float64
	TS     time.Time
}

type subscribeArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type subscribeCmd struct {
	Op   string         `json:"op"`
	Args []subscribeArg `json:"args"`
}

type tickerData struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
	TS     string `json:"ts"`
}

type message struct {
	Arg   *subscribeArg `json:"arg"`
	Data  []tickerData  `json:"data"`
	Event string        `json:"event"`
	Code  string        `json:"code"`
	Msg   string        `json:"msg"`
}

// Stream keeps a websocket subscription to the tickers channel and the
// latest ticker per instrument. It reconnects with exponential backoff.
type Stream struct {
	url    string
	logger *slog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	closed     bool
	subscribed []string
	tickers    map[string]Ticker

	done chan struct{}
}

// NewStream creates a Stream for the given websocket URL, e.g.
// "wss://ws.okx.com:8443/ws/v5/public".
func NewStream(url string, logger *slog.Logger) *Stream {
	return &Stream{
		url:     url,
		logger:  logger.With(slog.String("component", "okx_ws")),
		tickers: make(map[string]Ticker),
		done:    make(chan struct{}),
	}
}

// Connect dials the websocket and restores any previous subscriptions.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("okx/ws: %w: client is closed", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("okx/ws: connect: %w", err)
	}
	s.conn = conn

	_ = conn.SetReadDeadline(time.Now().Add(readWait))

	go s.readLoop(conn)
	go s.pingLoop(conn)

	if len(s.subscribed) > 0 {
		if err := s.sendSubscribe(s.subscribed); err != nil {
			return fmt.Errorf("okx/ws: restore subscriptions: %w", err)
		}
	}
	return nil
}

// Subscribe adds the given instrument ids to the tickers subscription.
func (s *Stream) Subscribe(instIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("okx/ws: %w: not connected", domain.ErrWSDisconnect)
	}
	if err := s.sendSubscribe(instIDs); err != nil {
		return fmt.Errorf("okx/ws: subscribe: %w", err)
	}

	existing := make(map[string]struct{}, len(s.subscribed))
	for _, id := range s.subscribed {
		existing[id] = struct{}{}
	}
	for _, id := range instIDs {
		if _, ok := existing[id]; !ok {
			s.subscribed = append(s.subscribed, id)
		}
	}
	return nil
}

// Latest returns the last ticker received for instID.
func (s *Stream) Latest(instID string) (Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickers[instID]
	return t, ok
}

// Close shuts the stream down. It is safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}
	return nil
}

// sendSubscribe writes a subscribe command. Caller must hold s.mu.
func (s *Stream) sendSubscribe(instIDs []string) error {
	cmd := subscribeCmd{Op: "subscribe"}
	for _, id := range instIDs {
		cmd.Args = append(cmd.Args, subscribeArg{Channel: "tickers", InstID: id})
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(cmd)
}

func (s *Stream) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logger.Warn("okx read failed, reconnecting", slog.String("error", err.Error()))
			s.reconnect()
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		s.handleMessage(raw)
	}
}

// pingLoop sends the text "ping" frames OKX expects on idle connections.
func (s *Stream) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.conn != conn {
				s.mu.Unlock()
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			s.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *Stream) handleMessage(raw []byte) {
	if string(raw) == "pong" {
		return
	}
	var m message
	if err := json.Unmarshal(raw, &m); err != nil {
		return
	}
	if m.Event == "error" || (m.Code != "" && m.Code != "0") {
		s.logger.Warn("okx error event", slog.String("code", m.Code), slog.String("msg", m.Msg))
		return
	}
	if m.Arg == nil || m.Arg.Channel != "tickers" {
		return
	}

	for _, d := range m.Data {
		t, ok := parseTicker(d)
		if !ok {
			continue
		}
		s.mu.Lock()
		s.tickers[t.InstID] = t
		s.mu.Unlock()
	}
}

func parseTicker(d tickerData) (Ticker, bool) {
	if d.InstID == "" {
		return Ticker{}, false
	}
	bid, err1 := strconv.ParseFloat(d.BidPx, 64)
	ask, err2 := strconv.ParseFloat(d.AskPx, 64)
	if err1 != nil || err2 != nil {
		return Ticker{}, false
	}
	last, _ := strconv.ParseFloat(d.Last, 64)
	t := Ticker{InstID: d.InstID, Bid: bid, Ask: ask, Last: last}
	if ms, err := strconv.ParseInt(d.TS, 10, 64); err == nil {
		t.TS = time.UnixMilli(ms)
	}
	return t, true
}

func (s *Stream) reconnect() {
	delay := reconnectDelay
	for {
		select {
		case <-s.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()
		if err == nil {
			s.logger.Info("okx reconnected")
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
