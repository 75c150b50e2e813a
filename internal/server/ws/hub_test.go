package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/venuearb/internal/domain"
)

// chanBus serves one buffered channel per SignalBus channel.
type chanBus struct {
	chans map[string]chan []byte
}

func newChanBus() *chanBus {
	b := &chanBus{chans: make(map[string]chan []byte)}
	for _, ch := range Channels {
		b.chans[ch] = make(chan []byte, 16)
	}
	return b
}

func (b *chanBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.chans[channel] <- payload
	return nil
}

func (b *chanBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	return b.chans[channel], nil
}

func (b *chanBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *chanBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func startHub(t *testing.T, bus domain.SignalBus) *httptest.Server {
	t.Helper()
	hub := NewHub(bus, Config{
		Status:         func() domain.BotStatus { return domain.BotStatus{Mode: "trade"} },
		StatusInterval: time.Hour,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(t.Context())
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.TextMessage, kind)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_JSONFrames(t *testing.T) {
	bus := newChanBus()
	srv := startHub(t, bus)
	conn := dial(t, srv, "")

	first := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelStatus, first.Channel)
	var st domain.BotStatus
	require.NoError(t, json.Unmarshal(first.Payload, &st))
	assert.Equal(t, "trade", st.Mode)

	require.NoError(t, bus.Publish(t.Context(), domain.ChannelOpportunity, []byte(`{"type":"created"}`)))
	env := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelOpportunity, env.Channel)
	assert.JSONEq(t, `{"type":"created"}`, string(env.Payload))
}

func TestHub_ProtoFrames(t *testing.T) {
	bus := newChanBus()
	srv := startHub(t, bus)
	conn := dial(t, srv, "?format=proto")

	kind, _, err := conn.ReadMessage() // status on connect
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)

	require.NoError(t, bus.Publish(t.Context(), domain.ChannelExecution, []byte(`{"id":"e1","fees":1.5}`)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, kind)

	var st structpb.Struct
	require.NoError(t, proto.Unmarshal(data, &st))
	m := st.AsMap()
	assert.Equal(t, domain.ChannelExecution, m["channel"])
	assert.Equal(t, map[string]any{"id": "e1", "fees": 1.5}, m["payload"])
}

func TestHub_Unsubscribe(t *testing.T) {
	bus := newChanBus()
	srv := startHub(t, bus)
	conn := dial(t, srv, "")
	readEnvelope(t, conn)

	require.NoError(t, conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{domain.ChannelSnapshot}}))
	// The read pump applies the change asynchronously.
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, bus.Publish(t.Context(), domain.ChannelSnapshot, []byte(`{"seq":1}`)))
	require.NoError(t, bus.Publish(t.Context(), domain.ChannelExecution, []byte(`{"id":"e2"}`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, domain.ChannelExecution, env.Channel)
}

func TestEncodeFrame_InvalidPayloadForProto(t *testing.T) {
	_, _, err := encodeFrame(frame{channel: domain.ChannelStatus, payload: []byte("not json")}, true)
	assert.Error(t, err)
}
