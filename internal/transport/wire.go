package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	messageTypeAuth         = "auth"
	messageTypeSubscribe    = "subscribe"
	messageTypeSubscription = "subscription"
	messageTypePing         = "ping"
	messageTypePong         = "pong"

	authStatusOK = "ok"
)

// clientMessage covers every frame the client sends: auth, subscribe and
// heartbeat ping/pong.
type clientMessage struct {
	Type        string         `json:"type"`
	AccessToken string         `json:"access_token,omitempty"`
	Collection  string         `json:"collection,omitempty"`
	Query       map[string]any `json:"query,omitempty"`
}

// serverMessage covers every frame the server sends back.
type serverMessage struct {
	Type   string          `json:"type"`
	Status string          `json:"status,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func parseServerMessage(data []byte) (*serverMessage, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}

	return &msg, nil
}

// decodeRecords accepts both payload shapes the subscription channel uses:
// a list of records or a single record object.
func decodeRecords(data json.RawMessage, logger *zap.Logger) []map[string]any {
	if len(data) == 0 {
		return nil
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err == nil {
		return records
	}

	var single map[string]any
	if err := json.Unmarshal(data, &single); err != nil {
		logger.Warn("unparseable subscription payload", zap.Error(err))
		return nil
	}

	return []map[string]any{single}
}

// Conn is the subset of *websocket.Conn the adapter uses. Tests provide
// scripted fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteJSON(v any) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a Conn. The default implementation wraps gorilla/websocket.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type websocketDialer struct{}

func (websocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}

	return conn, nil
}
