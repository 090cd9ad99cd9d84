package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type frame struct {
	data []byte
	err  error
}

// fakeConn is a scripted websocket connection. It auto-replies to the auth
// handshake and can be told to fail right after the subscribe frame, which
// simulates an abnormal close (1006).
type fakeConn struct {
	authStatus         string
	failAfterSubscribe bool

	frames chan frame

	mu     sync.Mutex
	writes []clientMessage

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(authStatus string, failAfterSubscribe bool) *fakeConn {
	return &fakeConn{
		authStatus:         authStatus,
		failAfterSubscribe: failAfterSubscribe,
		frames:             make(chan frame, 16),
		closed:             make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case <-c.closed:
		return 0, nil, errors.New("use of closed connection")
	case f := <-c.frames:
		if f.err != nil {
			return 0, nil, f.err
		}
		return 1, f.data, nil
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}

	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}

	var msg clientMessage
	if err := json.Unmarshal(encoded, &msg); err != nil {
		return err
	}

	c.mu.Lock()
	c.writes = append(c.writes, msg)
	c.mu.Unlock()

	switch msg.Type {
	case messageTypeAuth:
		reply, _ := json.Marshal(serverMessage{Type: messageTypeAuth, Status: c.authStatus})
		c.frames <- frame{data: reply}
	case messageTypeSubscribe:
		if c.failAfterSubscribe {
			c.frames <- frame{err: errors.New("websocket: close 1006 (abnormal closure)")}
		}
	}

	return nil
}

func (c *fakeConn) serverSend(t *testing.T, msg serverMessage) {
	t.Helper()
	encoded, err := json.Marshal(msg)
	require.NoError(t, err)
	c.frames <- frame{data: encoded}
}

func (c *fakeConn) writtenTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	types := make([]string, 0, len(c.writes))
	for _, w := range c.writes {
		types = append(types, w.Type)
	}
	return types
}

func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type fakeDialer struct {
	authStatus         string
	failAfterSubscribe bool
	dialErr            error

	mu    sync.Mutex
	conns []*fakeConn
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	if d.dialErr != nil {
		return nil, d.dialErr
	}

	conn := newFakeConn(d.authStatus, d.failAfterSubscribe)
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()

	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

type updateRecorder struct {
	mu      sync.Mutex
	records []map[string]any
}

func (r *updateRecorder) add(record map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

func (r *updateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

func (r *updateRecorder) at(i int) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[i]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached within %s", timeout)
}

func pushOptions(dialer Dialer, rec *updateRecorder, onErr func(error)) Options {
	return Options{
		URL:            "wss://backend.test/websocket",
		Token:          "secret",
		Collection:     "job_description",
		Mode:           ModePush,
		OnUpdate:       rec.add,
		OnError:        onErr,
		Dialer:         dialer,
		ReconnectDelay: 20 * time.Millisecond,
		Logger:         zap.NewNop(),
	}
}

func TestPushDeliversSubscriptionRecords(t *testing.T) {
	dialer := &fakeDialer{authStatus: authStatusOK}
	rec := &updateRecorder{}

	handle, err := Open(context.Background(), pushOptions(dialer, rec, nil))
	require.NoError(t, err)
	defer handle.Close()

	waitFor(t, time.Second, func() bool { return handle.State() == StateSubscribed })

	conn := dialer.conn(0)
	require.NotNil(t, conn)
	assert.Equal(t, []string{messageTypeAuth, messageTypeSubscribe}, conn.writtenTypes())

	conn.serverSend(t, serverMessage{
		Type:  messageTypeSubscription,
		Event: "update",
		Data:  json.RawMessage(`[{"id":"7","name":"Jane Doe"}]`),
	})

	waitFor(t, time.Second, func() bool { return rec.count() == 1 })
	assert.Equal(t, "Jane Doe", rec.at(0)["name"])

	// A single-object payload must arrive the same way.
	conn.serverSend(t, serverMessage{
		Type:  messageTypeSubscription,
		Event: "update",
		Data:  json.RawMessage(`{"id":"7","name":"Jane Smith"}`),
	})

	waitFor(t, time.Second, func() bool { return rec.count() == 2 })
	assert.Equal(t, "Jane Smith", rec.at(1)["name"])
}

func TestServerPingGetsPong(t *testing.T) {
	dialer := &fakeDialer{authStatus: authStatusOK}
	rec := &updateRecorder{}

	handle, err := Open(context.Background(), pushOptions(dialer, rec, nil))
	require.NoError(t, err)
	defer handle.Close()

	waitFor(t, time.Second, func() bool { return handle.State() == StateSubscribed })

	conn := dialer.conn(0)
	conn.serverSend(t, serverMessage{Type: messageTypePing})

	waitFor(t, time.Second, func() bool {
		for _, typ := range conn.writtenTypes() {
			if typ == messageTypePong {
				return true
			}
		}
		return false
	})
}

func TestAuthFailureSurfacesWithoutRetry(t *testing.T) {
	dialer := &fakeDialer{authStatus: "error"}
	rec := &updateRecorder{}

	var mu sync.Mutex
	var failures []error
	onErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, err)
	}

	handle, err := Open(context.Background(), pushOptions(dialer, rec, onErr))
	require.NoError(t, err)
	defer handle.Close()

	<-handle.Done()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrAuthFailed)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, StateClosed, handle.State())
}

func TestReconnectAfterUnexpectedClose(t *testing.T) {
	dialer := &fakeDialer{authStatus: authStatusOK, failAfterSubscribe: true}
	rec := &updateRecorder{}

	handle, err := Open(context.Background(), pushOptions(dialer, rec, nil))
	require.NoError(t, err)
	defer handle.Close()

	waitFor(t, 2*time.Second, func() bool { return dialer.dialCount() >= 2 })
}

func TestDeliberateClosePreventsPendingReconnect(t *testing.T) {
	dialer := &fakeDialer{authStatus: authStatusOK, failAfterSubscribe: true}
	rec := &updateRecorder{}

	opts := pushOptions(dialer, rec, nil)
	opts.ReconnectDelay = 150 * time.Millisecond

	handle, err := Open(context.Background(), opts)
	require.NoError(t, err)

	// Wait for the abnormal close to land us in the reconnect delay, then
	// close deliberately before the delay elapses.
	waitFor(t, time.Second, func() bool { return handle.State() == StateReconnecting })
	handle.Close()
	<-handle.Done()

	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, dialer.dialCount())
	assert.Equal(t, StateClosed, handle.State())
}

func TestReconnectCeilingClosesHandle(t *testing.T) {
	dialer := &fakeDialer{authStatus: authStatusOK, failAfterSubscribe: true}
	rec := &updateRecorder{}

	var mu sync.Mutex
	var failures []error
	onErr := func(err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, err)
	}

	opts := pushOptions(dialer, rec, onErr)
	opts.ReconnectDelay = 10 * time.Millisecond
	opts.ReconnectCeiling = 50 * time.Millisecond

	handle, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer handle.Close()

	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle did not close after reconnect ceiling")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], ErrReconnectCeiling)
}

func TestPullModeDeliversFetchedRecords(t *testing.T) {
	rec := &updateRecorder{}

	handle, err := Open(context.Background(), Options{
		Mode:         ModePull,
		OnUpdate:     rec.add,
		PullInterval: 20 * time.Millisecond,
		Fetch: func(context.Context) ([]map[string]any, error) {
			return []map[string]any{{"id": "7", "name": "Jane Doe"}}, nil
		},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	defer handle.Close()

	waitFor(t, time.Second, func() bool { return rec.count() >= 3 })
	assert.Equal(t, "Jane Doe", rec.at(0)["name"])

	handle.Close()
	<-handle.Done()
	assert.Equal(t, StateClosed, handle.State())
}

func TestAutoModeFallsBackToPull(t *testing.T) {
	dialer := &fakeDialer{dialErr: errors.New("connection refused")}
	rec := &updateRecorder{}

	handle, err := Open(context.Background(), Options{
		URL:          "wss://backend.test/websocket",
		Token:        "secret",
		Collection:   "job_description",
		Mode:         ModeAuto,
		OnUpdate:     rec.add,
		Dialer:       dialer,
		PullInterval: 20 * time.Millisecond,
		Fetch: func(context.Context) ([]map[string]any, error) {
			return []map[string]any{{"id": "7"}}, nil
		},
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	defer handle.Close()

	waitFor(t, time.Second, func() bool { return rec.count() >= 2 })
}

func TestOpenValidatesOptions(t *testing.T) {
	_, err := Open(context.Background(), Options{Mode: ModePull})
	require.Error(t, err)

	_, err = Open(context.Background(), Options{
		Mode:     ModePull,
		OnUpdate: func(map[string]any) {},
	})
	require.Error(t, err)

	_, err = Open(context.Background(), Options{
		Mode:     ModePush,
		OnUpdate: func(map[string]any) {},
	})
	require.Error(t, err)
}
