package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/parkswap/internal/signals"
)

type fakeConn struct {
	mu     sync.Mutex
	got    []signals.Envelope
	fail   bool
	closed bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("broken pipe")
	}
	c.got = append(c.got, v.(signals.Envelope))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) received() []signals.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]signals.Envelope(nil), c.got...)
}

type mirror struct {
	mu  sync.Mutex
	got []signals.Envelope
}

func (m *mirror) PublishSignal(_ context.Context, env signals.Envelope) error {
	m.mu.Lock()
	m.got = append(m.got, env)
	m.mu.Unlock()
	return nil
}

func envelope(t *testing.T, s signals.Signal) signals.Envelope {
	t.Helper()
	env, err := signals.Wrap(s, time.Now())
	require.NoError(t, err)
	return env
}

func TestRegistryDeliversToEverySession(t *testing.T) {
	r := NewWSRegistry(nil)
	phone, tablet := &fakeConn{}, &fakeConn{}
	r.Add("u1", phone)
	remove := r.Add("u1", tablet)
	require.Equal(t, 2, r.Sessions("u1"))

	require.NoError(t, r.Deliver("u1", envelope(t, signals.Toast{UserID: "u1", Title: "hi"})))
	assert.Len(t, phone.received(), 1)
	assert.Len(t, tablet.received(), 1)

	remove()
	assert.Equal(t, 1, r.Sessions("u1"))
	assert.ErrorIs(t, r.Deliver("u2", envelope(t, signals.Toast{UserID: "u2"})), ErrNoSession)
}

func TestRegistryDropsBrokenSession(t *testing.T) {
	r := NewWSRegistry(nil)
	broken := &fakeConn{fail: true}
	r.Add("u1", broken)

	err := r.Deliver("u1", envelope(t, signals.Toast{UserID: "u1"}))
	assert.ErrorIs(t, err, ErrNoSession)
	assert.True(t, broken.closed)
	assert.Equal(t, 0, r.Sessions("u1"))
}

func TestFanoutFallsBackToPush(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []map[string]pushMessage
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		var body map[string]pushMessage
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	ws := NewWSRegistry(nil)
	online := &fakeConn{}
	ws.Add("seller", online)
	m := &mirror{}
	f := NewFanout(ws, 0)
	f.Push = NewPushDispatcher(srv.URL, "k")
	f.Mirror = m

	f.Handle(signals.SettlementConfirmed{AlertID: "a1", BuyerID: "buyer", SellerID: "seller"})

	require.Len(t, online.received(), 1)
	assert.Equal(t, signals.KindSettlementConfirmed, online.received()[0].Type)
	mu.Lock()
	require.Len(t, bodies, 1)
	assert.Equal(t, "buyer", bodies[0]["message"].UserID)
	mu.Unlock()
	assert.Len(t, m.got, 1)
}

func TestFanoutQueue(t *testing.T) {
	bus := signals.NewBus(nil)
	ws := NewWSRegistry(nil)
	conn := &fakeConn{}
	ws.Add("u1", conn)
	f := NewFanout(ws, 8)
	defer f.Attach(bus)()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	bus.Publish(signals.PaymentReleased{UserID: "u1", Amount: decimal.RequireFromString("2.01")})
	require.Eventually(t, func() bool { return len(conn.received()) == 1 }, time.Second, 5*time.Millisecond)

	var p signals.PaymentReleased
	require.NoError(t, json.Unmarshal(conn.received()[0].Payload, &p))
	assert.True(t, decimal.RequireFromString("2.01").Equal(p.Amount))
}

func TestRegistryOverRealWebsocket(t *testing.T) {
	reg := NewWSRegistry(nil)
	registered := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		reg.Add("u1", conn)
		close(registered)
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()
	<-registered

	require.NoError(t, reg.Deliver("u1", envelope(t, signals.BadgeRefresh{UserIDs: []string{"u1"}, AlertID: "a1"})))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	var env signals.Envelope
	require.NoError(t, client.ReadJSON(&env))
	assert.Equal(t, signals.KindBadgeRefresh, env.Type)
}
