package notify_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/notify"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type MockClient struct {
	id          string
	RecvChannel chan notify.Event

	mu     sync.Mutex
	closed bool
}

func newMockClient(id string, buffer int) *MockClient {
	return &MockClient{id: id, RecvChannel: make(chan notify.Event, buffer)}
}

func (c *MockClient) GetID() string                       { return c.id }
func (c *MockClient) GetSendChannel() chan<- notify.Event { return c.RecvChannel }
func (c *MockClient) Run()                                {}
func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
func (c *MockClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func runHub(t *testing.T, hub *notify.Hub) (context.CancelFunc, <-chan struct{}) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		assert.NoError(t, hub.Run(ctx))
	}()
	return cancel, stopped
}

func receive(t *testing.T, ch <-chan notify.Event) notify.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
		return notify.Event{}
	}
}

func TestHub_BroadcastAndShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := notify.NewHub(nil, logger.NewNop())
	cancel, stopped := runHub(t, hub)

	a := newMockClient("a", 4)
	b := newMockClient("b", 4)
	require.True(t, hub.Register(a))
	require.True(t, hub.Register(b))

	hub.Publish(context.Background(), notify.Event{Type: notify.EventStatusChanged, ComplaintID: "c1", NewStatus: "seen"})

	ea := receive(t, a.RecvChannel)
	eb := receive(t, b.RecvChannel)
	assert.Equal(t, "c1", ea.ComplaintID)
	assert.False(t, ea.At.IsZero())
	assert.Equal(t, ea, eb)

	hub.Unregister(a)
	require.Eventually(t, a.isClosed, time.Second, 5*time.Millisecond)

	cancel()
	<-stopped
	assert.True(t, b.isClosed())

	// after shutdown registration fails instead of blocking
	assert.False(t, hub.Register(newMockClient("late", 1)))
	hub.Unregister(b)
}

func TestHub_DropsSlowClient(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := notify.NewHub(nil, logger.NewNop())
	cancel, stopped := runHub(t, hub)
	defer func() { cancel(); <-stopped }()

	slow := newMockClient("slow", 0)
	fast := newMockClient("fast", 4)
	require.True(t, hub.Register(slow))
	require.True(t, hub.Register(fast))

	hub.Publish(context.Background(), notify.Event{Type: notify.EventComplaintCreated, ComplaintID: "c2"})

	assert.Equal(t, "c2", receive(t, fast.RecvChannel).ComplaintID)
	assert.Eventually(t, slow.isClosed, time.Second, 5*time.Millisecond)
}

func TestHub_RedisFanOut(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		return rdb
	}

	hubA := notify.NewHub(newClient(), logger.NewNop())
	hubB := notify.NewHub(newClient(), logger.NewNop())
	cancelA, stoppedA := runHub(t, hubA)
	cancelB, stoppedB := runHub(t, hubB)
	defer func() { cancelA(); cancelB(); <-stoppedA; <-stoppedB }()

	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(notify.Channel)[notify.Channel] == 2
	}, 2*time.Second, 10*time.Millisecond)

	reviewer := newMockClient("reviewer", 4)
	require.True(t, hubB.Register(reviewer))

	hubA.Publish(context.Background(), notify.Event{Type: notify.EventVerificationChanged, ComplaintID: "c3"})

	e := receive(t, reviewer.RecvChannel)
	assert.Equal(t, notify.EventVerificationChanged, e.Type)
	assert.Equal(t, "c3", e.ComplaintID)
}

func TestWebSocketClient_StreamsEvents(t *testing.T) {
	hub := notify.NewHub(nil, logger.NewNop())
	cancel, stopped := runHub(t, hub)
	defer func() { cancel(); <-stopped }()

	upgrader := websocket.Upgrader{}
	registered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		client := notify.NewWebSocketClient("ws-1", conn, hub, logger.NewNop())
		require.True(t, hub.Register(client))
		client.Run()
		close(registered)
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	<-registered

	hub.Publish(context.Background(), notify.Event{Type: notify.EventReportGenerated, ReportID: "r1", Count: 7})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var e notify.Event
	require.NoError(t, conn.ReadJSON(&e))
	assert.Equal(t, notify.EventReportGenerated, e.Type)
	assert.Equal(t, 7, e.Count)
}

func TestNop(t *testing.T) {
	var p notify.Publisher = notify.Nop{}
	p.Publish(context.Background(), notify.Event{})
}
