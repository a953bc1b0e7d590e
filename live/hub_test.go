package live

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan []byte) Change {
	t.Helper()
	select {
	case raw, ok := <-ch:
		require.True(t, ok, "channel closed")
		var c Change
		require.NoError(t, json.Unmarshal(raw, &c))
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
		return Change{}
	}
}

func TestHubRegisterPublishStop(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	<-hub.Ready()

	client := &Client{Send: make(chan []byte, 10)}
	require.True(t, hub.add(client))

	hub.Publish(context.Background(), "2024-05-01T09:00:00.000Z")
	assert.Equal(t, "2024-05-01T09:00:00.000Z", recv(t, client.Send).LastUpdated)

	hub.Stop()
	_, open := <-client.Send
	assert.False(t, open)
	assert.False(t, hub.add(&Client{Send: make(chan []byte)}))
	hub.Stop()
}

func TestStopWithoutRun(t *testing.T) {
	done := make(chan struct{})
	go func() {
		NewHub(nil, nil).Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked")
	}
}

func TestRedisRelayBetweenInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newConn := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { c.Close() })
		return c
	}

	a := NewHub(newConn(), nil)
	b := NewHub(newConn(), nil)
	go a.Run()
	go b.Run()
	defer a.Stop()
	defer b.Stop()
	<-a.Ready()
	<-b.Ready()

	onA := &Client{Send: make(chan []byte, 10)}
	onB := &Client{Send: make(chan []byte, 10)}
	require.True(t, a.add(onA))
	require.True(t, b.add(onB))

	a.Publish(context.Background(), "ts-1")
	assert.Equal(t, "ts-1", recv(t, onA.Send).LastUpdated)
	assert.Equal(t, "ts-1", recv(t, onB.Send).LastUpdated)

	// A's own relay echo is ignored, so nothing else arrives on A.
	select {
	case extra := <-onA.Send:
		t.Fatalf("unexpected duplicate frame %s", extra)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWebsocketHandler(t *testing.T) {
	hub := NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()
	<-hub.Ready()

	r := httprouter.New()
	r.GET("/data/live", hub.Handler(func(context.Context) (string, error) { return "ts-0", nil }))
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/data/live"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() Change {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var c Change
		require.NoError(t, conn.ReadJSON(&c))
		return c
	}
	// The first frame is written only after the client joined the hub.
	assert.Equal(t, "ts-0", read().LastUpdated)

	hub.Publish(context.Background(), "ts-1")
	assert.Equal(t, "ts-1", read().LastUpdated)
}
