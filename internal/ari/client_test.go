package ari

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeAsterisk эмулирует ARI: WebSocket поток событий и REST для каналов.
type fakeAsterisk struct {
	upgrader websocket.Upgrader

	mu       sync.Mutex
	requests []string
	wsQuery  string
	events   []Event
}

func (f *fakeAsterisk) handler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/ari/events" {
		f.mu.Lock()
		f.wsQuery = r.URL.RawQuery
		events := append([]Event(nil), f.events...)
		f.mu.Unlock()

		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
		// Держим соединение открытым, пока клиент не закроет его сам
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}

	user, pass, ok := r.BasicAuth()
	if !ok || user != "asterisk" || pass != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	if r.Method == http.MethodPost && r.URL.Query().Get("media") != "" {
		_ = json.NewEncoder(w).Encode(Playback{ID: "pb-1", MediaURI: r.URL.Query().Get("media")})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (f *fakeAsterisk) seenRequests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func startFakeAsterisk(t *testing.T, events ...Event) (*fakeAsterisk, *Client) {
	t.Helper()
	fake := &fakeAsterisk{events: events}
	srv := httptest.NewServer(http.HandlerFunc(fake.handler))
	t.Cleanup(srv.Close)

	client := NewClient(ClientConfig{
		URL:      srv.URL,
		Username: "asterisk",
		Password: "secret",
		App:      "teledoom",
	}, zap.NewNop())
	return fake, client
}

func TestClientReceivesStasisEvents(t *testing.T) {
	fake, client := startFakeAsterisk(t,
		Event{Type: EventTypeStasisStart, Application: "teledoom", Channel: Channel{ID: "chan-1", Caller: CallerID{Number: "+442079460958"}}},
		Event{Type: "ChannelVarset"}, // посторонние события отбрасываются
		Event{Type: EventTypeDtmfReceived, Channel: Channel{ID: "chan-1"}, Digit: "5"},
		Event{Type: EventTypeStasisEnd, Channel: Channel{ID: "chan-1"}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = client.Run(ctx) }()

	var got []Event
	for len(got) < 3 {
		select {
		case ev := <-client.Events():
			got = append(got, ev)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, received %d events", len(got))
		}
	}

	assert.Equal(t, EventTypeStasisStart, got[0].Type)
	assert.Equal(t, "+442079460958", got[0].Channel.Caller.Number)
	assert.Equal(t, EventTypeDtmfReceived, got[1].Type)
	assert.Equal(t, "5", got[1].Digit)
	assert.Equal(t, EventTypeStasisEnd, got[2].Type)

	fake.mu.Lock()
	query := fake.wsQuery
	fake.mu.Unlock()
	assert.Contains(t, query, "app=teledoom")
	assert.Contains(t, query, "api_key=asterisk%3Asecret")
}

func TestClientRunStopsOnContextCancel(t *testing.T) {
	_, client := startFakeAsterisk(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on context cancel")
	}

	// Канал событий закрывается при завершении Run
	_, open := <-client.Events()
	assert.False(t, open)
}

func TestClientAnswer(t *testing.T) {
	fake, client := startFakeAsterisk(t)

	err := client.Answer(context.Background(), "chan-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"POST /ari/channels/chan-1/answer"}, fake.seenRequests())
}

func TestClientPlay(t *testing.T) {
	fake, client := startFakeAsterisk(t)

	playbackID, err := client.Play(context.Background(), "chan-1", "sound:welcome-to-teledoom")
	require.NoError(t, err)
	assert.Equal(t, "pb-1", playbackID)
	assert.Equal(t, []string{"POST /ari/channels/chan-1/play"}, fake.seenRequests())
}

func TestClientHangup(t *testing.T) {
	fake, client := startFakeAsterisk(t)

	err := client.Hangup(context.Background(), "chan-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"DELETE /ari/channels/chan-1"}, fake.seenRequests())
}

func TestClientBadCredentials(t *testing.T) {
	_, client := startFakeAsterisk(t)
	client.password = "wrong"

	err := client.Answer(context.Background(), "chan-1")
	assert.ErrorContains(t, err, "status 401")
}
