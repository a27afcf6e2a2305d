package ari

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"teledoom/internal/metrics"
)

const (
	// reconnectBaseDelay — начальная пауза перед переподключением к
	// WebSocket потоку событий; удваивается до reconnectMaxDelay.
	reconnectBaseDelay = time.Second
	reconnectMaxDelay  = 30 * time.Second

	requestTimeout = 5 * time.Second
)

// ClientConfig — настройки подключения к Asterisk REST Interface.
type ClientConfig struct {
	// URL — базовый адрес Asterisk, например "http://localhost:8088".
	URL      string
	Username string
	Password string
	// App — имя Stasis приложения, на которое подписывается клиент.
	App string
	// EventBuffer — размер буфера канала событий. Ноль — значение по
	// умолчанию (64).
	EventBuffer int
}

// Client — клиент ARI: REST операции над каналами плюс WebSocket поток
// событий Stasis приложения.
type Client struct {
	baseURL    string
	username   string
	password   string
	app        string
	httpClient *http.Client
	dialer     *websocket.Dialer
	logger     *zap.Logger
	events     chan Event
}

// NewClient создает клиента ARI.
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	buffer := cfg.EventBuffer
	if buffer == 0 {
		buffer = 64
	}
	return &Client{
		baseURL:  strings.TrimSuffix(cfg.URL, "/"),
		username: cfg.Username,
		password: cfg.Password,
		app:      cfg.App,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		dialer: websocket.DefaultDialer,
		logger: logger.Named("ARIClient"),
		events: make(chan Event, buffer),
	}
}

// Events возвращает канал событий Stasis приложения. Канал закрывается,
// когда Run завершается.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Run держит WebSocket подключение к /ari/events, переподключаясь с
// экспоненциальной паузой при обрывах. Блокируется до отмены контекста.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)

	delay := reconnectBaseDelay
	for {
		err := c.pump(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("ARI event stream disconnected, reconnecting",
			zap.Error(err), zap.Duration("delay", delay))
		metrics.ARIReconnects.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay *= 2; delay > reconnectMaxDelay {
			delay = reconnectMaxDelay
		}
	}
}

// pump читает события из одного WebSocket подключения до обрыва.
func (c *Client) pump(ctx context.Context) error {
	wsURL, err := c.eventsURL()
	if err != nil {
		return err
	}

	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to dial ARI events: %w", err)
	}
	defer conn.Close()
	c.logger.Info("Connected to ARI event stream", zap.String("app", c.app))

	// Закрываем соединение при отмене контекста, чтобы разблокировать чтение
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("ARI event read failed: %w", err)
		}

		var event Event
		if err := json.Unmarshal(data, &event); err != nil {
			c.logger.Warn("Failed to decode ARI event", zap.Error(err), zap.ByteString("raw", data))
			continue
		}

		switch event.Type {
		case EventTypeStasisStart, EventTypeStasisEnd, EventTypeDtmfReceived:
			select {
			case c.events <- event:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			c.logger.Debug("Ignoring ARI event", zap.String("type", event.Type))
		}
	}
}

// eventsURL строит ws:// адрес потока событий из базового http:// адреса.
func (c *Client) eventsURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid ARI base URL %q: %w", c.baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ari/events"
	q := url.Values{}
	q.Set("app", c.app)
	q.Set("api_key", c.username+":"+c.password)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Answer отвечает на канал.
func (c *Client) Answer(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodPost, "/ari/channels/"+url.PathEscape(channelID)+"/answer", nil, nil)
}

// Play запускает воспроизведение медиа на канале и возвращает ID
// воспроизведения.
func (c *Client) Play(ctx context.Context, channelID, media string) (string, error) {
	playbackID := uuid.NewString()
	q := url.Values{}
	q.Set("media", media)
	q.Set("playbackId", playbackID)

	var playback Playback
	err := c.do(ctx, http.MethodPost, "/ari/channels/"+url.PathEscape(channelID)+"/play", q, &playback)
	if err != nil {
		return "", err
	}
	if playback.ID != "" {
		playbackID = playback.ID
	}
	return playbackID, nil
}

// Hangup завершает канал.
func (c *Client) Hangup(ctx context.Context, channelID string) error {
	return c.do(ctx, http.MethodDelete, "/ari/channels/"+url.PathEscape(channelID), nil, nil)
}

// do выполняет REST запрос к ARI с basic auth.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create ARI request: %w", err)
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ARI request %s %s failed: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("ARI request %s %s returned status %d: %s", method, path, resp.StatusCode, string(body))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return fmt.Errorf("failed to decode ARI response: %w", err)
		}
	}
	return nil
}
