package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ Session = (*wsSession)(nil)

// defaultRequestTimeout ограничивает один запрос к движку, если у контекста
// нет собственного дедлайна. Движок локальный, ответ приходит за миллисекунды.
const defaultRequestTimeout = 10 * time.Second

// Client устанавливает сессии с процессом игрового движка.
type Client struct {
	url    string
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewClient создает клиента движка. url — WebSocket адрес процесса движка,
// например "ws://doom-engine:8700/session".
func NewClient(url string, logger *zap.Logger) *Client {
	return &Client{
		url:    url,
		dialer: websocket.DefaultDialer,
		logger: logger.Named("EngineClient"),
	}
}

// Dial открывает WebSocket соединение и инициализирует сессию движка.
func (c *Client) Dial(ctx context.Context, cfg Config) (Session, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial engine at %s: %w", c.url, err)
	}

	s := &wsSession{
		conn:      conn,
		frameSize: cfg.Width * cfg.Height * 3,
		logger:    c.logger,
	}

	if err := s.command(ctx, request{Command: "init", Config: &cfg}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to init engine session: %w", err)
	}

	c.logger.Info("Engine session established",
		zap.String("url", c.url),
		zap.Int("width", cfg.Width),
		zap.Int("height", cfg.Height),
		zap.Int("ticrate", cfg.Ticrate),
	)
	return s, nil
}

// request — управляющее сообщение движку.
type request struct {
	Command string  `json:"command"`
	Config  *Config `json:"config,omitempty"`
	Buttons []bool  `json:"buttons,omitempty"`
}

// reply — ответ движка на управляющее сообщение.
type reply struct {
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
	Finished bool   `json:"finished,omitempty"`
}

type wsSession struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	frameSize int
	logger    *zap.Logger
}

func (s *wsSession) NewEpisode(ctx context.Context) error {
	return s.command(ctx, request{Command: "new_episode"})
}

func (s *wsSession) AdvanceAction(ctx context.Context) error {
	return s.command(ctx, request{Command: "advance"})
}

func (s *wsSession) MakeAction(ctx context.Context, pressed []bool) error {
	// Пустой вектор движок трактует как "все кнопки отпущены", но длина
	// должна совпадать с объявленной при init
	return s.command(ctx, request{Command: "action", Buttons: pressed})
}

// State запрашивает кадр. Ответ приходит бинарным сообщением:
// один байт флагов (бит 0 — эпизод завершен) и сырые RGB24 пиксели.
func (s *wsSession) State(ctx context.Context) (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.send(ctx, request{Command: "state"}); err != nil {
		return nil, err
	}

	msgType, data, err := s.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("failed to read engine state: %w", err)
	}
	if msgType != websocket.BinaryMessage {
		// Текстовый ответ на команду state — это ошибка движка
		var r reply
		if jsonErr := json.Unmarshal(data, &r); jsonErr == nil && r.Error != "" {
			return nil, fmt.Errorf("engine state error: %s", r.Error)
		}
		return nil, fmt.Errorf("unexpected engine state message type %d", msgType)
	}
	if len(data) != 1+s.frameSize {
		return nil, fmt.Errorf("unexpected engine frame size: got %d, want %d", len(data)-1, s.frameSize)
	}

	return &State{
		Frame:           data[1:],
		EpisodeFinished: data[0]&1 != 0,
	}, nil
}

func (s *wsSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Вежливо закрываем сессию; движок завершит эпизод сам
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return s.conn.Close()
}

// command отправляет управляющее сообщение и ждет текстовый ответ.
func (s *wsSession) command(ctx context.Context, req request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.send(ctx, req); err != nil {
		return err
	}

	var r reply
	if err := s.conn.ReadJSON(&r); err != nil {
		return fmt.Errorf("failed to read engine reply to %q: %w", req.Command, err)
	}
	if !r.OK {
		return fmt.Errorf("engine rejected %q: %s", req.Command, r.Error)
	}
	return nil
}

func (s *wsSession) send(ctx context.Context, req request) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultRequestTimeout)
	}
	_ = s.conn.SetWriteDeadline(deadline)
	_ = s.conn.SetReadDeadline(deadline)

	if err := s.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("failed to send %q to engine: %w", req.Command, err)
	}
	return nil
}
