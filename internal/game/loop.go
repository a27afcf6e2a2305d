package game

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"teledoom/internal/engine"
	"teledoom/internal/metrics"
	"teledoom/internal/stream"
)

// defaultIdleGrace — сколько стрим продолжает работать без игрока после
// подключения или ухода звонящего, чтобы зритель успел увидеть картинку.
const defaultIdleGrace = 15 * time.Second

// Decorator дорисовывает кадр перед отправкой в стрим (плашка звонящего).
type Decorator interface {
	SetCaller(number string)
	Draw(frame []byte) []byte
}

// Config — параметры игрового цикла.
type Config struct {
	FPS int
	// IdleGrace — время холостого стрима без игрока. Ноль означает
	// значение по умолчанию (15 секунд).
	IdleGrace time.Duration
}

// Loop связывает телефонные события, игровой движок и стрим: держит темп
// кадров, переключает игроков и транслирует нажатия клавиш в действия.
type Loop struct {
	engine  engine.Session
	stream  stream.Starter
	overlay Decorator
	events  <-chan Event
	fps     int
	grace   time.Duration
	logger  *zap.Logger

	streaming atomic.Bool
}

// Streaming сообщает, идет ли сейчас стриминговая сессия.
func (l *Loop) Streaming() bool {
	return l.streaming.Load()
}

// NewLoop создает игровой цикл. Сессией движка цикл владеет единолично.
func NewLoop(
	session engine.Session,
	streamer stream.Starter,
	overlay Decorator,
	events <-chan Event,
	cfg Config,
	logger *zap.Logger,
) *Loop {
	grace := cfg.IdleGrace
	if grace == 0 {
		grace = defaultIdleGrace
	}
	return &Loop{
		engine:  session,
		stream:  streamer,
		overlay: overlay,
		events:  events,
		fps:     cfg.FPS,
		grace:   grace,
		logger:  logger.Named("GameLoop"),
	}
}

func (l *Loop) frameInterval() time.Duration {
	return time.Second / time.Duration(l.fps)
}

// graceFrames — запас холостых кадров при простое.
func (l *Loop) graceFrames() int {
	return int(l.grace / l.frameInterval())
}

// Run крутит игровой цикл до отмены контекста. Ошибки движка и стрима
// завершают Run — решение о переподключении принимает вызывающий.
func (l *Loop) Run(ctx context.Context) error {
	for {
		ev, err := l.waitForEvent(ctx)
		if err != nil {
			return err
		}

		idle := true
		idleFramesLeft := 0
		switch ev.Type {
		case EventGotConnection:
			idleFramesLeft = l.graceFrames()
		case EventNewPlayer:
			l.overlay.SetCaller(ev.Caller)
			idle = false
		case EventNoPlayer:
			l.overlay.SetCaller("")
			idleFramesLeft = l.graceFrames()
		case EventButtonPressed:
			// Нажатие вне стриминговой сессии игнорируется
			continue
		}

		if idle && idleFramesLeft == 0 {
			continue
		}

		if err := l.runSession(ctx, idle, idleFramesLeft); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}

// waitForEvent ждет первое событие, продвигая движок на холостом ходу,
// чтобы демо-запись за кадром не замирала.
func (l *Loop) waitForEvent(ctx context.Context) (Event, error) {
	ticker := time.NewTicker(l.frameInterval())
	defer ticker.Stop()

	for {
		if err := l.engine.AdvanceAction(ctx); err != nil {
			return Event{}, fmt.Errorf("engine advance failed while idle: %w", err)
		}
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case ev, ok := <-l.events:
			if !ok {
				return Event{}, errors.New("event channel closed")
			}
			l.logger.Info("Game event", zap.Stringer("type", ev.Type))
			return ev, nil
		case <-ticker.C:
		}
	}
}

// runSession держит одну стриминговую сессию: от запуска ffmpeg до момента,
// когда игрока нет и запас холостых кадров исчерпан.
func (l *Loop) runSession(ctx context.Context, idle bool, idleFramesLeft int) error {
	publisher, err := l.stream.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			l.logger.Warn("Stream close failed", zap.Error(closeErr))
		}
	}()
	metrics.StreamSessions.Inc()
	l.streaming.Store(true)
	defer l.streaming.Store(false)
	l.logger.Info("Stream session started", zap.Bool("idle", idle))

	if err := l.engine.NewEpisode(ctx); err != nil {
		return fmt.Errorf("failed to start episode: %w", err)
	}
	buttons := NewButtonManager()
	start := time.Now()
	frames := 0

	for !idle || idleFramesLeft > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		state, err := l.engine.State(ctx)
		if err != nil {
			return fmt.Errorf("failed to get engine state: %w", err)
		}
		if state.EpisodeFinished {
			if err := l.engine.NewEpisode(ctx); err != nil {
				return fmt.Errorf("failed to restart episode: %w", err)
			}
			buttons = NewButtonManager()
			if state, err = l.engine.State(ctx); err != nil {
				return fmt.Errorf("failed to get engine state: %w", err)
			}
		}

		frame := l.overlay.Draw(state.Frame)
		if err := publisher.SendFrame(frame); err != nil {
			return fmt.Errorf("failed to send frame: %w", err)
		}
		metrics.FramesStreamed.Inc()
		frames++
		if idle {
			idleFramesLeft--
		}

		// Выдерживаем темп: кадр N уходит не раньше start + N/fps.
		// Оставшееся до дедлайна время тратим на разбор событий.
		deadline := start.Add(time.Duration(frames) * l.frameInterval())
		idle, idleFramesLeft, buttons, err = l.drainEvents(ctx, deadline, idle, idleFramesLeft, buttons)
		if err != nil {
			return err
		}

		if err := l.engine.MakeAction(ctx, buttons.Action()); err != nil {
			return fmt.Errorf("engine action failed: %w", err)
		}
	}

	l.logger.Info("Stream session finished", zap.Int("frames", frames))
	return nil
}

// drainEvents обрабатывает события до дедлайна кадра.
func (l *Loop) drainEvents(
	ctx context.Context,
	deadline time.Time,
	idle bool,
	idleFramesLeft int,
	buttons *ButtonManager,
) (bool, int, *ButtonManager, error) {
	for {
		wait := time.Until(deadline)

		if wait <= 0 {
			// Дедлайн прошел: забираем только уже накопившиеся события
			select {
			case ev, ok := <-l.events:
				if !ok {
					return idle, idleFramesLeft, buttons, errors.New("event channel closed")
				}
				idle, idleFramesLeft, buttons = l.applyEvent(ctx, ev, idle, idleFramesLeft, buttons)
				continue
			default:
				return idle, idleFramesLeft, buttons, nil
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return idle, idleFramesLeft, buttons, ctx.Err()
		case ev, ok := <-l.events:
			timer.Stop()
			if !ok {
				return idle, idleFramesLeft, buttons, errors.New("event channel closed")
			}
			idle, idleFramesLeft, buttons = l.applyEvent(ctx, ev, idle, idleFramesLeft, buttons)
		case <-timer.C:
			return idle, idleFramesLeft, buttons, nil
		}
	}
}

func (l *Loop) applyEvent(ctx context.Context, ev Event, idle bool, idleFramesLeft int, buttons *ButtonManager) (bool, int, *ButtonManager) {
	l.logger.Info("Game event", zap.Stringer("type", ev.Type))
	switch ev.Type {
	case EventGotConnection:
		if idle {
			idleFramesLeft = l.graceFrames()
		}
	case EventNewPlayer:
		l.overlay.SetCaller(ev.Caller)
		l.restartEpisode(ctx)
		buttons = NewButtonManager()
		idle = false
	case EventNoPlayer:
		l.overlay.SetCaller("")
		l.restartEpisode(ctx)
		buttons = NewButtonManager()
		idle = true
		idleFramesLeft = l.graceFrames()
	case EventButtonPressed:
		if !buttons.Press(ev.Digit, l.fps/2) {
			l.logger.Warn("Unknown DTMF digit ignored", zap.String("digit", ev.Digit))
			metrics.DTMFReceived.WithLabelValues("invalid").Inc()
		} else {
			metrics.DTMFReceived.WithLabelValues("valid").Inc()
		}
	}
	return idle, idleFramesLeft, buttons
}

// restartEpisode начинает эпизод заново при смене игрока; ошибка здесь не
// фатальна — следующий State ее вернет, если движок действительно умер.
// Контекст сессии не дает вызову пережить остановку цикла.
func (l *Loop) restartEpisode(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := l.engine.NewEpisode(ctx); err != nil {
		l.logger.Warn("Failed to restart episode on player change", zap.Error(err))
	}
}
