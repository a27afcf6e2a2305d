package call

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"teledoom/internal/ari"
	"teledoom/internal/game"
	"teledoom/internal/messaging"
	"teledoom/internal/metrics"
	"teledoom/internal/phone"
	"teledoom/internal/repository"
	"teledoom/internal/sms"
)

// Звуковые подсказки. Сами файлы лежат на стороне Asterisk.
const (
	mediaWelcome  = "sound:welcome-to-teledoom"
	mediaTwitch   = "sound:please-go-to-twitch"
	mediaEntering = "sound:you-are-entering-the-game"
	mediaQueued   = "sound:you-are-being-placed-in-a-queue"
	mediaCooldown = "sound:please-call-back-later"
)

// ChannelAPI — операции ARI над каналом, которые нужны менеджеру звонков.
type ChannelAPI interface {
	Answer(ctx context.Context, channelID string) error
	Play(ctx context.Context, channelID, media string) (string, error)
	Hangup(ctx context.Context, channelID string) error
}

// Config — настройки менеджера звонков.
type Config struct {
	// WelcomeMessage — текст приветственного SMS.
	WelcomeMessage string
	// CooldownTTL — окно кулдауна повторных звонков (используется только
	// если задан репозиторий кулдауна).
	CooldownTTL time.Duration
	// AnswerPause — пауза между ответом на звонок и первой подсказкой.
	// Ноль — значение по умолчанию 500ms (в тестах паузы обнуляются
	// отрицательным значением).
	AnswerPause time.Duration
	// PromptPause — пауза между подсказками. Ноль — значение по
	// умолчанию 1s.
	PromptPause time.Duration
}

// Status — срез состояния для служебного API. Номер звонящего уже
// замаскирован.
type Status struct {
	SeatOccupied bool   `json:"seat_occupied"`
	Caller       string `json:"caller"`
	QueueDepth   int    `json:"queue_depth"`
}

type caller struct {
	number    string
	channelID string
}

// Manager ведет звонки Stasis приложения: отвечает, проигрывает подсказки,
// сажает первого звонящего за игру, ставит остальных в очередь и
// транслирует DTMF игрока в игровые события.
type Manager struct {
	channels  ChannelAPI
	sender    sms.Sender                    // nil — SMS отключен
	cooldown  repository.CooldownRepository // nil — кулдаун отключен
	calls     repository.CallRepository     // nil — журнал отключен
	publisher messaging.CallEventPublisher  // nil — публикация отключена
	events    chan<- game.Event
	logger    *zap.Logger

	welcomeMessage string
	cooldownTTL    time.Duration
	answerPause    time.Duration
	promptPause    time.Duration

	mu      sync.Mutex
	seat    *caller
	waiting []caller
	// live — каналы между StasisStart и StasisEnd. Приветствие играет в
	// отдельной горутине, и StasisEnd может прийти раньше, чем канал займет
	// место или встанет в очередь; мертвый канал сажать нельзя.
	live map[string]struct{}
}

// Options — необязательные зависимости менеджера.
type Options struct {
	SMS       sms.Sender
	Cooldown  repository.CooldownRepository
	Calls     repository.CallRepository
	Publisher messaging.CallEventPublisher
}

// NewManager создает менеджер звонков.
func NewManager(
	channels ChannelAPI,
	events chan<- game.Event,
	cfg Config,
	opts Options,
	logger *zap.Logger,
) *Manager {
	answerPause := cfg.AnswerPause
	if answerPause == 0 {
		answerPause = 500 * time.Millisecond
	} else if answerPause < 0 {
		answerPause = 0
	}
	promptPause := cfg.PromptPause
	if promptPause == 0 {
		promptPause = time.Second
	} else if promptPause < 0 {
		promptPause = 0
	}
	return &Manager{
		channels:       channels,
		sender:         opts.SMS,
		cooldown:       opts.Cooldown,
		calls:          opts.Calls,
		publisher:      opts.Publisher,
		events:         events,
		logger:         logger.Named("CallManager"),
		welcomeMessage: cfg.WelcomeMessage,
		cooldownTTL:    cfg.CooldownTTL,
		answerPause:    answerPause,
		promptPause:    promptPause,
		live:           make(map[string]struct{}),
	}
}

// Status возвращает срез состояния для служебного API.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		SeatOccupied: m.seat != nil,
		Caller:       phone.NoCaller,
		QueueDepth:   len(m.waiting),
	}
	if m.seat != nil {
		st.Caller = phone.Display(m.seat.number)
	}
	return st
}

// HandleEvent обрабатывает событие ARI. StasisStart обрабатывается в
// отдельной горутине: паузы между подсказками не должны блокировать
// события других каналов.
func (m *Manager) HandleEvent(ctx context.Context, event ari.Event) {
	switch event.Type {
	case ari.EventTypeStasisStart:
		// Канал отмечается живым до запуска горутины, чтобы его StasisEnd
		// не потерялся во время приветствия
		m.markLive(event.Channel.ID)
		go m.handleStasisStart(ctx, event.Channel)
	case ari.EventTypeDtmfReceived:
		m.handleDtmf(ctx, event.Channel, event.Digit)
	case ari.EventTypeStasisEnd:
		m.handleStasisEnd(ctx, event.Channel)
	}
}

func (m *Manager) handleStasisStart(ctx context.Context, channel ari.Channel) {
	log := m.logger.With(
		zap.String("channel_id", channel.ID),
		zap.String("caller", phone.Display(channel.Caller.Number)),
	)
	log.Info("Incoming call")

	if !m.passesCooldown(ctx, channel, log) {
		m.forget(channel.ID)
		return
	}

	m.emit(ctx, game.Event{Type: game.EventGotConnection})

	if err := m.channels.Answer(ctx, channel.ID); err != nil {
		log.Error("Failed to answer channel", zap.Error(err))
		m.forget(channel.ID)
		return
	}
	metrics.CallsAnswered.Inc()
	m.recordCall(ctx, channel)
	m.publish(ctx, messaging.CallAnswered, channel)

	if m.sender != nil {
		if err := m.sender.SendSMS(ctx, channel.Caller.Number, m.welcomeMessage); err != nil {
			log.Warn("Welcome SMS not sent", zap.Error(err))
			metrics.SMSFailed.Inc()
		} else {
			metrics.SMSSent.Inc()
		}
	}

	if !m.sleep(ctx, m.answerPause) {
		return
	}
	m.play(ctx, channel.ID, mediaWelcome, log)
	if !m.sleep(ctx, m.promptPause) {
		return
	}
	m.play(ctx, channel.ID, mediaTwitch, log)
	if !m.sleep(ctx, m.promptPause) {
		return
	}

	m.mu.Lock()
	if _, alive := m.live[channel.ID]; !alive {
		m.mu.Unlock()
		// Звонящий повесил трубку во время приветствия; его StasisEnd уже
		// обработан и больше не придет
		log.Info("Caller hung up during welcome prompts")
		return
	}
	if m.seat == nil {
		m.seat = &caller{number: channel.Caller.Number, channelID: channel.ID}
		m.mu.Unlock()

		log.Info("Caller takes the player seat")
		m.play(ctx, channel.ID, mediaEntering, log)
		m.emit(ctx, game.Event{Type: game.EventNewPlayer, Caller: channel.Caller.Number})
		metrics.CallsSeated.Inc()
		m.setDisposition(ctx, channel.ID, repository.DispositionPlayed)
		m.publish(ctx, messaging.CallSeated, channel)
		return
	}

	m.waiting = append(m.waiting, caller{number: channel.Caller.Number, channelID: channel.ID})
	depth := len(m.waiting)
	m.mu.Unlock()

	log.Info("Caller placed in the waiting queue", zap.Int("position", depth))
	metrics.CallsQueued.Inc()
	metrics.WaitingCallers.Set(float64(depth))
	m.play(ctx, channel.ID, mediaQueued, log)
	m.setDisposition(ctx, channel.ID, repository.DispositionQueued)
	m.publish(ctx, messaging.CallQueued, channel)
}

// passesCooldown проверяет кулдаун повторных звонков. Ошибка проверки не
// отбивает звонок: Redis не должен быть точкой отказа телефонии.
func (m *Manager) passesCooldown(ctx context.Context, channel ari.Channel, log *zap.Logger) bool {
	if m.cooldown == nil {
		return true
	}
	ok, err := m.cooldown.Touch(ctx, channel.Caller.Number, m.cooldownTTL)
	if err != nil {
		log.Warn("Cooldown check failed, allowing call", zap.Error(err))
		return true
	}
	if ok {
		return true
	}

	log.Info("Caller is cooling down, rejecting call")
	metrics.CallsRejected.Inc()
	if err := m.channels.Answer(ctx, channel.ID); err == nil {
		m.play(ctx, channel.ID, mediaCooldown, log)
		_ = m.sleep(ctx, m.promptPause)
	}
	if err := m.channels.Hangup(ctx, channel.ID); err != nil {
		log.Warn("Failed to hang up cooling down caller", zap.Error(err))
	}
	m.recordRejected(ctx, channel)
	m.publish(ctx, messaging.CallRejected, channel)
	return false
}

func (m *Manager) handleDtmf(ctx context.Context, channel ari.Channel, digit string) {
	m.mu.Lock()
	seated := m.seat != nil && m.seat.channelID == channel.ID
	m.mu.Unlock()

	if !seated {
		// DTMF от ожидающих в очереди игнорируется
		return
	}
	m.emit(ctx, game.Event{Type: game.EventButtonPressed, Digit: digit})
}

func (m *Manager) handleStasisEnd(ctx context.Context, channel ari.Channel) {
	log := m.logger.With(zap.String("channel_id", channel.ID))

	m.mu.Lock()
	delete(m.live, channel.ID)
	if m.seat != nil && m.seat.channelID == channel.ID {
		if len(m.waiting) > 0 {
			promoted := m.waiting[0]
			m.waiting = m.waiting[1:]
			m.seat = &promoted
			depth := len(m.waiting)
			m.mu.Unlock()

			log.Info("Player hung up, promoting caller from queue",
				zap.String("promoted_channel_id", promoted.channelID))
			metrics.WaitingCallers.Set(float64(depth))

			// Подсказка играет на канале нового игрока
			m.play(ctx, promoted.channelID, mediaEntering, log)
			m.emit(ctx, game.Event{Type: game.EventNewPlayer, Caller: promoted.number})
			metrics.CallsSeated.Inc()
			m.setDisposition(ctx, promoted.channelID, repository.DispositionPlayed)
			m.publish(ctx, messaging.PlayerRotated, ari.Channel{ID: promoted.channelID, Caller: ari.CallerID{Number: promoted.number}})
		} else {
			m.seat = nil
			m.mu.Unlock()

			log.Info("Player hung up, no one waiting")
			m.emit(ctx, game.Event{Type: game.EventNoPlayer})
		}
	} else {
		removed := false
		for i, w := range m.waiting {
			if w.channelID == channel.ID {
				m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
				removed = true
				break
			}
		}
		depth := len(m.waiting)
		m.mu.Unlock()

		if removed {
			log.Info("Waiting caller hung up", zap.Int("queue_depth", depth))
			metrics.WaitingCallers.Set(float64(depth))
		}
	}

	m.finishCall(ctx, channel.ID)
	m.publish(ctx, messaging.CallEnded, channel)
}

func (m *Manager) markLive(channelID string) {
	m.mu.Lock()
	m.live[channelID] = struct{}{}
	m.mu.Unlock()
}

// forget снимает отметку живого канала, когда звонок не дошел до места или
// очереди (кулдаун, ошибка ответа).
func (m *Manager) forget(channelID string) {
	m.mu.Lock()
	delete(m.live, channelID)
	m.mu.Unlock()
}

// emit отправляет событие в игровой цикл.
func (m *Manager) emit(ctx context.Context, event game.Event) {
	select {
	case m.events <- event:
	case <-ctx.Done():
	}
}

// play проигрывает подсказку; ошибка воспроизведения не прерывает звонок.
func (m *Manager) play(ctx context.Context, channelID, media string, log *zap.Logger) {
	if _, err := m.channels.Play(ctx, channelID, media); err != nil {
		log.Warn("Failed to play media", zap.String("media", media), zap.Error(err))
	}
}

// sleep ждет d, уважая отмену контекста. Возвращает false при отмене.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (m *Manager) recordCall(ctx context.Context, channel ari.Channel) {
	if m.calls == nil {
		return
	}
	err := m.calls.Create(ctx, &repository.CallRecord{
		ChannelID:    channel.ID,
		CallerNumber: channel.Caller.Number,
		Disposition:  repository.DispositionAnswered,
	})
	if err != nil {
		m.logger.Warn("Failed to record call", zap.Error(err))
	}
}

func (m *Manager) recordRejected(ctx context.Context, channel ari.Channel) {
	if m.calls == nil {
		return
	}
	now := time.Now()
	record := &repository.CallRecord{
		ChannelID:    channel.ID,
		CallerNumber: channel.Caller.Number,
		Disposition:  repository.DispositionRejected,
		EndedAt:      &now,
	}
	if err := m.calls.Create(ctx, record); err != nil {
		m.logger.Warn("Failed to record rejected call", zap.Error(err))
	}
}

func (m *Manager) setDisposition(ctx context.Context, channelID, disposition string) {
	if m.calls == nil {
		return
	}
	if err := m.calls.SetDisposition(ctx, channelID, disposition); err != nil {
		m.logger.Warn("Failed to update call disposition", zap.Error(err))
	}
}

func (m *Manager) finishCall(ctx context.Context, channelID string) {
	if m.calls == nil {
		return
	}
	if err := m.calls.Finish(ctx, channelID, time.Now()); err != nil {
		m.logger.Warn("Failed to finish call record", zap.Error(err))
	}
}

// publish отправляет событие жизненного цикла звонка внешним потребителям.
func (m *Manager) publish(ctx context.Context, eventName string, channel ari.Channel) {
	if m.publisher == nil {
		return
	}
	m.mu.Lock()
	depth := len(m.waiting)
	m.mu.Unlock()

	err := m.publisher.PublishCallEvent(ctx, messaging.CallEventPayload{
		Event:      eventName,
		ChannelID:  channel.ID,
		Caller:     phone.Display(channel.Caller.Number),
		QueueDepth: depth,
		Timestamp:  time.Now(),
	})
	if err != nil {
		m.logger.Warn("Failed to publish call event", zap.String("event", eventName), zap.Error(err))
	}
}
