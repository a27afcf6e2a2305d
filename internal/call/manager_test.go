package call

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"teledoom/internal/ari"
	"teledoom/internal/game"
	"teledoom/internal/messaging"
	"teledoom/internal/messaging/mocks"
)

type playedMedia struct {
	channelID string
	media     string
}

type fakeChannels struct {
	mu        sync.Mutex
	answered  []string
	played    []playedMedia
	hungUp    []string
	answerErr error
}

func (f *fakeChannels) Answer(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answerErr != nil {
		return f.answerErr
	}
	f.answered = append(f.answered, channelID)
	return nil
}

func (f *fakeChannels) Play(_ context.Context, channelID, media string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, playedMedia{channelID: channelID, media: media})
	return "playback-1", nil
}

func (f *fakeChannels) Hangup(_ context.Context, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hungUp = append(f.hungUp, channelID)
	return nil
}

func (f *fakeChannels) mediaFor(channelID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var media []string
	for _, p := range f.played {
		if p.channelID == channelID {
			media = append(media, p.media)
		}
	}
	return media
}

type fakeCooldown struct {
	allow bool
	err   error
}

func (f *fakeCooldown) Touch(context.Context, string, time.Duration) (bool, error) {
	return f.allow, f.err
}

type fakeSMS struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeSMS) SendSMS(_ context.Context, to, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

// testConfig обнуляет паузы между подсказками, чтобы тесты не ждали.
func testConfig() Config {
	return Config{
		WelcomeMessage: "welcome",
		AnswerPause:    -1,
		PromptPause:    -1,
	}
}

// startCall повторяет обработку StasisStart из HandleEvent, но синхронно,
// чтобы тесты не гонялись за горутиной.
func startCall(m *Manager, channel ari.Channel) {
	m.markLive(channel.ID)
	m.handleStasisStart(context.Background(), channel)
}

func channelEvent(eventType, channelID, number string) ari.Event {
	return ari.Event{
		Type: eventType,
		Channel: ari.Channel{
			ID:     channelID,
			Caller: ari.CallerID{Number: number},
		},
	}
}

func drain(events chan game.Event) []game.Event {
	var out []game.Event
	for {
		select {
		case e := <-events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestManagerFirstCallerTakesSeat(t *testing.T) {
	channels := &fakeChannels{}
	events := make(chan game.Event, 16)
	m := NewManager(channels, events, testConfig(), Options{}, zap.NewNop())

	startCall(m, ari.Channel{
		ID:     "chan-1",
		Caller: ari.CallerID{Number: "+442079460958"},
	})

	assert.Equal(t, []string{"chan-1"}, channels.answered)
	assert.Equal(t, []string{mediaWelcome, mediaTwitch, mediaEntering}, channels.mediaFor("chan-1"))

	got := drain(events)
	assert.Len(t, got, 2)
	assert.Equal(t, game.EventGotConnection, got[0].Type)
	assert.Equal(t, game.EventNewPlayer, got[1].Type)
	assert.Equal(t, "+442079460958", got[1].Caller)

	st := m.Status()
	assert.True(t, st.SeatOccupied)
	assert.Equal(t, "+44 20 XXXX 0958", st.Caller)
	assert.Equal(t, 0, st.QueueDepth)
}

func TestManagerSecondCallerQueued(t *testing.T) {
	channels := &fakeChannels{}
	events := make(chan game.Event, 16)
	m := NewManager(channels, events, testConfig(), Options{}, zap.NewNop())

	startCall(m, ari.Channel{ID: "chan-1", Caller: ari.CallerID{Number: "+442079460958"}})
	startCall(m, ari.Channel{ID: "chan-2", Caller: ari.CallerID{Number: "+14155552671"}})

	assert.Equal(t, []string{mediaWelcome, mediaTwitch, mediaQueued}, channels.mediaFor("chan-2"))

	st := m.Status()
	assert.True(t, st.SeatOccupied)
	assert.Equal(t, 1, st.QueueDepth)
}

func TestManagerDtmfOnlyFromSeatedChannel(t *testing.T) {
	channels := &fakeChannels{}
	events := make(chan game.Event, 16)
	m := NewManager(channels, events, testConfig(), Options{}, zap.NewNop())

	startCall(m, ari.Channel{ID: "chan-1", Caller: ari.CallerID{Number: "+442079460958"}})
	startCall(m, ari.Channel{ID: "chan-2", Caller: ari.CallerID{Number: "+14155552671"}})
	drain(events)

	m.HandleEvent(context.Background(), channelEvent(ari.EventTypeDtmfReceived, "chan-1", "+442079460958"))
	m.HandleEvent(context.Background(), channelEvent(ari.EventTypeDtmfReceived, "chan-2", "+14155552671"))

	got := drain(events)
	assert.Len(t, got, 1)
	assert.Equal(t, game.EventButtonPressed, got[0].Type)
}

func TestManagerPromotesWaitingCallerOnHangup(t *testing.T) {
	channels := &fakeChannels{}
	events := make(chan game.Event, 16)
	m := NewManager(channels, events, testConfig(), Options{}, zap.NewNop())

	startCall(m, ari.Channel{ID: "chan-1", Caller: ari.CallerID{Number: "+442079460958"}})
	startCall(m, ari.Channel{ID: "chan-2", Caller: ari.CallerID{Number: "+14155552671"}})
	drain(events)

	m.HandleEvent(context.Background(), channelEvent(ari.EventTypeStasisEnd, "chan-1", "+442079460958"))

	// Подсказка о входе в игру играет на канале нового игрока
	assert.Contains(t, channels.mediaFor("chan-2"), mediaEntering)

	got := drain(events)
	assert.Len(t, got, 1)
	assert.Equal(t, game.EventNewPlayer, got[0].Type)
	assert.Equal(t, "+14155552671", got[0].Caller)

	st := m.Status()
	assert.True(t, st.SeatOccupied)
	assert.Equal(t, "+1 415-XXX-X671", st.Caller)
	assert.Equal(t, 0, st.QueueDepth)
}

func TestManagerSeatFreedWhenQueueEmpty(t *testing.T) {
	channels := &fakeChannels{}
	events := make(chan game.Event, 16)
	m := NewManager(channels, events, testConfig(), Options{}, zap.NewNop())

	startCall(m, ari.Channel{ID: "chan-1", Caller: ari.CallerID{Number: "+442079460958"}})
	drain(events)

	m.HandleEvent(context.Background(), channelEvent(ari.EventTypeStasisEnd, "chan-1", "+442079460958"))

	got := drain(events)
	assert.Len(t, got, 1)
	assert.Equal(t, game.EventNoPlayer, got[0].Type)

	st := m.Status()
	assert.False(t, st.SeatOccupied)
	assert.Equal(t, "No caller", st.Caller)
}

func TestManagerHangupOfUnknownChannelIsIgnored(t *testing.T) {
	channels := &fakeChannels{}
	events := make(chan game.Event, 16)
	m := NewManager(channels, events, testConfig(), Options{}, zap.NewNop())

	startCall(m, ari.Channel{ID: "chan-1", Caller: ari.CallerID{Number: "+442079460958"}})
	drain(events)

	m.HandleEvent(context.Background(), channelEvent(ari.EventTypeStasisEnd, "chan-99", ""))

	assert.Empty(t, drain(events))
	assert.True(t, m.Status().SeatOccupied)
}

func TestManagerWaitingCallerHangupShrinksQueue(t *testing.T) {
	channels := &fakeChannels{}
	events := make(chan game.Event, 16)
	m := NewManager(channels, events, testConfig(), Options{}, zap.NewNop())

	startCall(m, ari.Channel{ID: "chan-1", Caller: ari.CallerID{Number: "+442079460958"}})
	startCall(m, ari.Channel{ID: "chan-2", Caller: ari.CallerID{Number: "+14155552671"}})
	drain(events)

	m.HandleEvent(context.Background(), channelEvent(ari.EventTypeStasisEnd, "chan-2", "+14155552671"))

	assert.Empty(t, drain(events))
	st := m.Status()
	assert.True(t, st.SeatOccupied)
	assert.Equal(t, 0, st.QueueDepth)
}

func TestManagerCoolingDownCallerRejected(t *testing.T) {
	channels := &fakeChannels{}
	events := make(chan game.Event, 16)
	m := NewManager(channels, events, testConfig(), Options{
		Cooldown: &fakeCooldown{allow: false},
	}, zap.NewNop())

	startCall(m, ari.Channel{ID: "chan-1", Caller: ari.CallerID{Number: "+442079460958"}})

	assert.Equal(t, []string{"chan-1"}, channels.hungUp)
	assert.Equal(t, []string{mediaCooldown}, channels.mediaFor("chan-1"))
	assert.Empty(t, drain(events))
	assert.False(t, m.Status().SeatOccupied)
}

func TestManagerCooldownErrorDoesNotRejectCall(t *testing.T) {
	channels := &fakeChannels{}
	events := make(chan game.Event, 16)
	m := NewManager(channels, events, testConfig(), Options{
		Cooldown: &fakeCooldown{err: errors.New("redis down")},
	}, zap.NewNop())

	startCall(m, ari.Channel{ID: "chan-1", Caller: ari.CallerID{Number: "+442079460958"}})

	assert.Empty(t, channels.hungUp)
	assert.True(t, m.Status().SeatOccupied)
}

func TestManagerSendsWelcomeSMS(t *testing.T) {
	channels := &fakeChannels{}
	events := make(chan game.Event, 16)
	sender := &fakeSMS{}
	m := NewManager(channels, events, testConfig(), Options{SMS: sender}, zap.NewNop())

	startCall(m, ari.Channel{ID: "chan-1", Caller: ari.CallerID{Number: "+442079460958"}})

	assert.Equal(t, []string{"+442079460958"}, sender.sent)
}

func TestManagerPublishesMaskedCallerNumber(t *testing.T) {
	channels := &fakeChannels{}
	events := make(chan game.Event, 16)
	publisher := new(mocks.CallEventPublisher)
	publisher.On("PublishCallEvent", mock.Anything, mock.MatchedBy(func(p messaging.CallEventPayload) bool {
		return p.Caller == "+44 20 XXXX 0958"
	})).Return(nil)

	m := NewManager(channels, events, testConfig(), Options{Publisher: publisher}, zap.NewNop())

	startCall(m, ari.Channel{ID: "chan-1", Caller: ari.CallerID{Number: "+442079460958"}})

	publisher.AssertCalled(t, "PublishCallEvent", mock.Anything, mock.MatchedBy(func(p messaging.CallEventPayload) bool {
		return p.Event == messaging.CallSeated
	}))
}

func TestManagerCallerHangingUpDuringPromptsDoesNotTakeSeat(t *testing.T) {
	channels := &fakeChannels{}
	events := make(chan game.Event, 16)
	cfg := testConfig()
	cfg.AnswerPause = 20 * time.Millisecond
	cfg.PromptPause = 20 * time.Millisecond
	m := NewManager(channels, events, cfg, Options{}, zap.NewNop())

	// StasisStart через HandleEvent: приветствие играет в горутине
	m.HandleEvent(context.Background(), channelEvent(ari.EventTypeStasisStart, "chan-1", "+442079460958"))
	time.Sleep(10 * time.Millisecond)
	// Трубку повесили, не дослушав приветствие
	m.HandleEvent(context.Background(), channelEvent(ari.EventTypeStasisEnd, "chan-1", "+442079460958"))

	// Ждем, пока горутина приветствия дойдет до решения о месте
	time.Sleep(200 * time.Millisecond)

	st := m.Status()
	assert.False(t, st.SeatOccupied, "hung-up channel must not take the seat")
	assert.Equal(t, "No caller", st.Caller)
	assert.NotContains(t, channels.mediaFor("chan-1"), mediaEntering)

	// Следующий звонящий занимает место как обычно
	startCall(m, ari.Channel{ID: "chan-2", Caller: ari.CallerID{Number: "+14155552671"}})
	st = m.Status()
	assert.True(t, st.SeatOccupied)
	assert.Equal(t, "+1 415-XXX-X671", st.Caller)
}

func TestManagerAnswerFailureSkipsPrompts(t *testing.T) {
	channels := &fakeChannels{answerErr: errors.New("channel gone")}
	events := make(chan game.Event, 16)
	m := NewManager(channels, events, testConfig(), Options{}, zap.NewNop())

	startCall(m, ari.Channel{ID: "chan-1", Caller: ari.CallerID{Number: "+442079460958"}})

	assert.Empty(t, channels.played)
	got := drain(events)
	assert.Len(t, got, 1)
	assert.Equal(t, game.EventGotConnection, got[0].Type)
	assert.False(t, m.Status().SeatOccupied)
}
