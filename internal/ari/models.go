package ari

// Типы событий ARI, которые обрабатывает сервис. Остальные события
// WebSocket потока игнорируются.
const (
	EventTypeStasisStart  = "StasisStart"
	EventTypeStasisEnd    = "StasisEnd"
	EventTypeDtmfReceived = "ChannelDtmfReceived"
)

// CallerID — идентификатор звонящего из сигнализации Asterisk.
type CallerID struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// Channel — канал Asterisk, участвующий в событии.
type Channel struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	State  string   `json:"state"`
	Caller CallerID `json:"caller"`
}

// Event — событие из WebSocket потока /ari/events.
type Event struct {
	Type        string  `json:"type"`
	Application string  `json:"application"`
	Channel     Channel `json:"channel"`
	// Digit и DurationMs заполнены только для ChannelDtmfReceived
	Digit      string `json:"digit,omitempty"`
	DurationMs int    `json:"duration_ms,omitempty"`
}

// Playback — запущенное воспроизведение медиа на канале.
type Playback struct {
	ID       string `json:"id"`
	MediaURI string `json:"media_uri"`
	State    string `json:"state"`
}
