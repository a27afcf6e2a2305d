package game

// EventType описывает тип события, поступающего в игровой цикл от
// телефонной части сервиса.
type EventType int

const (
	// EventGotConnection — входящий звонок ответили; стрим должен подняться
	// (или продолжиться) в режиме ожидания.
	EventGotConnection EventType = iota + 1
	// EventNewPlayer — звонящий занял игровое место.
	EventNewPlayer
	// EventNoPlayer — игровое место освободилось и очередь пуста.
	EventNoPlayer
	// EventButtonPressed — игрок нажал клавишу на телефоне.
	EventButtonPressed
)

func (t EventType) String() string {
	switch t {
	case EventGotConnection:
		return "GOT_CONNECTION"
	case EventNewPlayer:
		return "NEW_PLAYER"
	case EventNoPlayer:
		return "NO_PLAYER"
	case EventButtonPressed:
		return "BUTTON_PRESSED"
	default:
		return "UNKNOWN"
	}
}

// Event — событие игрового цикла.
type Event struct {
	Type EventType
	// Caller — номер звонящего (для EventNewPlayer).
	Caller string
	// Digit — нажатая клавиша DTMF (для EventButtonPressed).
	Digit string
}
