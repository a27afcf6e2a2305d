package engine

import "context"

// Config — параметры игровой сессии, передаваемые движку при инициализации.
type Config struct {
	Width     int      `json:"width"`
	Height    int      `json:"height"`
	Ticrate   int      `json:"ticrate"`
	RenderHUD bool     `json:"render_hud"`
	Buttons   []string `json:"buttons"`
}

// State — состояние игры после очередного тика.
type State struct {
	// Frame — кадр экрана в формате RGB24, Width*Height*3 байт.
	Frame []byte
	// EpisodeFinished — эпизод завершен (игрок погиб или уровень пройден).
	EpisodeFinished bool
}

// Session — синхронная сессия с игровым движком. Движок (ViZDoom) работает
// отдельным процессом; сессия ходит к нему по WebSocket. Методы не
// потокобезопасны относительно друг друга — сессией владеет игровой цикл.
type Session interface {
	// NewEpisode начинает новый эпизод.
	NewEpisode(ctx context.Context) error
	// AdvanceAction продвигает игру на один тик без ввода игрока.
	AdvanceAction(ctx context.Context) error
	// MakeAction продвигает игру на один тик с вектором нажатых кнопок.
	MakeAction(ctx context.Context, pressed []bool) error
	// State возвращает текущий кадр и флаг завершения эпизода.
	State(ctx context.Context) (*State, error)
	// Close завершает сессию.
	Close() error
}
