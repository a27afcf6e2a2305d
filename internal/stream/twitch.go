package stream

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"
)

// Publisher — открытая стриминговая сессия. SendFrame отправляет один сырой
// RGB24 кадр; Close закрывает поток и дожидается завершения ffmpeg.
type Publisher interface {
	SendFrame(frame []byte) error
	Close() error
}

// Starter поднимает стриминговую сессию. Выделен в интерфейс, чтобы игровой
// цикл можно было тестировать без ffmpeg.
type Starter interface {
	Start(ctx context.Context) (Publisher, error)
}

// Compile-time checks.
var (
	_ Starter   = (*Twitch)(nil)
	_ Publisher = (*session)(nil)
)

// Twitch описывает исходящий RTMP поток: немое стерео 44.1kHz плюс сырое
// видео 320x240, которое сервис пишет ffmpeg в stdin.
type Twitch struct {
	url     string
	fps     int
	cbr     string
	width   int
	height  int
	verbose bool
	logger  *zap.Logger
}

// Config — настройки потока.
type Config struct {
	URL     string
	FPS     int
	CBR     string
	Width   int
	Height  int
	Verbose bool
}

// NewTwitch создает описание потока.
func NewTwitch(cfg Config, logger *zap.Logger) *Twitch {
	return &Twitch{
		url:     cfg.URL,
		fps:     cfg.FPS,
		cbr:     cfg.CBR,
		width:   cfg.Width,
		height:  cfg.Height,
		verbose: cfg.Verbose,
		logger:  logger.Named("TwitchStream"),
	}
}

// Start запускает ffmpeg и возвращает Publisher, пишущий кадры в его stdin.
// Параметры кодирования подобраны под минимальную задержку при постоянном
// битрейте (требование Twitch для стабильного CBR стрима).
func (t *Twitch) Start(ctx context.Context) (Publisher, error) {
	audio := ffmpeg.Input(
		"anullsrc=channel_layout=stereo:sample_rate=44100",
		ffmpeg.KwArgs{"format": "lavfi"},
	)
	video := ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"format":  "rawvideo",
		"pix_fmt": "rgb24",
		"r":       t.fps,
		"s":       fmt.Sprintf("%dx%d", t.width, t.height),
	})

	cmd := ffmpeg.Output(
		[]*ffmpeg.Stream{audio, video},
		t.url,
		ffmpeg.KwArgs{
			"format":          "flv",
			"vcodec":          "libx264",
			"g":               2 * t.fps,
			"keyint_min":      t.fps,
			"pix_fmt":         "yuv420p",
			"preset":          "ultrafast",
			"tune":            "zerolatency",
			"threads":         1,
			"acodec":          "aac",
			"b:v":             t.cbr,
			"minrate":         t.cbr,
			"maxrate":         t.cbr,
			"fflags":          "nobuffer",
			"probesize":       32,
			"analyzeduration": 0,
		},
	).Compile()

	// -shortest — флаг без значения, вставляем его перед выходным URL
	outURL := cmd.Args[len(cmd.Args)-1]
	cmd.Args = append(cmd.Args[:len(cmd.Args)-1], "-shortest", outURL)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdin: %w", err)
	}
	if t.verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	t.logger.Info("ffmpeg started", zap.Int("pid", cmd.Process.Pid), zap.Int("fps", t.fps), zap.String("cbr", t.cbr))

	return &session{
		cmd:    cmd,
		stdin:  stdin,
		logger: t.logger,
	}, nil
}

type session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *zap.Logger
}

func (s *session) SendFrame(frame []byte) error {
	if _, err := s.stdin.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame to ffmpeg: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	// Закрытие stdin сигнализирует ffmpeg конец потока
	if err := s.stdin.Close(); err != nil {
		s.logger.Warn("Failed to close ffmpeg stdin", zap.Error(err))
	}
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg exited with error: %w", err)
	}
	s.logger.Info("ffmpeg stopped")
	return nil
}
