package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"sync"

	"github.com/fogleman/gg"
	"go.uber.org/zap"
	"golang.org/x/image/font/basicfont"

	"teledoom/internal/phone"
)

// bannerHeight — высота плашки звонящего в пикселях.
const bannerHeight = 20

var (
	bannerFill    = color.RGBA{R: 128, G: 0, B: 0, A: 255}
	bannerOutline = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	bannerText    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
)

// Config — настройки оверлея.
type Config struct {
	Width  int
	Height int
	// FontPath — путь к TTF шрифту плашки. Если шрифт недоступен,
	// используется встроенный растровый шрифт.
	FontPath string
	FontSize float64
	// WatermarkPath — необязательный PNG, накладываемый в левом нижнем углу.
	WatermarkPath string
}

// Overlay рисует плашку с номером звонящего поверх кадров RGB24.
// Плашка перерисовывается только при смене звонящего; в горячем пути
// остается лишь попиксельное наложение заранее отрисованного фрагмента.
type Overlay struct {
	width    int
	height   int
	fontPath string
	fontSize float64
	logger   *zap.Logger

	watermark *image.RGBA

	mu      sync.RWMutex
	banner  *image.RGBA
	bannerX int
}

// New создает оверлей и выставляет состояние "No caller".
func New(cfg Config, logger *zap.Logger) (*Overlay, error) {
	if cfg.FontSize == 0 {
		cfg.FontSize = 16
	}
	o := &Overlay{
		width:    cfg.Width,
		height:   cfg.Height,
		fontPath: cfg.FontPath,
		fontSize: cfg.FontSize,
		logger:   logger.Named("Overlay"),
	}

	if cfg.WatermarkPath != "" {
		wm, err := loadWatermark(cfg.WatermarkPath)
		if err != nil {
			// Отсутствующий watermark — не повод не стартовать
			o.logger.Warn("Watermark not loaded", zap.String("path", cfg.WatermarkPath), zap.Error(err))
		} else {
			o.watermark = wm
		}
	}

	o.SetCaller("")
	return o, nil
}

// SetCaller перерисовывает плашку под номер звонящего. Пустая строка
// означает "No caller".
func (o *Overlay) SetCaller(number string) {
	text := phone.Display(number)

	dc := gg.NewContext(o.width, bannerHeight)
	if err := dc.LoadFontFace(o.fontPath, o.fontSize); err != nil {
		o.logger.Warn("Failed to load font face, using builtin font",
			zap.String("path", o.fontPath), zap.Error(err))
		dc.SetFontFace(basicfont.Face7x13)
	}

	textWidth, _ := dc.MeasureString(text)
	w := float64(o.width)

	// Скошенная плашка в правом верхнем углу кадра
	dc.NewSubPath()
	dc.MoveTo(w-textWidth-12, 0)
	dc.LineTo(w, 0)
	dc.LineTo(w, bannerHeight)
	dc.LineTo(w-textWidth-2, bannerHeight)
	dc.ClosePath()
	dc.SetColor(bannerFill)
	dc.FillPreserve()
	dc.SetColor(bannerOutline)
	dc.SetLineWidth(1)
	dc.Stroke()

	dc.SetColor(bannerText)
	dc.DrawString(text, w-textWidth-1, bannerHeight-4)

	banner, _ := dc.Image().(*image.RGBA)

	o.mu.Lock()
	o.banner = banner
	o.bannerX = int(w - textWidth - 13)
	if o.bannerX < 0 {
		o.bannerX = 0
	}
	o.mu.Unlock()

	o.logger.Info("Caller overlay updated", zap.String("caller", text))
}

// Draw накладывает плашку (и watermark, если задан) на кадр RGB24 и
// возвращает тот же срез. Кадр должен быть Width*Height*3 байт.
func (o *Overlay) Draw(frame []byte) []byte {
	o.mu.RLock()
	banner := o.banner
	bannerX := o.bannerX
	o.mu.RUnlock()

	if banner != nil {
		o.blend(frame, banner, bannerX, 0, bannerX, o.width, 0, bannerHeight)
	}
	if o.watermark != nil {
		b := o.watermark.Bounds()
		y0 := o.height - b.Dy()
		if y0 < 0 {
			y0 = 0
		}
		o.blend(frame, o.watermark, 0, y0, 0, min(b.Dx(), o.width), 0, min(b.Dy(), o.height))
	}
	return frame
}

// blend накладывает прямоугольник src [sx0,sx1)x[sy0,sy1) на кадр с
// позиции (dx, dy) с учетом альфа-канала.
func (o *Overlay) blend(frame []byte, src *image.RGBA, dx, dy, sx0, sx1, sy0, sy1 int) {
	for sy := sy0; sy < sy1; sy++ {
		fy := dy + sy - sy0
		if fy < 0 || fy >= o.height {
			continue
		}
		for sx := sx0; sx < sx1; sx++ {
			fx := dx + sx - sx0
			if fx < 0 || fx >= o.width {
				continue
			}
			si := src.PixOffset(sx, sy)
			a := uint32(src.Pix[si+3])
			if a == 0 {
				continue
			}
			fi := (fy*o.width + fx) * 3
			for c := 0; c < 3; c++ {
				s := uint32(src.Pix[si+c])
				d := uint32(frame[fi+c])
				frame[fi+c] = byte((s*a + d*(255-a)) / 255)
			}
		}
	}
}

func loadWatermark(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode watermark png: %w", err)
	}

	rgba := image.NewRGBA(img.Bounds())
	for y := img.Bounds().Min.Y; y < img.Bounds().Max.Y; y++ {
		for x := img.Bounds().Min.X; x < img.Bounds().Max.X; x++ {
			rgba.Set(x, y, img.At(x, y))
		}
	}
	return rgba, nil
}
