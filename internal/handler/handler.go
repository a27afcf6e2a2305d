package handler

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"teledoom/internal/call"
	"teledoom/internal/middleware"
	"teledoom/internal/phone"
	"teledoom/internal/repository"
)

// CallStatusProvider отдает текущее состояние телефонии.
type CallStatusProvider interface {
	Status() call.Status
}

// StreamStatusProvider сообщает, идет ли сейчас стрим.
type StreamStatusProvider interface {
	Streaming() bool
}

// StatusHandler обслуживает служебные эндпоинты: health, status, metrics.
type StatusHandler struct {
	calls   CallStatusProvider
	game    StreamStatusProvider
	history repository.CallRepository // nil — журнал звонков отключен
	logger  *zap.Logger
}

// NewStatusHandler создает обработчик служебного API.
func NewStatusHandler(
	calls CallStatusProvider,
	game StreamStatusProvider,
	history repository.CallRepository,
	logger *zap.Logger,
) *StatusHandler {
	return &StatusHandler{
		calls:   calls,
		game:    game,
		history: history,
		logger:  logger.Named("StatusHandler"),
	}
}

type statusResponse struct {
	Streaming    bool                 `json:"streaming"`
	SeatOccupied bool                 `json:"seat_occupied"`
	Caller       string               `json:"caller"`
	QueueDepth   int                  `json:"queue_depth"`
	RecentCalls  []recentCallResponse `json:"recent_calls,omitempty"`
}

type recentCallResponse struct {
	Caller      string     `json:"caller"`
	Disposition string     `json:"disposition"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

func (h *StatusHandler) getStatus(c *gin.Context) {
	st := h.calls.Status()
	resp := statusResponse{
		Streaming:    h.game.Streaming(),
		SeatOccupied: st.SeatOccupied,
		Caller:       st.Caller,
		QueueDepth:   st.QueueDepth,
	}

	if h.history != nil {
		records, err := h.history.ListRecent(c.Request.Context(), 10)
		if err != nil {
			h.logger.Warn("Failed to list recent calls", zap.Error(err))
		} else {
			for _, r := range records {
				resp.RecentCalls = append(resp.RecentCalls, recentCallResponse{
					Caller:      phone.Display(r.CallerNumber),
					Disposition: r.Disposition,
					StartedAt:   r.StartedAt,
					EndedAt:     r.EndedAt,
				})
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

// NewRouter собирает служебный HTTP сервер.
func NewRouter(env string, h *StatusHandler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	if env == "development" {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(middleware.GinZapLogger(logger))
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "HEAD", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	// /health регистрируется до Prometheus middleware и не попадает в метрики
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	// Middleware, добавленное через Use, не видит уже зарегистрированные
	// роуты, поэтому Prometheus подключается до /status
	p := ginprometheus.NewPrometheus("gin")
	p.Use(router)

	router.GET("/status", h.getStatus)

	return router
}
