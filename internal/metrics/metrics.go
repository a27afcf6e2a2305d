package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики сервиса. Регистрируются в глобальном реестре и отдаются через
// /metrics служебного HTTP сервера.
var (
	CallsAnswered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teledoom_calls_answered_total",
		Help: "Total number of answered inbound calls.",
	})
	CallsSeated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teledoom_calls_seated_total",
		Help: "Total number of callers who took the player seat.",
	})
	CallsQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teledoom_calls_queued_total",
		Help: "Total number of callers placed in the waiting queue.",
	})
	CallsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teledoom_calls_rejected_total",
		Help: "Total number of callers rejected by the cooldown check.",
	})
	SMSSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teledoom_sms_sent_total",
		Help: "Total number of welcome SMS successfully submitted.",
	})
	SMSFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teledoom_sms_failed_total",
		Help: "Total number of welcome SMS that failed to send.",
	})
	DTMFReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "teledoom_dtmf_received_total",
		Help: "Total number of DTMF digits received from the seated player.",
	}, []string{"validity"})
	FramesStreamed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teledoom_frames_streamed_total",
		Help: "Total number of video frames sent to the stream.",
	})
	StreamSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teledoom_stream_sessions_total",
		Help: "Total number of stream sessions started.",
	})
	EngineReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teledoom_engine_reconnects_total",
		Help: "Total number of reconnects to the game engine process.",
	})
	ARIReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "teledoom_ari_reconnects_total",
		Help: "Total number of reconnects to the ARI event stream.",
	})
	WaitingCallers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "teledoom_waiting_callers",
		Help: "Current depth of the waiting caller queue.",
	})
)
