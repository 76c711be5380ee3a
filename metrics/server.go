package metrics

import (
	"context"
	"errors"
	"expvar"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Expvar metrics
	TwitchConnectionCount      = expvar.NewInt("twitch_connection_count")
	TwitchMessageRecievedCount = expvar.NewInt("twitch_message_recieved_count")
	TwitchMessageSentCount     = expvar.NewInt("twitch_message_sent_count")
	WPMGuessCount              = expvar.NewInt("wpm_guess_count")
	WPMRoundCount              = expvar.NewInt("wpm_round_count")
	DiscordMessageSent         = expvar.NewInt("discord_message_sent")
	EventSubReconnectCount     = expvar.NewInt("eventsub_reconnect_count")
	RewardsCreatedCount        = expvar.NewInt("rewards_created_count")

	// Prometheus metrics with labels
	EventSubFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eventsub_frames_total",
			Help: "Total number of EventSub websocket frames by message type",
		},
		[]string{"type"},
	)

	RedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redemptions_total",
			Help: "Total number of reconciled redemptions by path (push, poll) and outcome",
		},
		[]string{"path", "outcome"},
	)

	ClacksCredited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clacks_credited_total",
			Help: "Total number of clacks credited through reward redemptions",
		},
	)

	BrokerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_queue_depth",
			Help: "Number of EventSub notifications waiting for consumers",
		},
	)

	DiscordCommandTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discord_command_total",
			Help: "Total number of Discord commands invoked by command type",
		},
		[]string{"command"},
	)

	DiscordCommandErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discord_command_errors",
			Help: "Total number of Discord command errors by command type",
		},
		[]string{"command"},
	)

	DiscordCommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discord_command_duration_seconds",
			Help:    "Duration of Discord command execution in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)
)

type Server struct {
	*http.Server
	mux *http.ServeMux
}

// SetupServer builds the metrics, health and pprof server listening on addr.
func SetupServer(addr string) *Server {
	mux := http.NewServeMux()
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewBuildInfoCollector(),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewExpvarCollector(
			map[string]*prometheus.Desc{
				"twitch_connection_count":       prometheus.NewDesc("twitch_connection_count", "number of times twitch connection was established", nil, nil),
				"twitch_message_recieved_count": prometheus.NewDesc("twitch_message_recieved_count", "number of times twitch recieved a message", nil, nil),
				"twitch_message_sent_count":     prometheus.NewDesc("twitch_message_sent_count", "number of times twitch sent a message", nil, nil),
				"wpm_guess_count":               prometheus.NewDesc("wpm_guess_count", "number of accepted wpm guesses", nil, nil),
				"wpm_round_count":               prometheus.NewDesc("wpm_round_count", "number of wpm rounds started", nil, nil),
				"discord_message_sent":          prometheus.NewDesc("discord_message_sent", "number of times discord sent a message", nil, nil),
				"eventsub_reconnect_count":      prometheus.NewDesc("eventsub_reconnect_count", "number of eventsub websocket reconnects", nil, nil),
				"rewards_created_count":         prometheus.NewDesc("rewards_created_count", "number of channel point rewards created by catalog sync", nil, nil),
			},
		),
		EventSubFrames,
		RedemptionsTotal,
		ClacksCredited,
		BrokerQueueDepth,
		DiscordCommandTotal,
		DiscordCommandErrors,
		DiscordCommandDuration,
	)

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", healthzHandler)
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return &Server{Server: server, mux: mux}
}

// RegisterAuthHealthHandler registers the auth health check endpoint
func (s *Server) RegisterAuthHealthHandler(handler http.HandlerFunc) {
	s.mux.HandleFunc("/healthz/auth", handler)
}

// healthzHandler returns a simple health check response
func healthzHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
	}()

	if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
