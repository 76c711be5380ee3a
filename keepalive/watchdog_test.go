package keepalive

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Soypete/clackbot/logging"
	twitchirc "github.com/Soypete/clackbot/twitch"
	"github.com/bwmarrin/discordgo"
)

// mockAlerter implements the Alerter interface for testing
type mockAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (m *mockAlerter) SendAlert(_ context.Context, _ string, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, message)
	return nil
}

func (m *mockAlerter) messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.alerts...)
}

func newTestWatchdog(targets []Target, alerter Alerter) *Watchdog {
	w := NewWatchdog(targets, time.Hour, time.Hour, alerter, logging.NewLogger(logging.LogLevelError, nil))
	w.retryDelay = time.Millisecond
	return w
}

func TestWatchdog_HealthyTarget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	alerter := &mockAlerter{}
	w := newTestWatchdog([]Target{{Name: "clackbot", HealthURL: server.URL}}, alerter)
	w.CheckAll(context.Background())

	status := w.Statuses()["clackbot"]
	if !status.Healthy {
		t.Error("expected target to be healthy")
	}
	if status.Failures != 0 {
		t.Errorf("expected 0 failures, got %d", status.Failures)
	}
	if status.LastCheck.IsZero() {
		t.Error("expected last check time to be set")
	}
	if len(alerter.messages()) != 0 {
		t.Errorf("expected no alerts, got %v", alerter.messages())
	}
}

func TestWatchdog_FailingTarget(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	alerter := &mockAlerter{}
	w := newTestWatchdog([]Target{{Name: "clackbot", HealthURL: server.URL}}, alerter)
	for i := 0; i < 4; i++ {
		w.CheckAll(context.Background())
	}

	status := w.Statuses()["clackbot"]
	if status.Healthy {
		t.Error("expected target to be unhealthy")
	}
	if status.Failures != 4 {
		t.Errorf("expected 4 failures, got %d", status.Failures)
	}

	// the fourth failure falls inside the alert interval
	alerts := alerter.messages()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d: %v", len(alerts), alerts)
	}
	if alerts[0] != "clackbot is offline after 3 failed health checks" {
		t.Errorf("unexpected alert message: %s", alerts[0])
	}
}

func TestWatchdog_Recovery(t *testing.T) {
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// three check cycles of three attempts fail, then the target answers
		if requests.Add(1) <= 9 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	alerter := &mockAlerter{}
	w := newTestWatchdog([]Target{{Name: "clackbot", HealthURL: server.URL}}, alerter)
	for i := 0; i < 4; i++ {
		w.CheckAll(context.Background())
	}

	alerts := alerter.messages()
	if len(alerts) != 2 {
		t.Fatalf("expected failure and recovery alerts, got %d: %v", len(alerts), alerts)
	}
	if alerts[1] != "clackbot has recovered after 3 failed checks" {
		t.Errorf("unexpected recovery message: %s", alerts[1])
	}
	if !w.Statuses()["clackbot"].Healthy {
		t.Error("expected target to be healthy after recovery")
	}
}

func TestWatchdog_RecordRepeatsAfterInterval(t *testing.T) {
	s := &targetState{Target: Target{Name: "clackbot"}, healthy: true}
	start := time.Date(2024, 8, 1, 12, 0, 0, 0, time.UTC)

	var alerts []string
	for i := 0; i < 5; i++ {
		if msg := s.record(false, start.Add(time.Duration(i)*30*time.Minute), time.Hour); msg != "" {
			alerts = append(alerts, msg)
		}
	}

	// failures 3 (12:00+1h) and 5 (12:00+2h) alert
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %d: %v", len(alerts), alerts)
	}
	if alerts[1] != "clackbot is still offline (consecutive failures: 5)" {
		t.Errorf("unexpected repeat message: %s", alerts[1])
	}
}

func TestWatchdog_AuthHealth(t *testing.T) {
	tests := []struct {
		name     string
		health   twitchirc.AuthHealthResponse
		wantText string
	}{
		{
			name:   "fresh token",
			health: twitchirc.AuthHealthResponse{HasToken: true, HoursUntilExpiry: 40},
		},
		{
			name:     "expiring soon",
			health:   twitchirc.AuthHealthResponse{HasToken: true, HoursUntilExpiry: 3.5},
			wantText: "will expire in 3.5 hours",
		},
		{
			name:     "expired",
			health:   twitchirc.AuthHealthResponse{HasToken: true, IsExpired: true, HoursUntilExpiry: -1},
			wantText: "has EXPIRED",
		},
		{
			name:     "missing",
			health:   twitchirc.AuthHealthResponse{},
			wantText: "has no Twitch token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})
			mux.HandleFunc("/healthz/auth", func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(tt.health)
			})
			server := httptest.NewServer(mux)
			defer server.Close()

			alerter := &mockAlerter{}
			w := newTestWatchdog([]Target{{
				Name:          "clackbot",
				HealthURL:     server.URL + "/healthz",
				AuthHealthURL: server.URL + "/healthz/auth",
			}}, alerter)

			// a second check inside the alert interval stays quiet
			w.CheckAll(context.Background())
			w.CheckAll(context.Background())

			alerts := alerter.messages()
			if tt.wantText == "" {
				if len(alerts) != 0 {
					t.Errorf("expected no alerts, got %v", alerts)
				}
				return
			}
			if len(alerts) != 1 {
				t.Fatalf("expected 1 alert, got %d: %v", len(alerts), alerts)
			}
			if !strings.Contains(alerts[0], tt.wantText) {
				t.Errorf("alert %q does not contain %q", alerts[0], tt.wantText)
			}
		})
	}
}

func TestWatchdog_ParallelChecks(t *testing.T) {
	servers := make([]*httptest.Server, 3)
	targets := make([]Target, 3)
	for i := range servers {
		servers[i] = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(100 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		}))
		defer servers[i].Close()
		targets[i] = Target{Name: servers[i].URL, HealthURL: servers[i].URL}
	}

	w := newTestWatchdog(targets, &mockAlerter{})

	start := time.Now()
	w.CheckAll(context.Background())
	elapsed := time.Since(start)

	// sequential checks would take ~300ms
	if elapsed > 250*time.Millisecond {
		t.Errorf("parallel checks took too long: %v", elapsed)
	}
	for name, status := range w.Statuses() {
		if !status.Healthy {
			t.Errorf("target %s should be healthy", name)
		}
	}
}

func TestWatchdog_RunStopsOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	w := newTestWatchdog([]Target{{Name: "clackbot", HealthURL: server.URL}}, &mockAlerter{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

type fakeChannel struct {
	channelID string
	content   string
	err       error
}

func (f *fakeChannel) ChannelMessageSend(channelID string, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channelID, f.content = channelID, content
	return &discordgo.Message{}, f.err
}

func TestDiscordAlerter(t *testing.T) {
	channel := &fakeChannel{}
	alerter := &DiscordAlerter{session: channel, channelID: "c-1", userID: "u-1", logger: logging.NewLogger(logging.LogLevelError, nil)}

	if err := alerter.SendAlert(context.Background(), "clackbot", "clackbot is offline"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if channel.channelID != "c-1" {
		t.Errorf("expected channel c-1, got %s", channel.channelID)
	}
	if channel.content != "<@u-1> **Alert:** clackbot is offline" {
		t.Errorf("unexpected content: %s", channel.content)
	}

	channel.err = errors.New("missing access")
	if err := alerter.SendAlert(context.Background(), "clackbot", "again"); err == nil {
		t.Error("expected an error when discord rejects the message")
	}
	if got := formatAlert("", "hi"); got != "**Alert:** hi" {
		t.Errorf("unexpected content without mention: %s", got)
	}
}
