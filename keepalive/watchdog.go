// Package keepalive watches a running clackbot from the outside and raises
// alerts when it stops answering or its Twitch token is about to expire.
package keepalive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Soypete/clackbot/logging"
	twitchirc "github.com/Soypete/clackbot/twitch"
	"golang.org/x/sync/errgroup"
)

const (
	// failureThreshold is the number of failed checks before the first alert.
	failureThreshold = 3
	probeAttempts    = 3
	// authWarnHours is how early an expiring token is reported.
	authWarnHours = 12
)

// Target is one endpoint the watchdog probes.
type Target struct {
	Name      string
	HealthURL string
	// AuthHealthURL is optional and serves twitchirc.AuthHealthResponse.
	AuthHealthURL string
}

// Alerter delivers alert text to a human.
type Alerter interface {
	SendAlert(ctx context.Context, target string, message string) error
}

type targetState struct {
	Target

	mu            sync.Mutex
	lastCheck     time.Time
	lastAlert     time.Time
	lastAuthAlert time.Time
	failures      int
	healthy       bool
}

// Status is a point in time copy of a target's state.
type Status struct {
	Name      string
	LastCheck time.Time
	Failures  int
	Healthy   bool
}

// Watchdog probes every target each check interval. Repeat alerts for an
// ongoing outage are sent at most once per alert interval.
type Watchdog struct {
	targets       []*targetState
	checkInterval time.Duration
	alertInterval time.Duration
	retryDelay    time.Duration
	httpClient    *http.Client
	alerter       Alerter
	logger        *logging.Logger
}

func NewWatchdog(targets []Target, checkInterval, alertInterval time.Duration, alerter Alerter, logger *logging.Logger) *Watchdog {
	if logger == nil {
		logger = logging.Default()
	}
	w := &Watchdog{
		checkInterval: checkInterval,
		alertInterval: alertInterval,
		retryDelay:    time.Second,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		alerter:       alerter,
		logger:        logger.WithComponent("keepalive"),
	}
	for _, t := range targets {
		w.targets = append(w.targets, &targetState{Target: t, healthy: true})
	}
	return w
}

// Run checks immediately and then every check interval until ctx is done.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	w.CheckAll(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("keepalive shutting down")
			return ctx.Err()
		case <-ticker.C:
			w.CheckAll(ctx)
		}
	}
}

// CheckAll probes every target in parallel.
func (w *Watchdog) CheckAll(ctx context.Context) {
	var eg errgroup.Group
	for _, s := range w.targets {
		eg.Go(func() error {
			w.check(ctx, s)
			return nil
		})
	}
	// check handles its own failures
	_ = eg.Wait()
}

func (w *Watchdog) check(ctx context.Context, s *targetState) {
	healthy := w.probe(ctx, s.HealthURL)
	if s.AuthHealthURL != "" {
		w.checkAuth(ctx, s)
	}

	if msg := s.record(healthy, time.Now(), w.alertInterval); msg != "" {
		if !healthy {
			w.logger.Warn("target unhealthy", "target", s.Name, "failures", s.failureCount())
		}
		w.alert(ctx, s.Name, msg)
	}
}

// record updates the state with one check result and returns the alert to
// send, if any.
func (s *targetState) record(healthy bool, now time.Time, alertInterval time.Duration) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCheck = now

	if healthy {
		msg := ""
		if !s.healthy && s.failures >= failureThreshold {
			msg = fmt.Sprintf("%s has recovered after %d failed checks", s.Name, s.failures)
		}
		s.healthy = true
		s.failures = 0
		return msg
	}

	s.failures++
	s.healthy = false
	switch {
	case s.failures == failureThreshold:
		s.lastAlert = now
		return fmt.Sprintf("%s is offline after %d failed health checks", s.Name, failureThreshold)
	case s.failures > failureThreshold && now.Sub(s.lastAlert) >= alertInterval:
		s.lastAlert = now
		return fmt.Sprintf("%s is still offline (consecutive failures: %d)", s.Name, s.failures)
	}
	return ""
}

func (s *targetState) failureCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// probe retries with a doubling delay and reports whether any attempt got a 200.
func (w *Watchdog) probe(ctx context.Context, url string) bool {
	delay := w.retryDelay
	for attempt := 1; attempt <= probeAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
			delay *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			w.logger.Error("failed to create health check request", "error", err.Error(), "url", url)
			return false
		}
		resp, err := w.httpClient.Do(req)
		if err != nil {
			w.logger.Debug("health check request failed", "error", err.Error(), "url", url, "attempt", attempt)
			continue
		}
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return true
		}
		w.logger.Debug("health check returned non-OK status", "status", resp.StatusCode, "url", url, "attempt", attempt)
	}
	return false
}

func (w *Watchdog) checkAuth(ctx context.Context, s *targetState) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.AuthHealthURL, nil)
	if err != nil {
		w.logger.Error("failed to create auth health request", "error", err.Error(), "url", s.AuthHealthURL)
		return
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		w.logger.Debug("auth health request failed", "error", err.Error(), "url", s.AuthHealthURL)
		return
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		w.logger.Debug("auth health returned non-OK status", "status", resp.StatusCode)
		return
	}

	var health twitchirc.AuthHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		w.logger.Error("failed to decode auth health response", "error", err.Error())
		return
	}

	if msg := s.recordAuth(health, time.Now(), w.alertInterval); msg != "" {
		w.alert(ctx, s.Name, msg)
	}
}

func (s *targetState) recordAuth(health twitchirc.AuthHealthResponse, now time.Time, alertInterval time.Duration) string {
	var msg string
	switch {
	case !health.HasToken:
		msg = fmt.Sprintf("%s has no Twitch token", s.Name)
	case health.IsExpired:
		msg = fmt.Sprintf("Twitch token for %s has EXPIRED! Last refreshed: %s",
			s.Name, health.LastRefreshTime.Format(time.RFC3339))
	case health.HoursUntilExpiry <= authWarnHours:
		msg = fmt.Sprintf("Twitch token for %s will expire in %.1f hours (at %s). Please refresh the token.",
			s.Name, health.HoursUntilExpiry, health.ExpirationTime.Format(time.RFC3339))
	default:
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastAuthAlert.IsZero() && now.Sub(s.lastAuthAlert) < alertInterval {
		return ""
	}
	s.lastAuthAlert = now
	return msg
}

func (w *Watchdog) alert(ctx context.Context, target, msg string) {
	if err := w.alerter.SendAlert(ctx, target, msg); err != nil {
		w.logger.Error("failed to send alert", "target", target, "error", err.Error())
	}
}

// Statuses returns the current state of every target by name.
func (w *Watchdog) Statuses() map[string]Status {
	statuses := make(map[string]Status, len(w.targets))
	for _, s := range w.targets {
		s.mu.Lock()
		statuses[s.Name] = Status{
			Name:      s.Name,
			LastCheck: s.lastCheck,
			Failures:  s.failures,
			Healthy:   s.healthy,
		}
		s.mu.Unlock()
	}
	return statuses
}
