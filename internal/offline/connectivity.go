package offline

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"ms-gatepass/internal/logger"
)

// Monitor probes the server's health endpoint on a fixed interval and
// exposes a single online/offline flag. No response within the probe
// timeout counts as offline. Probing is its own lightweight task; its
// failure never blocks scans from being queued.
type Monitor struct {
	ProbeURL string
	Interval time.Duration
	Timeout  time.Duration
	Client   *http.Client
	Logger   *logger.Logger

	// OnChange is called on every online/offline transition, from the
	// monitor goroutine.
	OnChange func(online bool)

	mu     sync.Mutex
	online bool
	kick   chan struct{}
}

func NewMonitor(probeURL string, interval, timeout time.Duration, log *logger.Logger) *Monitor {
	return &Monitor{
		ProbeURL: probeURL,
		Interval: interval,
		Timeout:  timeout,
		Client:   &http.Client{},
		Logger:   log,
		kick:     make(chan struct{}, 1),
	}
}

// Online reports the last observed connectivity state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Kick requests an immediate probe outside the regular interval, e.g.
// after a platform online signal or a failed submission.
func (m *Monitor) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Start runs the probe loop until ctx is cancelled. An initial probe
// runs immediately so consumers don't wait a full interval for the
// first reading.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		m.probeAndUpdate(ctx)

		ticker := time.NewTicker(m.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.probeAndUpdate(ctx)
			case <-m.kick:
				m.probeAndUpdate(ctx)
			}
		}
	}()
}

// Probe performs a single bounded-timeout reachability check.
func (m *Monitor) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, m.ProbeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (m *Monitor) probeAndUpdate(ctx context.Context) {
	online := m.Probe(ctx)

	m.mu.Lock()
	changed := online != m.online
	m.online = online
	m.mu.Unlock()

	if changed {
		if m.Logger != nil {
			m.Logger.Info("CONNECTIVITY", fmt.Sprintf("state changed: online=%v", online))
		}
		if m.OnChange != nil {
			m.OnChange(online)
		}
	}
}
