package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status represents the health status of a component
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "ERROR"
)

// ComponentHealth represents the health status of a system component
type ComponentHealth struct {
	Name        string    `json:"name"`
	Status      Status    `json:"status"`
	Message     string    `json:"message,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}

// CheckFunc probes one dependency and returns a short description.
type CheckFunc func(ctx context.Context) (string, error)

type check struct {
	name string
	fn   CheckFunc
}

// HealthChecker periodically probes the serving dependencies.
type HealthChecker struct {
	log        zerolog.Logger
	checkFreq  time.Duration
	timeout    time.Duration
	checks     []check
	mu         sync.RWMutex
	components map[string]*ComponentHealth
}

func NewHealthChecker(checkFreq time.Duration, log zerolog.Logger) *HealthChecker {
	if checkFreq == 0 {
		checkFreq = 30 * time.Second
	}
	return &HealthChecker{
		log:        log.With().Str("component", "health_checker").Logger(),
		checkFreq:  checkFreq,
		timeout:    5 * time.Second,
		components: make(map[string]*ComponentHealth),
	}
}

// Register adds a named check. Register before Start.
func (hc *HealthChecker) Register(name string, fn CheckFunc) {
	hc.checks = append(hc.checks, check{name: name, fn: fn})
}

// Start runs every check immediately and then every checkFreq until ctx is
// cancelled.
func (hc *HealthChecker) Start(ctx context.Context) {
	hc.log.Info().Dur("frequency", hc.checkFreq).Msg("Starting health checker")
	hc.CheckAll(ctx)

	go func() {
		ticker := time.NewTicker(hc.checkFreq)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				hc.CheckAll(ctx)
			case <-ctx.Done():
				hc.log.Info().Msg("Health checker stopped")
				return
			}
		}
	}()
}

// CheckAll runs all health checks
func (hc *HealthChecker) CheckAll(ctx context.Context) {
	for _, c := range hc.checks {
		checkCtx, cancel := context.WithTimeout(ctx, hc.timeout)
		msg, err := c.fn(checkCtx)
		cancel()

		health := &ComponentHealth{Name: c.name, Status: StatusOK, Message: msg, LastChecked: time.Now()}
		if err != nil {
			health.Status = StatusError
			health.Message = err.Error()
			hc.log.Error().Err(err).Str("check", c.name).Msg("Health check failed")
		}

		hc.mu.Lock()
		hc.components[c.name] = health
		hc.mu.Unlock()
	}
}

// GetAllHealth returns a copy of the latest result of every check, sorted by
// name.
func (hc *HealthChecker) GetAllHealth() []ComponentHealth {
	hc.mu.RLock()
	defer hc.mu.RUnlock()

	result := make([]ComponentHealth, 0, len(hc.components))
	for _, v := range hc.components {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Healthy reports whether every check last passed.
func (hc *HealthChecker) Healthy() bool {
	for _, c := range hc.GetAllHealth() {
		if c.Status != StatusOK {
			return false
		}
	}
	return true
}

// ServeHTTP writes the component report, with 503 when any check fails.
func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	overall := StatusOK
	if !hc.Healthy() {
		status = http.StatusServiceUnavailable
		overall = StatusError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Status     Status            `json:"status"`
		Components []ComponentHealth `json:"components"`
	}{overall, hc.GetAllHealth()})
}
