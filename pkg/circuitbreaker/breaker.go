package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vaidashi/lavender-orders/pkg/logger"
)

// Config configures a circuit breaker
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before letting a probe through
	OpenTimeout time.Duration
	// HalfOpenMaxCalls is the number of probes allowed while half-open
	HalfOpenMaxCalls uint32
	// IsSuccessful decides whether an error counts against the breaker. Nil
	// counts every error as a failure.
	IsSuccessful func(err error) bool
}

func (c Config) withDefaults() Config {
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = 1
	}
	return c
}

// Settings translates cfg into gobreaker settings that log state changes
func Settings(name string, cfg Config, log logger.Logger) gobreaker.Settings {
	cfg = cfg.withDefaults()
	maxFailures := cfg.MaxFailures

	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxCalls,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("Circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
		IsSuccessful: cfg.IsSuccessful,
	}
}

// New creates a breaker that wraps calls with Execute
func New(name string, cfg Config, log logger.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(Settings(name, cfg, log))
}

// NewTwoStep creates a breaker whose outcome is reported after the call
func NewTwoStep(name string, cfg Config, log logger.Logger) *gobreaker.TwoStepCircuitBreaker {
	return gobreaker.NewTwoStepCircuitBreaker(Settings(name, cfg, log))
}

// Reporter is satisfied by both gobreaker breaker kinds
type Reporter interface {
	Name() string
	State() gobreaker.State
	Counts() gobreaker.Counts
}

// Status is a point-in-time view of one breaker
type Status struct {
	Name                 string `json:"name"`
	State                string `json:"state"`
	Requests             uint32 `json:"requests"`
	TotalFailures        uint32 `json:"totalFailures"`
	ConsecutiveFailures  uint32 `json:"consecutiveFailures"`
	ConsecutiveSuccesses uint32 `json:"consecutiveSuccesses"`
}

// StatusOf snapshots a breaker
func StatusOf(r Reporter) Status {
	counts := r.Counts()

	return Status{
		Name:                 r.Name(),
		State:                r.State().String(),
		Requests:             counts.Requests,
		TotalFailures:        counts.TotalFailures,
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
	}
}

// Registry collects the process's breakers for the admin API
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]Reporter
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]Reporter)}
}

// Register adds r, replacing any breaker with the same name
func (reg *Registry) Register(r Reporter) {
	if r == nil {
		return
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.breakers[r.Name()] = r
}

// Snapshot returns the status of every registered breaker, sorted by name
func (reg *Registry) Snapshot() []Status {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]Status, 0, len(reg.breakers))
	for _, r := range reg.breakers {
		out = append(out, StatusOf(r))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
