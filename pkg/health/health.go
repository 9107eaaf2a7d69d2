// Package health runs dependency checks for the liveness and readiness
// endpoints. Checks run concurrently; the report carries the worst status.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/lexisearch/pkg/resilience"
)

// Status represents the health state of a component or the system overall.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) rank() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check tests a single dependency.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth holds the result of a single component check.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// Report is the aggregated result of all component checks. Failing lists
// the components that are not up, sorted by name.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Failing    []string                   `json:"failing,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// Serving reports whether the process can still answer requests. A degraded
// dependency (the result cache) slows retrieval down but does not stop it.
func (r Report) Serving() bool {
	return r.Status != StatusDown
}

// Ping adapts a Ping-style call into a Check. A failing ping reports
// failStatus, so optional dependencies such as the result cache can degrade
// readiness without failing it.
func Ping(timeout time.Duration, failStatus Status, ping func(ctx context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := resilience.WithTimeout(ctx, timeout, "health ping", ping); err != nil {
			return ComponentHealth{Status: failStatus, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// Checker manages registered health checks and runs them concurrently.
type Checker struct {
	mu          sync.RWMutex
	checks      map[string]Check
	readyBudget time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

type Option func(*Checker)

// WithReadyBudget bounds how long the readiness handler waits for all checks.
func WithReadyBudget(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.readyBudget = d
		}
	}
}

func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		checks:      make(map[string]Check),
		readyBudget: 5 * time.Second,
		now:         time.Now,
		logger:      slog.Default().With("component", "health"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds a named health check, replacing any check with that name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

type outcome struct {
	name   string
	result ComponentHealth
}

// Run executes every registered check and aggregates the results.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make(chan outcome, len(checks))
	for name, check := range checks {
		go func(name string, check Check) {
			start := c.now()
			res := check(ctx)
			res.Latency = c.now().Sub(start).Round(time.Millisecond).String()
			results <- outcome{name: name, result: res}
		}(name, check)
	}

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Timestamp:  c.now().UTC(),
	}
	for range checks {
		o := <-results
		report.Components[o.name] = o.result
		if o.result.Status == StatusUp {
			continue
		}
		report.Failing = append(report.Failing, o.name)
		if o.result.Status.rank() > report.Status.rank() {
			report.Status = o.result.Status
		}
	}
	sort.Strings(report.Failing)
	if len(report.Failing) > 0 {
		c.logger.Warn("health check failing", "status", report.Status, "components", report.Failing)
	}
	return report
}

// LiveHandler answers liveness requests without touching dependencies.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

// ReadyHandler answers readiness requests. Only a down component takes the
// instance out of rotation.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), c.readyBudget)
		defer cancel()
		report := c.Run(ctx)
		status := http.StatusOK
		if !report.Serving() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
