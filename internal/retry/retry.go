// Package retry implements the bounded exponential-backoff policy for
// recoverable worker failures.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/mthorpe/conveyor/internal/domain"
	"github.com/mthorpe/conveyor/internal/events"
	"github.com/mthorpe/conveyor/internal/logging"
)

// Config holds the retry policy knobs.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	// Retryable is the explicit allow-list of recoverable classifications.
	// Anything outside it is never retried, regardless of attempts left.
	Retryable []domain.Classification
}

// DefaultConfig returns the standard policy: crash, timeout, and validation
// failures retry; permission and resource failures do not.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   1 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
		Retryable: []domain.Classification{
			domain.ClassCrash,
			domain.ClassTimeout,
			domain.ClassValidation,
		},
	}
}

// Context keys the per-operation attempt counter.
type Context struct {
	Worker         domain.WorkerName
	Classification domain.Classification
	RunID          string
}

func (c Context) key() string {
	return string(c.Worker) + "|" + string(c.Classification) + "|" + c.RunID
}

// Operation is a retryable unit of work.
type Operation func(ctx context.Context) error

// Manager applies the retry policy. Attempt counters live in memory only:
// a process restart resets them, granting a fresh budget.
type Manager struct {
	cfg Config
	bus *events.Bus
	log *logging.Logger

	mu       sync.Mutex
	attempts map[string]int

	sleep func(time.Duration)
}

// NewManager creates a retry manager.
func NewManager(cfg Config, bus *events.Bus) *Manager {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 1
	}
	return &Manager{
		cfg:      cfg,
		bus:      bus,
		log:      logging.New("retry"),
		attempts: make(map[string]int),
		sleep:    time.Sleep,
	}
}

// ShouldRetry reports whether another attempt is permitted: the
// classification must be on the allow-list and attempts must remain.
func (m *Manager) ShouldRetry(c domain.Classification, attemptsSoFar int) bool {
	if attemptsSoFar >= m.cfg.MaxAttempts {
		return false
	}
	for _, r := range m.cfg.Retryable {
		if r == c {
			return true
		}
	}
	return false
}

// Delay computes the backoff before the given attempt (1-based):
// min(maxDelay, base·multiplier^(n−1)), with ±10% multiplicative jitter so
// restarted workers don't stampede.
func (m *Manager) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	raw := float64(m.cfg.BaseDelay) * math.Pow(m.cfg.Multiplier, float64(attempt-1))
	capped := math.Min(raw, float64(m.cfg.MaxDelay))
	jittered := capped * (0.9 + 0.2*rand.Float64())
	return time.Duration(jittered)
}

// RecordAttempt increments and returns the attempt counter for a context.
// Used by callers that drive retries themselves instead of through
// ExecuteWithRetry.
func (m *Manager) RecordAttempt(rc Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[rc.key()]++
	return m.attempts[rc.key()]
}

// Backoff sleeps for the computed delay before the given attempt.
func (m *Manager) Backoff(attempt int) {
	m.sleep(m.Delay(attempt))
}

// Attempts returns the recorded attempt count for a context.
func (m *Manager) Attempts(rc Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[rc.key()]
}

// ResetAttempts clears the counter for a context, e.g. after a successful
// phase advance.
func (m *Manager) ResetAttempts(rc Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.attempts, rc.key())
}

// ExecuteWithRetry runs op, classifying each failure and retrying with
// backoff while the policy permits. On exhaustion the final error is
// returned unchanged. The manager never touches the run store; callers
// record outcomes.
func (m *Manager) ExecuteWithRetry(ctx context.Context, op Operation, rc Context) error {
	m.bus.Publish(events.TypeRetry, rc.RunID, "started", map[string]any{
		"worker": string(rc.Worker),
	})

	var lastErr error
	for {
		m.mu.Lock()
		m.attempts[rc.key()]++
		attempt := m.attempts[rc.key()]
		m.mu.Unlock()

		lastErr = op(ctx)
		if lastErr == nil {
			m.bus.Publish(events.TypeRetry, rc.RunID, "success", map[string]any{
				"worker":   string(rc.Worker),
				"attempts": attempt,
			})
			return nil
		}

		classification := rc.Classification
		if classification == "" {
			classification = domain.Classify(lastErr)
		}

		if !m.ShouldRetry(classification, attempt) {
			m.log.Error("exhausted", map[string]interface{}{
				"run": rc.RunID, "worker": string(rc.Worker),
				"classification": string(classification), "attempts": attempt,
			}, lastErr)
			m.bus.Publish(events.TypeRetry, rc.RunID, "exhausted", map[string]any{
				"worker":         string(rc.Worker),
				"classification": string(classification),
				"attempts":       attempt,
			})
			return lastErr
		}

		delay := m.Delay(attempt)
		m.log.Warn("attempt_failed", map[string]interface{}{
			"run": rc.RunID, "worker": string(rc.Worker),
			"classification": string(classification),
			"attempt":        attempt,
			"delay_ms":       delay.Milliseconds(),
		}, lastErr)

		// The backoff wait is not cancellable; callers that want out stop
		// calling back in after the current attempt.
		m.sleep(delay)
	}
}

// String renders the policy for status output.
func (c Config) String() string {
	return fmt.Sprintf("max_attempts=%d base=%s multiplier=%.1f max_delay=%s",
		c.MaxAttempts, c.BaseDelay, c.Multiplier, c.MaxDelay)
}
