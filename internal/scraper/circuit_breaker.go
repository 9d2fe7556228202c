package scraper

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/EvgenyQA404/perfume/internal/logger"

	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while a shop is refusing our requests
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitBreaker stops fetching after consecutive blocking responses
type CircuitBreaker struct {
	failureThreshold int
	resetTimeout     time.Duration
	now              func() time.Time

	consecutiveFailures int
	totalFailures       int
	totalRequests       int
	isOpen              bool
	openedAt            time.Time

	mutex sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		now:              time.Now,
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.totalRequests++
	cb.consecutiveFailures = 0
}

// RecordFailure records a failed request. Only blocking statuses count
// towards opening: 403, 429, 5xx and transport errors (status 0).
func (cb *CircuitBreaker) RecordFailure(statusCode int) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.totalRequests++
	cb.totalFailures++
	if !isBlockingStatus(statusCode) {
		cb.consecutiveFailures = 0
		return
	}

	cb.consecutiveFailures++
	if !cb.isOpen && cb.consecutiveFailures >= cb.failureThreshold {
		cb.isOpen = true
		cb.openedAt = cb.now()
		logger.Warn("Circuit breaker open",
			zap.Int("consecutive_failures", cb.consecutiveFailures),
			zap.Int("status", statusCode),
			zap.Duration("retry_after", cb.resetTimeout))
	}
}

// CanProceed checks if requests are allowed. After the reset timeout the
// breaker closes again and the next request is a probe.
func (cb *CircuitBreaker) CanProceed() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if !cb.isOpen {
		return true
	}

	if cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		logger.Info("Circuit breaker half-open", zap.Duration("after", cb.resetTimeout))
		cb.isOpen = false
		cb.consecutiveFailures = 0
		return true
	}

	return false
}

// BreakerStatus is a point-in-time view of the breaker
type BreakerStatus struct {
	Open                bool `json:"open"`
	ConsecutiveFailures int  `json:"consecutive_failures"`
	Failures            int  `json:"failures"`
	Requests            int  `json:"requests"`
}

// Status returns current circuit breaker status
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return BreakerStatus{
		Open:                cb.isOpen,
		ConsecutiveFailures: cb.consecutiveFailures,
		Failures:            cb.totalFailures,
		Requests:            cb.totalRequests,
	}
}

func isBlockingStatus(code int) bool {
	return code == 0 || code == http.StatusForbidden || code == http.StatusTooManyRequests || code >= 500
}
