package places

import (
	"context"
	"errors"
	"sort"
	"time"

	"lunchfinder/discovery/internal/domain"
)

// endpointHealth is informational only. Calls are never blocked on it; the
// HTTP client owns all retry decisions.
type endpointHealth struct {
	consecutiveFailures int
	lastError           string
	lastErrorKind       string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastTimeout         bool
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
}

func (s *Source) recordResult(endpoint string, err error, latency time.Duration) {
	if errors.Is(err, context.Canceled) {
		return
	}
	now := s.now()

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	state := s.health[endpoint]
	if state == nil {
		state = &endpointHealth{}
		s.health[endpoint] = state
	}
	state.totalRequests++
	if latency > 0 {
		state.lastLatency = latency
	}
	state.lastTimeout = isTimeout(err)
	if state.lastTimeout {
		state.timeoutCount++
	}

	if err == nil {
		state.consecutiveFailures = 0
		state.lastError = ""
		state.lastErrorKind = ""
		state.lastSuccessAt = now
		return
	}

	state.consecutiveFailures++
	state.totalFailures++
	state.lastFailureAt = now
	state.lastError = err.Error()
	if pe, ok := domain.AsPlacesError(err); ok {
		state.lastErrorKind = string(pe.Kind)
	} else {
		state.lastErrorKind = string(domain.PlacesErrUnknown)
	}
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	pe, ok := domain.AsPlacesError(err)
	return ok && pe.Kind == domain.PlacesErrTimeout
}

func (s *Source) Diagnostics() []domain.EndpointDiagnostics {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	items := make([]domain.EndpointDiagnostics, 0, len(s.health))
	for name, state := range s.health {
		item := domain.EndpointDiagnostics{
			Endpoint:            name,
			ConsecutiveFailures: state.consecutiveFailures,
			LastError:           state.lastError,
			LastErrorKind:       state.lastErrorKind,
			LastLatencyMS:       state.lastLatency.Milliseconds(),
			LastTimeout:         state.lastTimeout,
			TotalRequests:       state.totalRequests,
			TotalFailures:       state.totalFailures,
			TimeoutCount:        state.timeoutCount,
		}
		if !state.lastSuccessAt.IsZero() {
			lastSuccessAt := state.lastSuccessAt
			item.LastSuccessAt = &lastSuccessAt
		}
		if !state.lastFailureAt.IsZero() {
			lastFailureAt := state.lastFailureAt
			item.LastFailureAt = &lastFailureAt
		}
		items = append(items, item)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].Endpoint < items[j].Endpoint
	})
	return items
}
