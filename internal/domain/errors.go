package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrAlreadyExists            = errors.New("already exists")
	ErrLocationPermissionDenied = errors.New("location permission denied")
	ErrLocationUnavailable      = errors.New("location unavailable")
	ErrSourceTornDown           = errors.New("source torn down")
)

type PlacesErrorKind string

const (
	PlacesErrInvalidAPIKey      PlacesErrorKind = "invalid_api_key"
	PlacesErrInvalidURL         PlacesErrorKind = "invalid_url"
	PlacesErrRequestFailed      PlacesErrorKind = "request_failed"
	PlacesErrInvalidResponse    PlacesErrorKind = "invalid_response"
	PlacesErrDecoding           PlacesErrorKind = "decoding_error"
	PlacesErrNetworkUnavailable PlacesErrorKind = "network_unavailable"
	PlacesErrTimeout            PlacesErrorKind = "timeout"
	PlacesErrRateLimited        PlacesErrorKind = "rate_limited"
	PlacesErrUnknown            PlacesErrorKind = "unknown"
)

// PlacesError is the closed failure taxonomy of the places HTTP client.
// Status is the HTTP status for request_failed/rate_limited, zero otherwise.
type PlacesError struct {
	Kind       PlacesErrorKind
	Status     int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *PlacesError) Error() string {
	msg := string(e.Kind)
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (%d)", msg, e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return "places: " + msg
}

func (e *PlacesError) Unwrap() error { return e.Err }

// Retryable reports whether the client may issue another attempt.
func (e *PlacesError) Retryable() bool {
	switch e.Kind {
	case PlacesErrNetworkUnavailable, PlacesErrTimeout:
		return true
	case PlacesErrRequestFailed:
		return e.Status >= 500
	}
	return false
}

func (e *PlacesError) UserMessage() string {
	switch e.Kind {
	case PlacesErrInvalidAPIKey:
		return "The places service rejected the API key."
	case PlacesErrInvalidURL:
		return "The places request could not be built."
	case PlacesErrRequestFailed:
		if e.Status >= 500 {
			return "The places service is having trouble right now."
		}
		return fmt.Sprintf("The places request failed with status %d.", e.Status)
	case PlacesErrInvalidResponse:
		return "The places service returned an unexpected response."
	case PlacesErrDecoding:
		return "The places response could not be read."
	case PlacesErrNetworkUnavailable:
		return "No network connection."
	case PlacesErrTimeout:
		return "The request timed out."
	case PlacesErrRateLimited:
		return "Too many requests were sent to the places service."
	}
	return "Something went wrong."
}

func (e *PlacesError) RecoverySuggestion() string {
	switch e.Kind {
	case PlacesErrInvalidAPIKey:
		return "Check the configured places API key."
	case PlacesErrNetworkUnavailable:
		return "Check your connection and try again."
	case PlacesErrTimeout:
		return "Try again in a moment."
	case PlacesErrRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("Wait %s before searching again.", e.RetryAfter.Round(time.Second))
		}
		return "Wait a little before searching again."
	case PlacesErrRequestFailed:
		if e.Status >= 500 {
			return "Try again later."
		}
	}
	return ""
}

func NewPlacesError(kind PlacesErrorKind, err error) *PlacesError {
	return &PlacesError{Kind: kind, Err: err}
}

func AsPlacesError(err error) (*PlacesError, bool) {
	var pe *PlacesError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

type PipelineSource string

const (
	PipelineSourceNetwork           PipelineSource = "network"
	PipelineSourceCache             PipelineSource = "cache"
	PipelineSourceLocation          PipelineSource = "location"
	PipelineSourceSourceUnavailable PipelineSource = "source_unavailable"
)

// PipelineError tags a source-local failure. The coordinator keeps these as
// data in its error list instead of returning them.
type PipelineError struct {
	Source PipelineSource
	Err    error
}

func NetworkError(err error) PipelineError  { return PipelineError{Source: PipelineSourceNetwork, Err: err} }
func CacheError(err error) PipelineError    { return PipelineError{Source: PipelineSourceCache, Err: err} }
func LocationError(err error) PipelineError { return PipelineError{Source: PipelineSourceLocation, Err: err} }

func SourceUnavailableError(err error) PipelineError {
	return PipelineError{Source: PipelineSourceSourceUnavailable, Err: err}
}

func (e PipelineError) Error() string {
	if e.Err == nil {
		return string(e.Source)
	}
	return string(e.Source) + ": " + e.Err.Error()
}

func (e PipelineError) Unwrap() error { return e.Err }

func (e PipelineError) UserMessage() string {
	switch e.Source {
	case PipelineSourceNetwork:
		if pe, ok := AsPlacesError(e.Err); ok {
			return pe.UserMessage()
		}
		return "Could not reach the places service."
	case PipelineSourceCache:
		return "Saved results could not be read."
	case PipelineSourceLocation:
		if errors.Is(e.Err, ErrLocationPermissionDenied) {
			return "Location access is turned off."
		}
		return "Your location could not be determined."
	}
	return "Search is temporarily unavailable."
}

func (e PipelineError) RecoverySuggestion() string {
	switch e.Source {
	case PipelineSourceNetwork:
		if pe, ok := AsPlacesError(e.Err); ok {
			if s := pe.RecoverySuggestion(); s != "" {
				return s
			}
		}
		return "Check your connection and try again."
	case PipelineSourceLocation:
		if errors.Is(e.Err, ErrLocationPermissionDenied) {
			return "Enable location permission to search nearby."
		}
		return "Move to an area with better reception and try again."
	case PipelineSourceCache:
		return ""
	}
	return "Try again in a moment."
}

func (e PipelineError) MarshalJSON() ([]byte, error) {
	message := ""
	if e.Err != nil {
		message = e.Err.Error()
	}
	return json.Marshal(struct {
		Source     PipelineSource `json:"source"`
		Message    string         `json:"message"`
		Detail     string         `json:"detail,omitempty"`
		Suggestion string         `json:"suggestion,omitempty"`
	}{
		Source:     e.Source,
		Message:    e.UserMessage(),
		Detail:     message,
		Suggestion: e.RecoverySuggestion(),
	})
}
