package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type SearchKind string

const (
	SearchKindNearby SearchKind = "nearby"
	SearchKindText   SearchKind = "text"
)

type SortBy string

const (
	SortByRelevance SortBy = "relevance"
	SortByRating    SortBy = "rating"
	SortByDistance  SortBy = "distance"
)

const (
	DefaultPlaceType    = "restaurant"
	DefaultRadiusMeters = 1500
	MaxRadiusMeters     = 50000
)

var ErrInvalidIntent = errors.New("invalid search intent")

var validate = validator.New(validator.WithRequiredStructEnabled())

type SearchFilters struct {
	Keyword  string `json:"keyword,omitempty"`
	Type     string `json:"type,omitempty"`
	OpenNow  bool   `json:"openNow,omitempty"`
	MinPrice int    `json:"minPrice,omitempty" validate:"gte=0,lte=4"`
	MaxPrice int    `json:"maxPrice,omitempty" validate:"gte=0,lte=4"`
}

// Normalized trims free text and applies the default place type.
func (f SearchFilters) Normalized() SearchFilters {
	f.Keyword = strings.TrimSpace(f.Keyword)
	f.Type = strings.ToLower(strings.TrimSpace(f.Type))
	if f.Type == "" {
		f.Type = DefaultPlaceType
	}
	return f
}

// SearchIntent is treated as immutable; the With* helpers return copies.
type SearchIntent struct {
	Kind              SearchKind    `json:"kind" validate:"required,oneof=nearby text"`
	Location          *Coordinate   `json:"location,omitempty" validate:"omitempty"`
	RadiusMeters      int           `json:"radiusMeters,omitempty" validate:"gte=0,lte=50000"`
	Query             string        `json:"query,omitempty"`
	ContinuationToken string        `json:"continuationToken,omitempty"`
	Filters           SearchFilters `json:"filters"`
	SortBy            SortBy        `json:"sortBy,omitempty" validate:"omitempty,oneof=relevance rating distance"`
}

func NearbyIntent(location Coordinate, radiusMeters int) SearchIntent {
	loc := location
	return SearchIntent{
		Kind:         SearchKindNearby,
		Location:     &loc,
		RadiusMeters: radiusMeters,
	}
}

func TextIntent(query string, location *Coordinate) SearchIntent {
	intent := SearchIntent{Kind: SearchKindText, Query: query}
	if location != nil {
		loc := *location
		intent.Location = &loc
	}
	return intent
}

func (i SearchIntent) WithContinuation(token string) SearchIntent {
	i.ContinuationToken = token
	return i
}

func (i SearchIntent) WithLocation(location Coordinate) SearchIntent {
	loc := location
	i.Location = &loc
	return i
}

func (i SearchIntent) IsContinuation() bool {
	return strings.TrimSpace(i.ContinuationToken) != ""
}

// Normalized fills defaults without changing the meaning of the intent.
func (i SearchIntent) Normalized() SearchIntent {
	i.Query = strings.TrimSpace(i.Query)
	i.ContinuationToken = strings.TrimSpace(i.ContinuationToken)
	if i.Kind == "" {
		if i.Query != "" {
			i.Kind = SearchKindText
		} else {
			i.Kind = SearchKindNearby
		}
	}
	if i.Kind == SearchKindNearby && i.RadiusMeters <= 0 {
		i.RadiusMeters = DefaultRadiusMeters
	}
	if i.SortBy == "" {
		i.SortBy = SortByRelevance
	}
	i.Filters = i.Filters.Normalized()
	if i.Location != nil {
		loc := *i.Location
		i.Location = &loc
	}
	return i
}

func (i SearchIntent) Validate() error {
	if err := validate.Struct(i); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	if i.Kind == SearchKindText && strings.TrimSpace(i.Query) == "" {
		return fmt.Errorf("%w: text search requires a query", ErrInvalidIntent)
	}
	if i.Filters.MinPrice > 0 && i.Filters.MaxPrice > 0 && i.Filters.MinPrice > i.Filters.MaxPrice {
		return fmt.Errorf("%w: minPrice exceeds maxPrice", ErrInvalidIntent)
	}
	return nil
}
