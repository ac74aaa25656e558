package domain

import "time"

type SavedSearch struct {
	ID           string        `json:"id" badgerhold:"key"`
	Name         string        `json:"name" validate:"required,max=120"`
	Kind         SearchKind    `json:"kind" validate:"required,oneof=nearby text"`
	Query        string        `json:"query,omitempty" validate:"required_if=Kind text"`
	Location     *Coordinate   `json:"location,omitempty"`
	RadiusMeters int           `json:"radiusMeters,omitempty" validate:"gte=0,lte=50000"`
	Filters      SearchFilters `json:"filters"`
	SortBy       SortBy        `json:"sortBy,omitempty" validate:"omitempty,oneof=relevance rating distance"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Intent rebuilds a first-page search intent from the saved fields.
func (s SavedSearch) Intent() SearchIntent {
	intent := SearchIntent{
		Kind:         s.Kind,
		Query:        s.Query,
		RadiusMeters: s.RadiusMeters,
		Filters:      s.Filters,
		SortBy:       s.SortBy,
	}
	if s.Location != nil {
		intent = intent.WithLocation(*s.Location)
	}
	return intent.Normalized()
}
