package domain

import (
	"fmt"
	"time"
)

type Coordinate struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

func (c Coordinate) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Place is identified by ID only. IsFavorite is an overlay recomputed on every
// enrichment pass and is never part of what gets cached or persisted.
type Place struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Rating      *float64   `json:"rating,omitempty"`
	RatingCount *int       `json:"ratingCount,omitempty"`
	PriceLevel  *int       `json:"priceLevel,omitempty"`
	Coordinate  Coordinate `json:"coordinate"`
	Address     string     `json:"address,omitempty"`
	PhotoRefs   []string   `json:"photoRefs,omitempty"`
	OpenNow     *bool      `json:"openNow,omitempty"`
	IsFavorite  bool       `json:"isFavorite"`
}

// WithoutOverlay returns a deep copy with derived fields cleared.
func (p Place) WithoutOverlay() Place {
	cloned := ClonePlace(p)
	cloned.IsFavorite = false
	return cloned
}

type OpeningHours struct {
	OpenNow     *bool    `json:"openNow,omitempty"`
	WeekdayText []string `json:"weekdayText,omitempty"`
}

type Review struct {
	AuthorName   string    `json:"authorName"`
	Rating       int       `json:"rating"`
	Text         string    `json:"text,omitempty"`
	RelativeTime string    `json:"relativeTime,omitempty"`
	Time         time.Time `json:"time,omitempty"`
}

type PlaceDetail struct {
	Place
	Phone        string        `json:"phone,omitempty"`
	Website      string        `json:"website,omitempty"`
	OpeningHours *OpeningHours `json:"openingHours,omitempty"`
	Reviews      []Review      `json:"reviews"`
}

type PlacePage struct {
	Places        []Place `json:"places"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

func ClonePlace(p Place) Place {
	cloned := p
	if p.Rating != nil {
		value := *p.Rating
		cloned.Rating = &value
	}
	if p.RatingCount != nil {
		value := *p.RatingCount
		cloned.RatingCount = &value
	}
	if p.PriceLevel != nil {
		value := *p.PriceLevel
		cloned.PriceLevel = &value
	}
	if p.OpenNow != nil {
		value := *p.OpenNow
		cloned.OpenNow = &value
	}
	cloned.PhotoRefs = append([]string(nil), p.PhotoRefs...)
	return cloned
}

func ClonePlaces(items []Place) []Place {
	if items == nil {
		return nil
	}
	cloned := make([]Place, len(items))
	for i, item := range items {
		cloned[i] = ClonePlace(item)
	}
	return cloned
}
