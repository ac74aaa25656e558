package places

import (
	"strings"
	"time"

	"lunchfinder/discovery/internal/domain"
)

func convertPlaces(results []placeResult) []domain.Place {
	items := make([]domain.Place, 0, len(results))
	seen := make(map[string]struct{}, len(results))
	for _, result := range results {
		id := strings.TrimSpace(result.PlaceID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		items = append(items, convertPlace(result))
	}
	return items
}

func convertPlace(result placeResult) domain.Place {
	place := domain.Place{
		ID:          strings.TrimSpace(result.PlaceID),
		Name:        strings.TrimSpace(result.Name),
		Rating:      result.Rating,
		RatingCount: result.UserRatingsTotal,
		Address:     strings.TrimSpace(result.Vicinity),
	}
	if place.Address == "" {
		place.Address = strings.TrimSpace(result.FormattedAddress)
	}
	// Price level 0 means "free" upstream; the domain range is 1..4.
	if result.PriceLevel != nil && *result.PriceLevel >= 1 && *result.PriceLevel <= 4 {
		level := *result.PriceLevel
		place.PriceLevel = &level
	}
	if result.Geometry != nil && result.Geometry.Location != nil {
		place.Coordinate = domain.Coordinate{
			Latitude:  result.Geometry.Location.Lat,
			Longitude: result.Geometry.Location.Lng,
		}
	}
	if result.OpeningHours != nil && result.OpeningHours.OpenNow != nil {
		open := *result.OpeningHours.OpenNow
		place.OpenNow = &open
	}
	for _, p := range result.Photos {
		if ref := strings.TrimSpace(p.PhotoReference); ref != "" {
			place.PhotoRefs = append(place.PhotoRefs, ref)
		}
	}
	return place
}

func convertDetail(result placeResult) domain.PlaceDetail {
	detail := domain.PlaceDetail{
		Place:   convertPlace(result),
		Phone:   strings.TrimSpace(result.FormattedPhoneNumber),
		Website: strings.TrimSpace(result.Website),
		Reviews: make([]domain.Review, 0, len(result.Reviews)),
	}
	if detail.Phone == "" {
		detail.Phone = strings.TrimSpace(result.InternationalPhoneNumber)
	}
	if result.OpeningHours != nil {
		hours := &domain.OpeningHours{
			WeekdayText: append([]string(nil), result.OpeningHours.WeekdayText...),
		}
		if result.OpeningHours.OpenNow != nil {
			open := *result.OpeningHours.OpenNow
			hours.OpenNow = &open
		}
		detail.OpeningHours = hours
	}
	for _, r := range result.Reviews {
		item := domain.Review{
			AuthorName:   r.AuthorName,
			Rating:       r.Rating,
			Text:         r.Text,
			RelativeTime: r.RelativeTimeDescription,
		}
		if r.Time > 0 {
			item.Time = time.Unix(r.Time, 0).UTC()
		}
		detail.Reviews = append(detail.Reviews, item)
	}
	return detail
}
