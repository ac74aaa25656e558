package pipeline

import (
	"sort"
	"strings"

	"lunchfinder/discovery/internal/domain"
	"lunchfinder/discovery/internal/favorites"
)

// mergePlaces unions the given lists in order and keeps the first place seen
// for every id. Callers pass the remote list first, so fresh remote fields
// win over stale cached ones.
func mergePlaces(lists ...[]domain.Place) []domain.Place {
	total := 0
	for _, list := range lists {
		total += len(list)
	}
	merged := make([]domain.Place, 0, total)
	seen := make(map[string]struct{}, total)
	for _, list := range lists {
		for _, place := range list {
			id := strings.TrimSpace(place.ID)
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, domain.ClonePlace(place))
		}
	}
	return merged
}

// enrich overlays favorite status. A nil set marks everything as not favorite.
func enrich(items []domain.Place, favs favorites.Set) {
	for i := range items {
		items[i].IsFavorite = favs.Has(items[i].ID)
	}
}

func sortPlaces(items []domain.Place, sortBy domain.SortBy, origin *domain.Coordinate) {
	switch sortBy {
	case domain.SortByRating:
		sort.SliceStable(items, func(i, j int) bool {
			return compareRating(items[i], items[j]) > 0
		})
	case domain.SortByDistance:
		if origin == nil {
			return
		}
		distances := make(map[string]float64, len(items))
		for _, item := range items {
			distances[item.ID] = domain.DistanceMeters(*origin, item.Coordinate)
		}
		sort.SliceStable(items, func(i, j int) bool {
			return distances[items[i].ID] < distances[items[j].ID]
		})
	}
}

// compareRating orders by rating, then by rating count; unrated places sort last.
func compareRating(left, right domain.Place) int {
	if cmp := compareOptionalFloat(left.Rating, right.Rating); cmp != 0 {
		return cmp
	}
	return compareOptionalInt(left.RatingCount, right.RatingCount)
}

func compareOptionalFloat(left, right *float64) int {
	switch {
	case left == nil && right == nil:
		return 0
	case left == nil:
		return -1
	case right == nil:
		return 1
	case *left > *right:
		return 1
	case *left < *right:
		return -1
	}
	return 0
}

func compareOptionalInt(left, right *int) int {
	switch {
	case left == nil && right == nil:
		return 0
	case left == nil:
		return -1
	case right == nil:
		return 1
	case *left > *right:
		return 1
	case *left < *right:
		return -1
	}
	return 0
}
