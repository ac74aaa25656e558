package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"lunchfinder/discovery/internal/domain"
)

// CoordinateDecimals is the precision locations are rounded to before keying
// (about 11 m at the equator). Rounding snaps to a fixed grid, so two points
// a few meters apart on either side of a cell boundary get different keys.
const CoordinateDecimals = 4

// Key addresses one cache entry. Digest is what stores see; Label is the
// readable source of the digest and only used for logging.
type Key struct {
	Digest string
	Label  string
}

func (k Key) String() string { return k.Digest }

func newKey(label string) Key {
	sum := sha256.Sum256([]byte(label))
	return Key{Digest: hex.EncodeToString(sum[:]), Label: label}
}

func NearbyKey(location domain.Coordinate, radiusMeters int, filters domain.SearchFilters) Key {
	var b strings.Builder
	b.WriteString("nearby:")
	writeCoordinate(&b, location)
	b.WriteString(":r")
	b.WriteString(strconv.Itoa(radiusMeters))
	b.WriteByte(':')
	writeFilters(&b, filters)
	return newKey(b.String())
}

func QueryKey(query string, location *domain.Coordinate, radiusMeters int, filters domain.SearchFilters) Key {
	var b strings.Builder
	b.WriteString("text:")
	b.WriteString(NormalizeQuery(query))
	if location != nil {
		b.WriteString(":@")
		writeCoordinate(&b, *location)
		b.WriteString(":r")
		b.WriteString(strconv.Itoa(radiusMeters))
	}
	b.WriteByte(':')
	writeFilters(&b, filters)
	return newKey(b.String())
}

// KeyForIntent derives the key for a first-page intent. Continuation pages
// are never cached, so ok is false for them.
func KeyForIntent(intent domain.SearchIntent) (Key, bool) {
	if intent.IsContinuation() {
		return Key{}, false
	}
	filters := intent.Filters.Normalized()
	if intent.Kind == domain.SearchKindText || strings.TrimSpace(intent.Query) != "" {
		if NormalizeQuery(intent.Query) == "" {
			return Key{}, false
		}
		return QueryKey(intent.Query, intent.Location, intent.RadiusMeters, filters), true
	}
	if intent.Location == nil {
		return Key{}, false
	}
	return NearbyKey(*intent.Location, intent.RadiusMeters, filters), true
}

// NormalizeQuery case-folds, applies NFKC and collapses whitespace so that
// "Café  Pizza" and "café pizza" share an entry.
func NormalizeQuery(query string) string {
	folded := cases.Fold().String(norm.NFKC.String(query))
	return strings.Join(strings.Fields(folded), " ")
}

func writeCoordinate(b *strings.Builder, c domain.Coordinate) {
	rounded := domain.RoundCoordinate(c, CoordinateDecimals)
	b.WriteString(strconv.FormatFloat(normalizeZero(rounded.Latitude), 'f', CoordinateDecimals, 64))
	b.WriteByte(',')
	b.WriteString(strconv.FormatFloat(normalizeZero(rounded.Longitude), 'f', CoordinateDecimals, 64))
}

// normalizeZero folds -0 into 0 so both format identically.
func normalizeZero(v float64) float64 {
	if v == 0 {
		return 0
	}
	return v
}

func writeFilters(b *strings.Builder, filters domain.SearchFilters) {
	b.WriteString("type=")
	b.WriteString(filters.Type)
	b.WriteString(";kw=")
	b.WriteString(NormalizeQuery(filters.Keyword))
	b.WriteString(";open=")
	b.WriteString(strconv.FormatBool(filters.OpenNow))
	b.WriteString(";price=")
	b.WriteString(strconv.Itoa(filters.MinPrice))
	b.WriteByte('-')
	b.WriteString(strconv.Itoa(filters.MaxPrice))
}
