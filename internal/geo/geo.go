// Package geo ranks geo-tagged records (mandi listings, shops) for a farmer.
//
// Bad data degrades to a sentinel instead of an error: an unusable coordinate
// yields an infinite distance and an unusable price yields zero, so no record
// is ever dropped from a ranked list.
package geo

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cast"

	"krishi/internal/jsonx"
)

// EarthRadiusKm is the mean Earth radius used by HaversineKm.
const EarthRadiusKm = 6371.0

// Point is a latitude/longitude pair in degrees. NaN marks a missing value.
type Point struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// Missing returns a point that never produces a finite distance.
func Missing() Point {
	return Point{Lat: math.NaN(), Lon: math.NaN()}
}

// Valid reports whether both coordinates are finite.
func (p Point) Valid() bool {
	return isFinite(p.Lat) && isFinite(p.Lon)
}

func (p Point) String() string {
	if !p.Valid() {
		return "(unknown)"
	}
	return fmt.Sprintf("(%.5f, %.5f)", p.Lat, p.Lon)
}

// PointFrom builds a point from loosely typed values such as JSON numbers,
// numeric strings or nil. Anything unusable becomes NaN.
func PointFrom(lat, lon any) Point {
	return Point{Lat: coordinate(lat), Lon: coordinate(lon)}
}

func coordinate(v any) float64 {
	switch typed := v.(type) {
	case nil, bool:
		return math.NaN()
	case string:
		v = strings.TrimSpace(typed)
		if v == "" {
			return math.NaN()
		}
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || !isFinite(f) {
		return math.NaN()
	}
	return f
}

// HaversineKm returns the great-circle distance between a and b in
// kilometres, or +Inf when either point is not Valid.
func HaversineKm(a, b Point) float64 {
	if !a.Valid() || !b.Valid() {
		return math.Inf(1)
	}
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dLat := toRadians(b.Lat - a.Lat)
	dLon := toRadians(b.Lon - a.Lon)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	d := EarthRadiusKm * c
	if math.IsNaN(d) {
		return math.Inf(1)
	}
	return d
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Ranked pairs a record with its distance from the ranking origin.
type Ranked[T any] struct {
	Record     T       `json:"record"`
	DistanceKm float64 `json:"distance_km"`
}

// HasDistance reports whether the distance is finite.
func (r Ranked[T]) HasDistance() bool {
	return isFinite(r.DistanceKm)
}

// SortByDistance returns records ordered by ascending distance from origin.
// The sort is stable; records without a usable location keep their input
// order and come after every located record.
func SortByDistance[T any](records []T, origin Point, locate func(T) Point) []Ranked[T] {
	ranked := make([]Ranked[T], len(records))
	for i, record := range records {
		ranked[i] = Ranked[T]{Record: record, DistanceKm: HaversineKm(origin, locate(record))}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return distanceLess(ranked[i].DistanceKm, ranked[j].DistanceKm)
	})
	return ranked
}

// distanceLess orders finite distances ascending and treats +Inf and NaN as
// equal to each other and greater than any finite value.
func distanceLess(a, b float64) bool {
	aFinite, bFinite := isFinite(a), isFinite(b)
	switch {
	case aFinite && bFinite:
		return a < b
	case aFinite:
		return true
	default:
		return false
	}
}

// SortByPriceDescending returns a copy of records ordered by descending
// price. Unparseable prices count as zero; ties keep input order.
func SortByPriceDescending[T any](records []T, price func(T) string) []T {
	type keyed struct {
		record T
		price  float64
	}
	items := make([]keyed, len(records))
	for i, record := range records {
		items[i] = keyed{record: record, price: ParsePrice(price(record))}
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].price > items[j].price
	})
	out := make([]T, len(items))
	for i, item := range items {
		out[i] = item.record
	}
	return out
}

var leadingNumber = regexp.MustCompile(`^[+-]?(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][+-]?\d+)?`)

// ParsePrice reads the numeric prefix of a price string ("2,450", "1800 Rs")
// and returns 0 when there is none.
func ParsePrice(raw string) float64 {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	cleaned = strings.TrimPrefix(cleaned, "₹")
	match := leadingNumber.FindString(strings.TrimSpace(cleaned))
	if match == "" {
		return 0
	}
	f, err := strconv.ParseFloat(match, 64)
	if err != nil || !isFinite(f) {
		return 0
	}
	return f
}

type pointJSON struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// MarshalJSON writes missing coordinates as null.
func (p Point) MarshalJSON() ([]byte, error) {
	return jsonx.Marshal(pointJSON{Latitude: finiteOrNil(p.Lat), Longitude: finiteOrNil(p.Lon)})
}

// UnmarshalJSON accepts numbers, numeric strings and null.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw struct {
		Latitude  any `json:"latitude"`
		Longitude any `json:"longitude"`
	}
	if err := jsonx.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = PointFrom(raw.Latitude, raw.Longitude)
	return nil
}

// MarshalJSON writes an unknown distance as null.
func (r Ranked[T]) MarshalJSON() ([]byte, error) {
	return jsonx.Marshal(struct {
		Record     T        `json:"record"`
		DistanceKm *float64 `json:"distance_km"`
	}{Record: r.Record, DistanceKm: finiteOrNil(r.DistanceKm)})
}

func finiteOrNil(f float64) *float64 {
	if !isFinite(f) {
		return nil
	}
	return &f
}
