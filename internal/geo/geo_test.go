package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"krishi/internal/jsonx"
)

var (
	pune   = Point{Lat: 18.5204, Lon: 73.8567}
	mumbai = Point{Lat: 19.0760, Lon: 72.8777}
	nashik = Point{Lat: 19.9975, Lon: 73.7898}
)

func TestHaversineSamePointIsZero(t *testing.T) {
	for _, p := range []Point{pune, mumbai, {Lat: 0, Lon: 0}, {Lat: -33.9, Lon: 151.2}} {
		require.Equal(t, 0.0, HaversineKm(p, p))
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	// Pune to Mumbai is roughly 120 km as the crow flies.
	d := HaversineKm(pune, mumbai)
	require.InDelta(t, 120, d, 3)
	require.InDelta(t, d, HaversineKm(mumbai, pune), 1e-9)
}

func TestHaversineInvalidInputsReturnInfinity(t *testing.T) {
	bad := []Point{
		Missing(),
		{Lat: math.NaN(), Lon: 73},
		{Lat: 18, Lon: math.Inf(1)},
		{Lat: math.Inf(-1), Lon: 0},
		PointFrom(nil, 73.1),
		PointFrom("abc", "73.1"),
		PointFrom(true, 1),
		PointFrom("", ""),
	}
	for _, p := range bad {
		d := HaversineKm(pune, p)
		require.True(t, math.IsInf(d, 1), "point %v gave %v", p, d)
		require.False(t, math.IsNaN(d))
		require.True(t, math.IsInf(HaversineKm(p, pune), 1))
	}
}

func TestPointFromAcceptsNumericStrings(t *testing.T) {
	p := PointFrom(" 18.52 ", 73.85)
	require.True(t, p.Valid())
	assert.InDelta(t, 18.52, p.Lat, 1e-9)
	assert.InDelta(t, 73.85, p.Lon, 1e-9)
}

type shop struct {
	name string
	at   Point
}

func TestSortByDistanceIsStableAndPutsUnknownLast(t *testing.T) {
	shops := []shop{
		{"unknown-a", Missing()},
		{"nashik", nashik},
		{"unknown-b", PointFrom("x", "y")},
		{"mumbai", mumbai},
		{"here", pune},
		{"mumbai-2", mumbai},
		{"unknown-c", Point{Lat: math.Inf(1), Lon: 0}},
	}

	ranked := SortByDistance(shops, pune, func(s shop) Point { return s.at })

	var names []string
	for _, r := range ranked {
		names = append(names, r.Record.name)
	}
	require.Equal(t, []string{"here", "mumbai", "mumbai-2", "nashik", "unknown-a", "unknown-b", "unknown-c"}, names)
	require.Len(t, ranked, len(shops))
	require.True(t, ranked[0].HasDistance())
	require.False(t, ranked[len(ranked)-1].HasDistance())
}

func TestSortByDistanceDoesNotMutateInput(t *testing.T) {
	shops := []shop{{"nashik", nashik}, {"here", pune}}
	_ = SortByDistance(shops, pune, func(s shop) Point { return s.at })
	require.Equal(t, "nashik", shops[0].name)
}

type listing struct {
	market string
	modal  string
}

func TestSortByPriceDescending(t *testing.T) {
	records := []listing{{"a", "100"}, {"b", "abc"}, {"c", "250"}}
	sorted := SortByPriceDescending(records, func(l listing) string { return l.modal })

	var prices []string
	for _, l := range sorted {
		prices = append(prices, l.modal)
	}
	require.Equal(t, []string{"250", "100", "abc"}, prices)
}

func TestSortByPriceDescendingKeepsTiesInInputOrder(t *testing.T) {
	records := []listing{{"first", "x"}, {"second", "200"}, {"third", ""}, {"fourth", "200.0"}}
	sorted := SortByPriceDescending(records, func(l listing) string { return l.modal })

	var markets []string
	for _, l := range sorted {
		markets = append(markets, l.market)
	}
	require.Equal(t, []string{"second", "fourth", "first", "third"}, markets)
}

func TestParsePrice(t *testing.T) {
	cases := map[string]float64{
		"2450":     2450,
		" 2,450 ":  2450,
		"1800 Rs":  1800,
		"₹1200.50": 1200.5,
		"abc":      0,
		"":         0,
		"-":        0,
		"NaN":      0,
		"1e400":    0,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParsePrice(in), "input %q", in)
	}
}

func TestPointJSON(t *testing.T) {
	data, err := jsonx.Marshal(Missing())
	require.NoError(t, err)
	require.JSONEq(t, `{"latitude":null,"longitude":null}`, string(data))

	data, err = jsonx.Marshal(pune)
	require.NoError(t, err)
	require.JSONEq(t, `{"latitude":18.5204,"longitude":73.8567}`, string(data))

	var p Point
	require.NoError(t, jsonx.Unmarshal([]byte(`{"latitude":"19.0760","longitude":72.8777}`), &p))
	require.Equal(t, mumbai, p)

	require.NoError(t, jsonx.Unmarshal([]byte(`{"latitude":null}`), &p))
	require.False(t, p.Valid())
}

func TestRankedJSONWritesUnknownDistanceAsNull(t *testing.T) {
	ranked := SortByDistance([]shop{{"x", Missing()}}, pune, func(s shop) Point { return s.at })
	data, err := jsonx.Marshal(ranked)
	require.NoError(t, err)
	require.JSONEq(t, `[{"record":{},"distance_km":null}]`, string(data))
}
