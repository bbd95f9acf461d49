package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	krishierrors "krishi/internal/errors"
	"krishi/internal/geo"
	"krishi/internal/logging"
	"krishi/internal/normalize"
	"krishi/internal/session"
	"krishi/internal/taskclient"
	"krishi/internal/weather"
)

// WeatherSource reports conditions around a point.
type WeatherSource interface {
	Snapshot(ctx context.Context, point geo.Point) (weather.Snapshot, error)
}

// FieldInput describes the field to plan for.
type FieldInput struct {
	Name      string    `json:"name"`
	AreaAcres float64   `json:"area_acres"`
	SoilType  string    `json:"soil_type"`
	Place     string    `json:"place,omitempty"`
	Location  *geo.Point `json:"location,omitempty"`
}

// RecommendedCrop is one suggestion.
type RecommendedCrop struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Season string `json:"season"`
}

// CropRecommendation is the model's structured answer.
type CropRecommendation struct {
	RecommendedCrops []RecommendedCrop `json:"recommendedCrops"`
	Notes            string            `json:"notes"`
}

// CropResult pairs the recommendation with the weather it was based on.
type CropResult struct {
	ActionID       string             `json:"action_id"`
	Recommendation CropRecommendation `json:"recommendation"`
	Weather        *weather.Snapshot  `json:"weather,omitempty"`
}

// Crops recommends what to plant.
type Crops struct {
	runner  Runner
	weather WeatherSource
	session *session.State
	timing  Timing
	logger  logging.Logger
}

// NewCrops builds the feature. weather and state may be nil.
func NewCrops(runner Runner, source WeatherSource, state *session.State, timing Timing, logger logging.Logger) *Crops {
	return &Crops{runner: runner, weather: source, session: state, timing: timing, logger: logging.OrNop(logger)}
}

// Recommend runs the recommendation task for field. A missing location
// falls back to the session location; unavailable weather is reported to
// the model as unknown rather than failing the request.
func (c *Crops) Recommend(ctx context.Context, field FieldInput) (CropResult, error) {
	if strings.TrimSpace(field.SoilType) == "" {
		return CropResult{}, fmt.Errorf("%w: soil type is required", krishierrors.ErrInvalidInput)
	}
	if field.AreaAcres < 0 {
		return CropResult{}, fmt.Errorf("%w: area must not be negative", krishierrors.ErrInvalidInput)
	}
	logger := logging.FromContext(ctx, c.logger)

	point := geo.Missing()
	if field.Location != nil {
		point = *field.Location
	}
	if !point.Valid() && c.session != nil {
		if loc, ok := c.session.Location(); ok {
			point = loc.Point
			if field.Place == "" {
				field.Place = loc.Place
			}
		}
	}
	if c.session != nil {
		c.session.SelectField(session.Field{
			Name:      field.Name,
			AreaAcres: field.AreaAcres,
			SoilType:  field.SoilType,
			Location:  point,
		})
	}

	var result CropResult
	weatherSummary := "unknown"
	if c.weather != nil && point.Valid() {
		snap, err := c.weather.Snapshot(ctx, point)
		if err != nil {
			logger.Warn("weather unavailable for %s, continuing without it: %v", point, err)
		} else {
			result.Weather = &snap
			weatherSummary = snap.Summary()
			if field.Place == "" {
				field.Place = snap.Current.Place
			}
		}
	}

	name := field.Name
	if name == "" {
		name = "my field"
	}
	place := field.Place
	if place == "" {
		place = "an unspecified location"
	}
	run, err := c.runner.Run(ctx, cropRecommendationTask, taskclient.ExecutionRequest{
		"fieldName": name,
		"areaAcres": formatNumber(field.AreaAcres),
		"soilType":  field.SoilType,
		"place":     place,
		"weather":   weatherSummary,
	}, c.timing.runOptions())
	result.ActionID = run.ActionID
	if err != nil {
		return result, err
	}

	rec, err := parseCropRecommendation(run.Output)
	if err != nil {
		return result, err
	}
	result.Recommendation = rec
	return result, nil
}

func parseCropRecommendation(output []byte) (CropRecommendation, error) {
	text, err := normalize.ExtractText(output)
	if err != nil {
		return CropRecommendation{}, err
	}
	rec, err := normalize.ExtractStructured[CropRecommendation](text)
	if errors.Is(err, krishierrors.ErrInvalidFormat) {
		rec, err = normalize.RepairStructured[CropRecommendation](text)
	}
	if err != nil {
		return CropRecommendation{}, err
	}
	crops := rec.RecommendedCrops[:0]
	for _, crop := range rec.RecommendedCrops {
		if strings.TrimSpace(crop.Name) != "" {
			crops = append(crops, crop)
		}
	}
	rec.RecommendedCrops = crops
	if len(rec.RecommendedCrops) == 0 {
		return CropRecommendation{}, fmt.Errorf("%w: no crops recommended", krishierrors.ErrInvalidFormat)
	}
	return rec, nil
}
