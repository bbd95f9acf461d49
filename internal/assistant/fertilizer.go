package assistant

import (
	"context"
	"fmt"
	"strings"

	krishierrors "krishi/internal/errors"
	"krishi/internal/normalize"
	"krishi/internal/taskclient"
)

// FertilizerRequest is a soil test for one crop. N, P and K are in kg/ha.
type FertilizerRequest struct {
	CropName  string  `json:"cropName"`
	AreaAcres float64 `json:"areaAcres"`
	SoilType  string  `json:"soilType"`
	N         float64 `json:"n"`
	P         float64 `json:"p"`
	K         float64 `json:"k"`
}

// Validate rejects requests the task cannot answer.
func (r FertilizerRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.CropName) == "":
		return fmt.Errorf("%w: crop name is required", krishierrors.ErrInvalidInput)
	case r.AreaAcres <= 0:
		return fmt.Errorf("%w: area must be positive", krishierrors.ErrInvalidInput)
	case r.N < 0 || r.P < 0 || r.K < 0:
		return fmt.Errorf("%w: nutrient levels must not be negative", krishierrors.ErrInvalidInput)
	}
	return nil
}

// FertilizerDose is one product in the plan.
type FertilizerDose struct {
	Name       string   `json:"name"`
	QuantityKg Quantity `json:"quantityKg"`
	Timing     string   `json:"timing"`
}

// FertilizerPlan is the model's structured answer.
type FertilizerPlan struct {
	Fertilizers []FertilizerDose `json:"fertilizers"`
	Notes       string           `json:"notes"`
}

// TotalKg sums the quantities of the plan.
func (p FertilizerPlan) TotalKg() float64 {
	var total float64
	for _, f := range p.Fertilizers {
		total += float64(f.QuantityKg)
	}
	return total
}

// FertilizerResult is the plan with the run's identity.
type FertilizerResult struct {
	ActionID string         `json:"action_id"`
	Plan     FertilizerPlan `json:"plan"`
}

// Fertilizer calculates fertilizer plans.
type Fertilizer struct {
	runner Runner
	timing Timing
}

func NewFertilizer(runner Runner, timing Timing) *Fertilizer {
	return &Fertilizer{runner: runner, timing: timing}
}

// Calculate runs the fertilizer task for req.
func (f *Fertilizer) Calculate(ctx context.Context, req FertilizerRequest) (FertilizerResult, error) {
	if err := req.Validate(); err != nil {
		return FertilizerResult{}, err
	}
	soil := strings.TrimSpace(req.SoilType)
	if soil == "" {
		soil = "unspecified"
	}
	run, err := f.runner.Run(ctx, fertilizerTask, taskclient.ExecutionRequest{
		"cropName":   strings.TrimSpace(req.CropName),
		"areaAcres":  req.AreaAcres,
		"soilType":   soil,
		"nitrogen":   req.N,
		"phosphorus": req.P,
		"potassium":  req.K,
	}, f.timing.runOptions())
	result := FertilizerResult{ActionID: run.ActionID}
	if err != nil {
		return result, err
	}
	plan, err := normalize.Structured[FertilizerPlan](run.Output)
	if err != nil {
		return result, err
	}
	if len(plan.Fertilizers) == 0 {
		return result, fmt.Errorf("%w: plan lists no fertilizers", krishierrors.ErrInvalidFormat)
	}
	result.Plan = plan
	return result, nil
}
