package assistant

import (
	"context"
	"fmt"
	"io"
	"strings"

	"krishi/internal/classifier"
	krishierrors "krishi/internal/errors"
	"krishi/internal/logging"
	"krishi/internal/normalize"
	"krishi/internal/session"
	"krishi/internal/taskclient"
)

// Classifier labels a leaf photo.
type Classifier interface {
	Predict(ctx context.Context, filename string, image io.Reader) (classifier.Prediction, error)
}

// DiseaseAdvice is the structured explanation of a diagnosis.
type DiseaseAdvice struct {
	Disease    string   `json:"disease"`
	Cause      string   `json:"cause"`
	Symptoms   []string `json:"symptoms"`
	Treatment  []string `json:"treatment"`
	Prevention []string `json:"prevention"`
}

// DiagnosisRequest carries one photo. CropName overrides the crop the
// classifier infers from its label.
type DiagnosisRequest struct {
	Filename   string
	Image      io.Reader
	CropName   string
	WithAdvice bool
}

// DiagnosisResult holds the prediction and, when requested and the plant is
// not healthy, the advice. ActionID is set only when advice was requested.
type DiagnosisResult struct {
	ActionID   string                `json:"action_id,omitempty"`
	Prediction classifier.Prediction `json:"prediction"`
	Advice     *DiseaseAdvice        `json:"advice,omitempty"`
}

// Diagnosis classifies leaf photos and explains the disease.
type Diagnosis struct {
	classifier Classifier
	runner     Runner
	session    *session.State
	timing     Timing
	logger     logging.Logger
}

// NewDiagnosis builds the feature. state may be nil.
func NewDiagnosis(cls Classifier, runner Runner, state *session.State, timing Timing, logger logging.Logger) *Diagnosis {
	return &Diagnosis{
		classifier: cls,
		runner:     runner,
		session:    state,
		timing:     timing,
		logger:     logging.OrNop(logger),
	}
}

// Diagnose classifies the photo, records the outcome in the session and
// optionally asks for advice. When the advice run fails the prediction is
// still returned alongside the error.
func (d *Diagnosis) Diagnose(ctx context.Context, req DiagnosisRequest) (DiagnosisResult, error) {
	prediction, err := d.classifier.Predict(ctx, req.Filename, req.Image)
	if err != nil {
		return DiagnosisResult{}, err
	}
	result := DiagnosisResult{Prediction: prediction}

	crop := strings.TrimSpace(req.CropName)
	if crop == "" {
		crop = prediction.Crop
	}
	if d.session != nil {
		d.session.RecordDiagnosis(session.Diagnosis{Crop: crop, Disease: prediction.Disease, Confidence: prediction.Confidence})
	}
	if !req.WithAdvice || prediction.Healthy {
		return result, nil
	}
	if crop == "" {
		crop = "crop"
	}

	run, err := d.runner.Run(ctx, diseaseAdviceTask, taskclient.ExecutionRequest{
		"cropName": crop,
		"disease":  prediction.Disease,
	}, d.timing.runOptions())
	result.ActionID = run.ActionID
	if err != nil {
		return result, err
	}
	advice, err := normalize.Structured[DiseaseAdvice](run.Output)
	if err != nil {
		logging.FromContext(ctx, d.logger).Warn("disease advice for %q unusable: %v", prediction.Disease, err)
		return result, err
	}
	if advice.Disease == "" {
		advice.Disease = prediction.Disease
	}
	if len(advice.Treatment) == 0 && advice.Cause == "" {
		return result, fmt.Errorf("%w: advice has neither cause nor treatment", krishierrors.ErrInvalidFormat)
	}
	result.Advice = &advice
	return result, nil
}
