package training

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
)

const (
	minLearningRate = 1e-6
	maxLearningRate = 1e-2
	minBatchSize    = 1
	maxBatchSize    = 8
	minSteps        = 100
	maxSteps        = 10000
	minResolution   = 256
	maxResolution   = 1024
	resolutionStep  = 64
	minRank         = 4
	maxRank         = 128
	minAlpha        = 1
	maxAlpha        = 128
)

var baseModelPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*/[A-Za-z0-9][A-Za-z0-9._-]*$`)

// HyperparameterInput keeps numbers as decoded from JSON so that a
// fractional batch size is reported as a violation instead of a decode error.
type HyperparameterInput struct {
	LearningRate float64  `json:"learning_rate"`
	BatchSize    float64  `json:"batch_size"`
	Steps        float64  `json:"steps"`
	Resolution   float64  `json:"resolution"`
	Rank         *float64 `json:"rank,omitempty"`
	Alpha        *float64 `json:"alpha,omitempty"`
}

type SubmitRequest struct {
	UserID       uuid.UUID           `json:"-"`
	DatasetID    uuid.UUID           `json:"dataset_id"`
	Name         string              `json:"name"`
	Type         models.JobType      `json:"type"`
	BaseModel    string              `json:"base_model"`
	Hyperparams  HyperparameterInput `json:"hyperparams"`
	TriggerWords json.RawMessage     `json:"trigger_words,omitempty"`
}

// Validate checks every rule and returns all violations; nil means valid.
func Validate(req SubmitRequest) []string {
	var problems []string
	hp := req.Hyperparams

	if !req.Type.Valid() {
		problems = append(problems, fmt.Sprintf("type must be one of %s, %s", models.JobTypeLoRA, models.JobTypeDreambooth))
	}
	if !(hp.LearningRate >= minLearningRate && hp.LearningRate <= maxLearningRate) {
		problems = append(problems, fmt.Sprintf("learning_rate must be between %g and %g", minLearningRate, maxLearningRate))
	}
	if !intInRange(hp.BatchSize, minBatchSize, maxBatchSize) {
		problems = append(problems, fmt.Sprintf("batch_size must be an integer between %d and %d", minBatchSize, maxBatchSize))
	}
	if !intInRange(hp.Steps, minSteps, maxSteps) {
		problems = append(problems, fmt.Sprintf("steps must be an integer between %d and %d", minSteps, maxSteps))
	}
	if !intInRange(hp.Resolution, minResolution, maxResolution) {
		problems = append(problems, fmt.Sprintf("resolution must be an integer between %d and %d", minResolution, maxResolution))
	} else if int(hp.Resolution)%resolutionStep != 0 {
		problems = append(problems, fmt.Sprintf("resolution must be a multiple of %d", resolutionStep))
	}
	if hp.Rank != nil && !intInRange(*hp.Rank, minRank, maxRank) {
		problems = append(problems, fmt.Sprintf("rank must be an integer between %d and %d", minRank, maxRank))
	}
	if hp.Alpha != nil && !intInRange(*hp.Alpha, minAlpha, maxAlpha) {
		problems = append(problems, fmt.Sprintf("alpha must be an integer between %d and %d", minAlpha, maxAlpha))
	}
	if _, ok := decodeTriggerWords(req.TriggerWords); !ok {
		problems = append(problems, "trigger_words must be a list of strings")
	}
	if !baseModelPattern.MatchString(req.BaseModel) {
		problems = append(problems, "base_model must have the form namespace/name")
	}

	return problems
}

func intInRange(v float64, lo, hi int) bool {
	return v == math.Trunc(v) && v >= float64(lo) && v <= float64(hi)
}

// decodeTriggerWords accepts an absent value, null, or a JSON array of strings.
func decodeTriggerWords(raw json.RawMessage) ([]string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, true
	}
	var words []string
	if err := json.Unmarshal(trimmed, &words); err != nil {
		return nil, false
	}
	return words, true
}

// hyperparameters converts a validated input into its typed form.
func (in HyperparameterInput) hyperparameters() models.Hyperparameters {
	hp := models.Hyperparameters{
		LearningRate: in.LearningRate,
		BatchSize:    int(in.BatchSize),
		Steps:        int(in.Steps),
		Resolution:   int(in.Resolution),
	}
	if in.Rank != nil {
		r := int(*in.Rank)
		hp.Rank = &r
	}
	if in.Alpha != nil {
		a := int(*in.Alpha)
		hp.Alpha = &a
	}
	return hp
}
