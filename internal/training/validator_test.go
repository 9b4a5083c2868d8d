package training

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nikhilbhutani/trainingorchestrator/internal/models"
)

func validRequest() SubmitRequest {
	rank, alpha := 16.0, 16.0
	return SubmitRequest{
		Type:      models.JobTypeLoRA,
		BaseModel: "stabilityai/sdxl-base",
		Hyperparams: HyperparameterInput{
			LearningRate: 1e-4,
			BatchSize:    2,
			Steps:        1000,
			Resolution:   512,
			Rank:         &rank,
			Alpha:        &alpha,
		},
		TriggerWords: json.RawMessage(`["ohwx person"]`),
	}
}

func f64(v float64) *float64 { return &v }

func TestValidateAcceptsValidRequest(t *testing.T) {
	assert.Empty(t, Validate(validRequest()))
}

func TestValidateBoundaries(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*SubmitRequest)
		field  string // empty when the request must pass
	}{
		{"learning rate lower edge", func(r *SubmitRequest) { r.Hyperparams.LearningRate = 1e-6 }, ""},
		{"learning rate upper edge", func(r *SubmitRequest) { r.Hyperparams.LearningRate = 1e-2 }, ""},
		{"learning rate too small", func(r *SubmitRequest) { r.Hyperparams.LearningRate = 9e-7 }, "learning_rate"},
		{"learning rate too large", func(r *SubmitRequest) { r.Hyperparams.LearningRate = 0.011 }, "learning_rate"},
		{"batch size 1", func(r *SubmitRequest) { r.Hyperparams.BatchSize = 1 }, ""},
		{"batch size 8", func(r *SubmitRequest) { r.Hyperparams.BatchSize = 8 }, ""},
		{"batch size 0", func(r *SubmitRequest) { r.Hyperparams.BatchSize = 0 }, "batch_size"},
		{"batch size 9", func(r *SubmitRequest) { r.Hyperparams.BatchSize = 9 }, "batch_size"},
		{"batch size fractional", func(r *SubmitRequest) { r.Hyperparams.BatchSize = 2.5 }, "batch_size"},
		{"steps 100", func(r *SubmitRequest) { r.Hyperparams.Steps = 100 }, ""},
		{"steps 10000", func(r *SubmitRequest) { r.Hyperparams.Steps = 10000 }, ""},
		{"steps 99", func(r *SubmitRequest) { r.Hyperparams.Steps = 99 }, "steps"},
		{"steps 10001", func(r *SubmitRequest) { r.Hyperparams.Steps = 10001 }, "steps"},
		{"resolution 256", func(r *SubmitRequest) { r.Hyperparams.Resolution = 256 }, ""},
		{"resolution 1024", func(r *SubmitRequest) { r.Hyperparams.Resolution = 1024 }, ""},
		{"resolution 192", func(r *SubmitRequest) { r.Hyperparams.Resolution = 192 }, "resolution"},
		{"resolution 1088", func(r *SubmitRequest) { r.Hyperparams.Resolution = 1088 }, "resolution"},
		{"resolution not multiple of 64", func(r *SubmitRequest) { r.Hyperparams.Resolution = 500 }, "multiple of 64"},
		{"rank 4", func(r *SubmitRequest) { r.Hyperparams.Rank = f64(4) }, ""},
		{"rank 128", func(r *SubmitRequest) { r.Hyperparams.Rank = f64(128) }, ""},
		{"rank 3", func(r *SubmitRequest) { r.Hyperparams.Rank = f64(3) }, "rank"},
		{"rank 129", func(r *SubmitRequest) { r.Hyperparams.Rank = f64(129) }, "rank"},
		{"rank absent", func(r *SubmitRequest) { r.Hyperparams.Rank = nil }, ""},
		{"alpha 1", func(r *SubmitRequest) { r.Hyperparams.Alpha = f64(1) }, ""},
		{"alpha 0", func(r *SubmitRequest) { r.Hyperparams.Alpha = f64(0) }, "alpha"},
		{"alpha 129", func(r *SubmitRequest) { r.Hyperparams.Alpha = f64(129) }, "alpha"},
		{"no trigger words", func(r *SubmitRequest) { r.TriggerWords = nil }, ""},
		{"null trigger words", func(r *SubmitRequest) { r.TriggerWords = json.RawMessage(`null`) }, ""},
		{"non-string trigger word", func(r *SubmitRequest) { r.TriggerWords = json.RawMessage(`["a", 3]`) }, "trigger_words"},
		{"trigger words not a list", func(r *SubmitRequest) { r.TriggerWords = json.RawMessage(`"a"`) }, "trigger_words"},
		{"model without namespace", func(r *SubmitRequest) { r.BaseModel = "sdxl" }, "base_model"},
		{"model with extra segment", func(r *SubmitRequest) { r.BaseModel = "a/b/c" }, "base_model"},
		{"model with empty segment", func(r *SubmitRequest) { r.BaseModel = "a/" }, "base_model"},
		{"model with other separator", func(r *SubmitRequest) { r.BaseModel = "a:b/c" }, "base_model"},
		{"unknown job type", func(r *SubmitRequest) { r.Type = "full" }, "type"},
		{"dreambooth", func(r *SubmitRequest) { r.Type = models.JobTypeDreambooth }, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := validRequest()
			tc.mutate(&req)
			problems := Validate(req)
			if tc.field == "" {
				assert.Empty(t, problems)
				return
			}
			if assert.Len(t, problems, 1) {
				assert.Contains(t, problems[0], tc.field)
			}
		})
	}
}

func TestValidateCollectsEveryViolation(t *testing.T) {
	req := SubmitRequest{
		Type:      "unknown",
		BaseModel: "bad",
		Hyperparams: HyperparameterInput{
			LearningRate: 1,
			BatchSize:    0,
			Steps:        1,
			Resolution:   1,
			Rank:         f64(1),
			Alpha:        f64(0),
		},
		TriggerWords: json.RawMessage(`{}`),
	}

	problems := Validate(req)
	assert.Len(t, problems, 9)
	joined := strings.Join(problems, "\n")
	for _, field := range []string{"type", "learning_rate", "batch_size", "steps", "resolution", "rank", "alpha", "trigger_words", "base_model"} {
		assert.Contains(t, joined, field)
	}
}
