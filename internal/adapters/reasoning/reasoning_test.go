package reasoning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
	"github.com/lcalzada-xor/vulnintel/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var matchSchema = &ports.ResultSchema{
	Type: ports.TypeObject,
	Properties: map[string]*ports.ResultSchema{
		"impacted_asset_ids": {Type: ports.TypeArray, Items: &ports.ResultSchema{Type: ports.TypeString}},
		"is_relevant":        {Type: ports.TypeBoolean},
		"impact_level":       {Type: ports.TypeString, Enum: []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}},
		"count":              {Type: ports.TypeInteger},
	},
	Required: []string{"impacted_asset_ids", "is_relevant", "impact_level"},
}

type matchOut struct {
	Assets      []string `json:"impacted_asset_ids"`
	Relevant    bool     `json:"is_relevant"`
	ImpactLevel string   `json:"impact_level"`
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid", `{"impacted_asset_ids":["srv-01"],"is_relevant":true,"impact_level":"HIGH"}`, false},
		{"fenced", "```json\n{\"impacted_asset_ids\":[],\"is_relevant\":false,\"impact_level\":\"LOW\"}\n```", false},
		{"missing required", `{"impacted_asset_ids":[],"is_relevant":true}`, true},
		{"null required", `{"impacted_asset_ids":null,"is_relevant":true,"impact_level":"LOW"}`, true},
		{"enum violation", `{"impacted_asset_ids":[],"is_relevant":true,"impact_level":"SEVERE"}`, true},
		{"wrong item type", `{"impacted_asset_ids":[1],"is_relevant":true,"impact_level":"LOW"}`, true},
		{"non-integer", `{"impacted_asset_ids":[],"is_relevant":true,"impact_level":"LOW","count":1.5}`, true},
		{"not json", `The vulnerability is relevant.`, true},
		{"array root", `[]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out matchOut
			err := Decode([]byte(tt.input), matchSchema, &out)
			if tt.wantErr {
				assert.ErrorIs(t, err, ports.ErrReasoningFailed)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDecode_PopulatesOutput(t *testing.T) {
	var out matchOut
	require.NoError(t, Decode([]byte(`{"impacted_asset_ids":["a","b"],"is_relevant":true,"impact_level":"CRITICAL"}`), matchSchema, &out))
	assert.Equal(t, []string{"a", "b"}, out.Assets)
	assert.True(t, out.Relevant)
	assert.Equal(t, "CRITICAL", out.ImpactLevel)
}

func TestToGenaiSchema(t *testing.T) {
	s := toGenaiSchema(matchSchema)

	assert.Equal(t, genai.TypeObject, s.Type)
	assert.ElementsMatch(t, matchSchema.Required, s.Required)
	require.Contains(t, s.Properties, "impacted_asset_ids")
	assert.Equal(t, genai.TypeArray, s.Properties["impacted_asset_ids"].Type)
	assert.Equal(t, genai.TypeString, s.Properties["impacted_asset_ids"].Items.Type)
	assert.Equal(t, []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}, s.Properties["impact_level"].Enum)
	assert.Nil(t, toGenaiSchema(nil))
}

func TestResponseText(t *testing.T) {
	_, err := responseText(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, ErrNoCandidates)

	text, err := responseText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"a":`), genai.Text(`1}`)}},
	}}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, text)
}

func TestModelFor(t *testing.T) {
	g := &GeminiProvider{cfg: GeminiConfig{
		DefaultModel: DefaultModel,
		Models:       map[ports.ReasoningTask]string{ports.TaskReportGeneration: "gemini-1.5-pro"},
	}}
	assert.Equal(t, "gemini-1.5-pro", g.ModelFor(ports.TaskReportGeneration))
	assert.Equal(t, DefaultModel, g.ModelFor(ports.TaskEnrichment))
}

func TestNewGeminiProvider_RequiresKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), GeminiConfig{})
	assert.Error(t, err)
}

type flakyService struct {
	failures int
	calls    int
	err      error
}

func (f *flakyService) Reason(ctx context.Context, _ ports.ReasoningRequest, out any) error {
	f.calls++
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("call without deadline")
	}
	if f.calls <= f.failures {
		return f.err
	}
	return Decode([]byte(`{"impacted_asset_ids":[],"is_relevant":false,"impact_level":"LOW"}`), matchSchema, out)
}

var fastPolicy = retry.Policy{Attempts: 3, Min: time.Millisecond, Max: time.Millisecond}

func TestRetrying_RecoversFromTransientFailure(t *testing.T) {
	svc := &flakyService{failures: 2, err: errors.New("503 unavailable")}
	r := NewRetrying(svc, fastPolicy, time.Second)

	var out matchOut
	require.NoError(t, r.Reason(context.Background(), ports.ReasoningRequest{Task: ports.TaskAssetMatching}, &out))
	assert.Equal(t, 3, svc.calls)
	assert.Equal(t, "LOW", out.ImpactLevel)
}

func TestRetrying_WrapsExhaustedFailure(t *testing.T) {
	svc := &flakyService{failures: 10, err: errors.New("503 unavailable")}
	r := NewRetrying(svc, fastPolicy, time.Second)

	err := r.Reason(context.Background(), ports.ReasoningRequest{Task: ports.TaskEnrichment}, &matchOut{})
	assert.ErrorIs(t, err, ports.ErrReasoningFailed)
	assert.Contains(t, err.Error(), "503 unavailable")
	assert.Equal(t, 3, svc.calls)
}

func TestNewRetrying_Defaults(t *testing.T) {
	r := NewRetrying(&flakyService{}, retry.Policy{}, 0)
	assert.Equal(t, retry.Default, r.policy)
	assert.Equal(t, DefaultCallTimeout, r.timeout)
}
