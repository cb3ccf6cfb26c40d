// Package reasoning adapts hosted language models to the ReasoningService port.
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
	"google.golang.org/api/option"
)

// DefaultModel serves every task without an explicit model.
const DefaultModel = "gemini-1.5-flash"

// ErrNoCandidates is returned when the model produced no usable text.
var ErrNoCandidates = errors.New("no response candidates")

// GeminiConfig selects credentials and per-task models.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
	Models       map[ports.ReasoningTask]string
}

// GeminiProvider answers reasoning requests with JSON-constrained Gemini calls.
type GeminiProvider struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGeminiProvider connects to the Gemini API.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig, opts ...option.ClientOption) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiProvider{client: client, cfg: cfg}, nil
}

// ModelFor returns the model configured for a task.
func (g *GeminiProvider) ModelFor(task ports.ReasoningTask) string {
	if name := g.cfg.Models[task]; name != "" {
		return name
	}
	return g.cfg.DefaultModel
}

func (g *GeminiProvider) Reason(ctx context.Context, req ports.ReasoningRequest, out any) error {
	model := g.client.GenerativeModel(g.ModelFor(req.Task))
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"
	if req.Schema != nil {
		model.ResponseSchema = toGenaiSchema(req.Schema)
	}
	if req.Instruction != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.Instruction)}}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ports.ErrReasoningFailed, req.Task, err)
	}
	text, err := responseText(resp)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ports.ErrReasoningFailed, req.Task, err)
	}
	return Decode([]byte(text), req.Schema, out)
}

// Close releases the client connection.
func (g *GeminiProvider) Close() error {
	return g.client.Close()
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoCandidates
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", ErrNoCandidates
	}
	return b.String(), nil
}

var schemaTypes = map[ports.SchemaType]genai.Type{
	ports.TypeObject:  genai.TypeObject,
	ports.TypeArray:   genai.TypeArray,
	ports.TypeString:  genai.TypeString,
	ports.TypeNumber:  genai.TypeNumber,
	ports.TypeInteger: genai.TypeInteger,
	ports.TypeBoolean: genai.TypeBoolean,
}

func toGenaiSchema(s *ports.ResultSchema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        schemaTypes[s.Type],
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
		Items:       toGenaiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}
	return out
}
