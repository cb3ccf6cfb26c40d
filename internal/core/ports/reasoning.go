package ports

import (
	"context"
	"errors"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
)

// ErrReasoningFailed wraps every failure of a reasoning call: transport,
// timeout, or a result that does not match the requested schema.
var ErrReasoningFailed = errors.New("reasoning failed")

// ReasoningTask names the workflow task a call serves. Adapters use it to
// select a model.
type ReasoningTask string

const (
	TaskEnrichment       ReasoningTask = "enrichment"
	TaskAssetMatching    ReasoningTask = "asset_matching"
	TaskTechniqueMapping ReasoningTask = "technique_mapping"
	TaskReportGeneration ReasoningTask = "report_generation"
)

// SchemaType is the JSON type of a schema node.
type SchemaType string

const (
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
)

// ResultSchema is the subset of JSON schema used to constrain results.
type ResultSchema struct {
	Type        SchemaType
	Description string
	Properties  map[string]*ResultSchema
	Required    []string
	Enum        []string
	Items       *ResultSchema
}

// ReasoningRequest is one structured call to the Reasoning Service.
type ReasoningRequest struct {
	Task        ReasoningTask
	Instruction string // system instruction
	Prompt      string
	Schema      *ResultSchema
}

// ReasoningService returns structured results for natural-language tasks.
// Implementations decode the validated result into out.
type ReasoningService interface {
	Reason(ctx context.Context, req ReasoningRequest, out any) error
}

// AssetInventory supplies the organisation's asset list.
type AssetInventory interface {
	Assets(ctx context.Context) ([]domain.Asset, error)
}

// WorkflowObserver is notified after every workflow step.
type WorkflowObserver interface {
	OnStage(event domain.StageEvent)
}
