package assessment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/lcalzada-xor/vulnintel/internal/core/domain"
	"github.com/lcalzada-xor/vulnintel/internal/core/ports"
)

// scriptedReasoner answers each task from a queue of JSON payloads or errors.
// The last entry of a queue repeats once the queue is drained.
type scriptedReasoner struct {
	mu      sync.Mutex
	scripts map[ports.ReasoningTask][]any
	calls   map[ports.ReasoningTask]int
	prompts map[ports.ReasoningTask][]string
}

func newScriptedReasoner() *scriptedReasoner {
	return &scriptedReasoner{
		scripts: map[ports.ReasoningTask][]any{},
		calls:   map[ports.ReasoningTask]int{},
		prompts: map[ports.ReasoningTask][]string{},
	}
}

func (r *scriptedReasoner) on(task ports.ReasoningTask, responses ...any) *scriptedReasoner {
	r.scripts[task] = append(r.scripts[task], responses...)
	return r
}

func (r *scriptedReasoner) Reason(_ context.Context, req ports.ReasoningRequest, out any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.calls[req.Task]
	r.calls[req.Task]++
	r.prompts[req.Task] = append(r.prompts[req.Task], req.Prompt)

	script := r.scripts[req.Task]
	if len(script) == 0 {
		return fmt.Errorf("%w: no script for %s", ports.ErrReasoningFailed, req.Task)
	}
	resp := script[min(n, len(script)-1)]
	if err, ok := resp.(error); ok {
		return err
	}
	return json.Unmarshal([]byte(resp.(string)), out)
}

func (r *scriptedReasoner) count(task ports.ReasoningTask) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[task]
}

type staticInventory struct {
	assets []domain.Asset
	err    error
}

func (s staticInventory) Assets(context.Context) ([]domain.Asset, error) {
	return s.assets, s.err
}

// memoryCheckpoints keeps every checkpoint in memory.
type memoryCheckpoints struct {
	mu    sync.Mutex
	saved map[string][]domain.Checkpoint
	fail  error
}

func newMemoryCheckpoints() *memoryCheckpoints {
	return &memoryCheckpoints{saved: map[string][]domain.Checkpoint{}}
}

func (m *memoryCheckpoints) SaveCheckpoint(_ context.Context, cp domain.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.saved[cp.ThreadID] = append(m.saved[cp.ThreadID], cp)
	return nil
}

func (m *memoryCheckpoints) LatestCheckpoint(_ context.Context, threadID string) (*domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cps := m.saved[threadID]
	if len(cps) == 0 {
		return nil, ports.ErrCheckpointNotFound
	}
	cp := cps[len(cps)-1]
	cp.State = cp.State.Clone()
	return &cp, nil
}

func (m *memoryCheckpoints) DeleteCheckpoints(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, threadID)
	return nil
}

type memorySink struct {
	mu      sync.Mutex
	fail    error
	reports []domain.AssessmentReport
}

func (s *memorySink) Publish(_ context.Context, r domain.AssessmentReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.reports = append(s.reports, r)
	return nil
}

type recordingObserver struct {
	mu     sync.Mutex
	events []domain.StageEvent
}

func (o *recordingObserver) OnStage(e domain.StageEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, e)
}

var errServiceDown = errors.Join(ports.ErrReasoningFailed, errors.New("service unavailable"))

const (
	enrichmentOK = `{"affected_component":"Acme Gateway","attack_vector":"Network","impact_type":"RCE","cwe":"CWE-78"}`
	matchHigh    = `{"impacted_asset_ids":["srv-01"],"is_relevant":true,"impact_level":"HIGH","reasoning":"gateway in inventory"}`
	matchNone    = `{"impacted_asset_ids":[],"is_relevant":false,"impact_level":"LOW","reasoning":"no match"}`
	mappingGood  = `{"techniques":[{"technique_id":"T1190","name":"Exploit Public-Facing Application","confidence":0.9},{"technique_id":"T1059","name":"Command and Scripting Interpreter","confidence":0.7}]}`
	mappingOne   = `{"techniques":[{"technique_id":"T1190","name":"Exploit Public-Facing Application","confidence":0.9}]}`
	reportOK     = `{"narrative":"Critical exploited RCE affecting srv-01.","structured_json":"{}"}`
)

func criticalFinding() domain.CriticalFinding {
	return domain.CriticalFinding{
		ID:                         "CVE-2024-0001",
		Description:                "OS command injection in Acme Gateway",
		Severity:                   domain.Float(9.8),
		VendorProject:              "Acme",
		Product:                    "Gateway",
		VulnerabilityName:          "Acme Gateway Command Injection",
		KnownRansomwareCampaignUse: "Known",
		ExploitProbability:         domain.Float(0.9),
	}
}
