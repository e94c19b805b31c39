package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/openai"
)

// Request is everything an adapter gets: the immutable snapshot and the
// outputs of whatever upstream phases the pipeline has finished, keyed by
// phase name.
type Request struct {
	SnapshotID uuid.UUID
	Phase      string
	Snapshot   *types.ContextSnapshot
	Upstream   map[string]json.RawMessage
}

// Result is one successful invocation. Provider and Model are provenance as
// echoed by the provider; the adapter has already verified the echo against
// what it asked for.
type Result struct {
	Provider     string
	Model        string
	Output       json.RawMessage
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
}

// Adapter runs exactly one provider invocation for its phase. Adapters never
// retry; the ledger owns retry policy.
type Adapter interface {
	Phase() string
	Invoke(ctx context.Context, req *Request) (*Result, error)
}

type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) error {
	if a == nil {
		return fmt.Errorf("nil adapter")
	}
	phase := a.Phase()
	if phase == "" {
		return fmt.Errorf("adapter Phase() is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[phase]; exists {
		return fmt.Errorf("adapter already registered for phase=%s", phase)
	}
	r.adapters[phase] = a
	return nil
}

func (r *Registry) Get(phase string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[phase]
	return a, ok
}

// ModelMatches compares the requested model with the provider's echo.
// Providers commonly resolve an alias to a dated snapshot id
// (gpt-4o-mini -> gpt-4o-mini-2024-07-18), which still counts as the
// requested model. Anything else is a substitution.
func ModelMatches(requested, echoed string) bool {
	req := strings.ToLower(strings.TrimSpace(requested))
	got := strings.ToLower(strings.TrimSpace(echoed))
	if req == "" || got == "" {
		return false
	}
	if req == got {
		return true
	}
	return strings.HasPrefix(got, req+"-")
}

// snapshotContext renders the snapshot as the compact JSON document every
// phase prompt shares.
func snapshotContext(snap *types.ContextSnapshot) (string, error) {
	if snap == nil {
		return "", fmt.Errorf("nil snapshot")
	}
	doc := map[string]any{
		"captured_at": snap.CapturedAt.Format(time.RFC3339),
		"time_zone":   snap.TimeZone,
		"position": map[string]float64{
			"lat": snap.Lat,
			"lng": snap.Lng,
		},
	}
	if len(snap.Place) > 0 {
		doc["place"] = json.RawMessage(snap.Place)
	}
	if len(snap.Environment) > 0 {
		doc["environment"] = json.RawMessage(snap.Environment)
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// invokeJSON is the shared provider round trip: call, classify failures,
// verify the model echo.
func invokeJSON(ctx context.Context, ai openai.Client, phase, system, user, schemaName string, schema map[string]any) (*openai.Completion, error) {
	comp, err := ai.GenerateJSON(ctx, system, user, schemaName, schema)
	if err != nil {
		return nil, Classify(phase, err)
	}
	if !ModelMatches(ai.Model(), comp.Model) {
		return nil, &Error{
			Kind:  KindModelMismatch,
			Phase: phase,
			Err:   fmt.Errorf("requested model %q, provider answered with %q", ai.Model(), comp.Model),
		}
	}
	return comp, nil
}

func resultFrom(comp *openai.Completion, output any) (*Result, error) {
	raw, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	return &Result{
		Provider:     "openai",
		Model:        comp.Model,
		Output:       raw,
		InputTokens:  comp.InputTokens,
		OutputTokens: comp.OutputTokens,
		Duration:     comp.Duration,
	}, nil
}
