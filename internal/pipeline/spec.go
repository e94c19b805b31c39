package pipeline

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	types "github.com/stagehand-app/stagehand-backend/internal/domain"
	"github.com/stagehand-app/stagehand-backend/internal/platform/logger"
)

const phasesSpecEnv = "PIPELINE_PHASES_YAML"

//go:embed phases.yaml
var phasesSpecFS embed.FS

// PhaseSpec is the tuning for one phase: its dependency edges, provider
// deadline, retry policy, and the model its adapter must use.
type PhaseSpec struct {
	Name      string
	DependsOn []string
	Deadline  time.Duration
	Retry     RetryPolicy
	Model     string
}

// Spec is the phase graph. Order follows the yaml; dependencies always point
// at earlier phases.
type Spec struct {
	Order  []string
	phases map[string]PhaseSpec
}

func (s *Spec) Phase(name string) (PhaseSpec, bool) {
	p, ok := s.phases[name]
	return p, ok
}

func (s *Spec) Deps(name string) []string {
	if p, ok := s.phases[name]; ok {
		return p.DependsOn
	}
	return nil
}

// Roots are the phases with no dependencies, seeded at trigger time.
func (s *Spec) Roots() []string {
	out := make([]string, 0, 2)
	for _, name := range s.Order {
		if len(s.phases[name].DependsOn) == 0 {
			out = append(out, name)
		}
	}
	return out
}

// Downstream lists the phases that depend on name, directly.
func (s *Spec) Downstream(name string) []string {
	var out []string
	for _, cand := range s.Order {
		for _, dep := range s.phases[cand].DependsOn {
			if dep == name {
				out = append(out, cand)
				break
			}
		}
	}
	return out
}

// MaxAttemptsCeiling is the largest attempt budget across phases, used as the
// global bound for the requeue sweep.
func (s *Spec) MaxAttemptsCeiling() int {
	max := 1
	for _, name := range s.Order {
		if a := s.phases[name].Retry.MaxAttempts; a > max {
			max = a
		}
	}
	return max
}

// fallback graph used when the yaml is missing or invalid
func fallbackSpec() *Spec {
	phases := map[string]PhaseSpec{
		types.PhaseStrategist: {
			Name:     types.PhaseStrategist,
			Deadline: 45 * time.Second,
			Retry:    RetryPolicy{MaxAttempts: 3, BackoffBase: 2 * time.Second, BackoffCap: 60 * time.Second},
			Model:    "gpt-5-mini",
		},
		types.PhaseBriefer: {
			Name:     types.PhaseBriefer,
			Deadline: 120 * time.Second,
			Retry:    RetryPolicy{MaxAttempts: 3, BackoffBase: 5 * time.Second, BackoffCap: 120 * time.Second},
			Model:    "gpt-5-mini",
		},
		types.PhaseConsolidator: {
			Name:      types.PhaseConsolidator,
			DependsOn: []string{types.PhaseStrategist, types.PhaseBriefer},
			Deadline:  90 * time.Second,
			Retry:     RetryPolicy{MaxAttempts: 3, BackoffBase: 5 * time.Second, BackoffCap: 120 * time.Second},
			Model:     "gpt-5.2",
		},
		types.PhasePlanner: {
			Name:      types.PhasePlanner,
			DependsOn: []string{types.PhaseConsolidator},
			Deadline:  120 * time.Second,
			Retry:     RetryPolicy{MaxAttempts: 3, BackoffBase: 5 * time.Second, BackoffCap: 120 * time.Second},
			Model:     "gpt-5.2",
		},
	}
	return &Spec{Order: append([]string{}, types.AllPhases...), phases: phases}
}

type yamlPhasesSpec struct {
	Pipeline string          `yaml:"pipeline"`
	Version  int             `yaml:"version"`
	Phases   []yamlPhaseSpec `yaml:"phases"`
}

type yamlPhaseSpec struct {
	Name               string   `yaml:"name"`
	DependsOn          []string `yaml:"depends_on"`
	DeadlineSeconds    int      `yaml:"deadline_seconds"`
	MaxAttempts        int      `yaml:"max_attempts"`
	BackoffBaseSeconds int      `yaml:"backoff_base_seconds"`
	BackoffCapSeconds  int      `yaml:"backoff_cap_seconds"`
	Model              string   `yaml:"model"`
}

var specOnce sync.Once
var specCache *Spec
var specErr error

// LoadSpec returns the phase graph, from PIPELINE_PHASES_YAML when set,
// otherwise from the embedded phases.yaml, falling back to compiled-in values
// when the yaml does not load.
func LoadSpec(log *logger.Logger) *Spec {
	specOnce.Do(func() {
		specCache, specErr = loadSpec()
	})
	if specErr != nil {
		if log != nil {
			log.Warn("pipeline: phases spec load failed; using fallback", "error", specErr)
		}
		return fallbackSpec()
	}
	return specCache
}

func loadSpec() (*Spec, error) {
	data, err := readPhasesSpec()
	if err != nil {
		return nil, err
	}
	var raw yamlPhasesSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return buildSpec(&raw)
}

func readPhasesSpec() ([]byte, error) {
	if path := strings.TrimSpace(os.Getenv(phasesSpecEnv)); path != "" {
		return os.ReadFile(path)
	}
	return phasesSpecFS.ReadFile("phases.yaml")
}

func buildSpec(raw *yamlPhasesSpec) (*Spec, error) {
	if raw == nil {
		return nil, errors.New("missing spec")
	}
	if strings.TrimSpace(raw.Pipeline) != "snapshot_pipeline" {
		return nil, fmt.Errorf("unexpected pipeline: %s", raw.Pipeline)
	}
	if len(raw.Phases) == 0 {
		return nil, errors.New("no phases defined")
	}

	known := map[string]bool{}
	for _, name := range types.AllPhases {
		known[name] = true
	}
	fb := fallbackSpec()

	order := make([]string, 0, len(raw.Phases))
	phases := make(map[string]PhaseSpec, len(raw.Phases))
	index := map[string]int{}
	for i, p := range raw.Phases {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, errors.New("phase name is required")
		}
		if !known[name] {
			return nil, fmt.Errorf("unknown phase: %s", name)
		}
		if _, dup := phases[name]; dup {
			return nil, fmt.Errorf("duplicate phase: %s", name)
		}

		def := fb.phases[name]
		spec := PhaseSpec{
			Name:     name,
			Deadline: def.Deadline,
			Retry:    def.Retry,
			Model:    strings.TrimSpace(p.Model),
		}
		if spec.Model == "" {
			spec.Model = def.Model
		}
		if p.DeadlineSeconds > 0 {
			spec.Deadline = time.Duration(p.DeadlineSeconds) * time.Second
		}
		if p.MaxAttempts > 0 {
			spec.Retry.MaxAttempts = p.MaxAttempts
		}
		if p.BackoffBaseSeconds > 0 {
			spec.Retry.BackoffBase = time.Duration(p.BackoffBaseSeconds) * time.Second
		}
		if p.BackoffCapSeconds > 0 {
			spec.Retry.BackoffCap = time.Duration(p.BackoffCapSeconds) * time.Second
		}
		for _, dep := range p.DependsOn {
			dep = strings.TrimSpace(dep)
			if dep == "" {
				continue
			}
			spec.DependsOn = append(spec.DependsOn, dep)
		}

		order = append(order, name)
		index[name] = i
		phases[name] = spec
	}

	for _, name := range order {
		for _, dep := range phases[name].DependsOn {
			di, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("phase %s: unknown dependency %s", name, dep)
			}
			if di >= index[name] {
				return nil, fmt.Errorf("phase %s: dependency %s appears after phase in order", name, dep)
			}
		}
	}

	for _, name := range types.AllPhases {
		if _, ok := phases[name]; !ok {
			return nil, fmt.Errorf("phase %s missing from spec", name)
		}
	}

	return &Spec{Order: order, phases: phases}, nil
}
