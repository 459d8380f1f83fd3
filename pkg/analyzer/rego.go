package analyzer

import (
	"context"
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/m-mizutani/burrow/pkg/model"
	"github.com/m-mizutani/burrow/pkg/usecase/analysis"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

//go:embed policy/classify.rego
var defaultClassifyPolicy string

const classifyQuery = "data.classify"

// Rego classifies text with an OPA policy. The policy reads
// input.{id,text,tokens} and defines label and, optionally, score in the
// classify package.
type Rego struct {
	query *rego.PreparedEvalQuery
	name  string
}

var _ analysis.Model = &Rego{}

type RegoOption func(*regoConfig)

type regoConfig struct {
	policyDir string
}

// WithPolicyDir loads every *.rego file in dir instead of the built-in policy
func WithPolicyDir(dir string) RegoOption {
	return func(c *regoConfig) {
		c.policyDir = dir
	}
}

func NewRego(ctx context.Context, opts ...RegoOption) (*Rego, error) {
	var cfg regoConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	modules, err := loadPolicies(cfg.policyDir)
	if err != nil {
		return nil, err
	}

	options := make([]func(*rego.Rego), 0, len(modules)+2)
	options = append(options, rego.Query(classifyQuery), rego.EnablePrintStatements(true))
	options = append(options, modules...)

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare query", goerr.V("query", classifyQuery))
	}

	name := "rego"
	if cfg.policyDir != "" {
		name = modelName("rego", filepath.Base(cfg.policyDir))
	}
	return &Rego{query: &prepared, name: name}, nil
}

// loadPolicies reads all Rego files from policyDir, or the embedded default
// when policyDir is empty
func loadPolicies(policyDir string) ([]func(*rego.Rego), error) {
	if policyDir == "" {
		return []func(*rego.Rego){rego.Module("classify.rego", defaultClassifyPolicy)}, nil
	}

	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", policyDir))
	}
	if len(files) == 0 {
		return nil, goerr.New("no policy file found", goerr.V("dir", policyDir))
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}
	return modules, nil
}

// regoPrintHook forwards print() statements in policies to the context logger
type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

type regoOutput struct {
	Label any      `json:"label"`
	Score *float64 `json:"score"`
}

func (r *Rego) Invoke(ctx context.Context, id model.ID, text string, params model.Params) (*model.Map, error) {
	input := map[string]any{
		"id":     id.String(),
		"text":   text,
		"tokens": tokens(text),
	}

	rs, err := r.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&regoPrintHook{ctx: ctx}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate classify policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, goerr.New("classify policy returned no result")
	}

	// Convert through JSON; numbers come back as float64
	raw, err := json.Marshal(rs[0].Expressions[0].Value)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal classify result")
	}
	var out regoOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal classify result", goerr.V("result", string(raw)))
	}

	var label string
	switch v := out.Label.(type) {
	case string:
		label = v
	case float64:
		label = model.Number(v).String()
	case bool:
		label = "0"
		if v {
			label = "1"
		}
	default:
		return nil, goerr.New("classify policy must define label", goerr.V("result", string(raw)))
	}

	score := 1.0
	if out.Score != nil {
		score = *out.Score
	}
	return classification(label, score, r.name), nil
}
