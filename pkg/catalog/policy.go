package catalog

import (
	"context"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/open-policy-agent/opa/v1/rego"
)

// admissionPolicy filters catalog entries through a Rego policy. A nil
// prepared query admits everything.
type admissionPolicy struct {
	query *rego.PreparedEvalQuery
}

// loadPolicy prepares `data.catalog.allow` from all .rego files under
// dir. An empty dir (or one without .rego files) disables the policy.
func loadPolicy(ctx context.Context, dir string) (*admissionPolicy, error) {
	if dir == "" {
		return &admissionPolicy{}, nil
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files")
	}
	if len(files) == 0 {
		return &admissionPolicy{}, nil
	}

	options := make([]func(*rego.Rego), 0, len(files)+1)
	options = append(options, rego.Query("data.catalog.allow"))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		options = append(options, rego.Module(file, string(data)))
	}

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare admission policy")
	}

	return &admissionPolicy{query: &prepared}, nil
}

func (p *admissionPolicy) admit(ctx context.Context, kind, name, description string, keywords []string, category string) (bool, error) {
	if p.query == nil {
		return true, nil
	}

	input := map[string]any{
		"kind":        kind,
		"name":        name,
		"description": description,
		"keywords":    keywords,
		"category":    category,
	}

	rs, err := p.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, goerr.Wrap(err, "failed to evaluate admission policy", goerr.V("name", name))
	}

	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		// Policy defines no allow rule for this input
		return false, nil
	}

	allowed, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, goerr.New("admission policy allow is not a boolean", goerr.V("name", name))
	}

	return allowed, nil
}
