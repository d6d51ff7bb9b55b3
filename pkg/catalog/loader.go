package catalog

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/owlet/pkg/model"
	"github.com/m-mizutani/owlet/pkg/utils/logging"
	"gopkg.in/yaml.v3"
)

var (
	ErrMalformedManifest = goerr.New("malformed manifest")
)

type agentManifest struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Executable  string            `yaml:"executable"`
	WorkingDir  string            `yaml:"working_dir"`
	Env         map[string]string `yaml:"env"`
	Args        []string          `yaml:"args"`
	Keywords    []string          `yaml:"keywords"`
	Category    string            `yaml:"category"`
}

type workflowManifest struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Steps       []string            `yaml:"steps"`
	Outputs     map[string][]string `yaml:"outputs"`
	Keywords    []string            `yaml:"keywords"`
	Category    string              `yaml:"category"`
}

type loadConfig struct {
	targetLang string
	sourceLang string
	policyDir  string
}

type Option func(*loadConfig)

// WithLanguages sets the target and source language substituted into
// `{{ .TargetLang }}` / `{{ .SourceLang }}` manifest placeholders.
func WithLanguages(target, source string) Option {
	return func(c *loadConfig) {
		c.targetLang = target
		c.sourceLang = source
	}
}

// WithPolicyDir enables the Rego admission policy loaded from dir
func WithPolicyDir(dir string) Option {
	return func(c *loadConfig) {
		c.policyDir = dir
	}
}

// Load scans root and builds the session catalog. Layout:
// <root>/agents/*.yml for agent manifests, <root>/workflows/*.yml for
// workflow manifests. A malformed manifest is recorded and skipped; it
// never aborts the scan. Filesystem access is read-only.
func Load(ctx context.Context, root string, opts ...Option) (*Catalog, error) {
	var cfg loadConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	policy, err := loadPolicy(ctx, cfg.policyDir)
	if err != nil {
		return nil, err
	}

	c := &Catalog{
		agentByName:    map[string]*model.AgentDescriptor{},
		workflowByName: map[string]*model.WorkflowDescriptor{},
	}

	if err := c.loadAgents(ctx, root, &cfg, policy); err != nil {
		return nil, err
	}
	if err := c.loadWorkflows(ctx, root, policy); err != nil {
		return nil, err
	}

	logging.From(ctx).Info("catalog loaded",
		"agents", len(c.agents), "workflows", len(c.workflows), "errors", len(c.errors))

	return c, nil
}

func manifestFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.yml"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob manifests", goerr.V("dir", dir))
	}
	more, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob manifests", goerr.V("dir", dir))
	}
	files = append(files, more...)
	sort.Strings(files)
	return files, nil
}

func (c *Catalog) record(path string, cause error) {
	c.errors = append(c.errors, &DiscoveryError{Path: path, Cause: cause})
}

func (c *Catalog) loadAgents(ctx context.Context, root string, cfg *loadConfig, policy *admissionPolicy) error {
	files, err := manifestFiles(filepath.Join(root, "agents"))
	if err != nil {
		return err
	}

	langValues := map[string]string{
		"TargetLang": cfg.targetLang,
		"SourceLang": cfg.sourceLang,
	}

	logger := logging.From(ctx)
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			c.record(path, goerr.Wrap(err, "failed to read manifest"))
			continue
		}

		var m agentManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			c.record(path, goerr.Wrap(ErrMalformedManifest, err.Error()))
			continue
		}

		agent := &model.AgentDescriptor{
			Name:        m.Name,
			Description: m.Description,
			Executable:  m.Executable,
			WorkingDir:  m.WorkingDir,
			Env:         map[string]string{},
			Keywords:    m.Keywords,
			Category:    model.Category(m.Category),
		}
		if agent.Executable != "" && !filepath.IsAbs(agent.Executable) {
			agent.Executable = filepath.Join(root, agent.Executable)
		}
		if agent.WorkingDir == "" {
			agent.WorkingDir = root
		}
		for _, arg := range m.Args {
			agent.Args = append(agent.Args, model.ExpandPlaceholders(arg, langValues))
		}
		for k, v := range m.Env {
			agent.Env[k] = model.ExpandPlaceholders(v, langValues)
		}

		if err := agent.Validate(); err != nil {
			c.record(path, goerr.Wrap(ErrMalformedManifest, err.Error()))
			continue
		}
		if _, exists := c.agentByName[agent.Name]; exists {
			c.record(path, goerr.New("duplicate agent name", goerr.V("name", agent.Name)))
			continue
		}

		allowed, err := policy.admit(ctx, "agent", agent.Name, agent.Description, agent.Keywords, string(agent.Category))
		if err != nil {
			return err
		}
		if !allowed {
			logger.Debug("agent denied by admission policy", "name", agent.Name)
			continue
		}

		c.agentByName[agent.Name] = agent
		c.agents = append(c.agents, agent)
	}

	sort.Slice(c.agents, func(i, j int) bool { return c.agents[i].Name < c.agents[j].Name })
	return nil
}

func (c *Catalog) loadWorkflows(ctx context.Context, root string, policy *admissionPolicy) error {
	files, err := manifestFiles(filepath.Join(root, "workflows"))
	if err != nil {
		return err
	}

	logger := logging.From(ctx)
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			c.record(path, goerr.Wrap(err, "failed to read manifest"))
			continue
		}

		var m workflowManifest
		if err := yaml.Unmarshal(data, &m); err != nil {
			c.record(path, goerr.Wrap(ErrMalformedManifest, err.Error()))
			continue
		}

		wf := &model.WorkflowDescriptor{
			Name:        m.Name,
			Description: m.Description,
			Outputs:     m.Outputs,
			Keywords:    m.Keywords,
			Category:    model.Category(m.Category),
		}

		missing := false
		for _, stepName := range m.Steps {
			agent, ok := c.agentByName[stepName]
			if !ok {
				c.record(path, goerr.New("workflow references unknown agent",
					goerr.V("workflow", m.Name), goerr.V("agent", stepName)))
				missing = true
				break
			}
			wf.Steps = append(wf.Steps, agent)
		}
		if missing {
			continue
		}

		if err := wf.Validate(); err != nil {
			c.record(path, goerr.Wrap(ErrMalformedManifest, err.Error()))
			continue
		}
		if _, exists := c.workflowByName[wf.Name]; exists {
			c.record(path, goerr.New("duplicate workflow name", goerr.V("name", wf.Name)))
			continue
		}

		allowed, err := policy.admit(ctx, "workflow", wf.Name, wf.Description, wf.Keywords, string(wf.Category))
		if err != nil {
			return err
		}
		if !allowed {
			logger.Debug("workflow denied by admission policy", "name", wf.Name)
			continue
		}

		c.workflowByName[wf.Name] = wf
		c.workflows = append(c.workflows, wf)
	}

	sort.Slice(c.workflows, func(i, j int) bool { return c.workflows[i].Name < c.workflows[j].Name })
	return nil
}
