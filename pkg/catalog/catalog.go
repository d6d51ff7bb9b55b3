package catalog

import (
	"github.com/m-mizutani/owlet/pkg/model"
)

// DiscoveryError records one catalog entry that could not be loaded.
// Discovery of the remaining entries continues regardless.
type DiscoveryError struct {
	Path  string
	Cause error
}

func (e *DiscoveryError) Error() string {
	return "discovery failed for " + e.Path + ": " + e.Cause.Error()
}

func (e *DiscoveryError) Unwrap() error {
	return e.Cause
}

// Catalog is the in-memory set of discovered descriptors for one
// session. It is immutable after Load and safe for concurrent reads.
type Catalog struct {
	agents    []*model.AgentDescriptor
	workflows []*model.WorkflowDescriptor

	agentByName    map[string]*model.AgentDescriptor
	workflowByName map[string]*model.WorkflowDescriptor

	errors []*DiscoveryError
}

// Agents returns all discovered agents in lexicographic name order
func (c *Catalog) Agents() []*model.AgentDescriptor {
	return c.agents
}

// Workflows returns all discovered workflows in lexicographic name order
func (c *Catalog) Workflows() []*model.WorkflowDescriptor {
	return c.workflows
}

// Agent looks up an agent by name
func (c *Catalog) Agent(name string) (*model.AgentDescriptor, bool) {
	a, ok := c.agentByName[name]
	return a, ok
}

// Workflow looks up a workflow by name
func (c *Catalog) Workflow(name string) (*model.WorkflowDescriptor, bool) {
	w, ok := c.workflowByName[name]
	return w, ok
}

// Errors returns the per-entry failures recorded during discovery
func (c *Catalog) Errors() []*DiscoveryError {
	return c.errors
}

// Size returns the total number of catalog entries
func (c *Catalog) Size() int {
	return len(c.agents) + len(c.workflows)
}
