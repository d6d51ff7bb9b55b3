package orchestrate

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/owlet/pkg/adapter"
	"github.com/m-mizutani/owlet/pkg/catalog"
	"github.com/m-mizutani/owlet/pkg/engine"
	"github.com/m-mizutani/owlet/pkg/index"
	"github.com/m-mizutani/owlet/pkg/model"
	"github.com/m-mizutani/owlet/pkg/retry"
	"github.com/m-mizutani/owlet/pkg/utils/logging"
)

var (
	ErrNotFound = goerr.New("no matching catalog entry")
)

// UseCase is the composition root: it resolves a free-text intent or
// explicit selection to a catalog entry, invokes the execution engine,
// and hands the result to optional collaborators. It holds no state
// beyond references to the components.
type UseCase struct {
	catalog *catalog.Catalog
	index   *index.Index
	engine  *engine.Engine

	artifacts adapter.ArtifactStore
	history   adapter.HistorySink

	retryPolicy retry.Policy
	output      io.Writer
}

type Option func(*UseCase)

// WithArtifactStore uploads produced artifacts after a successful run
func WithArtifactStore(store adapter.ArtifactStore) Option {
	return func(u *UseCase) {
		u.artifacts = store
	}
}

// WithHistorySink records finished runs
func WithHistorySink(sink adapter.HistorySink) Option {
	return func(u *UseCase) {
		u.history = sink
	}
}

// WithOutput sets the writer for user-facing messages
func WithOutput(w io.Writer) Option {
	return func(u *UseCase) {
		u.output = w
	}
}

// WithRetryPolicy overrides the policy wrapping embedding calls
func WithRetryPolicy(p retry.Policy) Option {
	return func(u *UseCase) {
		u.retryPolicy = p
	}
}

func New(cat *catalog.Catalog, idx *index.Index, eng *engine.Engine, opts ...Option) *UseCase {
	u := &UseCase{
		catalog: cat,
		index:   idx,
		engine:  eng,
		retryPolicy: retry.Policy{
			MaxRetries:   3,
			InitialDelay: 500 * time.Millisecond,
		},
		output: os.Stdout,
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// CatalogEntries lists the catalog in index order: agents first, then
// workflows, each lexicographic by name. This order is the tie-break
// order for equal-similarity search results.
func CatalogEntries(c *catalog.Catalog) []index.Entry {
	entries := make([]index.Entry, 0, c.Size())
	for _, a := range c.Agents() {
		entries = append(entries, index.Entry{ID: a.Name, Text: a.DescriptiveText()})
	}
	for _, w := range c.Workflows() {
		entries = append(entries, index.Entry{ID: w.Name, Text: w.DescriptiveText()})
	}
	return entries
}

type SelectionKind string

const (
	SelectionAgent    SelectionKind = "agent"
	SelectionWorkflow SelectionKind = "workflow"
)

// Selection is one resolved catalog entry
type Selection struct {
	Kind  SelectionKind
	Name  string
	Score float64
}

// Rank orders catalog entries against a free-text intent. Embedding
// calls are retried; once the retry budget is spent it falls back to
// keyword-overlap matching rather than failing outright.
func (u *UseCase) Rank(ctx context.Context, intent string, topK int) ([]Selection, error) {
	matches, err := retry.Do(ctx, u.retryPolicy, func(ctx context.Context) ([]index.Match, error) {
		return u.index.SearchText(ctx, intent, topK)
	})
	if err != nil {
		if !retry.IsExhausted(err) {
			return nil, goerr.Wrap(err, "semantic ranking failed")
		}
		logging.From(ctx).Warn("embedding provider unavailable, falling back to keyword matching", "error", err)
		return u.keywordRank(intent, topK), nil
	}

	selections := make([]Selection, 0, len(matches))
	for _, m := range matches {
		sel, ok := u.selectionOf(m.ID)
		if !ok {
			continue
		}
		sel.Score = m.Score
		selections = append(selections, sel)
	}
	return selections, nil
}

// Resolve picks the best catalog entry for an intent. An exact name
// match wins without consulting the embedding index.
func (u *UseCase) Resolve(ctx context.Context, intent string) (Selection, error) {
	if sel, ok := u.selectionOf(strings.TrimSpace(intent)); ok {
		return sel, nil
	}

	ranked, err := u.Rank(ctx, intent, 1)
	if err != nil {
		return Selection{}, err
	}
	if len(ranked) == 0 {
		return Selection{}, goerr.Wrap(ErrNotFound, "resolve intent", goerr.V("intent", intent))
	}
	return ranked[0], nil
}

// RunWorkflow executes a workflow by name
func (u *UseCase) RunWorkflow(ctx context.Context, name string, extraEnv map[string]string) (*model.ExecutionResult, error) {
	wf, ok := u.catalog.Workflow(name)
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "run workflow", goerr.V("name", name))
	}

	result, err := u.engine.Execute(ctx, wf, extraEnv)
	u.report(ctx, result)
	return result, err
}

// RunAgent executes a single agent by name
func (u *UseCase) RunAgent(ctx context.Context, name string, extraEnv map[string]string) (*model.ExecutionResult, error) {
	agent, ok := u.catalog.Agent(name)
	if !ok {
		return nil, goerr.Wrap(ErrNotFound, "run agent", goerr.V("name", name))
	}

	result, err := u.engine.ExecuteAgent(ctx, agent, extraEnv)
	u.report(ctx, result)
	return result, err
}

// RunIntent resolves a free-text intent and executes the selection
func (u *UseCase) RunIntent(ctx context.Context, intent string, extraEnv map[string]string) (*model.ExecutionResult, error) {
	sel, err := u.Resolve(ctx, intent)
	if err != nil {
		return nil, err
	}

	logging.From(ctx).Info("resolved intent", "intent", intent, "kind", sel.Kind, "name", sel.Name)

	switch sel.Kind {
	case SelectionWorkflow:
		return u.RunWorkflow(ctx, sel.Name, extraEnv)
	default:
		return u.RunAgent(ctx, sel.Name, extraEnv)
	}
}

// report hands the finished result to the optional collaborators.
// Their failures are logged, never allowed to mask the run outcome.
func (u *UseCase) report(ctx context.Context, result *model.ExecutionResult) {
	if result == nil {
		return
	}
	logger := logging.From(ctx)

	if u.artifacts != nil && len(result.Artifacts) > 0 {
		prefix := "runs/" + string(result.RunID)
		if err := u.artifacts.Upload(ctx, prefix, result.Artifacts); err != nil {
			logger.Warn("failed to upload artifacts", "run_id", result.RunID, "error", err)
		} else {
			fmt.Fprintf(u.output, "Uploaded %d artifact(s) to %s\n", len(result.Artifacts), prefix)
		}
	}

	if u.history != nil {
		if err := u.history.InsertRun(ctx, result); err != nil {
			logger.Warn("failed to record run history", "run_id", result.RunID, "error", err)
		}
	}
}

func (u *UseCase) selectionOf(name string) (Selection, bool) {
	if _, ok := u.catalog.Agent(name); ok {
		return Selection{Kind: SelectionAgent, Name: name}, true
	}
	if _, ok := u.catalog.Workflow(name); ok {
		return Selection{Kind: SelectionWorkflow, Name: name}, true
	}
	return Selection{}, false
}

// keywordRank is the non-semantic fallback: score by overlap between
// intent words and descriptor keywords.
func (u *UseCase) keywordRank(intent string, topK int) []Selection {
	words := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(intent)) {
		words[w] = true
	}

	overlap := func(keywords []string) float64 {
		n := 0
		for _, kw := range keywords {
			if words[strings.ToLower(kw)] {
				n++
			}
		}
		return float64(n)
	}

	var selections []Selection
	for _, a := range u.catalog.Agents() {
		selections = append(selections, Selection{Kind: SelectionAgent, Name: a.Name, Score: overlap(a.Keywords)})
	}
	for _, w := range u.catalog.Workflows() {
		selections = append(selections, Selection{Kind: SelectionWorkflow, Name: w.Name, Score: overlap(w.Keywords)})
	}

	// Stable sort keeps catalog order for equal scores
	sort.SliceStable(selections, func(i, j int) bool {
		return selections[i].Score > selections[j].Score
	})

	if topK >= 0 && len(selections) > topK {
		selections = selections[:topK]
	}
	return selections
}
