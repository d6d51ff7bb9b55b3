package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/owlet/pkg/model"
	"github.com/m-mizutani/owlet/pkg/utils/logging"
	"golang.org/x/sync/errgroup"
)

var (
	// TagStepFailed marks a nonzero exit or timeout of one step
	TagStepFailed = goerr.NewTag("step_failed")

	// ErrWorkflowAborted is the fail-fast propagation of a step failure
	// to the workflow result
	ErrWorkflowAborted = goerr.New("workflow aborted by failed step")
)

const killGracePeriod = 5 * time.Second

// Engine runs a workflow's steps as external processes, chaining
// produced artifacts into later steps. It performs no internal retries;
// retrying a whole invocation is composed externally.
type Engine struct {
	baseDir     string
	stepTimeout time.Duration
	events      chan<- Event
}

type Option func(*Engine)

// WithOutputDir sets the root directory for produced artifacts. Each
// invocation writes under its own run-ID subdirectory, so concurrent
// workflows sharing an engine never collide.
func WithOutputDir(dir string) Option {
	return func(e *Engine) {
		e.baseDir = dir
	}
}

// WithStepTimeout bounds each step's process runtime. Zero disables
// the limit.
func WithStepTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.stepTimeout = d
	}
}

// WithEvents attaches a progress event channel. Sends never block:
// events arriving while the channel is full are dropped, so callers
// that want every event should buffer and drain it promptly.
func WithEvents(ch chan<- Event) Option {
	return func(e *Engine) {
		e.events = ch
	}
}

func New(opts ...Option) *Engine {
	e := &Engine{
		baseDir: filepath.Join(os.TempDir(), "owlet"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the workflow to completion, fail-fast on the first step
// that fails or times out. The returned result is always non-nil; on
// abort it records which step failed and why, alongside an error
// wrapping ErrWorkflowAborted. extraEnv is overlaid on every step's
// environment.
func (e *Engine) Execute(ctx context.Context, wf *model.WorkflowDescriptor, extraEnv map[string]string) (*model.ExecutionResult, error) {
	if err := wf.Validate(); err != nil {
		return nil, goerr.Wrap(err, "refusing to execute invalid workflow")
	}

	result := &model.ExecutionResult{
		Name:      wf.Name,
		RunID:     model.NewRunID(),
		StartedAt: time.Now(),
	}
	for _, step := range wf.Steps {
		result.Steps = append(result.Steps, &model.StepResult{
			Name:   step.Name,
			Status: model.StepPending,
		})
	}

	logger := logging.From(ctx)
	logger.Info("executing workflow", "workflow", wf.Name, "run_id", result.RunID, "steps", len(wf.Steps))

	resolved := map[string]string{}
	var abortErr error

	for _, stage := range stages(wf) {
		eg, stageCtx := errgroup.WithContext(ctx)
		for _, i := range stage {
			step := wf.Steps[i]
			stepResult := result.Steps[i]
			values := snapshot(resolved)
			eg.Go(func() error {
				return e.runStep(stageCtx, wf.Name, result.RunID, step, stepResult, values, extraEnv)
			})
		}
		stageErr := eg.Wait()

		// Collect outputs of steps that succeeded in this stage
		for _, i := range stage {
			step := wf.Steps[i]
			stepResult := result.Steps[i]
			if stepResult.Status != model.StepSucceeded {
				continue
			}
			value := outputValue(e.stepDir(result.RunID, step.Name), stepResult.Artifacts)
			for _, name := range wf.Outputs[step.Name] {
				resolved[name] = value
			}
		}

		if stageErr != nil {
			abortErr = stageErr
			break
		}
	}

	// Fail-fast: steps never launched stay recorded as skipped
	for _, stepResult := range result.Steps {
		if stepResult.Status == model.StepPending {
			stepResult.Status = model.StepSkipped
		}
	}

	for _, stepResult := range result.Steps {
		result.Artifacts = append(result.Artifacts, stepResult.Artifacts...)
		if result.FailedStep == "" &&
			(stepResult.Status == model.StepFailed || stepResult.Status == model.StepTimedOut) {
			result.FailedStep = stepResult.Name
		}
	}
	result.FinishedAt = time.Now()

	if abortErr != nil {
		logger.Warn("workflow aborted", "workflow", wf.Name, "run_id", result.RunID, "failed_step", result.FailedStep)
		return result, goerr.Wrap(abortErr, "workflow aborted by failed step",
			goerr.V("workflow", wf.Name), goerr.V("failed_step", result.FailedStep))
	}

	logger.Info("workflow finished", "workflow", wf.Name, "run_id", result.RunID, "artifacts", len(result.Artifacts))
	return result, nil
}

// ExecuteAgent runs a single agent as a one-step workflow
func (e *Engine) ExecuteAgent(ctx context.Context, agent *model.AgentDescriptor, extraEnv map[string]string) (*model.ExecutionResult, error) {
	wf := &model.WorkflowDescriptor{
		Name:  agent.Name,
		Steps: []*model.AgentDescriptor{agent},
	}
	return e.Execute(ctx, wf, extraEnv)
}

func (e *Engine) stepDir(runID model.RunID, stepName string) string {
	return filepath.Join(e.baseDir, string(runID), stepName)
}

func (e *Engine) runStep(ctx context.Context, workflow string, runID model.RunID, step *model.AgentDescriptor, stepResult *model.StepResult, values, extraEnv map[string]string) error {
	stepResult.Status = model.StepRunning
	stepResult.StartedAt = time.Now()
	e.emit(ctx, Event{Kind: EventStepStarted, RunID: runID, Workflow: workflow, Step: step.Name, Status: model.StepRunning})

	finish := func(status model.StepStatus, diagnostic string) {
		stepResult.Status = status
		stepResult.Diagnostic = diagnostic
		stepResult.FinishedAt = time.Now()
		e.emit(ctx, Event{Kind: EventStepFinished, RunID: runID, Workflow: workflow, Step: step.Name, Status: status})
	}

	outDir := e.stepDir(runID, step.Name)
	if err := os.MkdirAll(outDir, 0755); err != nil {
		finish(model.StepFailed, "failed to create output directory: "+err.Error())
		return goerr.Wrap(err, "failed to create step output directory",
			goerr.T(TagStepFailed), goerr.V("step", step.Name))
	}

	args := make([]string, 0, len(step.Args))
	for _, arg := range step.Args {
		args = append(args, model.ExpandPlaceholders(arg, values))
	}

	stepCtx := ctx
	var cancel context.CancelFunc
	if e.stepTimeout > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, e.stepTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(stepCtx, step.Executable, args...)
	cmd.Dir = step.WorkingDir
	cmd.Env = overlayEnv(step.Env, extraEnv, values, runID, outDir)
	cmd.WaitDelay = killGracePeriod

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Stdout = &bytes.Buffer{}

	logging.From(ctx).Debug("launching step process",
		"step", step.Name, "executable", step.Executable, "args", args)

	runErr := cmd.Run()

	stepResult.Artifacts = collectArtifacts(outDir)
	if cmd.ProcessState != nil {
		stepResult.ExitCode = cmd.ProcessState.ExitCode()
	}

	switch {
	case runErr == nil:
		finish(model.StepSucceeded, "")
		return nil

	case errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		finish(model.StepTimedOut, "step exceeded timeout of "+e.stepTimeout.String())
		return goerr.New("step timed out", goerr.T(TagStepFailed),
			goerr.V("step", step.Name), goerr.V("timeout", e.stepTimeout))

	case ctx.Err() != nil:
		// Terminated by cancellation, not by its own failure. Recording
		// it as skipped keeps FailedStep pointing at the step whose
		// failure cancelled the stage.
		finish(model.StepSkipped, "cancelled: "+context.Cause(ctx).Error())
		return goerr.Wrap(ctx.Err(), "step cancelled", goerr.V("step", step.Name))

	default:
		finish(model.StepFailed, diagnosticOf(runErr, &stderr))
		return goerr.Wrap(runErr, "step process failed", goerr.T(TagStepFailed),
			goerr.V("step", step.Name), goerr.V("exit_code", stepResult.ExitCode))
	}
}

// overlayEnv builds the step environment: base process environment,
// then descriptor env, then resolved upstream outputs as
// OWLET_OUT_<NAME> plus run metadata. Later layers win.
func overlayEnv(agentEnv, extraEnv, values map[string]string, runID model.RunID, outDir string) []string {
	merged := map[string]string{}
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			merged[k] = v
		}
	}
	for k, v := range extraEnv {
		merged[k] = v
	}
	for k, v := range agentEnv {
		merged[k] = v
	}
	for name, v := range values {
		merged["OWLET_OUT_"+strings.ToUpper(name)] = v
	}
	merged["OWLET_RUN_ID"] = string(runID)
	merged["OWLET_OUTPUT_DIR"] = outDir

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)
	return env
}

// outputValue is the value substituted into downstream placeholders:
// the single produced artifact, or the step's output directory when
// the step produced zero or several artifacts.
func outputValue(outDir string, artifacts []string) string {
	if len(artifacts) == 1 {
		return artifacts[0]
	}
	return outDir
}

func collectArtifacts(outDir string) []string {
	var paths []string
	_ = filepath.WalkDir(outDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	sort.Strings(paths)
	return paths
}

func diagnosticOf(runErr error, stderr *bytes.Buffer) string {
	msg := runErr.Error()
	if tail := lastLines(stderr.String(), 5); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func lastLines(s string, n int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// stages groups step indices into execution waves: a step lands one
// wave after the deepest of its declared dependencies. Steps in one
// wave have no mutual dependency and may run concurrently.
func stages(wf *model.WorkflowDescriptor) [][]int {
	depth := make([]int, len(wf.Steps))
	maxDepth := 0
	for i := range wf.Steps {
		for _, dep := range wf.Dependencies(i) {
			if depth[dep]+1 > depth[i] {
				depth[i] = depth[dep] + 1
			}
		}
		if depth[i] > maxDepth {
			maxDepth = depth[i]
		}
	}

	grouped := make([][]int, maxDepth+1)
	for i, d := range depth {
		grouped[d] = append(grouped[d], i)
	}
	return grouped
}

func snapshot(m map[string]string) map[string]string {
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
