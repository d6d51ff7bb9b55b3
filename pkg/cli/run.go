package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/owlet/pkg/adapter"
	"github.com/m-mizutani/owlet/pkg/engine"
	"github.com/m-mizutani/owlet/pkg/model"
	"github.com/m-mizutani/owlet/pkg/usecase/orchestrate"
	"github.com/m-mizutani/owlet/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func runCommand() *cli.Command {
	var cfg config
	var (
		workflowName string
		agentName    string
		query        string
		envPairs     []string
		bucket       string
		bqProject    string
		bqDataset    string
		bqTable      string
	)

	flags := append(globalFlags(&cfg), llmFlags(&cfg)...)
	flags = append(flags, storeFlags(&cfg)...)
	flags = append(flags, execFlags(&cfg)...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "workflow",
			Aliases:     []string{"w"},
			Usage:       "Workflow name to execute",
			Destination: &workflowName,
		},
		&cli.StringFlag{
			Name:        "agent",
			Aliases:     []string{"a"},
			Usage:       "Agent name to execute",
			Destination: &agentName,
		},
		&cli.StringFlag{
			Name:        "query",
			Aliases:     []string{"q"},
			Usage:       "Task description resolved against the catalog",
			Destination: &query,
		},
		&cli.StringSliceFlag{
			Name:        "env",
			Aliases:     []string{"e"},
			Usage:       "Extra KEY=VALUE environment for agent processes",
			Destination: &envPairs,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for artifact upload",
			Sources:     cli.EnvVars("OWLET_BUCKET"),
			Destination: &bucket,
		},
		&cli.StringFlag{
			Name:        "bq-project",
			Usage:       "BigQuery project for run history",
			Sources:     cli.EnvVars("OWLET_BQ_PROJECT"),
			Destination: &bqProject,
		},
		&cli.StringFlag{
			Name:        "bq-dataset",
			Usage:       "BigQuery dataset for run history",
			Sources:     cli.EnvVars("OWLET_BQ_DATASET"),
			Destination: &bqDataset,
		},
		&cli.StringFlag{
			Name:        "bq-table",
			Usage:       "BigQuery table for run history",
			Value:       "runs",
			Sources:     cli.EnvVars("OWLET_BQ_TABLE"),
			Destination: &bqTable,
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Execute a workflow, an agent, or whatever matches a task description",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if count(workflowName, agentName, query) > 1 {
				return goerr.New("specify at most one of --workflow, --agent, --query")
			}

			extraEnv, err := parseEnv(envPairs)
			if err != nil {
				return err
			}

			cat, err := cfg.loadCatalog(ctx)
			if err != nil {
				return err
			}
			if cat.Size() == 0 {
				return goerr.New("catalog is empty", goerr.V("root", cfg.catalogRoot))
			}

			events := make(chan engine.Event, 16)
			eng := cfg.newEngine(events)

			opts := []orchestrate.Option{
				orchestrate.WithOutput(c.Root().Writer),
			}

			if bucket != "" {
				store, err := adapter.NewStorage(ctx, bucket)
				if err != nil {
					return err
				}
				opts = append(opts, orchestrate.WithArtifactStore(store))
			}
			if bqDataset != "" {
				project := bqProject
				if project == "" {
					project = cfg.project
				}
				if project == "" {
					return goerr.New("bq-project is required for run history")
				}
				sink, err := adapter.NewBigQuery(ctx, project, bqDataset, bqTable)
				if err != nil {
					return err
				}
				opts = append(opts, orchestrate.WithHistorySink(sink))
			}

			var uc *orchestrate.UseCase
			if workflowName != "" || agentName != "" {
				// Name based execution does not touch the index, so the
				// embedding provider and vector store are not required.
				uc = orchestrate.New(cat, nil, eng, opts...)
			} else {
				idx, err := cfg.newIndex(ctx, cat)
				if err != nil {
					return err
				}
				uc = orchestrate.New(cat, idx, eng, opts...)
			}

			sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
			sp.Suffix = " running"
			go renderEvents(events, sp)
			// Nothing sends after execution returns, so closing here
			// ends renderEvents on every exit path.
			defer close(events)
			sp.Start()
			defer sp.Stop()

			var result *model.ExecutionResult
			switch {
			case workflowName != "":
				result, err = uc.RunWorkflow(ctx, workflowName, extraEnv)
			case agentName != "":
				result, err = uc.RunAgent(ctx, agentName, extraEnv)
			default:
				intent := query
				if intent == "" {
					sp.Stop()
					intent, err = promptIntent()
					if err != nil {
						return err
					}
					sp.Start()
				}
				result, err = uc.RunIntent(ctx, intent, extraEnv)
			}

			sp.Stop()
			if result != nil {
				printResult(c.Root().Writer, result)
			}
			if err != nil {
				logging.From(ctx).Error("execution failed", "error", err)
				return err
			}

			return nil
		},
	}
}

func count(values ...string) int {
	n := 0
	for _, v := range values {
		if v != "" {
			n++
		}
	}
	return n
}

func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, goerr.New("invalid env pair, expected KEY=VALUE", goerr.V("pair", pair))
		}
		env[key] = value
	}
	return env, nil
}

// promptIntent reads a task description interactively when no target
// was given on the command line.
func promptIntent() (string, error) {
	rl, err := readline.New("task> ")
	if err != nil {
		return "", goerr.Wrap(err, "failed to open prompt")
	}
	defer rl.Close()

	line, err := rl.Readline()
	if err != nil {
		return "", goerr.Wrap(err, "failed to read task description")
	}

	line = strings.TrimSpace(line)
	if line == "" {
		return "", goerr.New("empty task description")
	}
	return line, nil
}

func renderEvents(events <-chan engine.Event, sp *spinner.Spinner) {
	for ev := range events {
		switch ev.Kind {
		case engine.EventStepStarted:
			sp.Suffix = fmt.Sprintf(" running %s", ev.Step)
		case engine.EventStepFinished:
			sp.Suffix = fmt.Sprintf(" finished %s (%s)", ev.Step, ev.Status)
		}
	}
}

func printResult(w io.Writer, result *model.ExecutionResult) {
	fmt.Fprintf(w, "Run %s: %s\n", result.RunID, result.Name)
	for _, step := range result.Steps {
		fmt.Fprintf(w, "  %-24s %-10s %s\n", step.Name, step.Status,
			step.FinishedAt.Sub(step.StartedAt).Round(time.Millisecond))
	}
	if result.FailedStep != "" {
		fmt.Fprintf(w, "Failed at: %s\n", result.FailedStep)
	}
	for _, a := range result.Artifacts {
		fmt.Fprintf(w, "  artifact: %s\n", a)
	}
}
