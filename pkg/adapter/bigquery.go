package adapter

import (
	"context"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/owlet/pkg/model"
)

// HistorySink records finished workflow runs for later analysis. The
// core never persists ExecutionResult itself; this is the collaborator
// that does, when configured.
type HistorySink interface {
	InsertRun(ctx context.Context, result *model.ExecutionResult) error
}

type bigqueryClient struct {
	client  *bigquery.Client
	dataset string
	table   string
}

// NewBigQuery creates a BigQuery backed run-history sink
func NewBigQuery(ctx context.Context, projectID, dataset, table string) (HistorySink, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create BigQuery client")
	}

	return &bigqueryClient{
		client:  client,
		dataset: dataset,
		table:   table,
	}, nil
}

type runRow struct {
	RunID      string    `bigquery:"run_id"`
	Name       string    `bigquery:"name"`
	Succeeded  bool      `bigquery:"succeeded"`
	FailedStep string    `bigquery:"failed_step"`
	Steps      []stepRow `bigquery:"steps"`
	Artifacts  []string  `bigquery:"artifacts"`
	StartedAt  time.Time `bigquery:"started_at"`
	FinishedAt time.Time `bigquery:"finished_at"`
}

type stepRow struct {
	Name       string `bigquery:"name"`
	Status     string `bigquery:"status"`
	ExitCode   int    `bigquery:"exit_code"`
	Diagnostic string `bigquery:"diagnostic"`
}

func (bq *bigqueryClient) InsertRun(ctx context.Context, result *model.ExecutionResult) error {
	row := &runRow{
		RunID:      string(result.RunID),
		Name:       result.Name,
		Succeeded:  result.Succeeded(),
		FailedStep: result.FailedStep,
		Artifacts:  result.Artifacts,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
	}
	for _, s := range result.Steps {
		row.Steps = append(row.Steps, stepRow{
			Name:       s.Name,
			Status:     string(s.Status),
			ExitCode:   s.ExitCode,
			Diagnostic: s.Diagnostic,
		})
	}

	inserter := bq.client.Dataset(bq.dataset).Table(bq.table).Inserter()
	if err := inserter.Put(ctx, row); err != nil {
		return goerr.Wrap(err, "failed to insert run history",
			goerr.V("run_id", result.RunID), goerr.V("dataset", bq.dataset))
	}

	return nil
}
