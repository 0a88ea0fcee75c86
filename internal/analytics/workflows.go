package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	temporalworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"example.com/pulsetrack/internal/metrics"
)

const (
	DefaultTaskQueue      = "pulsetrack-rollups"
	rollupWorkflowName    = "analytics.rollup.days"
	rollupDayActivityName = "analytics.rollup.day"
	invalidDayErrorType   = "InvalidRollupDay"
)

// RollupOrchestrator abstracts how rollup runs are executed: through a
// Temporal workflow in production or inline when Temporal is disabled.
type RollupOrchestrator interface {
	RunRollup(ctx context.Context, input RollupWorkflowInput) (RollupWorkflowResult, error)
	RunRollupAsync(ctx context.Context, input RollupWorkflowInput) (string, error)
}

// RollupWorkflowInput lists the UTC days (YYYY-MM-DD) to recompute.
type RollupWorkflowInput struct {
	Days   []string `json:"days"`
	Reason string   `json:"reason"`
}

// RollupWorkflowResult captures the combined workflow output.
type RollupWorkflowResult struct {
	WorkflowID  string        `json:"workflow_id,omitempty"`
	RunID       string        `json:"run_id,omitempty"`
	Rollups     []DailyRollup `json:"rollups"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
}

// RollupDays returns the last n UTC days ending with the day of now, oldest first.
func RollupDays(now time.Time, n int) []string {
	today := DayStart(now)
	days := make([]string, 0, n)
	for i := n - 1; i >= 0; i-- {
		days = append(days, today.AddDate(0, 0, -i).Format(time.DateOnly))
	}
	return days
}

// RollupActivities hosts the activity implementations backed by the store.
type RollupActivities struct {
	store  *Store
	logger *slog.Logger
}

func NewRollupActivities(store *Store, logger *slog.Logger) *RollupActivities {
	return &RollupActivities{store: store, logger: logger}
}

// RollupDayActivity recomputes one day's summary.
func (a *RollupActivities) RollupDayActivity(ctx context.Context, day string) (DailyRollup, error) {
	t, err := time.Parse(time.DateOnly, day)
	if err != nil {
		metrics.RollupRuns.WithLabelValues("invalid").Inc()
		return DailyRollup{}, temporal.NewApplicationError(fmt.Sprintf("invalid rollup day %q", day), invalidDayErrorType)
	}
	rollup, err := a.store.RollupDay(ctx, t)
	if err != nil {
		metrics.RollupRuns.WithLabelValues("failed").Inc()
		a.logger.Error("activity rollup day failed", "day", day, "error", err)
		return DailyRollup{}, err
	}
	metrics.RollupRuns.WithLabelValues("ok").Inc()
	a.logger.Info("activity rollup day", "day", day, "pageviews", rollup.Pageviews, "errors", rollup.Errors, "sessions", rollup.Sessions)
	return rollup, nil
}

// RollupWorkflow recomputes the requested days one after another.
func RollupWorkflow(ctx workflow.Context, input RollupWorkflowInput) (RollupWorkflowResult, error) {
	logger := workflow.GetLogger(ctx)
	if len(input.Days) == 0 {
		return RollupWorkflowResult{}, errors.New("at least one day required")
	}
	options := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:        5,
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        30 * time.Second,
			NonRetryableErrorTypes: []string{invalidDayErrorType},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, options)

	result := RollupWorkflowResult{StartedAt: workflow.Now(ctx)}
	logger.Info("rollup workflow started", "days", len(input.Days), "reason", input.Reason)

	for _, day := range input.Days {
		var rollup DailyRollup
		if err := workflow.ExecuteActivity(ctx, rollupDayActivityName, day).Get(ctx, &rollup); err != nil {
			logger.Error("rollup activity failed", "day", day, "error", err)
			return result, err
		}
		result.Rollups = append(result.Rollups, rollup)
	}

	result.CompletedAt = workflow.Now(ctx)
	logger.Info("rollup workflow finished", "days", len(input.Days), "reason", input.Reason)
	return result, nil
}

// RegisterRollupWorker wires up the Temporal worker consuming the rollup task queue.
func RegisterRollupWorker(c client.Client, taskQueue string, store *Store, logger *slog.Logger) temporalworker.Worker {
	w := temporalworker.New(c, taskQueue, temporalworker.Options{})
	w.RegisterWorkflowWithOptions(RollupWorkflow, workflow.RegisterOptions{Name: rollupWorkflowName})
	activities := NewRollupActivities(store, logger.With("component", "rollup.activities"))
	w.RegisterActivityWithOptions(activities.RollupDayActivity, activity.RegisterOptions{Name: rollupDayActivityName})
	return w
}

// TemporalOrchestrator starts rollup workflows through the Temporal client.
type TemporalOrchestrator struct {
	client    client.Client
	taskQueue string
	logger    *slog.Logger
}

func NewTemporalOrchestrator(c client.Client, taskQueue string, logger *slog.Logger) *TemporalOrchestrator {
	return &TemporalOrchestrator{client: c, taskQueue: taskQueue, logger: logger.With("component", "rollup.orchestrator")}
}

func (o *TemporalOrchestrator) start(ctx context.Context, input RollupWorkflowInput) (client.WorkflowRun, error) {
	options := client.StartWorkflowOptions{
		ID:                       fmt.Sprintf("rollup-%d", time.Now().UnixNano()),
		TaskQueue:                o.taskQueue,
		WorkflowIDReusePolicy:    enums.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowExecutionTimeout: 30 * time.Minute,
	}
	return o.client.ExecuteWorkflow(ctx, options, rollupWorkflowName, input)
}

func (o *TemporalOrchestrator) RunRollup(ctx context.Context, input RollupWorkflowInput) (RollupWorkflowResult, error) {
	we, err := o.start(ctx, input)
	if err != nil {
		o.logger.Error("start workflow failed", "days", input.Days, "error", err)
		return RollupWorkflowResult{}, err
	}
	var result RollupWorkflowResult
	err = we.Get(ctx, &result)
	result.WorkflowID = we.GetID()
	result.RunID = we.GetRunID()
	if err != nil {
		o.logger.Error("wait workflow failed", "workflow_id", we.GetID(), "error", err)
		return result, err
	}
	o.logger.Info("workflow completed", "workflow_id", result.WorkflowID, "run_id", result.RunID, "days", len(input.Days))
	return result, nil
}

func (o *TemporalOrchestrator) RunRollupAsync(ctx context.Context, input RollupWorkflowInput) (string, error) {
	we, err := o.start(ctx, input)
	if err != nil {
		o.logger.Error("start workflow async failed", "days", input.Days, "error", err)
		return "", err
	}
	o.logger.Info("workflow dispatched", "workflow_id", we.GetID(), "run_id", we.GetRunID(), "reason", input.Reason)
	return we.GetID(), nil
}

// LocalOrchestrator runs the rollup activity inline, for deployments
// without a Temporal frontend.
type LocalOrchestrator struct {
	activities *RollupActivities
	now        func() time.Time
}

func NewLocalOrchestrator(store *Store, logger *slog.Logger) *LocalOrchestrator {
	return &LocalOrchestrator{
		activities: NewRollupActivities(store, logger.With("component", "rollup.local")),
		now:        time.Now,
	}
}

func (o *LocalOrchestrator) RunRollup(ctx context.Context, input RollupWorkflowInput) (RollupWorkflowResult, error) {
	if len(input.Days) == 0 {
		return RollupWorkflowResult{}, errors.New("at least one day required")
	}
	result := RollupWorkflowResult{StartedAt: o.now().UTC()}
	for _, day := range input.Days {
		rollup, err := o.activities.RollupDayActivity(ctx, day)
		if err != nil {
			return result, err
		}
		result.Rollups = append(result.Rollups, rollup)
	}
	result.CompletedAt = o.now().UTC()
	return result, nil
}

func (o *LocalOrchestrator) RunRollupAsync(ctx context.Context, input RollupWorkflowInput) (string, error) {
	id := fmt.Sprintf("local-rollup-%d", o.now().UnixNano())
	go func() {
		// Detached from the request; the caller only gets the run id.
		ctx := context.WithoutCancel(ctx)
		if _, err := o.RunRollup(ctx, input); err != nil {
			o.activities.logger.Error("local rollup failed", "run_id", id, "error", err)
		}
	}()
	return id, nil
}
