package analytics

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seedRollupDay(t *testing.T, s *Store) {
	t.Helper()
	a := event(EventPerf, "/", at(9, 0), "")
	b := event(EventPerf, "/", at(10, 0), "")
	c := event(EventPerf, "/", at(11, 0), "")
	c.SessionID = "s-2"
	seed(t, s, a, b, c,
		errorEvent("/", at(12, 0), "boom"),
		event(EventPerf, "/", at(0, 0).AddDate(0, 0, 1), ""),
	)
}

func TestRollupDay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedRollupDay(t, s)

	r, err := s.RollupDay(ctx, at(15, 0))
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01", r.Day)
	assert.EqualValues(t, 3, r.Pageviews)
	assert.EqualValues(t, 1, r.Errors)
	assert.EqualValues(t, 2, r.Sessions)

	// Recomputing replaces the stored row.
	seed(t, s, errorEvent("/", at(13, 0), "again"))
	_, err = s.RollupDay(ctx, sinceJan1)
	require.NoError(t, err)

	rollups, err := s.ListRollups(ctx, sinceJan1)
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	assert.EqualValues(t, 2, rollups[0].Errors)
	assert.Equal(t, fixedNow, rollups[0].ComputedAt)
}

func TestRollupDays(t *testing.T) {
	assert.Equal(t, []string{"2024-12-31", "2025-01-01", "2025-01-02"}, RollupDays(fixedNow, 3))
	assert.Equal(t, []string{"2025-01-02"}, RollupDays(fixedNow, 1))
}

func TestRollupWorkflow(t *testing.T) {
	s := newTestStore(t)
	seedRollupDay(t, s)

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(RollupWorkflow, workflow.RegisterOptions{Name: rollupWorkflowName})
	activities := NewRollupActivities(s, discardLogger())
	env.RegisterActivityWithOptions(activities.RollupDayActivity, activity.RegisterOptions{Name: rollupDayActivityName})

	env.ExecuteWorkflow(rollupWorkflowName, RollupWorkflowInput{Days: []string{"2025-01-01", "2025-01-02"}, Reason: "test"})

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var result RollupWorkflowResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.Len(t, result.Rollups, 2)
	assert.EqualValues(t, 3, result.Rollups[0].Pageviews)
	assert.EqualValues(t, 1, result.Rollups[1].Pageviews)
}

func TestRollupWorkflowRejectsBadDay(t *testing.T) {
	s := newTestStore(t)

	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(RollupWorkflow, workflow.RegisterOptions{Name: rollupWorkflowName})
	activities := NewRollupActivities(s, discardLogger())
	env.RegisterActivityWithOptions(activities.RollupDayActivity, activity.RegisterOptions{Name: rollupDayActivityName})

	env.ExecuteWorkflow(rollupWorkflowName, RollupWorkflowInput{Days: []string{"01/01/2025"}})

	require.True(t, env.IsWorkflowCompleted())
	assert.ErrorContains(t, env.GetWorkflowError(), "invalid rollup day")
}

func TestLocalOrchestrator(t *testing.T) {
	s := newTestStore(t)
	seedRollupDay(t, s)
	o := NewLocalOrchestrator(s, discardLogger())

	result, err := o.RunRollup(context.Background(), RollupWorkflowInput{Days: []string{"2025-01-01"}})
	require.NoError(t, err)
	require.Len(t, result.Rollups, 1)
	assert.EqualValues(t, 2, result.Rollups[0].Sessions)

	_, err = o.RunRollup(context.Background(), RollupWorkflowInput{})
	assert.Error(t, err)
}

func TestRollupRoutes(t *testing.T) {
	ts := newTestServer(t, nil, ServerOptions{})
	status, _ := ts.do(t, http.MethodPost, "/api/analytics/rollups/run", "")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	ts = newTestServer(t, nil, ServerOptions{})
	o := NewLocalOrchestrator(ts.store, discardLogger())
	o.now = func() time.Time { return fixedNow }
	ts.server.orchestrator = o
	seedRollupDay(t, ts.store)

	status, body := ts.do(t, http.MethodPost, "/api/analytics/rollups/run?days=2", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["rollups"], 2)

	status, body = ts.do(t, http.MethodGet, "/api/analytics/rollups?since=2025-01-01", "")
	require.Equal(t, http.StatusOK, status)
	rollups := body["rollups"].([]any)
	require.Len(t, rollups, 2)
	assert.Equal(t, "2025-01-01", rollups[0].(map[string]any)["day"])
	assert.EqualValues(t, 3, rollups[0].(map[string]any)["pageviews"])

	status, _ = ts.do(t, http.MethodPost, "/api/analytics/rollups/run?days=x", "")
	assert.Equal(t, http.StatusBadRequest, status)
}
