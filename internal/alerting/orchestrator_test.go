package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

func newTestOrchestrator(store *fakeStore, searcher *fakeSearcher, publisher *fakePublisher, now *time.Time) *Orchestrator {
	eval := NewEvaluator(searcher, store, publisher, &fakeMetrics{}, WithClock(func() time.Time { return *now }))
	return NewOrchestrator(store, eval, OrchestratorConfig{
		Concurrency:    2,
		Lookback:       DefaultLookback,
		IngestionDelay: DefaultIngestionDelay,
	}, nil)
}

func TestScenarioE_FailedMonitorHoldsCheckpoint(t *testing.T) {
	project := models.ProjectConfig{
		ID: "shop",
		Monitors: []models.MonitorSpec{
			{Keyword: models.Keywords{"TIMEOUT"}},
			{Keyword: models.Keywords{"ERROR"}},
		},
	}
	store := newFakeStore(testGlobal(), project)
	firstStart := t0.Add(-30 * time.Minute)
	store.checkpoints["shop"] = firstStart
	searcher := newFakeSearcher()
	searcher.errs["TIMEOUT"] = errors.New("search backend unavailable")
	searcher.results["ERROR"] = []models.LogMatch{match(t0.Add(-3*time.Minute), "web-1", "ERROR: db down")}
	publisher := &fakePublisher{}
	now := t0
	orch := newTestOrchestrator(store, searcher, publisher, &now)

	report, err := orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStatusCompleted, report.Status)

	require.Len(t, report.Projects, 1)
	pr := report.Projects[0]
	assert.True(t, pr.Failed())
	assert.False(t, pr.CheckpointAdvanced)
	require.Len(t, pr.Errors, 1)
	assert.Equal(t, "TIMEOUT", pr.Errors[0].Key)
	var ce *CollaboratorError
	assert.ErrorAs(t, pr.Errors[0].Err, &ce)

	// Second monitor still ran and its state was written.
	state := store.state("shop", "ERROR")
	require.NotNil(t, state)
	assert.Equal(t, models.StatusAlarm, state.Status)
	assert.Len(t, publisher.messages(), 1)

	cp, _ := store.checkpoint("shop")
	assert.Equal(t, firstStart, cp)

	// Next run re-searches the full unadvanced window for both monitors.
	searcher.errs["TIMEOUT"] = nil
	now = t0.Add(time.Minute)
	report, err = orch.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Projects[0].CheckpointAdvanced)

	for _, kw := range []string{"TIMEOUT", "ERROR"} {
		q := searcher.queriesFor(kw)
		require.Len(t, q, 2, kw)
		assert.Equal(t, firstStart, q[1].Start, kw)
		assert.Equal(t, now.Add(-DefaultIngestionDelay), q[1].End, kw)
	}

	// The already-alarmed key is suppressed on re-scan.
	assert.Len(t, publisher.messages(), 1)
	cp, _ = store.checkpoint("shop")
	assert.Equal(t, now.Add(-DefaultIngestionDelay), cp)
}

func TestOrchestrator_AdvancesCheckpointOnSuccess(t *testing.T) {
	project := models.ProjectConfig{ID: "shop", Monitors: []models.MonitorSpec{{Keyword: models.Keywords{"ERROR"}}}}
	store := newFakeStore(testGlobal(), project)
	now := t0
	orch := newTestOrchestrator(store, newFakeSearcher(), &fakePublisher{}, &now)

	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	pr := report.Projects[0]
	assert.True(t, pr.CheckpointAdvanced)
	assert.Equal(t, t0.Add(-DefaultIngestionDelay), pr.WindowEnd)
	cp, ok := store.checkpoint("shop")
	require.True(t, ok)
	assert.Equal(t, pr.WindowEnd, cp)

	// The next window starts where the previous one ended.
	now = t0.Add(5 * time.Minute)
	report, err = orch.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cp, report.Projects[0].WindowStart)
}

func TestOrchestrator_DisabledProjectSkipped(t *testing.T) {
	disabled := false
	project := models.ProjectConfig{
		ID:       "legacy",
		Enabled:  &disabled,
		Monitors: []models.MonitorSpec{{Keyword: models.Keywords{"ERROR"}}},
	}
	store := newFakeStore(testGlobal(), project)
	searcher := newFakeSearcher()
	searcher.results["ERROR"] = []models.LogMatch{match(t0.Add(-3*time.Minute), "web-1", "ERROR")}
	now := t0
	orch := newTestOrchestrator(store, searcher, &fakePublisher{}, &now)

	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Projects, 1)
	assert.True(t, report.Projects[0].Skipped)
	assert.Empty(t, searcher.queriesFor("ERROR"))
	assert.Nil(t, store.state("legacy", "ERROR"))
	_, ok := store.checkpoint("legacy")
	assert.False(t, ok)
	assert.Equal(t, 1, report.Stats().ProjectsSkipped)
}

func TestOrchestrator_ConfigurationErrorIsolatesProject(t *testing.T) {
	broken := models.ProjectConfig{
		ID: "broken",
		Monitors: []models.MonitorSpec{
			{Keyword: models.Keywords{"ERROR"}},
			{Keyword: models.Keywords{"PANIC"}, Severity: models.SeverityInfo}, // no destination for info
		},
	}
	healthy := models.ProjectConfig{ID: "healthy", Monitors: []models.MonitorSpec{{Keyword: models.Keywords{"ERROR"}}}}
	store := newFakeStore(testGlobal(), broken, healthy)
	searcher := newFakeSearcher()
	searcher.results["ERROR"] = []models.LogMatch{match(t0.Add(-3*time.Minute), "web-1", "ERROR x")}
	now := t0
	orch := newTestOrchestrator(store, searcher, &fakePublisher{}, &now)

	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Projects, 2)
	assert.Equal(t, "broken", report.Projects[0].ProjectID)
	require.Len(t, report.Projects[0].Errors, 1)
	assert.True(t, IsConfigurationError(report.Projects[0].Errors[0].Err))
	assert.Empty(t, report.Projects[0].Results, "no monitor runs when configuration is invalid")
	assert.Nil(t, store.state("broken", "ERROR"))
	_, ok := store.checkpoint("broken")
	assert.False(t, ok)

	assert.True(t, report.Projects[1].CheckpointAdvanced)
	assert.NotNil(t, store.state("healthy", "ERROR"))

	st := report.Stats()
	assert.Equal(t, 1, st.ProjectsFailed)
	assert.Equal(t, 1, st.ProjectsProcessed)
	assert.Equal(t, 1, st.Notifications)
}

func TestOrchestrator_DuplicateAlarmKey(t *testing.T) {
	project := models.ProjectConfig{
		ID: "shop",
		Monitors: []models.MonitorSpec{
			{Keyword: models.Keywords{"ERROR"}},
			{Keyword: models.Keywords{"ERROR"}, Severity: models.SeverityCritical},
		},
	}
	_, err := Prepare(testGlobal(), &project)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Contains(t, err.Error(), `alarm key "ERROR"`)
}

func TestOrchestrator_EmptyWindowSkipsWithoutMutation(t *testing.T) {
	project := models.ProjectConfig{ID: "shop", Monitors: []models.MonitorSpec{{Keyword: models.Keywords{"ERROR"}}}}
	store := newFakeStore(testGlobal(), project)
	store.checkpoints["shop"] = t0
	searcher := newFakeSearcher()
	now := t0
	orch := newTestOrchestrator(store, searcher, &fakePublisher{}, &now)

	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	assert.True(t, report.Projects[0].Skipped)
	assert.Empty(t, searcher.queriesFor("ERROR"))
	cp, _ := store.checkpoint("shop")
	assert.Equal(t, t0, cp)
}

func TestOrchestrator_GlobalConfigFailure(t *testing.T) {
	store := newFakeStore(testGlobal())
	store.globalErr = errors.New("store offline")
	now := t0
	orch := newTestOrchestrator(store, newFakeSearcher(), &fakePublisher{}, &now)

	report, err := orch.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
}

func TestOrchestrator_CheckpointWriteFailure(t *testing.T) {
	project := models.ProjectConfig{ID: "shop", Monitors: []models.MonitorSpec{{Keyword: models.Keywords{"ERROR"}}}}
	store := newFakeStore(testGlobal(), project)
	store.checkpointErr = errors.New("disk full")
	now := t0
	orch := newTestOrchestrator(store, newFakeSearcher(), &fakePublisher{}, &now)

	report, err := orch.Run(context.Background())
	require.NoError(t, err)
	pr := report.Projects[0]
	assert.False(t, pr.CheckpointAdvanced)
	assert.True(t, pr.Failed())
}

func TestOrchestrator_CancelledContext(t *testing.T) {
	project := models.ProjectConfig{ID: "shop", Monitors: []models.MonitorSpec{{Keyword: models.Keywords{"ERROR"}}}}
	store := newFakeStore(testGlobal(), project)
	now := t0
	orch := newTestOrchestrator(store, newFakeSearcher(), &fakePublisher{}, &now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := orch.Run(ctx)
	require.NoError(t, err)

	pr := report.Projects[0]
	assert.True(t, pr.Failed())
	assert.ErrorIs(t, pr.Errors[0].Err, context.Canceled)
	_, ok := store.checkpoint("shop")
	assert.False(t, ok)
}

func TestOrchestrator_ManyProjectsIndependent(t *testing.T) {
	var projects []models.ProjectConfig
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		projects = append(projects, models.ProjectConfig{ID: id, Monitors: []models.MonitorSpec{{Keyword: models.Keywords{"ERROR"}}}})
	}
	store := newFakeStore(testGlobal(), projects...)
	searcher := newFakeSearcher()
	searcher.results["ERROR"] = []models.LogMatch{match(t0.Add(-3*time.Minute), "web-1", "ERROR x")}
	publisher := &fakePublisher{}
	now := t0
	orch := newTestOrchestrator(store, searcher, publisher, &now)

	report, err := orch.Run(context.Background())
	require.NoError(t, err)

	for i, pr := range report.Projects {
		assert.Equal(t, projects[i].ID, pr.ProjectID)
		assert.True(t, pr.CheckpointAdvanced)
		assert.NotNil(t, store.state(pr.ProjectID, "ERROR"))
	}
	assert.Len(t, publisher.messages(), 5)
}
