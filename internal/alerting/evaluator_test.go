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

type evalFixture struct {
	searcher  *fakeSearcher
	store     *fakeStore
	publisher *fakePublisher
	metrics   *fakeMetrics
	eval      *Evaluator
	now       time.Time
}

func newEvalFixture(t *testing.T) *evalFixture {
	t.Helper()
	f := &evalFixture{
		searcher:  newFakeSearcher(),
		store:     newFakeStore(testGlobal()),
		publisher: &fakePublisher{},
		metrics:   &fakeMetrics{},
		now:       t0,
	}
	f.eval = NewEvaluator(f.searcher, f.store, f.publisher, f.metrics, WithClock(func() time.Time { return f.now }))
	return f
}

func (f *evalFixture) target(t *testing.T, project *models.ProjectConfig, monitor *models.MonitorSpec) *Target {
	t.Helper()
	s, err := Resolve(f.store.global, project, monitor)
	require.NoError(t, err)
	return &Target{
		Global:   f.store.global,
		Project:  project,
		Monitor:  monitor,
		Settings: s,
		Window:   ComputeWindow(project.LastSearchedAt, f.now, DefaultLookback, DefaultIngestionDelay),
	}
}

func TestComputeWindow(t *testing.T) {
	now := t0
	w := ComputeWindow(time.Time{}, now, 5*time.Minute, 2*time.Minute)
	assert.Equal(t, now.Add(-7*time.Minute), w.Start)
	assert.Equal(t, now.Add(-2*time.Minute), w.End)
	assert.False(t, w.Empty())

	checkpoint := now.Add(-time.Hour)
	w = ComputeWindow(checkpoint, now, 5*time.Minute, 2*time.Minute)
	assert.Equal(t, checkpoint, w.Start)

	w = ComputeWindow(now.Add(-time.Minute), now, 5*time.Minute, 2*time.Minute)
	assert.True(t, w.Empty())
}

func TestEvaluate_ScenarioA_NotifiesAndPersists(t *testing.T) {
	f := newEvalFixture(t)
	f.searcher.results["ERROR"] = []models.LogMatch{match(t0.Add(-3*time.Minute), "web-1", "ERROR: db down")}
	project := &models.ProjectConfig{ID: "shop", DisplayName: "Shop", StreamPrefix: "web-"}
	monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}}

	res, err := f.eval.Evaluate(context.Background(), f.target(t, project, monitor))
	require.NoError(t, err)

	assert.Equal(t, ActionNotify, res.Action)
	assert.True(t, res.Notified)
	assert.Equal(t, 1, res.MatchCount)

	msgs := f.publisher.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "slack:#warn", msgs[0].Destination)
	assert.Equal(t, "[warning] ERROR in Shop", msgs[0].Subject)
	assert.Equal(t, "1 matches\nERROR: db down", msgs[0].Body)

	state := f.store.state("shop", "ERROR")
	require.NotNil(t, state)
	assert.Equal(t, models.StatusAlarm, state.Status)
	assert.Equal(t, int64(1), state.DetectionCount)
	assert.Equal(t, 1, state.CurrentStreak)

	q := f.searcher.queriesFor("ERROR")
	require.Len(t, q, 1)
	assert.Equal(t, "app-logs", q[0].Source)
	assert.Equal(t, "web-", q[0].StreamPrefix)
	assert.Equal(t, t0.Add(-7*time.Minute), q[0].Start)
	assert.Equal(t, t0.Add(-2*time.Minute), q[0].End)

	require.Len(t, f.store.history, 1)
	assert.Equal(t, "NOTIFY", f.store.history[0].Action)
}

func TestEvaluate_MultiKeywordMergeAndDedup(t *testing.T) {
	f := newEvalFixture(t)
	ts := t0.Add(-4 * time.Minute)
	shared := match(ts, "web-1", "ERROR FATAL crash")
	f.searcher.results["ERROR"] = []models.LogMatch{
		match(ts.Add(time.Second), "web-2", "ERROR later"),
		shared,
	}
	f.searcher.results["FATAL"] = []models.LogMatch{
		shared,
		match(ts, "web-0", "FATAL same instant"),
	}
	project := &models.ProjectConfig{ID: "shop"}
	monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR", "FATAL"}, ContextLines: intPtr(10)}

	res, err := f.eval.Evaluate(context.Background(), f.target(t, project, monitor))
	require.NoError(t, err)

	assert.Equal(t, "ERROR|FATAL", res.Key)
	assert.Equal(t, 3, res.MatchCount)
	msgs := f.publisher.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "3 matches\nFATAL same instant\nERROR FATAL crash\nERROR later", msgs[0].Body)
	assert.NotNil(t, f.store.state("shop", "ERROR|FATAL"))
}

func TestEvaluate_ExclusionsAndMetricAlwaysEmitted(t *testing.T) {
	f := newEvalFixture(t)
	f.searcher.results["ERROR"] = []models.LogMatch{
		match(t0.Add(-4*time.Minute), "web-1", "ERROR healthcheck"),
		match(t0.Add(-3*time.Minute), "web-1", "ERROR healthcheck"),
	}
	project := &models.ProjectConfig{ID: "shop", Exclude: []string{"healthcheck"}}
	monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}}

	res, err := f.eval.Evaluate(context.Background(), f.target(t, project, monitor))
	require.NoError(t, err)

	assert.Equal(t, ActionNoop, res.Action)
	assert.Equal(t, 0, res.MatchCount)
	assert.Equal(t, 2, res.Excluded)
	assert.Empty(t, f.publisher.messages())
	assert.Nil(t, f.store.state("shop", "ERROR"), "absent state stays absent on NOOP")
	assert.Equal(t, 0, f.store.stateWrites)

	require.Len(t, f.metrics.records, 1)
	rec := f.metrics.records[0]
	assert.Equal(t, "keywatch", rec.Namespace)
	assert.Equal(t, 0.0, rec.Value)
	assert.Equal(t, map[string]string{"project": "shop", "keyword": "ERROR", "severity": "warning"}, rec.Dims)
}

func TestEvaluate_MetricOnSuppress(t *testing.T) {
	f := newEvalFixture(t)
	f.store.states[stateKey("shop", "ERROR")] = alarmState(t0.Add(-10*time.Minute), 1, 1)
	f.searcher.results["ERROR"] = []models.LogMatch{
		match(t0.Add(-4*time.Minute), "web-1", "ERROR a"),
		match(t0.Add(-3*time.Minute), "web-1", "ERROR b"),
	}
	project := &models.ProjectConfig{ID: "shop"}
	monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}}

	res, err := f.eval.Evaluate(context.Background(), f.target(t, project, monitor))
	require.NoError(t, err)

	assert.Equal(t, ActionSuppress, res.Action)
	assert.Empty(t, f.publisher.messages())
	require.Len(t, f.metrics.records, 1)
	assert.Equal(t, 2.0, f.metrics.records[0].Value)
	assert.Equal(t, 2, f.store.state("shop", "ERROR").CurrentStreak)
}

func TestEvaluate_DisableMetrics(t *testing.T) {
	f := newEvalFixture(t)
	f.store.global.DisableMetrics = true
	project := &models.ProjectConfig{ID: "shop"}
	monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}}

	_, err := f.eval.Evaluate(context.Background(), f.target(t, project, monitor))
	require.NoError(t, err)
	assert.Empty(t, f.metrics.records)
}

func TestEvaluate_MetricFailureDoesNotFailMonitor(t *testing.T) {
	f := newEvalFixture(t)
	f.metrics.err = errors.New("sink down")
	f.searcher.results["ERROR"] = []models.LogMatch{match(t0.Add(-3*time.Minute), "web-1", "ERROR x")}
	project := &models.ProjectConfig{ID: "shop"}
	monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}}

	res, err := f.eval.Evaluate(context.Background(), f.target(t, project, monitor))
	require.NoError(t, err)
	assert.Equal(t, ActionNotify, res.Action)
}

func TestEvaluate_ScenarioD_RecoverDispatches(t *testing.T) {
	f := newEvalFixture(t)
	f.store.states[stateKey("shop", "ERROR")] = alarmState(t0.Add(-30*time.Minute), 5, 12)
	project := &models.ProjectConfig{ID: "shop", DisplayName: "Shop"}
	monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}, Template: &models.Template{Subject: "[{severity}] {keyword} streak {streak}"}}

	res, err := f.eval.Evaluate(context.Background(), f.target(t, project, monitor))
	require.NoError(t, err)

	assert.Equal(t, ActionRecover, res.Action)
	msgs := f.publisher.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "[RECOVER] ERROR streak 5", msgs[0].Subject)

	state := f.store.state("shop", "ERROR")
	assert.Equal(t, models.StatusOK, state.Status)
	assert.Equal(t, 0, state.CurrentStreak)
	assert.Equal(t, t0, state.LastNotifiedAt)
}

func TestEvaluate_RecoverSilentDoesNotDispatch(t *testing.T) {
	f := newEvalFixture(t)
	f.store.states[stateKey("shop", "ERROR")] = alarmState(t0.Add(-30*time.Minute), 5, 12)
	project := &models.ProjectConfig{ID: "shop", RecoverNotify: boolPtr(false)}
	monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}}

	res, err := f.eval.Evaluate(context.Background(), f.target(t, project, monitor))
	require.NoError(t, err)

	assert.Equal(t, ActionRecoverSilent, res.Action)
	assert.Empty(t, f.publisher.messages())
	assert.Equal(t, models.StatusOK, f.store.state("shop", "ERROR").Status)
}

func TestEvaluate_RenderErrorFallsBack(t *testing.T) {
	f := newEvalFixture(t)
	f.searcher.results["ERROR"] = []models.LogMatch{match(t0.Add(-3*time.Minute), "web-1", "ERROR x")}
	project := &models.ProjectConfig{ID: "shop", DisplayName: "Shop"}
	monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}, Template: &models.Template{Subject: "{hostname} down"}}

	res, err := f.eval.Evaluate(context.Background(), f.target(t, project, monitor))
	require.NoError(t, err)

	assert.True(t, res.Notified)
	msgs := f.publisher.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "[warning] ERROR in Shop", msgs[0].Subject)
	assert.Contains(t, msgs[0].Body, "ERROR x")
}

func TestEvaluate_CollaboratorFailuresSkipStateWrite(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *evalFixture)
	}{
		{"search fails", func(f *evalFixture) {
			f.searcher.errs["ERROR"] = errors.New("throttled")
		}},
		{"publish fails", func(f *evalFixture) {
			f.publisher.err = errors.New("webhook 500")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEvalFixture(t)
			f.searcher.results["ERROR"] = []models.LogMatch{match(t0.Add(-3*time.Minute), "web-1", "ERROR x")}
			tt.setup(f)
			project := &models.ProjectConfig{ID: "shop"}
			monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}}

			_, err := f.eval.Evaluate(context.Background(), f.target(t, project, monitor))
			require.Error(t, err)
			var ce *CollaboratorError
			assert.ErrorAs(t, err, &ce)
			assert.Nil(t, f.store.state("shop", "ERROR"))
		})
	}
}

func TestEvaluate_DetectedAtIsLatestMatch(t *testing.T) {
	f := newEvalFixture(t)
	latest := t0.Add(-150 * time.Second)
	f.searcher.results["ERROR"] = []models.LogMatch{
		match(latest, "web-1", "ERROR late"),
		match(t0.Add(-6*time.Minute), "web-1", "ERROR early"),
	}
	project := &models.ProjectConfig{ID: "shop"}
	monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}, Template: &models.Template{Subject: "{detected_at}"}}

	_, err := f.eval.Evaluate(context.Background(), f.target(t, project, monitor))
	require.NoError(t, err)
	msgs := f.publisher.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, latest.Format(detectedAtLayout), msgs[0].Subject)
}

func TestEvaluate_StatePersistsWhenRunCancelledAfterDelivery(t *testing.T) {
	f := newEvalFixture(t)
	f.searcher.results["ERROR"] = []models.LogMatch{match(t0.Add(-3*time.Minute), "web-1", "ERROR: db down")}
	project := &models.ProjectConfig{ID: "shop", StreamPrefix: "web-"}
	monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.publisher.delivered = cancel

	res, err := f.eval.Evaluate(ctx, f.target(t, project, monitor))
	require.NoError(t, err)
	assert.Equal(t, ActionNotify, res.Action)
	assert.True(t, res.Notified)

	state := f.store.state("shop", "ERROR")
	require.NotNil(t, state)
	assert.Equal(t, models.StatusAlarm, state.Status)
	require.Len(t, f.store.history, 1)

	// The same detection in the next run is suppressed, not announced again.
	f.publisher.delivered = nil
	f.now = t0.Add(time.Minute)
	res, err = f.eval.Evaluate(context.Background(), f.target(t, project, monitor))
	require.NoError(t, err)
	assert.Equal(t, ActionSuppress, res.Action)
	assert.Len(t, f.publisher.messages(), 1)
}
