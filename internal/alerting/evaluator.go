package alerting

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

// Default window parameters.
const (
	DefaultLookback       = 5 * time.Minute
	DefaultIngestionDelay = 2 * time.Minute
)

// settleTimeout bounds the writes that follow a delivered notification.
// They run detached from the run deadline.
const settleTimeout = 10 * time.Second

// Window is a half-open search interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Empty reports whether the window contains no instants.
func (w Window) Empty() bool {
	return !w.Start.Before(w.End)
}

// ComputeWindow derives the search window for a project. End trails now by
// the ingestion delay; Start is the checkpoint, or End minus lookback when
// the project has never been searched.
func ComputeWindow(checkpoint, now time.Time, lookback, delay time.Duration) Window {
	end := now.Add(-delay)
	start := checkpoint
	if start.IsZero() {
		start = end.Add(-lookback)
	}
	return Window{Start: start, End: end}
}

// Target is one (project, monitor) pair ready for evaluation.
type Target struct {
	Global   *models.GlobalConfig
	Project  *models.ProjectConfig
	Monitor  *models.MonitorSpec
	Settings *Settings
	Window   Window
	Location *time.Location
}

// MonitorResult summarizes one evaluation.
type MonitorResult struct {
	Key         string             `json:"key"`
	Action      Action             `json:"action"`
	MatchCount  int                `json:"match_count"`
	Excluded    int                `json:"excluded"`
	Destination string             `json:"destination,omitempty"`
	Notified    bool               `json:"notified"`
	State       *models.AlarmState `json:"state,omitempty"`
}

// Evaluator runs a single monitor: search, filter, transition, notify and
// write back.
type Evaluator struct {
	searcher  LogSearcher
	store     Store
	publisher Publisher
	metrics   MetricSink
	logger    *zap.Logger
	now       func() time.Time
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock overrides the wall clock used for state transitions.
func WithClock(now func() time.Time) EvaluatorOption {
	return func(e *Evaluator) { e.now = now }
}

// WithLogger sets the evaluator logger.
func WithLogger(logger *zap.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = logger }
}

// NewEvaluator creates an evaluator. metrics may be nil.
func NewEvaluator(searcher LogSearcher, store Store, publisher Publisher, metrics MetricSink, opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		searcher:  searcher,
		store:     store,
		publisher: publisher,
		metrics:   metrics,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs one monitor. On error no alarm state has been written.
func (e *Evaluator) Evaluate(ctx context.Context, t *Target) (*MonitorResult, error) {
	key := t.Monitor.AlarmKey()
	log := e.logger.With(zap.String("project", t.Project.ID), zap.String("key", key))

	matches, err := e.search(ctx, t, t.Monitor.Keyword)
	if err != nil {
		return nil, err
	}
	survivors := NewExclusionFilter(t.Settings.Exclude, log).Filter(matches)
	res := &MonitorResult{
		Key:        key,
		MatchCount: len(survivors),
		Excluded:   len(matches) - len(survivors),
	}

	e.recordMetric(ctx, t, key, len(survivors), log)

	prior, err := e.store.State(ctx, t.Project.ID, key)
	if err != nil {
		return nil, collaboratorErr("get state", err)
	}

	now := e.now()
	action, next := NextState(prior, Input{
		MatchCount:      len(survivors),
		RenotifyMinutes: t.Settings.RenotifyMinutes,
		RecoverNotify:   t.Settings.RecoverNotify,
		Now:             now,
	})
	res.Action = action
	if next != nil {
		next.ProjectID = t.Project.ID
		next.Key = key
	}

	writeCtx := ctx
	if action.Notifies() {
		d := detection(t, action, survivors, prior, next)
		subject, err := e.notify(ctx, t, d, log)
		if err != nil {
			return nil, err
		}
		res.Notified = true
		res.Destination = t.Settings.Destination

		// The transition has been announced; its state must be written
		// even if the run is cancelled now, or the next run repeats it.
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
		defer cancel()
		e.recordHistory(writeCtx, t, d, subject, log)
	}

	if next != nil {
		if err := e.store.PutState(writeCtx, next); err != nil {
			return nil, collaboratorErr("put state", err)
		}
	}
	res.State = next

	log.Debug("monitor evaluated",
		zap.String("action", string(action)),
		zap.Int("matches", res.MatchCount),
		zap.Int("excluded", res.Excluded))
	return res, nil
}

type matchKey struct {
	ts     int64
	stream string
	line   string
}

// search queries every keyword literal and returns the merged, de-duplicated
// matches ordered by timestamp then stream.
func (e *Evaluator) search(ctx context.Context, t *Target, keywords []string) ([]models.LogMatch, error) {
	seen := make(map[matchKey]struct{})
	var out []models.LogMatch
	for _, kw := range keywords {
		q := models.SearchQuery{
			Source:       t.Settings.Source,
			StreamPrefix: t.Project.StreamPrefix,
			Keyword:      kw,
			Start:        t.Window.Start,
			End:          t.Window.End,
		}
		for m, err := range e.searcher.Search(ctx, q) {
			if err != nil {
				return nil, collaboratorErr("search "+kw, err)
			}
			k := matchKey{ts: m.Timestamp.UnixNano(), stream: m.Stream, line: m.Line}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, m)
		}
	}
	slices.SortStableFunc(out, func(a, b models.LogMatch) int {
		if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.Stream, b.Stream)
	})
	return out, nil
}

func (e *Evaluator) recordMetric(ctx context.Context, t *Target, key string, count int, log *zap.Logger) {
	if e.metrics == nil || t.Global.DisableMetrics {
		return
	}
	dims := map[string]string{
		"project":  t.Project.ID,
		"keyword":  key,
		"severity": string(t.Settings.Severity),
	}
	if err := e.metrics.Record(ctx, t.Global.MetricNamespace, dims, float64(count)); err != nil {
		log.Warn("failed to record detection metric", zap.Error(err))
	}
}

// notify renders and publishes d and returns the subject sent.
func (e *Evaluator) notify(ctx context.Context, t *Target, d *Detection, log *zap.Logger) (string, error) {
	r := NewRenderer(t.Location)
	subject, body, err := r.Render(t.Settings.Template.Subject, t.Settings.Template.Body, d)
	if err != nil {
		var re *RenderError
		if !errors.As(err, &re) {
			return "", err
		}
		log.Warn("template rendering failed, using fallback", zap.Error(err))
		subject, body = r.Fallback(d)
	}

	if err := e.publisher.Publish(ctx, t.Settings.Destination, subject, body); err != nil {
		return "", collaboratorErr("publish to "+t.Settings.Destination, err)
	}
	log.Info("notification sent",
		zap.String("action", string(d.Action)),
		zap.String("destination", t.Settings.Destination),
		zap.Int("matches", d.Count))
	return subject, nil
}

func (e *Evaluator) recordHistory(ctx context.Context, t *Target, d *Detection, subject string, log *zap.Logger) {
	h, ok := e.store.(HistoryRecorder)
	if !ok {
		return
	}
	rec := &models.NotificationRecord{
		ID:          uuid.New().String(),
		ProjectID:   t.Project.ID,
		Key:         t.Monitor.AlarmKey(),
		Action:      string(d.Action),
		Severity:    t.Settings.Severity,
		Destination: t.Settings.Destination,
		Subject:     subject,
		MatchCount:  d.Count,
		SentAt:      e.now(),
	}
	if err := h.RecordNotification(ctx, rec); err != nil {
		log.Warn("failed to record notification history", zap.Error(err))
	}
}

func detection(t *Target, action Action, survivors []models.LogMatch, prior, next *models.AlarmState) *Detection {
	d := &Detection{
		Project:      t.Project.Name(),
		Keyword:      strings.Join(t.Monitor.Keyword, ", "),
		Severity:     string(t.Settings.Severity),
		Action:       action,
		Count:        len(survivors),
		DetectedAt:   t.Window.End,
		Source:       t.Settings.Source,
		Mention:      t.Settings.Mention,
		ContextLines: t.Settings.ContextLines,
	}
	if action == ActionRecover {
		if prior != nil {
			d.Streak = prior.CurrentStreak
		}
	} else if next != nil {
		d.Streak = next.CurrentStreak
	}
	if len(survivors) > 0 {
		d.DetectedAt = survivors[len(survivors)-1].Timestamp
		d.Streams = make([]string, 0, len(survivors))
		d.Lines = make([]string, 0, len(survivors))
		for _, m := range survivors {
			d.Streams = append(d.Streams, m.Stream)
			d.Lines = append(d.Lines, m.Line)
		}
	}
	return d
}
