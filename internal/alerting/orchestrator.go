package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

// RunStatusCompleted is the only terminal status of a run.
const RunStatusCompleted = "COMPLETED"

// OrchestratorConfig holds scan-wide parameters.
type OrchestratorConfig struct {
	// Concurrency bounds how many projects are evaluated at once.
	Concurrency int
	Lookback    time.Duration
	// IngestionDelay of zero searches up to now.
	IngestionDelay time.Duration
}

func (c *OrchestratorConfig) setDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	if c.IngestionDelay < 0 {
		c.IngestionDelay = DefaultIngestionDelay
	}
}

// MonitorError records a failed monitor within a project.
type MonitorError struct {
	Key string `json:"key,omitempty"`
	Err error  `json:"-"`
	// Message mirrors Err for JSON output.
	Message string `json:"error"`
}

// ProjectReport summarizes one project's part of a run.
type ProjectReport struct {
	ProjectID          string          `json:"project_id"`
	Skipped            bool            `json:"skipped,omitempty"`
	SkipReason         string          `json:"skip_reason,omitempty"`
	WindowStart        time.Time       `json:"window_start"`
	WindowEnd          time.Time       `json:"window_end"`
	Results            []MonitorResult `json:"results,omitempty"`
	Errors             []MonitorError  `json:"errors,omitempty"`
	CheckpointAdvanced bool            `json:"checkpoint_advanced"`
}

// Failed reports whether any part of the project's evaluation failed.
func (p *ProjectReport) Failed() bool {
	return len(p.Errors) > 0
}

func (p *ProjectReport) fail(key string, err error) {
	p.Errors = append(p.Errors, MonitorError{Key: key, Err: err, Message: err.Error()})
}

// RunReport summarizes a scan run.
type RunReport struct {
	ID         string          `json:"id"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Projects   []ProjectReport `json:"projects"`
}

// RunStats are aggregate counters over a RunReport.
type RunStats struct {
	ProjectsProcessed int
	ProjectsFailed    int
	ProjectsSkipped   int
	Monitors          int
	MonitorsFailed    int
	Detections        int
	Notifications     int
}

// Stats aggregates the report.
func (r *RunReport) Stats() RunStats {
	var s RunStats
	for i := range r.Projects {
		p := &r.Projects[i]
		switch {
		case p.Skipped:
			s.ProjectsSkipped++
			continue
		case p.Failed():
			s.ProjectsFailed++
		default:
			s.ProjectsProcessed++
		}
		s.Monitors += len(p.Results) + len(p.Errors)
		s.MonitorsFailed += len(p.Errors)
		for _, res := range p.Results {
			s.Detections += res.MatchCount
			if res.Notified {
				s.Notifications++
			}
		}
	}
	return s
}

// Orchestrator runs every enabled project's monitors, isolating failures
// per project and advancing checkpoints only after full success.
type Orchestrator struct {
	store     Store
	evaluator *Evaluator
	cfg       OrchestratorConfig
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(store Store, evaluator *Evaluator, cfg OrchestratorConfig, logger *zap.Logger) *Orchestrator {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		evaluator: evaluator,
		cfg:       cfg,
		logger:    logger,
		now:       evaluator.now,
	}
}

// Run performs one scan. The only returned error is a failure to load the
// configuration; every project-level failure is reported in the RunReport.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	report := &RunReport{
		ID:        uuid.New().String(),
		StartedAt: o.now(),
	}
	log := o.logger.With(zap.String("run_id", report.ID))

	global, err := o.store.GlobalConfig(ctx)
	if err != nil {
		return nil, collaboratorErr("load global config", err)
	}
	projects, err := o.store.Projects(ctx)
	if err != nil {
		return nil, collaboratorErr("list projects", err)
	}

	loc := time.UTC
	if global.Timezone != "" {
		if l, err := time.LoadLocation(global.Timezone); err != nil {
			log.Warn("unknown timezone, using UTC", zap.String("timezone", global.Timezone), zap.Error(err))
		} else {
			loc = l
		}
	}

	now := o.now()
	report.Projects = make([]ProjectReport, len(projects))
	g := new(errgroup.Group)
	g.SetLimit(o.cfg.Concurrency)

	for i := range projects {
		p := &projects[i]
		if !p.IsEnabled() {
			report.Projects[i] = ProjectReport{ProjectID: p.ID, Skipped: true, SkipReason: "disabled"}
			continue
		}
		g.Go(func() error {
			report.Projects[i] = o.runProject(ctx, global, p, now, loc, log)
			return nil
		})
	}
	_ = g.Wait()

	report.Status = RunStatusCompleted
	report.FinishedAt = o.now()

	st := report.Stats()
	log.Info("scan run completed",
		zap.Int("projects_processed", st.ProjectsProcessed),
		zap.Int("projects_failed", st.ProjectsFailed),
		zap.Int("projects_skipped", st.ProjectsSkipped),
		zap.Int("detections", st.Detections),
		zap.Int("notifications", st.Notifications),
		zap.Duration("duration", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

// Prepare resolves settings for every monitor of a project and rejects
// duplicate alarm keys. Any error is a *ConfigurationError.
func Prepare(global *models.GlobalConfig, p *models.ProjectConfig) ([]*Settings, error) {
	settings := make([]*Settings, len(p.Monitors))
	keys := make(map[string]int, len(p.Monitors))
	for i := range p.Monitors {
		m := &p.Monitors[i]
		if err := m.Validate(); err != nil {
			return nil, &ConfigurationError{ProjectID: p.ID, Field: fmt.Sprintf("monitors[%d]", i), Reason: err.Error()}
		}
		key := m.AlarmKey()
		if j, dup := keys[key]; dup {
			return nil, &ConfigurationError{
				ProjectID: p.ID,
				Field:     fmt.Sprintf("monitors[%d]", i),
				Reason:    fmt.Sprintf("alarm key %q already used by monitors[%d]", key, j),
			}
		}
		keys[key] = i
		s, err := Resolve(global, p, m)
		if err != nil {
			return nil, err
		}
		settings[i] = s
	}
	return settings, nil
}

func (o *Orchestrator) runProject(ctx context.Context, global *models.GlobalConfig, p *models.ProjectConfig, now time.Time, loc *time.Location, log *zap.Logger) ProjectReport {
	log = log.With(zap.String("project", p.ID))
	window := ComputeWindow(p.LastSearchedAt, now, o.cfg.Lookback, o.cfg.IngestionDelay)
	pr := ProjectReport{ProjectID: p.ID, WindowStart: window.Start, WindowEnd: window.End}

	if window.Empty() {
		pr.Skipped = true
		pr.SkipReason = "empty search window"
		log.Debug("search window is empty, skipping", zap.Time("start", window.Start), zap.Time("end", window.End))
		return pr
	}

	settings, err := Prepare(global, p)
	if err != nil {
		log.Error("project configuration is invalid", zap.Error(err))
		pr.fail("", err)
		return pr
	}

	for i := range p.Monitors {
		m := &p.Monitors[i]
		if err := ctx.Err(); err != nil {
			pr.fail(m.AlarmKey(), err)
			break
		}
		res, err := o.evaluator.Evaluate(ctx, &Target{
			Global:   global,
			Project:  p,
			Monitor:  m,
			Settings: settings[i],
			Window:   window,
			Location: loc,
		})
		if err != nil {
			log.Warn("monitor evaluation failed", zap.String("key", m.AlarmKey()), zap.Error(err))
			pr.fail(m.AlarmKey(), err)
			if IsConfigurationError(err) {
				break
			}
			continue
		}
		pr.Results = append(pr.Results, *res)
	}

	if pr.Failed() {
		log.Warn("checkpoint not advanced", zap.Int("failed_monitors", len(pr.Errors)))
		return pr
	}

	if err := o.store.PutCheckpoint(ctx, p.ID, window.End); err != nil {
		log.Error("failed to advance checkpoint", zap.Error(err))
		pr.fail("", collaboratorErr("put checkpoint", err))
		return pr
	}
	pr.CheckpointAdvanced = true
	return pr
}
