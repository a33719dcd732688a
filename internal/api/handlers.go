package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/keywatch/internal/alerting"
	"github.com/good-yellow-bee/keywatch/internal/models"
	"github.com/good-yellow-bee/keywatch/internal/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

func (s *Server) queryContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.config.QueryTimeout)
}

func (s *Server) findProject(id string) (*models.GlobalConfig, *models.ProjectConfig) {
	cfg := s.deps.Config.Snapshot()
	if cfg == nil {
		return nil, nil
	}
	for i := range cfg.Projects {
		if cfg.Projects[i].ID == id {
			return &cfg.Global, &cfg.Projects[i]
		}
	}
	return &cfg.Global, nil
}

// listProjects returns every configured project with its checkpoint and
// active alarm count.
func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	cfg := s.deps.Config.Snapshot()
	if cfg == nil {
		OK(w, []ProjectResponse{})
		return
	}

	checkpoints, err := s.deps.Checkpoints.List(ctx)
	if err != nil {
		s.logger.Error("list checkpoints", zap.Error(err))
		JSONError(w, ErrInternalServer)
		return
	}

	out := make([]ProjectResponse, 0, len(cfg.Projects))
	for i := range cfg.Projects {
		p := &cfg.Projects[i]
		states, err := s.deps.States.List(ctx, p.ID)
		if err != nil {
			s.logger.Error("list alarm states", zap.String("project", p.ID), zap.Error(err))
			JSONError(w, ErrInternalServer)
			return
		}
		out = append(out, projectResponse(p, checkpoints[p.ID], states))
	}
	OK(w, out)
}

// getProject returns one project with its monitors and their alarm states.
func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	global, p := s.findProject(chi.URLParam(r, "id"))
	if p == nil {
		JSONError(w, ErrProjectNotFound)
		return
	}

	checkpoint, err := s.deps.Checkpoints.Get(ctx, p.ID)
	if err != nil {
		s.logger.Error("get checkpoint", zap.String("project", p.ID), zap.Error(err))
		JSONError(w, ErrInternalServer)
		return
	}
	states, err := s.deps.States.List(ctx, p.ID)
	if err != nil {
		s.logger.Error("list alarm states", zap.String("project", p.ID), zap.Error(err))
		JSONError(w, ErrInternalServer)
		return
	}

	resp := projectResponse(p, checkpoint, states)
	byKey := make(map[string]*models.AlarmState, len(states))
	for _, st := range states {
		byKey[st.Key] = st
	}

	// Settings resolve against the current defaults; a project that fails
	// resolution still lists its monitors with their raw fields.
	settings, _ := alerting.Prepare(global, p)
	resp.Monitors = make([]MonitorResponse, 0, len(p.Monitors))
	for i := range p.Monitors {
		m := &p.Monitors[i]
		mr := MonitorResponse{
			Key:         m.AlarmKey(),
			Keywords:    m.Keyword,
			Severity:    string(m.Severity),
			Destination: m.Destination,
		}
		if i < len(settings) && settings[i] != nil {
			mr.Severity = string(settings[i].Severity)
			mr.Destination = settings[i].Destination
		}
		if st, ok := byKey[mr.Key]; ok {
			mr.State = alarmStateResponse(st)
		}
		resp.Monitors = append(resp.Monitors, mr)
	}
	OK(w, resp)
}

// listStates returns a project's alarm states. ?status=ALARM restricts the
// list to firing alarms.
func (s *Server) listStates(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	id := chi.URLParam(r, "id")
	if _, p := s.findProject(id); p == nil {
		JSONError(w, ErrProjectNotFound)
		return
	}

	status := models.AlarmStatus(r.URL.Query().Get("status"))
	if status != "" && status != models.StatusOK && status != models.StatusAlarm {
		JSONError(w, NewBadRequest("status must be OK or ALARM"))
		return
	}

	states, err := s.deps.States.List(ctx, id)
	if err != nil {
		s.logger.Error("list alarm states", zap.String("project", id), zap.Error(err))
		JSONError(w, ErrInternalServer)
		return
	}

	out := make([]*AlarmStateResponse, 0, len(states))
	for _, st := range states {
		if status != "" && st.Status != status {
			continue
		}
		out = append(out, alarmStateResponse(st))
	}
	OK(w, out)
}

// resetState deletes the alarm state named by ?key=. The next detection
// starts a fresh alarm.
func (s *Server) resetState(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.queryContext(r)
	defer cancel()

	id := chi.URLParam(r, "id")
	key := r.URL.Query().Get("key")
	if key == "" {
		JSONError(w, NewBadRequest("key is required"))
		return
	}

	if err := s.deps.States.Delete(ctx, id, key); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			JSONError(w, NewNotFound("Alarm state not found"))
			return
		}
		s.logger.Error("delete alarm state", zap.String("project", id), zap.String("key", key), zap.Error(err))
		JSONError(w, ErrInternalServer)
		return
	}

	s.logger.Info("alarm state reset", zap.String("project", id), zap.String("key", key))
	NoContent(w)
}

// listHistory pages through sent notifications, newest first.
func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		JSONError(w, NewNotFound("Notification history is not enabled"))
		return
	}

	limit, offset, apiErr := parsePagination(r)
	if apiErr != nil {
		JSONError(w, apiErr)
		return
	}

	ctx, cancel := s.queryContext(r)
	defer cancel()

	var (
		items []*models.NotificationRecord
		total int64
		err   error
	)
	if project := r.URL.Query().Get("project"); project != "" {
		items, total, err = s.deps.History.ListByProject(ctx, project, limit, offset)
	} else {
		items, total, err = s.deps.History.List(ctx, limit, offset)
	}
	if err != nil {
		s.logger.Error("list notification history", zap.Error(err))
		JSONError(w, ErrInternalServer)
		return
	}
	if items == nil {
		items = []*models.NotificationRecord{}
	}

	OK(w, PaginatedResponse{Items: items, Total: total, Limit: limit, Offset: offset})
}

// lastRun returns the most recent scan report.
func (s *Server) lastRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scanner == nil {
		JSONError(w, ErrSchedulerDisabled)
		return
	}
	report := s.deps.Scanner.LastReport()
	if report == nil {
		JSONError(w, NewNotFound("No scan has completed yet"))
		return
	}
	OK(w, runResponse(report))
}

// triggerScan starts a scan in the background unless one is running.
func (s *Server) triggerScan(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scanner == nil {
		JSONError(w, ErrSchedulerDisabled)
		return
	}
	if s.deps.Scanner.Running() {
		JSONError(w, ErrScanInProgress)
		return
	}

	// Trigger blocks for the whole run.
	go func() {
		if !s.deps.Scanner.Trigger(s.baseCtx) {
			s.logger.Info("manual scan skipped, a run is already active")
		}
	}()

	Accepted(w, map[string]string{"status": "started"})
}

func parsePagination(r *http.Request) (int, int, *Error) {
	limit, offset := defaultPageSize, 0
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return 0, 0, NewBadRequest("limit must be a positive integer")
		}
		limit = min(n, maxPageSize)
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, NewBadRequest("offset must be a non-negative integer")
		}
		offset = n
	}
	return limit, offset, nil
}

func projectResponse(p *models.ProjectConfig, checkpoint time.Time, states []*models.AlarmState) ProjectResponse {
	resp := ProjectResponse{
		ID:             p.ID,
		Name:           p.Name(),
		Enabled:        p.IsEnabled(),
		MonitorCount:   len(p.Monitors),
		LastSearchedAt: formatTime(checkpoint),
	}
	for _, st := range states {
		if st.IsAlarm() {
			resp.ActiveAlarms++
		}
	}
	return resp
}

func alarmStateResponse(st *models.AlarmState) *AlarmStateResponse {
	return &AlarmStateResponse{
		ProjectID:      st.ProjectID,
		Key:            st.Key,
		Status:         string(st.Status),
		LastDetectedAt: formatTime(st.LastDetectedAt),
		LastNotifiedAt: formatTime(st.LastNotifiedAt),
		DetectionCount: st.DetectionCount,
		CurrentStreak:  st.CurrentStreak,
		UpdatedAt:      formatTime(st.UpdatedAt),
	}
}

func runResponse(report *alerting.RunReport) RunResponse {
	stats := report.Stats()
	return RunResponse{
		ID:                report.ID,
		Status:            report.Status,
		StartedAt:         formatTime(report.StartedAt),
		FinishedAt:        formatTime(report.FinishedAt),
		ProjectsProcessed: stats.ProjectsProcessed,
		ProjectsFailed:    stats.ProjectsFailed,
		ProjectsSkipped:   stats.ProjectsSkipped,
		MonitorsFailed:    stats.MonitorsFailed,
		Notifications:     stats.Notifications,
		Projects:          report.Projects,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
