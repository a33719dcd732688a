package alerting

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]models.LogMatch
	errs    map[string]error
	queries []models.SearchQuery
}

func newFakeSearcher() *fakeSearcher {
	return &fakeSearcher{
		results: make(map[string][]models.LogMatch),
		errs:    make(map[string]error),
	}
}

func (f *fakeSearcher) Search(ctx context.Context, q models.SearchQuery) iter.Seq2[models.LogMatch, error] {
	f.mu.Lock()
	f.queries = append(f.queries, q)
	matches := f.results[q.Keyword]
	err := f.errs[q.Keyword]
	f.mu.Unlock()

	return func(yield func(models.LogMatch, error) bool) {
		for _, m := range matches {
			if !yield(m, nil) {
				return
			}
		}
		if err != nil {
			yield(models.LogMatch{}, err)
		}
	}
}

func (f *fakeSearcher) queriesFor(keyword string) []models.SearchQuery {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SearchQuery
	for _, q := range f.queries {
		if q.Keyword == keyword {
			out = append(out, q)
		}
	}
	return out
}

type fakeStore struct {
	mu          sync.Mutex
	global      *models.GlobalConfig
	projects    []models.ProjectConfig
	states      map[string]*models.AlarmState
	checkpoints map[string]time.Time
	history     []*models.NotificationRecord

	globalErr     error
	putStateErr   error
	checkpointErr error
	stateWrites   int
}

func newFakeStore(global *models.GlobalConfig, projects ...models.ProjectConfig) *fakeStore {
	return &fakeStore{
		global:      global,
		projects:    projects,
		states:      make(map[string]*models.AlarmState),
		checkpoints: make(map[string]time.Time),
	}
}

func stateKey(projectID, key string) string {
	return projectID + "/" + key
}

func (s *fakeStore) GlobalConfig(ctx context.Context) (*models.GlobalConfig, error) {
	if s.globalErr != nil {
		return nil, s.globalErr
	}
	return s.global, nil
}

func (s *fakeStore) Projects(ctx context.Context) ([]models.ProjectConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ProjectConfig, len(s.projects))
	copy(out, s.projects)
	for i := range out {
		out[i].LastSearchedAt = s.checkpoints[out[i].ID]
	}
	return out, nil
}

func (s *fakeStore) State(ctx context.Context, projectID, key string) (*models.AlarmState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[stateKey(projectID, key)].Clone(), nil
}

func (s *fakeStore) PutState(ctx context.Context, state *models.AlarmState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putStateErr != nil {
		return s.putStateErr
	}
	s.stateWrites++
	s.states[stateKey(state.ProjectID, state.Key)] = state.Clone()
	return nil
}

func (s *fakeStore) PutCheckpoint(ctx context.Context, projectID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.checkpointErr != nil {
		return s.checkpointErr
	}
	s.checkpoints[projectID] = at
	return nil
}

func (s *fakeStore) RecordNotification(ctx context.Context, rec *models.NotificationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, rec)
	return nil
}

func (s *fakeStore) state(projectID, key string) *models.AlarmState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[stateKey(projectID, key)].Clone()
}

func (s *fakeStore) checkpoint(projectID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.checkpoints[projectID]
	return t, ok
}

type sentMessage struct {
	Destination string
	Subject     string
	Body        string
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error

	// delivered runs after a successful send.
	delivered func()
}

func (p *fakePublisher) Publish(ctx context.Context, destination, subject, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, sentMessage{Destination: destination, Subject: subject, Body: body})
	if p.delivered != nil {
		p.delivered()
	}
	return nil
}

func (p *fakePublisher) messages() []sentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentMessage(nil), p.sent...)
}

type metricRecord struct {
	Namespace string
	Dims      map[string]string
	Value     float64
}

type fakeMetrics struct {
	mu      sync.Mutex
	records []metricRecord
	err     error
}

func (m *fakeMetrics) Record(ctx context.Context, namespace string, dims map[string]string, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, metricRecord{Namespace: namespace, Dims: dims, Value: value})
	return m.err
}

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }

func testGlobal() *models.GlobalConfig {
	return &models.GlobalConfig{
		Source:          "app-logs",
		MetricNamespace: "keywatch",
		Defaults: models.Defaults{
			Severity:        models.SeverityWarning,
			RenotifyMinutes: intPtr(60),
			RecoverNotify:   true,
		},
		Destinations: map[models.Severity]string{
			models.SeverityWarning:  "slack:#warn",
			models.SeverityCritical: "slack:#oncall",
		},
		Template: &models.Template{
			Subject: "[{severity}] {keyword} in {project}",
			Body:    "{count} matches\n{log_lines}",
		},
	}
}

func match(ts time.Time, stream, line string) models.LogMatch {
	return models.LogMatch{Timestamp: ts, Stream: stream, Line: line}
}
