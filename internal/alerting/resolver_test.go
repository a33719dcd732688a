package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

func TestResolve_GlobalDefaults(t *testing.T) {
	global := testGlobal()
	project := &models.ProjectConfig{ID: "shop"}
	monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}}

	s, err := Resolve(global, project, monitor)
	require.NoError(t, err)

	assert.Equal(t, "app-logs", s.Source)
	assert.Equal(t, models.SeverityWarning, s.Severity)
	require.NotNil(t, s.RenotifyMinutes)
	assert.Equal(t, 60, *s.RenotifyMinutes)
	assert.True(t, s.RecoverNotify)
	assert.Equal(t, "slack:#warn", s.Destination)
	assert.Equal(t, global.Template.Subject, s.Template.Subject)
	assert.Equal(t, DefaultContextLines, s.ContextLines)
	assert.Empty(t, s.Mention)
	assert.Empty(t, s.Exclude)
}

func TestResolve_MonitorWinsForEveryField(t *testing.T) {
	global := testGlobal()
	global.Defaults.ContextLines = intPtr(50)
	project := &models.ProjectConfig{
		ID:              "shop",
		Source:          "shop-logs",
		Destinations:    map[models.Severity]string{models.SeverityCritical: "teams:project"},
		Template:        &models.Template{Subject: "project {keyword}"},
		RenotifyMinutes: models.Of(30),
		RecoverNotify:   boolPtr(true),
		ContextLines:    intPtr(10),
		Mention:         "@project",
	}
	monitor := &models.MonitorSpec{
		Keyword:         models.Keywords{"FATAL"},
		Severity:        models.SeverityCritical,
		RenotifyMinutes: models.Of(5),
		RecoverNotify:   boolPtr(false),
		Destination:     "webhook:monitor",
		Template:        &models.Template{Subject: "monitor {keyword}", Body: "b"},
		ContextLines:    intPtr(3),
		Mention:         "@monitor",
	}

	s, err := Resolve(global, project, monitor)
	require.NoError(t, err)

	assert.Equal(t, models.SeverityCritical, s.Severity)
	assert.Equal(t, 5, *s.RenotifyMinutes)
	assert.False(t, s.RecoverNotify)
	assert.Equal(t, "webhook:monitor", s.Destination)
	assert.Equal(t, "monitor {keyword}", s.Template.Subject)
	assert.Equal(t, 3, s.ContextLines)
	assert.Equal(t, "@monitor", s.Mention)
	assert.Equal(t, "shop-logs", s.Source)
}

func TestResolve_ProjectWinsOverGlobal(t *testing.T) {
	global := testGlobal()
	project := &models.ProjectConfig{
		ID:              "shop",
		Destinations:    map[models.Severity]string{models.SeverityWarning: "teams:project"},
		Template:        &models.Template{Subject: "project {keyword}"},
		RenotifyMinutes: models.Of(30),
		RecoverNotify:   boolPtr(false),
		ContextLines:    intPtr(10),
		Mention:         "@project",
	}
	monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}}

	s, err := Resolve(global, project, monitor)
	require.NoError(t, err)

	assert.Equal(t, 30, *s.RenotifyMinutes)
	assert.False(t, s.RecoverNotify)
	assert.Equal(t, "teams:project", s.Destination)
	assert.Equal(t, "project {keyword}", s.Template.Subject)
	assert.Equal(t, DefaultBodyTemplate, s.Template.Body)
	assert.Equal(t, 10, s.ContextLines)
	assert.Equal(t, "@project", s.Mention)
}

func TestResolve_ExplicitNullRenotify(t *testing.T) {
	global := testGlobal()

	t.Run("monitor null overrides project value", func(t *testing.T) {
		project := &models.ProjectConfig{ID: "shop", RenotifyMinutes: models.Of(30)}
		monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}, RenotifyMinutes: models.Null[int]()}
		s, err := Resolve(global, project, monitor)
		require.NoError(t, err)
		assert.Nil(t, s.RenotifyMinutes)
	})

	t.Run("project null overrides global value", func(t *testing.T) {
		project := &models.ProjectConfig{ID: "shop", RenotifyMinutes: models.Null[int]()}
		monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}}
		s, err := Resolve(global, project, monitor)
		require.NoError(t, err)
		assert.Nil(t, s.RenotifyMinutes)
	})

	t.Run("absent inherits global", func(t *testing.T) {
		project := &models.ProjectConfig{ID: "shop"}
		monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}}
		s, err := Resolve(global, project, monitor)
		require.NoError(t, err)
		require.NotNil(t, s.RenotifyMinutes)
		assert.Equal(t, 60, *s.RenotifyMinutes)
	})
}

func TestResolve_DestinationFollowsResolvedSeverity(t *testing.T) {
	global := testGlobal()
	project := &models.ProjectConfig{ID: "shop"}
	monitor := &models.MonitorSpec{Keyword: models.Keywords{"FATAL"}, Severity: "CRITICAL"}

	s, err := Resolve(global, project, monitor)
	require.NoError(t, err)
	assert.Equal(t, models.SeverityCritical, s.Severity)
	assert.Equal(t, "slack:#oncall", s.Destination)
}

func TestResolve_ExclusionsConcatenate(t *testing.T) {
	project := &models.ProjectConfig{ID: "shop", Exclude: []string{"healthcheck", "debug"}}
	monitor := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}, Exclude: []string{"retrying"}}

	s, err := Resolve(testGlobal(), project, monitor)
	require.NoError(t, err)
	assert.Equal(t, []string{"healthcheck", "debug", "retrying"}, s.Exclude)
	assert.Equal(t, []string{"healthcheck", "debug"}, project.Exclude)
}

func TestResolve_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(g *models.GlobalConfig, p *models.ProjectConfig, m *models.MonitorSpec)
		field  string
	}{
		{"missing source", func(g *models.GlobalConfig, p *models.ProjectConfig, m *models.MonitorSpec) { g.Source = "" }, "source"},
		{"missing severity", func(g *models.GlobalConfig, p *models.ProjectConfig, m *models.MonitorSpec) { g.Defaults.Severity = "" }, "severity"},
		{"no destination for severity", func(g *models.GlobalConfig, p *models.ProjectConfig, m *models.MonitorSpec) { m.Severity = models.SeverityInfo }, "destinations"},
		{"missing template", func(g *models.GlobalConfig, p *models.ProjectConfig, m *models.MonitorSpec) { g.Template = nil }, "template"},
		{"empty subject", func(g *models.GlobalConfig, p *models.ProjectConfig, m *models.MonitorSpec) {
			g.Template = &models.Template{Body: "{count}"}
		}, "template"},
		{"unclosed placeholder", func(g *models.GlobalConfig, p *models.ProjectConfig, m *models.MonitorSpec) {
			m.Template = &models.Template{Subject: "[{severity}] {keyword"}
		}, "template"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testGlobal()
			p := &models.ProjectConfig{ID: "shop"}
			m := &models.MonitorSpec{Keyword: models.Keywords{"ERROR"}}
			tt.mutate(g, p, m)

			_, err := Resolve(g, p, m)
			require.Error(t, err)
			var ce *ConfigurationError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, "shop", ce.ProjectID)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestFirstSet(t *testing.T) {
	v, ok := firstSet(stringSource(""), stringSource("b"), stringSource("c"))
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	_, ok = firstSet[string]()
	assert.False(t, ok)

	n, ok := firstSet(ptrSource[int](nil), valueSource(7))
	assert.True(t, ok)
	assert.Equal(t, 7, n)
}
