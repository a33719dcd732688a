package alerting

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/valyala/fasttemplate"
)

const (
	tagStart = "{"
	tagEnd   = "}"

	// DefaultBodyTemplate is used when no tier configures a body.
	DefaultBodyTemplate = "[{severity}] {keyword} detected {count} time(s) in {project}\n" +
		"detected at: {detected_at}\n" +
		"source: {source}\n" +
		"streams: {streams}\n" +
		"streak: {streak}\n\n" +
		"{log_lines}"

	detectedAtLayout = "2006-01-02 15:04:05 MST"
	recoverSeverity  = "RECOVER"
)

// Detection is the data a notification is rendered from.
type Detection struct {
	Project    string
	Keyword    string
	Severity   string
	Action     Action
	Count      int
	DetectedAt time.Time
	Source     string
	Streams    []string
	Lines      []string
	Streak     int
	Mention    string
	// ContextLines caps the rendered log lines.
	ContextLines int
}

// Renderer expands {placeholder} templates in a fixed time zone.
type Renderer struct {
	loc *time.Location
}

// NewRenderer returns a renderer for loc, defaulting to UTC.
func NewRenderer(loc *time.Location) *Renderer {
	if loc == nil {
		loc = time.UTC
	}
	return &Renderer{loc: loc}
}

// Render expands subject and body. An unknown placeholder yields a
// *RenderError.
func (r *Renderer) Render(subject, body string, d *Detection) (string, string, error) {
	values := r.values(d)
	s, err := expand(subject, values)
	if err != nil {
		return "", "", err
	}
	b, err := expand(body, values)
	if err != nil {
		return "", "", err
	}
	if d.Mention != "" && !strings.Contains(body, tagStart+"mention"+tagEnd) {
		b = d.Mention + "\n" + b
	}
	return s, b, nil
}

// Fallback renders the minimal message used when a template fails.
func (r *Renderer) Fallback(d *Detection) (string, string) {
	v := r.values(d)
	subject := fmt.Sprintf("[%s] %s in %s", v["severity"], v["keyword"], v["project"])
	var b strings.Builder
	if d.Mention != "" {
		b.WriteString(d.Mention)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%s match(es) at %s\n", v["count"], v["detected_at"])
	if v["log_lines"] != "" {
		b.WriteByte('\n')
		b.WriteString(v["log_lines"])
	}
	return subject, b.String()
}

func (r *Renderer) values(d *Detection) map[string]string {
	severity := d.Severity
	if d.Action == ActionRecover {
		severity = recoverSeverity
	}
	return map[string]string{
		"project":     d.Project,
		"keyword":     d.Keyword,
		"severity":    severity,
		"count":       strconv.Itoa(d.Count),
		"detected_at": d.DetectedAt.In(r.loc).Format(detectedAtLayout),
		"source":      d.Source,
		"streams":     strings.Join(distinctSorted(d.Streams), ", "),
		"log_lines":   strings.Join(collapseLines(d.Lines, d.ContextLines), "\n"),
		"streak":      strconv.Itoa(d.Streak),
		"action":      string(d.Action),
		"mention":     d.Mention,
	}
}

func expand(tmpl string, values map[string]string) (string, error) {
	t, err := fasttemplate.NewTemplate(tmpl, tagStart, tagEnd)
	if err != nil {
		return "", &RenderError{Err: err}
	}
	return t.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		v, ok := values[strings.TrimSpace(tag)]
		if !ok {
			return 0, &RenderError{Placeholder: tag}
		}
		return w.Write([]byte(v))
	})
}

// collapseLines folds identical lines into "line (xN)" in first-seen order
// and keeps at most limit entries. Trailing whitespace is ignored.
func collapseLines(lines []string, limit int) []string {
	if limit <= 0 || len(lines) == 0 {
		return nil
	}
	var order []string
	counts := make(map[string]int, len(lines))
	for _, l := range lines {
		l = strings.TrimRight(l, " \t\r\n")
		if counts[l] == 0 {
			order = append(order, l)
		}
		counts[l]++
	}
	out := make([]string, 0, min(len(order), limit))
	for _, l := range order[:min(len(order), limit)] {
		if n := counts[l]; n > 1 {
			out = append(out, fmt.Sprintf("%s (x%d)", l, n))
		} else {
			out = append(out, l)
		}
	}
	return out
}

func distinctSorted(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
