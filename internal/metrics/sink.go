package metrics

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// PrometheusSink records detection counts as Prometheus series. Each
// metric namespace gets a gauge holding the latest count and a counter
// accumulating all counts, labelled by the observation's dimensions.
type PrometheusSink struct {
	reg prometheus.Registerer

	mu   sync.Mutex
	vecs map[string]*detectionVecs
}

type detectionVecs struct {
	labels []string
	latest *prometheus.GaugeVec
	total  *prometheus.CounterVec
}

// NewPrometheusSink creates a sink registering its collectors with reg.
// A nil reg uses the default registerer.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusSink{
		reg:  reg,
		vecs: make(map[string]*detectionVecs),
	}
}

// Record sets the latest detection count and adds it to the running total.
func (s *PrometheusSink) Record(ctx context.Context, namespace string, dims map[string]string, value float64) error {
	if value < 0 {
		return fmt.Errorf("negative detection count %v", value)
	}

	labels := make([]string, 0, len(dims))
	for k := range dims {
		labels = append(labels, sanitizeName(k))
	}
	slices.Sort(labels)

	vecs, err := s.vecsFor(sanitizeName(namespace), labels)
	if err != nil {
		return err
	}

	values := make(prometheus.Labels, len(dims))
	for k, v := range dims {
		values[sanitizeName(k)] = v
	}
	latest, err := vecs.latest.GetMetricWith(values)
	if err != nil {
		return fmt.Errorf("detection gauge: %w", err)
	}
	total, err := vecs.total.GetMetricWith(values)
	if err != nil {
		return fmt.Errorf("detection counter: %w", err)
	}
	latest.Set(value)
	total.Add(value)
	return nil
}

// vecsFor returns the collectors for a namespace, creating and registering
// them on first use. A namespace's label set is fixed by its first
// observation.
func (s *PrometheusSink) vecsFor(namespace string, labels []string) (*detectionVecs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.vecs[namespace]; ok {
		if !slices.Equal(v.labels, labels) {
			return nil, fmt.Errorf("namespace %q already uses labels %v, got %v", namespace, v.labels, labels)
		}
		return v, nil
	}

	latest := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "keyword_detections",
		Help:      "Keyword matches found in the most recent scan window",
	}, labels)
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keyword_detections_total",
		Help:      "Total keyword matches found",
	}, labels)

	var err error
	if latest, err = register(s.reg, latest); err != nil {
		return nil, err
	}
	if total, err = register(s.reg, total); err != nil {
		return nil, err
	}

	v := &detectionVecs{labels: labels, latest: latest, total: total}
	s.vecs[namespace] = v
	return v, nil
}

// register registers c, reusing an identical collector already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register detection metric: %w", err)
	}
	return c, nil
}

// sanitizeName maps s onto the Prometheus metric and label name charset.
func sanitizeName(s string) string {
	s = invalidNameChars.ReplaceAllString(strings.TrimSpace(s), "_")
	if s == "" {
		return "keywatch"
	}
	if s[0] >= '0' && s[0] <= '9' {
		s = "_" + s
	}
	return s
}
