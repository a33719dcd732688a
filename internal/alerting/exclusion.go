package alerting

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/keywatch/internal/models"
)

// ExclusionFilter drops log lines matching any configured pattern. Each
// pattern matches as a plain substring and, when it compiles, as a regular
// expression. Matching is case-sensitive.
type ExclusionFilter struct {
	patterns []exclusionPattern
}

type exclusionPattern struct {
	literal string
	re      *regexp.Regexp
}

// NewExclusionFilter compiles patterns once. Invalid regular expressions
// degrade to substring matching; empty patterns are ignored.
func NewExclusionFilter(patterns []string, logger *zap.Logger) *ExclusionFilter {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &ExclusionFilter{patterns: make([]exclusionPattern, 0, len(patterns))}
	for _, p := range patterns {
		if p == "" {
			continue
		}
		ep := exclusionPattern{literal: p}
		re, err := regexp.Compile(p)
		if err != nil {
			logger.Debug("exclusion pattern is not a valid regex, using substring match",
				zap.String("pattern", p), zap.Error(err))
		} else {
			ep.re = re
		}
		f.patterns = append(f.patterns, ep)
	}
	return f
}

// Excludes reports whether line matches any pattern.
func (f *ExclusionFilter) Excludes(line string) bool {
	for _, p := range f.patterns {
		if strings.Contains(line, p.literal) {
			return true
		}
		if p.re != nil && p.re.MatchString(line) {
			return true
		}
	}
	return false
}

// Filter returns the matches that survive exclusion, in their original order.
func (f *ExclusionFilter) Filter(matches []models.LogMatch) []models.LogMatch {
	if len(f.patterns) == 0 {
		return matches
	}
	out := make([]models.LogMatch, 0, len(matches))
	for _, m := range matches {
		if !f.Excludes(m.Line) {
			out = append(out, m)
		}
	}
	return out
}
