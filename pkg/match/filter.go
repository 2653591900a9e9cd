package match

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/3leaps/amipatch/pkg/provider"
)

// Filter evaluates whether a stack passes selection criteria.
type Filter interface {
	// Match returns true if the stack passes the filter.
	Match(s provider.StackSummary) bool

	// String returns a human-readable description of the filter.
	String() string
}

// DefaultExcludeStatuses are skipped unless a config overrides them.
// Resources of a deleted stack no longer exist.
var DefaultExcludeStatuses = []string{"DELETE_COMPLETE"}

// FilterConfig holds stack selection criteria from manifest or CLI flags.
type FilterConfig struct {
	// Include and Exclude are glob patterns on the stack name.
	Include []string `json:"include,omitempty" yaml:"include,omitempty" mapstructure:"include"`
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty" mapstructure:"exclude"`

	// NameRegex is applied to stack names after glob matching.
	NameRegex string `json:"name_regex,omitempty" yaml:"name_regex,omitempty" mapstructure:"name_regex"`

	// Statuses, when set, is the allow-list of lifecycle statuses.
	Statuses []string `json:"statuses,omitempty" yaml:"statuses,omitempty" mapstructure:"statuses"`

	// ExcludeStatuses is the deny-list of lifecycle statuses.
	// Nil means DefaultExcludeStatuses; an empty list disables the default.
	ExcludeStatuses []string `json:"exclude_statuses,omitempty" yaml:"exclude_statuses,omitempty" mapstructure:"exclude_statuses"`
}

// Filter errors.
var (
	ErrInvalidRegex  = errors.New("invalid regex pattern")
	ErrInvalidStatus = errors.New("invalid status")
)

// NameFilter filters stacks by glob patterns on the name.
type NameFilter struct {
	matcher *Matcher
}

// NewNameFilter creates a name filter from include/exclude globs.
func NewNameFilter(includes, excludes []string) (*NameFilter, error) {
	m, err := New(Config{Includes: includes, Excludes: excludes})
	if err != nil {
		return nil, err
	}
	return &NameFilter{matcher: m}, nil
}

// Match returns true if the stack name passes the globs.
func (f *NameFilter) Match(s provider.StackSummary) bool {
	return f.matcher.Match(s.Name)
}

func (f *NameFilter) String() string {
	return fmt.Sprintf("name(include=%v, exclude=%v)", f.matcher.IncludePatterns(), f.matcher.ExcludePatterns())
}

// RegexFilter filters stacks by a regular expression on the name.
type RegexFilter struct {
	pattern *regexp.Regexp
	raw     string
}

// NewRegexFilter creates a name regex filter.
func NewRegexFilter(pattern string) (*RegexFilter, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRegex, err)
	}
	return &RegexFilter{pattern: re, raw: pattern}, nil
}

// Match returns true if the stack name matches the regex.
func (f *RegexFilter) Match(s provider.StackSummary) bool {
	return f.pattern.MatchString(s.Name)
}

func (f *RegexFilter) String() string {
	return fmt.Sprintf("name_regex(%s)", f.raw)
}

// StatusFilter filters stacks by lifecycle status.
type StatusFilter struct {
	allow map[string]struct{}
	deny  map[string]struct{}
}

// NewStatusFilter creates a status filter. An empty allow list allows
// every status not denied.
func NewStatusFilter(allow, deny []string) (*StatusFilter, error) {
	f := &StatusFilter{}
	var err error
	if f.allow, err = statusSet(allow); err != nil {
		return nil, err
	}
	if f.deny, err = statusSet(deny); err != nil {
		return nil, err
	}
	return f, nil
}

func statusSet(list []string) (map[string]struct{}, error) {
	if len(list) == 0 {
		return nil, nil
	}
	set := make(map[string]struct{}, len(list))
	for _, s := range list {
		s = normalizeStatus(s)
		if s == "" {
			return nil, fmt.Errorf("%w: empty status", ErrInvalidStatus)
		}
		set[s] = struct{}{}
	}
	return set, nil
}

func normalizeStatus(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// Match returns true if the stack status passes the allow and deny lists.
func (f *StatusFilter) Match(s provider.StackSummary) bool {
	status := normalizeStatus(s.Status)
	if _, denied := f.deny[status]; denied {
		return false
	}
	if f.allow == nil {
		return true
	}
	_, ok := f.allow[status]
	return ok
}

func (f *StatusFilter) String() string {
	return fmt.Sprintf("status(allow=%v, deny=%v)", sortedKeys(f.allow), sortedKeys(f.deny))
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CompositeFilter combines multiple filters with AND logic.
type CompositeFilter struct {
	filters []Filter
}

// NewCompositeFilter creates a filter that requires all sub-filters to match.
func NewCompositeFilter(filters ...Filter) *CompositeFilter {
	return &CompositeFilter{filters: filters}
}

// Match returns true if all sub-filters match.
func (f *CompositeFilter) Match(s provider.StackSummary) bool {
	for _, sub := range f.filters {
		if !sub.Match(s) {
			return false
		}
	}
	return true
}

func (f *CompositeFilter) String() string {
	parts := make([]string, len(f.filters))
	for i, sub := range f.filters {
		parts[i] = sub.String()
	}
	return strings.Join(parts, " AND ")
}

// NewFilterFromConfig builds a composite filter from configuration.
// A nil config selects every stack except DefaultExcludeStatuses.
func NewFilterFromConfig(cfg *FilterConfig) (Filter, error) {
	if cfg == nil {
		cfg = &FilterConfig{}
	}

	var filters []Filter

	if len(cfg.Include) > 0 || len(cfg.Exclude) > 0 {
		nf, err := NewNameFilter(cfg.Include, cfg.Exclude)
		if err != nil {
			return nil, err
		}
		filters = append(filters, nf)
	}

	if cfg.NameRegex != "" {
		rf, err := NewRegexFilter(cfg.NameRegex)
		if err != nil {
			return nil, err
		}
		filters = append(filters, rf)
	}

	deny := cfg.ExcludeStatuses
	if deny == nil {
		deny = DefaultExcludeStatuses
	}
	if len(cfg.Statuses) > 0 || len(deny) > 0 {
		sf, err := NewStatusFilter(cfg.Statuses, deny)
		if err != nil {
			return nil, err
		}
		filters = append(filters, sf)
	}

	return NewCompositeFilter(filters...), nil
}
