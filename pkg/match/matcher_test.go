package match

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		cfg         Config
		wantErrType interface{}
	}{
		{name: "empty config", cfg: Config{}},
		{name: "single include", cfg: Config{Includes: []string{"prod-*"}}},
		{name: "with excludes", cfg: Config{Includes: []string{"*"}, Excludes: []string{"*-sandbox"}}},
		{name: "blank patterns ignored", cfg: Config{Includes: []string{"  "}}},
		{name: "invalid include", cfg: Config{Includes: []string{"[invalid"}}, wantErrType: &PatternError{}},
		{name: "invalid exclude", cfg: Config{Excludes: []string{"[invalid"}}, wantErrType: &PatternError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg)
			if tt.wantErrType != nil {
				require.Error(t, err)
				assert.IsType(t, tt.wantErrType, err)
				assert.True(t, errors.Is(err, ErrInvalidPattern))
				assert.Nil(t, m)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, m)
		})
	}
}

func TestMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		cfg      Config
		stack    string
		expected bool
	}{
		{"no patterns matches all", Config{}, "anything", true},
		{"prefix glob", Config{Includes: []string{"prod-*"}}, "prod-web", true},
		{"prefix glob miss", Config{Includes: []string{"prod-*"}}, "staging-web", false},
		{"any of includes", Config{Includes: []string{"prod-*", "shared-*"}}, "shared-vpc", true},
		{"exclude wins", Config{Includes: []string{"prod-*"}, Excludes: []string{"*-sandbox"}}, "prod-sandbox", false},
		{"exclude only", Config{Excludes: []string{"legacy-*"}}, "legacy-api", false},
		{"exclude only passes others", Config{Excludes: []string{"legacy-*"}}, "web", true},
		{"character class", Config{Includes: []string{"web-[0-9]"}}, "web-3", true},
		{"alternation", Config{Includes: []string{"{web,api}-prod"}}, "api-prod", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, m.Match(tt.stack))
		})
	}
}

func TestMatcher_Patterns(t *testing.T) {
	m, err := New(Config{Includes: []string{"a-*", " "}, Excludes: []string{"a-x"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a-*"}, m.IncludePatterns())
	assert.Equal(t, []string{"a-x"}, m.ExcludePatterns())
}

func TestPatternError(t *testing.T) {
	err := &PatternError{Pattern: "[x", Err: ErrInvalidPattern}
	assert.Equal(t, "pattern [x: invalid glob pattern", err.Error())
	assert.ErrorIs(t, err, ErrInvalidPattern)
}
