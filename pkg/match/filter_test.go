package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/amipatch/pkg/provider"
)

func stack(name, status string) provider.StackSummary {
	return provider.StackSummary{ID: "arn:" + name, Name: name, Status: status}
}

func TestStatusFilter(t *testing.T) {
	f, err := NewStatusFilter([]string{"create_complete", "UPDATE_COMPLETE"}, []string{"DELETE_COMPLETE"})
	require.NoError(t, err)

	assert.True(t, f.Match(stack("a", "CREATE_COMPLETE")))
	assert.True(t, f.Match(stack("a", "update_complete")))
	assert.False(t, f.Match(stack("a", "ROLLBACK_COMPLETE")))
	assert.False(t, f.Match(stack("a", "DELETE_COMPLETE")))
	assert.Equal(t, "status(allow=[CREATE_COMPLETE UPDATE_COMPLETE], deny=[DELETE_COMPLETE])", f.String())
}

func TestStatusFilter_DenyOnly(t *testing.T) {
	f, err := NewStatusFilter(nil, []string{"DELETE_COMPLETE"})
	require.NoError(t, err)

	assert.True(t, f.Match(stack("a", "ROLLBACK_COMPLETE")))
	assert.False(t, f.Match(stack("a", "DELETE_COMPLETE")))
}

func TestStatusFilter_Empty(t *testing.T) {
	_, err := NewStatusFilter([]string{""}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestRegexFilter(t *testing.T) {
	f, err := NewRegexFilter(`^web-\d+$`)
	require.NoError(t, err)
	assert.True(t, f.Match(stack("web-12", "")))
	assert.False(t, f.Match(stack("web-x", "")))

	_, err = NewRegexFilter(`(`)
	assert.ErrorIs(t, err, ErrInvalidRegex)
}

func TestNewFilterFromConfig_Default(t *testing.T) {
	f, err := NewFilterFromConfig(nil)
	require.NoError(t, err)

	assert.True(t, f.Match(stack("web", "CREATE_COMPLETE")))
	assert.False(t, f.Match(stack("old", "DELETE_COMPLETE")))
}

func TestNewFilterFromConfig_DisableDefaultDeny(t *testing.T) {
	f, err := NewFilterFromConfig(&FilterConfig{ExcludeStatuses: []string{}})
	require.NoError(t, err)
	assert.True(t, f.Match(stack("old", "DELETE_COMPLETE")))
}

func TestNewFilterFromConfig_Combined(t *testing.T) {
	f, err := NewFilterFromConfig(&FilterConfig{
		Include:   []string{"prod-*"},
		Exclude:   []string{"prod-legacy-*"},
		NameRegex: `-(web|api)$`,
		Statuses:  []string{"CREATE_COMPLETE", "UPDATE_COMPLETE"},
	})
	require.NoError(t, err)

	assert.True(t, f.Match(stack("prod-eu-web", "UPDATE_COMPLETE")))
	assert.False(t, f.Match(stack("prod-eu-db", "UPDATE_COMPLETE")))
	assert.False(t, f.Match(stack("prod-legacy-web", "CREATE_COMPLETE")))
	assert.False(t, f.Match(stack("staging-web", "CREATE_COMPLETE")))
	assert.False(t, f.Match(stack("prod-eu-web", "UPDATE_ROLLBACK_FAILED")))
	assert.Contains(t, f.String(), " AND ")
}

func TestNewFilterFromConfig_Invalid(t *testing.T) {
	_, err := NewFilterFromConfig(&FilterConfig{Include: []string{"[bad"}})
	assert.ErrorIs(t, err, ErrInvalidPattern)

	_, err = NewFilterFromConfig(&FilterConfig{NameRegex: "("})
	assert.ErrorIs(t, err, ErrInvalidRegex)
}
