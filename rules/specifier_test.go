package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandSpecifiers(t *testing.T) {
	got, err := ExpandSpecifiers("host-%H-%m-%b-%v-%%", testFacts)
	require.NoError(t, err)
	assert.Equal(t, "host-myhost-abc123-def456-6.8.0-%", got)
}

func TestExpandSpecifiersTrailingPercent(t *testing.T) {
	_, err := ExpandSpecifiers("broken-%", testFacts)
	require.Error(t, err)
}

func TestExpandSpecifiersUnknown(t *testing.T) {
	_, err := ExpandSpecifiers("broken-%z", testFacts)
	require.Error(t, err)
}

func TestExpandSpecifiersNoSpecifiers(t *testing.T) {
	got, err := ExpandSpecifiers("plainname", testFacts)
	require.NoError(t, err)
	assert.Equal(t, "plainname", got)
}
