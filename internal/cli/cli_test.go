package cli

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCommand()
	assert.Equal(t, "nightowl", root.Use)

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"start", "migrate", "seed", "worker", "purge", "quote"} {
		assert.True(t, names[want], want)
	}
}

func TestPurgeDefaultsToThirtyDays(t *testing.T) {
	cmd := newPurgeCmd()
	d, err := cmd.Flags().GetDuration("older-than")
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, d)
}

func TestPurgeRejectsNonPositiveAge(t *testing.T) {
	cmd := newPurgeCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--older-than", "0s"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "older-than")
}

func TestQuoteRejectsOutOfRangeCoordinates(t *testing.T) {
	cmd := newQuoteCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--lat", "95", "--lng", "2.35"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}
