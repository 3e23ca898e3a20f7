package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDue(t *testing.T) {
	got, err := parseDue("2026-09-15")
	require.NoError(t, err)
	assert.Equal(t, 2026, got.Year())
	assert.Equal(t, time.September, got.Month())
	assert.Equal(t, 15, got.Day())

	got, err = parseDue("2026-09-15 17:30")
	require.NoError(t, err)
	assert.Equal(t, 17, got.Hour())

	_, err = parseDue("next tuesday")
	assert.Error(t, err)
}
