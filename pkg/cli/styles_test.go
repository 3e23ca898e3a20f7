package cli

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var escapeSeq = regexp.MustCompile("\x1b\\[[0-9;]*m")

func TestFormatRowsAlignment(t *testing.T) {
	out := formatRows([]string{"ID", "TITLE"}, [][]string{
		{"7", "short"},
		{"1234", "a longer title"},
	})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "7     short", lines[1])
	assert.Equal(t, "1234  a longer title", lines[2])
}

func TestFormatRowsStyledCellWidth(t *testing.T) {
	// Styled cells carry escape sequences; the column width must come
	// from the visible text or the table drifts out of alignment.
	styled := "\x1b[31mx\x1b[0m"
	out := formatRows([]string{"ID", "TITLE"}, [][]string{
		{styled, "first"},
		{"42", "second"},
	})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)

	plain := escapeSeq.ReplaceAllString(lines[1], "")
	assert.Equal(t, strings.Index(lines[2], "second"), strings.Index(plain, "first"))
}
