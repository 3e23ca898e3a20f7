package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	dangerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	keyStyle     = lipgloss.NewStyle().Bold(true)
	overdueStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// confirm asks on the terminal before a destructive step. --yes skips it.
func confirm(prompt string) bool {
	if assumeYes {
		return true
	}
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// renderRows prints aligned columns, header first.
func renderRows(header []string, rows [][]string) {
	fmt.Print(formatRows(header, rows))
}

// formatRows lays out aligned columns. Cells may carry lipgloss styling,
// so widths are measured with lipgloss.Width rather than len, which would
// count the escape sequences.
func formatRows(header []string, rows [][]string) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				if w := lipgloss.Width(cell); w > widths[i] {
					widths[i] = w
				}
			}
		}
	}

	pad := func(cell string, width int) string {
		return cell + strings.Repeat(" ", width-lipgloss.Width(cell)+2)
	}

	var out strings.Builder
	var line strings.Builder
	for i, h := range header {
		line.WriteString(pad(h, widths[i]))
	}
	out.WriteString(headerStyle.Render(strings.TrimRight(line.String(), " ")))
	out.WriteByte('\n')

	for _, row := range rows {
		line.Reset()
		for i, cell := range row {
			if i < len(widths) {
				line.WriteString(pad(cell, widths[i]))
			}
		}
		out.WriteString(strings.TrimRight(line.String(), " "))
		out.WriteByte('\n')
	}
	return out.String()
}
