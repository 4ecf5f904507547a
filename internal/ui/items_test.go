package ui_test

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/ui"
)

var ansiRegexp = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string { return ansiRegexp.ReplaceAllString(s, "") }

func TestListLinesGroupsKeepNumbers(t *testing.T) {
	ui.SetTheme("mono")
	defer ui.SetTheme("classic")

	items := []model.Item{
		{ID: "1", Task: "milk", IsCompleted: true},
		{ID: "2", Task: "eggs"},
	}

	lines := ui.ListLines(items, true)
	for i := range lines {
		lines[i] = stripANSI(lines[i])
	}
	joined := strings.Join(lines, "\n")
	require.Less(t, strings.Index(joined, " 2. [ ] eggs"), strings.Index(joined, " 1. [x] milk"))
	require.Contains(t, lines[0], "Total 2")
	require.Contains(t, lines[len(lines)-1], "50%")
}

func TestProgressBar(t *testing.T) {
	require.Equal(t, "█████░░░░░  50%", ui.ProgressBar(1, 2, 10))
	require.Equal(t, "░░░░░   0%", ui.ProgressBar(0, 0, 1))
}
