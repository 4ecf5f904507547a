package ui

import (
	"fmt"

	"github.com/Makepad-fr/tada/internal/model"
)

// ItemLine renders "☐ task" with done items struck through.
func ItemLine(it model.Item) string {
	t := Current()
	if it.IsCompleted {
		return t.Success.Render(t.BoxChecked) + " " + t.Done.Render(it.Task)
	}
	return t.Muted.Render(t.BoxUnchecked) + " " + it.Task
}

// Header is the title line with live counts.
func Header(items []model.Item) string {
	t := Current()
	done, pending := model.Stats(items)
	return fmt.Sprintf("%s   %s %d  %s %d  %s %d",
		t.Title.Render("Todos"),
		t.Success.Render(t.SymDone), done,
		t.Pending.Render(t.SymPending), pending,
		t.Accent.Render("Total"), len(items),
	)
}

// ListLines renders a numbered list for non-interactive output. Numbers are
// the 1-based positions other subcommands accept. With group, pending items
// are listed before done ones, keeping their numbers.
func ListLines(items []model.Item, group bool) []string {
	lines := []string{Header(items), ""}
	if len(items) == 0 {
		return append(lines, Current().Muted.Render("nothing to do"))
	}
	numbered := func(i int) string {
		return fmt.Sprintf("%s %s", Current().Muted.Render(fmt.Sprintf("%2d.", i+1)), ItemLine(items[i]))
	}
	if !group {
		for i := range items {
			lines = append(lines, numbered(i))
		}
	} else {
		for _, wantDone := range []bool{false, true} {
			for i, it := range items {
				if it.IsCompleted == wantDone {
					lines = append(lines, numbered(i))
				}
			}
		}
	}
	done, _ := model.Stats(items)
	return append(lines, "", ProgressBar(done, len(items), 28))
}
