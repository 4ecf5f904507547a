package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/todosync"
	"github.com/Makepad-fr/tada/internal/tui"
	"github.com/Makepad-fr/tada/internal/ui"
)

func (a *app) lsCommand() *cobra.Command {
	var plain, group bool
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "Browse the list (interactive on a terminal)",
		Args:  exactArgs(0, "ls [--plain] [--group]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if plain || !a.isTerminal() {
				if err := a.startLogger(false); err != nil {
					return err
				}
				s, err := a.session(ctx)
				if err != nil {
					return err
				}
				a.printList(s, group)
				return nil
			}

			if err := a.startLogger(true); err != nil {
				return err
			}
			host, err := a.host(ctx)
			if err != nil {
				return err
			}
			return tui.Run(ctx, a.log.Named("tui"), host)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print the list instead of opening the interactive view")
	cmd.Flags().BoolVar(&group, "group", false, "list pending items before done ones")
	return cmd
}

func (a *app) addCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "add <task...>",
		Short:   "Add an item (the task can be several words)",
		Example: `  todo add "Buy milk"`,
		Args:    minArgs(1, "add <task...>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := model.NormalizeTask(strings.Join(args, " "))
			if task == "" {
				return UsageError.New("add: empty task")
			}
			s, err := a.oneShot(cmd.Context())
			if err != nil {
				return err
			}
			it, err := s.Commands().Insert(cmd.Context(), task)
			if err != nil {
				return err
			}
			ui.OK("added " + strconv.Quote(it.Task))
			return nil
		},
	}
}

func (a *app) doneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "done <index>",
		Short: "Toggle the item at a 1-based index",
		Args:  exactArgs(1, "done <index>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, it, err := a.at(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := s.Commands().Toggle(cmd.Context(), it.ID, it.IsCompleted); err != nil {
				return err
			}
			if it.IsCompleted {
				ui.OK("reopened " + strconv.Quote(it.Task))
			} else {
				ui.OK("done " + strconv.Quote(it.Task))
			}
			return nil
		},
	}
}

func (a *app) editCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <index> <task...>",
		Short: "Rename the item at a 1-based index",
		Args:  minArgs(2, "edit <index> <task...>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			task := model.NormalizeTask(strings.Join(args[1:], " "))
			if task == "" {
				return UsageError.New("edit: empty task")
			}
			s, it, err := a.at(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := s.Commands().Rename(cmd.Context(), it.ID, task); err != nil {
				return err
			}
			ui.OK("renamed to " + strconv.Quote(task))
			return nil
		},
	}
}

func (a *app) rmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <index>",
		Short: "Remove the item at a 1-based index",
		Args:  exactArgs(1, "rm <index>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, it, err := a.at(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := s.Commands().Delete(cmd.Context(), it.ID); err != nil {
				return err
			}
			ui.OK("removed " + strconv.Quote(it.Task))
			return nil
		},
	}
}

func (a *app) watchCommand() *cobra.Command {
	var group bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the list every time it changes, until interrupted",
		Args:  exactArgs(0, "watch [--group]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.oneShot(ctx)
			if err != nil {
				return err
			}
			a.printList(s, group)
			for {
				select {
				case <-ctx.Done():
					if isCanceled(ctx.Err()) {
						return nil
					}
					return ctx.Err()
				case <-s.Changed():
					a.printList(s, group)
				case n := <-s.Notices():
					printNotice(n)
				}
			}
		},
	}
	cmd.Flags().BoolVar(&group, "group", false, "list pending items before done ones")
	return cmd
}

func (a *app) oneShot(ctx context.Context) (*todosync.Session, error) {
	if err := a.startLogger(false); err != nil {
		return nil, err
	}
	return a.session(ctx)
}

// at mounts the list and resolves a 1-based index as shown by `todo ls`.
func (a *app) at(ctx context.Context, arg string) (*todosync.Session, model.Item, error) {
	s, err := a.oneShot(ctx)
	if err != nil {
		return nil, model.Item{}, err
	}
	items := s.Snapshot()
	i, err := parseIndex(arg, len(items))
	if err != nil {
		ui.Info("Hint: run `todo ls` to see valid indexes")
		return nil, model.Item{}, err
	}
	a.log.Debug("resolved index", zap.Int("index", i+1), zap.String("id", string(items[i].ID)))
	return s, items[i], nil
}

// parseIndex converts a 1-based index into a slice position.
func parseIndex(arg string, n int) (int, error) {
	i, err := strconv.Atoi(arg)
	if err != nil {
		return 0, UsageError.New("not a number: %s", arg)
	}
	if i < 1 || i > n {
		return 0, UsageError.New("index out of range: have %d, got %d", n, i)
	}
	return i - 1, nil
}

func (a *app) printList(s *todosync.Session, group bool) {
	if n, ok := s.Degraded(); ok {
		ui.Warn(n.Message)
	}
	lines := ui.ListLines(s.Snapshot(), group)
	lines = append(lines, "", ui.Current().Muted.Render(`Tip: add with todo add "Buy milk"`))
	ui.Panel(a.out, lines)
}

func printNotice(n todosync.Notice) {
	msg := n.Message
	if n.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, n.Err)
	}
	if n.Severity == todosync.Persistent {
		ui.Warn(msg)
		return
	}
	ui.Fail(msg)
}

func (a *app) isTerminal() bool {
	f, ok := a.out.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
