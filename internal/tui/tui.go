// Package tui is the interactive list. It renders a session's snapshot and
// sends every edit through the session's dispatcher; the list only changes
// when the change feed echoes the edit back.
package tui

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/Makepad-fr/tada/internal/model"
	"github.com/Makepad-fr/tada/internal/todosync"
	"github.com/Makepad-fr/tada/internal/ui"
)

// screen is the closed set of views; every switch over it must handle all
// four.
type screen interface{ isScreen() }

type (
	mountingScreen struct{}
	listScreen     struct{}
	addScreen      struct{}
	editScreen     struct{ id model.ID }
)

func (mountingScreen) isScreen() {}
func (listScreen) isScreen()     {}
func (addScreen) isScreen()      {}
func (editScreen) isScreen()     {}

// listItem adapts model.Item to bubbles/list.Item
type listItem struct{ model.Item }

func (i listItem) FilterValue() string { return i.Task }

// Custom delegate to control how items render (single line)
type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d itemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(listItem)
	if !ok {
		return
	}
	prefix := "  "
	if index == m.Index() {
		prefix = ui.Current().Selected.Render("> ")
	}
	fmt.Fprintln(w, prefix+ui.ItemLine(it.Item))
}

type (
	mountedMsg struct {
		session *todosync.Session
		err     error
	}
	// changedMsg and noticeMsg carry their session so that waiters left
	// over from a remount are ignored.
	changedMsg struct{ session *todosync.Session }
	noticeMsg  struct {
		session *todosync.Session
		notice  todosync.Notice
	}
	commandMsg struct {
		op  string
		err error
	}
)

var (
	addBind    = key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add"))
	editBind   = key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "edit"))
	toggleBind = key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "toggle"))
	deleteBind = key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete"))
	undoBind   = key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "undo"))
	reloadBind = key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload"))
)

// Model is the Bubble Tea model of the interactive list.
type Model struct {
	ctx  context.Context
	log  *zap.Logger
	host *todosync.Host

	session *todosync.Session
	screen  screen

	list    list.Model
	ti      textinput.Model // shared text input model (used for add & edit)
	spin    spinner.Model
	inputEr string
	notice  *todosync.Notice

	// single-level undo of the last delete
	undo *model.Item

	width, height int

	// err ends the program
	err error
}

// New creates the model. The session is mounted by Init.
func New(ctx context.Context, log *zap.Logger, host *todosync.Host) Model {
	l := list.New(nil, itemDelegate{}, 0, 0)
	l.Title = ui.Header(nil)
	l.SetShowHelp(true)
	l.SetShowPagination(true)
	l.SetShowStatusBar(true)
	l.SetFilteringEnabled(true)
	l.Styles.Title = ui.Current().Title
	l.Styles.HelpStyle = ui.Current().Help
	l.Styles.PaginationStyle = ui.Current().Help
	l.FilterInput.Prompt = "/ "
	l.SetStatusBarItemName("item", "items")
	extra := func() []key.Binding {
		return []key.Binding{toggleBind, addBind, editBind, deleteBind, undoBind, reloadBind}
	}
	l.AdditionalShortHelpKeys = extra
	l.AdditionalFullHelpKeys = extra

	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 200

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctx:    ctx,
		log:    log,
		host:   host,
		screen: mountingScreen{},
		list:   l,
		ti:     ti,
		spin:   sp,
		width:  80,
		height: 24,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, m.mount())
}

func (m Model) mount() tea.Cmd {
	return func() tea.Msg {
		s, err := m.host.Mount(m.ctx)
		return mountedMsg{session: s, err: err}
	}
}

func closed(s *todosync.Session) bool {
	select {
	case <-s.Done():
		return true
	default:
		return false
	}
}

// waitChanged and waitNotice return nil once s is closed.
func waitChanged(s *todosync.Session) tea.Cmd {
	return func() tea.Msg {
		if closed(s) {
			return nil
		}
		select {
		case <-s.Changed():
			return changedMsg{session: s}
		case <-s.Done():
			return nil
		}
	}
}

func waitNotice(s *todosync.Session) tea.Cmd {
	return func() tea.Msg {
		if closed(s) {
			return nil
		}
		select {
		case n := <-s.Notices():
			return noticeMsg{session: s, notice: n}
		case <-s.Done():
			return nil
		}
	}
}

func (m Model) run(op string, f func(ctx context.Context, d *todosync.Dispatcher) error) tea.Cmd {
	d := m.session.Commands()
	ctx := m.ctx
	return func() tea.Msg {
		return commandMsg{op: op, err: f(ctx, d)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case mountedMsg:
		if msg.err != nil {
			m.log.Error("mount failed", zap.Error(msg.err))
			m.err = msg.err
			return m, tea.Quit
		}
		m.session = msg.session
		m.screen = listScreen{}
		m.notice = nil
		m.refresh()
		// notices raised while mounting are already queued
		return m, tea.Batch(waitChanged(m.session), waitNotice(m.session))

	case changedMsg:
		if msg.session != m.session {
			return m, nil
		}
		m.refresh()
		return m, waitChanged(m.session)

	case noticeMsg:
		if msg.session != m.session {
			return m, nil
		}
		if msg.notice.Severity == todosync.Transient {
			n := msg.notice
			m.notice = &n
		}
		m.resize()
		return m, waitNotice(m.session)

	case commandMsg:
		if msg.err != nil {
			m.log.Debug("command failed", zap.String("op", msg.op), zap.Error(msg.err))
		}
		return m, nil

	case spinner.TickMsg:
		if _, ok := m.screen.(mountingScreen); !ok {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	}

	switch sc := m.screen.(type) {
	case mountingScreen:
		if k, ok := msg.(tea.KeyMsg); ok && (k.String() == "q" || k.String() == "esc") {
			return m, tea.Quit
		}
		return m, nil
	case listScreen:
		return m.updateList(msg)
	case addScreen:
		return m.updateInput(msg, func(task string) tea.Cmd {
			return m.run("add", func(ctx context.Context, d *todosync.Dispatcher) error {
				_, err := d.Insert(ctx, task)
				return err
			})
		})
	case editScreen:
		return m.updateInput(msg, func(task string) tea.Cmd {
			return m.run("edit", func(ctx context.Context, d *todosync.Dispatcher) error {
				return d.Rename(ctx, sc.id, task)
			})
		})
	default:
		panic(fmt.Sprintf("tui: unhandled screen %T", sc))
	}
}

func (m Model) updateList(msg tea.Msg) (tea.Model, tea.Cmd) {
	k, isKey := msg.(tea.KeyMsg)
	if isKey && m.list.FilterState() != list.Filtering {
		switch k.String() {
		case "q", "esc":
			if m.list.FilterState() == list.FilterApplied {
				break
			}
			return m, tea.Quit
		case " ":
			if it, ok := m.selected(); ok {
				m.notice = nil
				return m, m.run("toggle", func(ctx context.Context, d *todosync.Dispatcher) error {
					return d.Toggle(ctx, it.ID, it.IsCompleted)
				})
			}
			return m, nil
		case "d":
			if it, ok := m.selected(); ok {
				m.undo = &it
				m.notice = nil
				return m, m.run("delete", func(ctx context.Context, d *todosync.Dispatcher) error {
					return d.Delete(ctx, it.ID)
				})
			}
			return m, nil
		case "u":
			if m.undo == nil {
				return m, nil
			}
			restored := *m.undo
			m.undo = nil
			return m, m.run("undo", func(ctx context.Context, d *todosync.Dispatcher) error {
				it, err := d.Insert(ctx, restored.Task)
				if err != nil || !restored.IsCompleted {
					return err
				}
				return d.Toggle(ctx, it.ID, false)
			})
		case "a":
			m.screen = addScreen{}
			m.openInput("", "New item title...")
			return m, textinput.Blink
		case "e":
			if it, ok := m.selected(); ok {
				m.screen = editScreen{id: it.ID}
				m.openInput(it.Task, "Edit item title...")
				return m, textinput.Blink
			}
			return m, nil
		case "r":
			m.screen = mountingScreen{}
			m.session = nil
			return m, tea.Batch(m.spin.Tick, m.mount())
		}
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updateInput(msg tea.Msg, submit func(task string) tea.Cmd) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "enter":
			task := model.NormalizeTask(m.ti.Value())
			if task == "" {
				m.inputEr = "Title cannot be empty"
				return m, nil
			}
			m.closeInput()
			return m, submit(task)
		case "esc":
			m.closeInput()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.ti, cmd = m.ti.Update(msg)
	return m, cmd
}

func (m *Model) openInput(value, placeholder string) {
	m.inputEr = ""
	m.notice = nil
	m.ti.SetValue(value)
	m.ti.CursorEnd()
	m.ti.Placeholder = placeholder
	m.ti.Focus()
	m.resize()
}

func (m *Model) closeInput() {
	m.screen = listScreen{}
	m.inputEr = ""
	m.ti.SetValue("")
	m.ti.Blur()
	m.resize()
}

func (m Model) selected() (model.Item, bool) {
	li, ok := m.list.SelectedItem().(listItem)
	if !ok {
		return model.Item{}, false
	}
	// act on the latest confirmed state, not the row as last rendered
	if m.session != nil {
		if it, ok := m.session.Get(li.ID); ok {
			return it, true
		}
	}
	return li.Item, true
}

// refresh copies the session snapshot into the list.
func (m *Model) refresh() {
	if m.session == nil {
		return
	}
	items := m.session.Snapshot()
	li := make([]list.Item, 0, len(items))
	for _, it := range items {
		li = append(li, listItem{it})
	}
	m.list.SetItems(li)
	m.list.Title = ui.Header(items)
	m.resize()
}

func (m *Model) resize() {
	h := m.height - 4
	if m.inputOpen() {
		h -= 3
	}
	if m.banner() != "" {
		h--
	}
	if m.notice != nil {
		h--
	}
	if h < 3 {
		h = 3
	}
	m.list.SetSize(m.width-4, h)
}

func (m Model) inputOpen() bool {
	switch m.screen.(type) {
	case addScreen, editScreen:
		return true
	}
	return false
}

func (m Model) banner() string {
	if m.session == nil {
		return ""
	}
	if n, ok := m.session.Degraded(); ok {
		return n.Message
	}
	return ""
}

func (m Model) View() string {
	t := ui.Current()
	switch sc := m.screen.(type) {
	case mountingScreen:
		return ui.PanelString(m.spin.View() + " Connecting...")
	case listScreen, addScreen, editScreen:
		content := m.list.View()
		if b := m.banner(); b != "" {
			content = t.Banner.Render(b) + "\n" + content
		}
		if m.notice != nil {
			line := m.notice.Message
			if m.notice.Err != nil {
				line += ": " + m.notice.Err.Error()
			}
			content += "\n" + t.Error.Render(line)
		}
		if m.inputOpen() {
			title := "Add new item"
			if _, ok := sc.(editScreen); ok {
				title = "Edit item"
			}
			if m.inputEr != "" {
				title += " - " + t.Error.Render(m.inputEr)
			}
			bar := lipgloss.NewStyle().Border(t.Border).BorderForeground(t.BorderColor).Padding(0, 1)
			content += "\n" + bar.Render(title+"\n"+m.ti.View())
		}
		return ui.PanelString(content)
	default:
		panic(fmt.Sprintf("tui: unhandled screen %T", sc))
	}
}

// Run starts the program and blocks until the user quits. The mounted
// session is always released on the way out.
func Run(ctx context.Context, log *zap.Logger, host *todosync.Host) error {
	defer func() {
		if err := host.Unmount(); err != nil {
			log.Warn("unmount", zap.Error(err))
		}
	}()
	return run(ctx, log, host, tea.WithAltScreen())
}

func run(ctx context.Context, log *zap.Logger, host *todosync.Host, opts ...tea.ProgramOption) error {
	p := tea.NewProgram(New(ctx, log, host), append(opts, tea.WithContext(ctx))...)
	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(Model); ok && m.err != nil {
		return m.err
	}
	return nil
}
