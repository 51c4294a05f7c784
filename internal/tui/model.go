// Package tui is an interactive browser for the archives in the output
// directory.
package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/mcdonaldj/spacebak/internal/config"
	"github.com/mcdonaldj/spacebak/internal/inventory"
	"github.com/mcdonaldj/spacebak/internal/manifest"
	"github.com/mcdonaldj/spacebak/internal/ports"
	"github.com/mcdonaldj/spacebak/internal/retention"
)

// View represents the current view state
type View int

const (
	ArchivesView View = iota
	DetailView
)

// Service is what the browser needs from the backup runner.
type Service interface {
	Run(cfg *config.Config, log zerolog.Logger) (*retention.Result, error)
	Inventory(cfg *config.Config) (inventory.Snapshot, error)
	Usage(cfg *config.Config) (ports.Usage, error)
	Verify(cfg *config.Config, name string) (manifest.VerifyResult, error)
}

// Model is the main TUI model
type Model struct {
	config   *config.Config
	svc      Service
	view     View
	width    int
	height   int
	quitting bool
	showHelp bool
	running  bool

	// Newest first.
	archives []inventory.Archive
	cursor   int

	usage    ports.Usage
	usageErr error
	needed   uint64

	// Status message
	statusMsg string
	statusErr bool
}

// Key bindings
type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Enter  key.Binding
	Back   key.Binding
	Run    key.Binding
	Verify key.Binding
	Reload key.Binding
	Quit   key.Binding
	Help   key.Binding
}

var keys = keyMap{
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Enter: key.NewBinding(
		key.WithKeys("enter"),
		key.WithHelp("enter", "details"),
	),
	Back: key.NewBinding(
		key.WithKeys("esc", "backspace"),
		key.WithHelp("esc", "back"),
	),
	Run: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "run backup"),
	),
	Verify: key.NewBinding(
		key.WithKeys("v"),
		key.WithHelp("v", "verify"),
	),
	Reload: key.NewBinding(
		key.WithKeys("l"),
		key.WithHelp("l", "reload"),
	),
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Help: key.NewBinding(
		key.WithKeys("?"),
		key.WithHelp("?", "help"),
	),
}

// statusMsg is sent when a background operation completes
type statusMsg struct {
	msg string
	err bool
}

// NewModel creates a model and loads the current archive listing.
func NewModel(cfg *config.Config, svc Service) *Model {
	m := &Model{
		config: cfg,
		svc:    svc,
		view:   ArchivesView,
		width:  80,
		height: 24,
	}
	m.reload()
	return m
}

// reload refreshes the archive list, disk usage and space estimate.
func (m *Model) reload() {
	snap, err := m.svc.Inventory(m.config)
	if err != nil {
		m.archives = nil
		m.needed = 0
		m.statusMsg = fmt.Sprintf("listing archives: %v", err)
		m.statusErr = true
	} else {
		m.archives = make([]inventory.Archive, 0, snap.Count())
		for i := len(snap.Archives) - 1; i >= 0; i-- {
			m.archives = append(m.archives, snap.Archives[i])
		}
		m.needed = 0
		if largest, ok := snap.Largest(); ok {
			m.needed = uint64(math.Round(float64(largest.Size) * m.config.Allowance))
		}
	}

	if m.cursor >= len(m.archives) {
		m.cursor = max(len(m.archives)-1, 0)
	}
	if len(m.archives) == 0 && m.view == DetailView {
		m.view = ArchivesView
	}

	m.usage, m.usageErr = m.svc.Usage(m.config)
}

func (m *Model) selected() (inventory.Archive, bool) {
	if m.cursor < 0 || m.cursor >= len(m.archives) {
		return inventory.Archive{}, false
	}
	return m.archives[m.cursor], true
}

// Init implements tea.Model
func (m *Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case statusMsg:
		m.handleStatusMsg(msg)
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, keys.Help):
		m.showHelp = !m.showHelp
		return m, nil
	case key.Matches(msg, keys.Run):
		return m, m.runBackup()
	case key.Matches(msg, keys.Verify):
		return m, m.runVerify()
	case key.Matches(msg, keys.Reload):
		m.statusMsg, m.statusErr = "", false
		m.reload()
		return m, nil
	}

	switch m.view {
	case ArchivesView:
		switch {
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.archives)-1 {
				m.cursor++
			}
		case key.Matches(msg, keys.Enter):
			if len(m.archives) > 0 {
				m.view = DetailView
			}
		}
	case DetailView:
		if key.Matches(msg, keys.Back) {
			m.view = ArchivesView
		}
	}
	return m, nil
}

func (m *Model) runBackup() tea.Cmd {
	if m.running {
		m.statusMsg = "a backup is already running"
		m.statusErr = true
		return nil
	}
	m.running = true
	m.statusMsg = "running backup..."
	m.statusErr = false

	cfg, svc := m.config, m.svc
	return func() tea.Msg {
		res, err := svc.Run(cfg, zerolog.Nop())
		if err != nil {
			return statusMsg{msg: fmt.Sprintf("backup failed: %v", err), err: true}
		}
		name := "archive"
		if res != nil && res.Archive != nil {
			name = res.Archive.Name
		}
		msg := fmt.Sprintf("✓ created %s", name)
		if res != nil && len(res.Deleted) > 0 {
			msg += fmt.Sprintf(", deleted %d (%s freed)", len(res.Deleted), humanize.Bytes(res.Freed()))
		}
		return statusMsg{msg: msg}
	}
}

func (m *Model) runVerify() tea.Cmd {
	a, ok := m.selected()
	if !ok {
		m.statusMsg = "no archive selected"
		m.statusErr = true
		return nil
	}
	m.statusMsg = fmt.Sprintf("verifying %s...", a.Name)
	m.statusErr = false

	cfg, svc, name := m.config, m.svc, a.Name
	return func() tea.Msg {
		res, err := svc.Verify(cfg, name)
		if err != nil {
			return statusMsg{msg: fmt.Sprintf("verify failed: %v", err), err: true}
		}
		return statusMsg{msg: fmt.Sprintf("✓ %s verified (sha256 %s)", name, shortHash(res.Actual))}
	}
}

func (m *Model) handleStatusMsg(msg statusMsg) {
	m.running = false
	m.reload()
	// reload may have set its own error; the completed operation wins.
	m.statusMsg = msg.msg
	m.statusErr = msg.err
}

// View renders the UI
func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var content string
	switch m.view {
	case ArchivesView:
		content = m.renderArchivesView()
	case DetailView:
		content = m.renderDetailView()
	}
	return appStyle.Render(content)
}

func (m *Model) renderArchivesView() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render(fmt.Sprintf(" 📦 spacebak: %s ", m.config.Label)))
	b.WriteString("\n\n")

	visibleHeight := m.height - 12
	if visibleHeight < 5 {
		visibleHeight = 5
	}

	if len(m.archives) == 0 {
		b.WriteString(dimStyle.Render("  No archives found"))
		b.WriteString("\n")
	} else {
		header := fmt.Sprintf("  %-36s %10s  %s", "ARCHIVE", "SIZE", "CREATED")
		b.WriteString(dimStyle.Render(header))
		b.WriteString("\n")
		b.WriteString(dimStyle.Render(strings.Repeat("─", 66)))
		b.WriteString("\n")

		start := 0
		if m.cursor >= visibleHeight {
			start = m.cursor - visibleHeight + 1
		}
		for i := start; i < len(m.archives) && i < start+visibleHeight; i++ {
			a := m.archives[i]
			cursor := "  "
			style := normalStyle
			if i == m.cursor {
				cursor = "▸ "
				style = selectedStyle
			}
			line := fmt.Sprintf("%s%-36s %10s  %s",
				cursor, truncate(a.Name, 36), humanize.Bytes(uint64(a.Size)), a.CreatedAt.Format("2006-01-02 15:04"))
			b.WriteString(style.Render(line))
			b.WriteString("\n")
		}
	}

	for i := len(m.archives); i < visibleHeight; i++ {
		b.WriteString("\n")
	}

	b.WriteString(m.renderFooter())
	help := "[↑/↓] navigate  [enter] details  [r] backup  [v] verify  [?] help  [q] quit"
	b.WriteString(m.renderHelp(help))
	return b.String()
}

func (m *Model) renderDetailView() string {
	var b strings.Builder
	a, _ := m.selected()

	b.WriteString(titleStyle.Render(fmt.Sprintf(" 📦 %s ", a.Name)))
	b.WriteString("\n\n")

	row := func(label, value string) {
		b.WriteString(labelStyle.Render(label))
		b.WriteString(normalStyle.Render(value))
		b.WriteString("\n")
	}
	row("Path", a.Path)
	row("Size", fmt.Sprintf("%s (%s bytes)", humanize.Bytes(uint64(a.Size)), humanize.Comma(a.Size)))
	row("Created", fmt.Sprintf("%s (%s)", a.CreatedAt.Format(time.RFC3339), humanize.Time(a.CreatedAt)))
	row("Position", fmt.Sprintf("%d of %d, newest first", m.cursor+1, len(m.archives)))

	if m.cursor == len(m.archives)-1 {
		b.WriteString("\n")
		b.WriteString(warnBadge.Render("Oldest archive: deleted first when space or count runs out"))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	b.WriteString(m.renderHelp("[esc] back  [v] verify  [r] backup  [?] help  [q] quit"))
	return b.String()
}

// renderFooter shows disk usage, the space estimate for the next run and
// the last status message.
func (m *Model) renderFooter() string {
	var b strings.Builder
	b.WriteString("\n")

	if m.usageErr != nil {
		b.WriteString(errorBadge.Render(fmt.Sprintf("disk: %v", m.usageErr)))
	} else {
		b.WriteString(dimStyle.Render(fmt.Sprintf("disk: %s free of %s (%.1f%% used)",
			humanize.Bytes(m.usage.Free), humanize.Bytes(m.usage.Total), m.usage.UsedPercent())))
		if m.needed > 0 {
			b.WriteString(dimStyle.Render("  "))
			if m.usage.Free >= m.needed {
				b.WriteString(successBadge.Render(fmt.Sprintf("next run needs %s", humanize.Bytes(m.needed))))
			} else {
				b.WriteString(warnBadge.Render(fmt.Sprintf("next run must free %s", humanize.Bytes(m.needed-m.usage.Free))))
			}
		}
	}
	b.WriteString("\n")

	if m.statusMsg != "" {
		if m.statusErr {
			b.WriteString(errorBadge.Render(m.statusMsg))
		} else {
			b.WriteString(successBadge.Render(m.statusMsg))
		}
	}
	b.WriteString("\n")
	return b.String()
}

func (m *Model) renderHelp(short string) string {
	if !m.showHelp {
		return helpStyle.Render(short)
	}
	bindings := []key.Binding{keys.Up, keys.Down, keys.Enter, keys.Back, keys.Run, keys.Verify, keys.Reload, keys.Help, keys.Quit}
	lines := make([]string, 0, len(bindings))
	for _, kb := range bindings {
		h := kb.Help()
		lines = append(lines, fmt.Sprintf("%-8s %s", h.Key, h.Desc))
	}
	return helpStyle.Render(strings.Join(lines, "\n"))
}

// Run starts the TUI
func Run(cfg *config.Config, svc Service) error {
	p := tea.NewProgram(NewModel(cfg, svc), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Helper functions
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-1] + "…"
}

func shortHash(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}
