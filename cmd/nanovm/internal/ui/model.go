// Package ui implements the bubbletea dashboard nanovm inspect attaches
// to a running pkg/debugserver websocket endpoint.
package ui

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/gorilla/websocket"

	"github.com/nanovm/nanovm/pkg/debugserver"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type snapshotMsg debugserver.Snapshot
type errMsg struct{ err error }

// Model is the inspect dashboard's state: the most recently received
// Snapshot, plus the usual bubbletea bookkeeping.
type Model struct {
	conn *websocket.Conn

	width, height int
	snapshot      debugserver.Snapshot
	spinner       spinner.Model
	err           error
	quitting      bool
}

// NewModel wraps an already-dialed websocket connection.
func NewModel(conn *websocket.Conn) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{conn: conn, spinner: s}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, waitForSnapshot(m.conn))
}

// waitForSnapshot blocks on the next websocket frame and turns it into
// a tea.Msg; Update re-issues this command after every snapshot so the
// read loop keeps running between render passes.
func waitForSnapshot(conn *websocket.Conn) tea.Cmd {
	return func() tea.Msg {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return errMsg{err}
		}
		var snap debugserver.Snapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return errMsg{err}
		}
		return snapshotMsg(snap)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			m.conn.Close()
			return m, tea.Quit
		}
		return m, nil

	case snapshotMsg:
		m.snapshot = debugserver.Snapshot(msg)
		return m, waitForSnapshot(m.conn)

	case errMsg:
		m.err = msg.err
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	if m.quitting {
		if m.err != nil {
			return errStyle.Render(fmt.Sprintf("connection lost: %v\n", m.err))
		}
		return "bye\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", m.spinner.View(), titleStyle.Render("nanovm inspect"))
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("live objects:"), fmt.Sprint(m.snapshot.LiveObjects))
	fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("collections:"), fmt.Sprint(m.snapshot.Collections))
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("ready:"), m.snapshot.ReadyCount)
	fmt.Fprintf(&b, "%s %d\n", labelStyle.Render("pending timeouts:"), m.snapshot.TimeoutCount)
	fmt.Fprintf(&b, "%s %d\n\n", labelStyle.Render("stream listeners:"), m.snapshot.ListenerCount)

	if len(m.snapshot.StatusCounts) > 0 {
		b.WriteString(titleStyle.Render("fiber status") + "\n")
		for _, name := range sortedKeys(m.snapshot.StatusCounts) {
			fmt.Fprintf(&b, "  %-10s %d\n", name, m.snapshot.StatusCounts[name])
		}
		b.WriteString("\n")
	}

	if len(m.snapshot.ChannelDepths) > 0 {
		b.WriteString(titleStyle.Render("channel depths") + "\n")
		for _, name := range sortedKeys(m.snapshot.ChannelDepths) {
			fmt.Fprintf(&b, "  %-10s %d\n", name, m.snapshot.ChannelDepths[name])
		}
		b.WriteString("\n")
	}

	b.WriteString(labelStyle.Render("q to quit") + "\n")
	return b.String()
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
