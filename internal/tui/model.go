// Package tui is the terminal front-end. It embeds a bridge session
// in-process and watches it through a channel like any other client.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/nextlevelbuilder/ohbridge/internal/bridge"
	"github.com/nextlevelbuilder/ohbridge/internal/transcript"
	"github.com/nextlevelbuilder/ohbridge/pkg/protocol"
)

const (
	headerHeight = 2
	footerHeight = 5 // input box, status line, help
)

type launchDoneMsg struct {
	ok bool
}

type submitDoneMsg struct {
	response string
}

// Model is the Bubble Tea model of the terminal front-end.
type Model struct {
	ctx     context.Context
	session *bridge.Session
	inbox   *inbox
	keys    KeyMap
	styles  styles

	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model
	help     help.Model

	entries []transcript.Entry
	index   map[string]int
	backend protocol.BackendStatusPayload

	width, height int
	busy          string
	confirming    bool
	status        string
	statusErr     bool
}

// New attaches a model to sess. Close detaches it.
func New(ctx context.Context, sess *bridge.Session) *Model {
	input := textinput.New()
	input.Placeholder = "Type a message and press enter"
	input.Prompt = "❯ "
	input.CharLimit = 0
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(mint)

	m := &Model{
		ctx:      ctx,
		session:  sess,
		inbox:    newInbox(),
		keys:     DefaultKeyMap,
		styles:   defaultStyles(),
		viewport: viewport.New(80, 20),
		input:    input,
		spinner:  sp,
		help:     help.New(),
		index:    map[string]int{},
	}

	// attach before reading history; frames for entries already in the
	// snapshot are merged by id
	sess.Attach(m.inbox)
	m.resync()
	return m
}

// resync replaces the view with the session's current history and status.
func (m *Model) resync() {
	m.entries = nil
	m.index = map[string]int{}
	for _, e := range m.session.History() {
		m.upsert(e)
	}
	st := m.session.Status()
	m.backend = protocol.BackendStatusPayload{State: st.State.String(), IsRunning: st.IsRunning, Model: st.Model}
	m.refresh()
}

// Close detaches the model from its session.
func (m *Model) Close() {
	m.session.Detach(m.inbox)
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, waitInbox(m.inbox))
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case frameMsg:
		if msg.resync {
			m.resync()
		} else {
			m.applyFrame(msg.frame)
		}
		return m, waitInbox(m.inbox)

	case launchDoneMsg:
		m.busy = ""
		if msg.ok {
			m.setStatus("", false)
		} else {
			m.setStatus(bridge.MsgStartFailed, true)
		}
		return m, nil

	case submitDoneMsg:
		if msg.response != "" {
			m.setStatus(msg.response, true)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.confirming {
		switch {
		case key.Matches(msg, m.keys.Confirm):
			m.confirming = false
			m.setStatus("", false)
			return m, m.launch(m.session.Restart)
		case key.Matches(msg, m.keys.Decline):
			m.confirming = false
			m.setStatus("", false)
			m.session.CancelRestart()
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.Send):
		return m, m.send()
	case key.Matches(msg, m.keys.Start):
		return m, m.launch(m.session.Start)
	case key.Matches(msg, m.keys.Restart):
		m.confirming = true
		m.setStatus("Restart backend? (y/n)", false)
		return m, nil
	case key.Matches(msg, m.keys.Clear):
		m.session.Clear()
		return m, nil
	case key.Matches(msg, m.keys.Cancel):
		m.session.Cancel()
		return m, nil
	case key.Matches(msg, m.keys.Model):
		m.cycleModel()
		return m, nil
	case key.Matches(msg, m.keys.ScrollUp):
		m.viewport.HalfViewUp()
		return m, nil
	case key.Matches(msg, m.keys.ScrollDn):
		m.viewport.HalfViewDown()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// launch runs start off the UI loop; at most one launch is in flight.
func (m *Model) launch(start func(context.Context) bool) tea.Cmd {
	if m.busy != "" {
		return nil
	}
	m.busy = "Starting backend..."
	ctx := m.ctx
	return func() tea.Msg {
		return launchDoneMsg{ok: start(ctx)}
	}
}

func (m *Model) send() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.Reset()

	if !m.session.IsRunning() {
		m.setStatus(bridge.MsgBackendNotStarted, true)
		return nil
	}
	m.setStatus("", false)

	ctx, sess := m.ctx, m.session
	return func() tea.Msg {
		return submitDoneMsg{response: sess.HandleUserMessage(ctx, text, nil, time.Now())}
	}
}

// cycleModel selects the model after the current one, wrapping around.
func (m *Model) cycleModel() {
	models, def := m.session.Models()
	if len(models) == 0 {
		m.setStatus(bridge.MsgNoModels, true)
		return
	}
	current := m.session.SelectedModel()
	if current == "" {
		current = def
	}
	next := models[0]
	for i, name := range models {
		if name == current {
			next = models[(i+1)%len(models)]
			break
		}
	}
	m.session.SelectModel(next)
	m.setStatus("Model: "+next, false)
}

func (m *Model) setStatus(s string, isErr bool) {
	m.status, m.statusErr = s, isErr
}

func (m *Model) applyFrame(f *protocol.EventFrame) {
	if f == nil {
		return
	}
	switch f.Event {
	case protocol.EventChatEntry:
		if e, ok := f.Payload.(transcript.Entry); ok {
			m.upsert(e)
		}
	case protocol.EventChatCleared:
		m.entries = nil
		m.index = map[string]int{}
	case protocol.EventBackendStatus:
		if p, ok := f.Payload.(protocol.BackendStatusPayload); ok {
			m.backend = p
		}
	}
	m.refresh()
}

func (m *Model) upsert(e transcript.Entry) {
	if i, ok := m.index[e.ID]; ok {
		m.entries[i] = e
		return
	}
	m.index[e.ID] = len(m.entries)
	m.entries = append(m.entries, e)
}

func (m *Model) resize(w, h int) {
	m.width, m.height = w, h
	m.viewport.Width = w
	m.viewport.Height = max(1, h-headerHeight-footerHeight)
	m.input.Width = max(1, w-6)
	m.help.Width = w
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderTranscript())
	m.viewport.GotoBottom()
}

// renderTranscript groups consecutive entries of the same role under one
// label.
func (m *Model) renderTranscript() string {
	width := m.viewport.Width - 2
	body := m.styles.body
	if width > 0 {
		body = body.Width(width)
	}

	var b strings.Builder
	for i, e := range m.entries {
		if i == 0 || e.Role != m.entries[i-1].Role {
			if i > 0 {
				b.WriteString("\n")
			}
			b.WriteString(m.styles.roles[e.Role].Render(roleLabel(e.Role)))
			b.WriteString("\n")
		}
		text := e.Content
		if n := len(e.Attachments); n > 0 {
			text += fmt.Sprintf("  [%d image(s)]", n)
		}
		b.WriteString(body.Render(text))
		b.WriteString("\n")
	}
	return b.String()
}

func (m *Model) View() string {
	model := m.backend.Model
	if sel := m.session.SelectedModel(); sel != "" && !m.backend.IsRunning {
		model = sel
	}
	title := fmt.Sprintf("ohbridge · %s · %s", m.session.ID(), m.backend.State)
	if model != "" {
		title += " · " + model
	}
	if m.width > 2 {
		title = runewidth.Truncate(title, m.width-2, "…")
	}

	var status string
	switch {
	case m.busy != "":
		status = m.spinner.View() + " " + m.busy
	case m.statusErr:
		status = m.styles.errLine.Render(m.status)
	default:
		status = m.styles.status.Render(m.status)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.styles.header.Render(title),
		m.viewport.View(),
		m.styles.input.Render(m.input.View()),
		status,
		m.help.View(m.keys),
	)
}
