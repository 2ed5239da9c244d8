package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nextlevelbuilder/ohbridge/internal/bridge"
	"github.com/nextlevelbuilder/ohbridge/internal/config"
	"github.com/nextlevelbuilder/ohbridge/internal/engine/enginetest"
	"github.com/nextlevelbuilder/ohbridge/internal/transcript"
	"github.com/nextlevelbuilder/ohbridge/pkg/protocol"
)

const welcome = "Welcome to the test terminal"

func testModel(t *testing.T) (*Model, *bridge.Session, *enginetest.Factory) {
	t.Helper()
	f := &enginetest.Factory{}
	sess := bridge.NewSession(bridge.Options{
		ID:      "tui",
		Factory: f,
		Catalog: enginetest.Catalog(),
		Engine:  config.EngineConfig{StepIntervalMs: 1, StopGraceMs: 500, SubmitTimeoutMs: 1000},
		Welcome: welcome,
	})
	m := New(context.Background(), sess)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	t.Cleanup(func() {
		m.Close()
		sess.Close(context.Background())
	})
	return m, sess, f
}

// pump feeds every queued frame to the model.
func pump(m *Model) {
	for {
		select {
		case f := <-m.inbox.frames:
			m.applyFrame(f)
		default:
			return
		}
	}
}

// press sends a key and runs the returned command, feeding its message
// back into the model.
func press(m *Model, k tea.KeyMsg) tea.Msg {
	_, cmd := m.Update(k)
	if cmd == nil {
		return nil
	}
	msg := cmd()
	m.Update(msg)
	pump(m)
	return msg
}

func contents(m *Model) []string {
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Content
	}
	return out
}

func TestModel_ShowsWelcome(t *testing.T) {
	m, _, _ := testModel(t)
	if len(m.entries) != 1 || m.entries[0].Content != welcome {
		t.Fatalf("entries = %v", contents(m))
	}
	if !strings.Contains(m.View(), welcome) {
		t.Error("view should contain the welcome entry")
	}
}

func TestModel_SendBeforeStart(t *testing.T) {
	m, sess, _ := testModel(t)

	m.input.SetValue("hello")
	if msg := press(m, tea.KeyMsg{Type: tea.KeyEnter}); msg != nil {
		t.Errorf("no command expected, got %T", msg)
	}
	if m.status != bridge.MsgBackendNotStarted || !m.statusErr {
		t.Errorf("status = %q (err %v)", m.status, m.statusErr)
	}
	if n := len(sess.History()); n != 1 {
		t.Errorf("history len = %d, want 1", n)
	}
	if m.input.Value() != "" {
		t.Error("input should be cleared")
	}
}

func TestModel_StartAndSend(t *testing.T) {
	m, sess, _ := testModel(t)

	msg := press(m, tea.KeyMsg{Type: tea.KeyCtrlS})
	if done, ok := msg.(launchDoneMsg); !ok || !done.ok {
		t.Fatalf("launch msg = %#v", msg)
	}
	if !sess.IsRunning() {
		t.Fatal("session should be running")
	}
	if m.busy != "" {
		t.Error("busy should be reset")
	}
	last := m.entries[len(m.entries)-1]
	if !strings.HasPrefix(last.Content, "Backend started successfully") {
		t.Errorf("last entry = %q", last.Content)
	}
	if !m.backend.IsRunning {
		t.Errorf("backend status = %+v", m.backend)
	}

	m.input.SetValue("hello")
	msg = press(m, tea.KeyMsg{Type: tea.KeyEnter})
	if done, ok := msg.(submitDoneMsg); !ok || done.response != "" {
		t.Fatalf("submit msg = %#v", msg)
	}
	last = m.entries[len(m.entries)-1]
	if last.Role != transcript.RoleUser || last.Content != "hello" {
		t.Errorf("last entry = %+v", last)
	}
}

func TestModel_RestartConfirm(t *testing.T) {
	m, _, f := testModel(t)
	press(m, tea.KeyMsg{Type: tea.KeyCtrlS})

	press(m, tea.KeyMsg{Type: tea.KeyCtrlR})
	if !m.confirming {
		t.Fatal("restart should ask for confirmation")
	}
	press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'n'}})
	if m.confirming {
		t.Error("decline should end confirmation")
	}
	if got := m.entries[len(m.entries)-1].Content; got != bridge.MsgRestartCancelled {
		t.Errorf("last entry = %q", got)
	}
	if f.Builds() != 1 {
		t.Errorf("builds = %d, want 1", f.Builds())
	}

	press(m, tea.KeyMsg{Type: tea.KeyCtrlR})
	msg := press(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'y'}})
	if done, ok := msg.(launchDoneMsg); !ok || !done.ok {
		t.Fatalf("restart msg = %#v", msg)
	}
	if f.Builds() != 2 {
		t.Errorf("builds = %d, want 2", f.Builds())
	}
}

func TestModel_CycleModels(t *testing.T) {
	m, sess, _ := testModel(t)

	want := []string{"fast", "smart", config.DefaultModelLabel, "fast"}
	for _, w := range want {
		press(m, tea.KeyMsg{Type: tea.KeyTab})
		if got := sess.SelectedModel(); got != w {
			t.Fatalf("selected = %q, want %q", got, w)
		}
	}
}

func TestModel_Clear(t *testing.T) {
	m, _, _ := testModel(t)
	press(m, tea.KeyMsg{Type: tea.KeyCtrlL})
	if len(m.entries) != 0 {
		t.Errorf("entries after clear = %v", contents(m))
	}
	if strings.Contains(m.View(), welcome) {
		t.Error("view should not show cleared entries")
	}
}

func TestModel_CancelNotStarted(t *testing.T) {
	m, _, _ := testModel(t)
	press(m, tea.KeyMsg{Type: tea.KeyCtrlX})
	if got := m.entries[len(m.entries)-1].Content; got != bridge.MsgBackendNotStarted {
		t.Errorf("last entry = %q", got)
	}
}

func TestModel_Quit(t *testing.T) {
	m, _, _ := testModel(t)
	msg := press(m, tea.KeyMsg{Type: tea.KeyEsc})
	if _, ok := msg.(tea.QuitMsg); !ok {
		t.Errorf("msg = %#v, want QuitMsg", msg)
	}
}

func TestModel_CollapsesSameRole(t *testing.T) {
	m, _, _ := testModel(t)
	m.entries = []transcript.Entry{
		{ID: "1", Role: transcript.RoleAssistant, Content: "one"},
		{ID: "2", Role: transcript.RoleAssistant, Content: "two"},
		{ID: "3", Role: transcript.RoleUser, Content: "three"},
		{ID: "4", Role: transcript.RoleAssistant, Content: "four"},
	}
	out := m.renderTranscript()
	if n := strings.Count(out, "Assistant"); n != 2 {
		t.Errorf("assistant labels = %d, want 2\n%s", n, out)
	}
	if n := strings.Count(out, "You"); n != 1 {
		t.Errorf("user labels = %d, want 1", n)
	}
}

func TestModel_UpdatedEntryReplaced(t *testing.T) {
	m, sess, _ := testModel(t)
	press(m, tea.KeyMsg{Type: tea.KeyCtrlS})
	sess.HandleUserMessage(context.Background(), "look", []string{"a.png", "b.png"}, m.entries[0].Timestamp)
	pump(m)

	n := len(m.entries)
	last := m.entries[n-1]
	if !sess.DeleteImage(last.ID, 0) {
		t.Fatal("delete image failed")
	}
	pump(m)
	if len(m.entries) != n {
		t.Errorf("entries = %d, want %d", len(m.entries), n)
	}
	if got := m.entries[n-1].Attachments; len(got) != 1 || got[0] != "b.png" {
		t.Errorf("attachments = %v", got)
	}
}

func TestModel_FullInboxResyncs(t *testing.T) {
	m, sess, _ := testModel(t)

	for i := 0; i < inboxSize+10; i++ {
		if err := m.inbox.Send(protocol.NewEvent(protocol.EventBackendStatus, protocol.BackendStatusPayload{State: "stopped"})); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	if sess.Channels() != 1 {
		t.Fatal("inbox should stay attached")
	}
	sess.CancelRestart()

	msg := waitInbox(m.inbox)()
	fm, ok := msg.(frameMsg)
	if !ok || !fm.resync {
		t.Fatalf("msg = %#v, want resync", msg)
	}
	if len(m.inbox.frames) != 0 {
		t.Errorf("queued frames = %d, want drained", len(m.inbox.frames))
	}
	m.Update(msg)

	got := contents(m)
	if len(got) != 2 || got[1] != bridge.MsgRestartCancelled {
		t.Errorf("entries = %v", got)
	}

	// later frames are applied normally
	sess.CancelRestart()
	m.Update(waitInbox(m.inbox)())
	if n := len(m.entries); n != 3 {
		t.Errorf("entries = %d, want 3", n)
	}
}
