package tui

import (
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"

	"github.com/nextlevelbuilder/ohbridge/pkg/protocol"
)

const inboxSize = 256

// inbox is the bridge channel of the terminal program. Frames are queued
// and picked up by the Bubble Tea loop through waitInbox.
type inbox struct {
	id     string
	frames chan *protocol.EventFrame
	// lagged is set when frames were dropped; the model then reloads the
	// session instead of applying frames.
	lagged atomic.Bool
}

func newInbox() *inbox {
	return &inbox{
		id:     "tui-" + uuid.NewString()[:8],
		frames: make(chan *protocol.EventFrame, inboxSize),
	}
}

func (i *inbox) ID() string { return i.id }

// Send never blocks the broadcaster and never fails, so the terminal stays
// attached. A full inbox drops its oldest frame.
func (i *inbox) Send(f *protocol.EventFrame) error {
	for {
		select {
		case i.frames <- f:
			return nil
		default:
		}
		select {
		case <-i.frames:
			i.lagged.Store(true)
		default:
		}
	}
}

type frameMsg struct {
	frame *protocol.EventFrame
	// resync asks the model to reload history and status.
	resync bool
}

func waitInbox(i *inbox) tea.Cmd {
	return func() tea.Msg {
		f := <-i.frames
		if !i.lagged.Swap(false) {
			return frameMsg{frame: f}
		}
		// queued frames are older than the snapshot the model is about to take
		for {
			select {
			case <-i.frames:
			default:
				return frameMsg{resync: true}
			}
		}
	}
}
