package engine

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"
)

// noisePrefixes are interpreter banner and prompt lines that carry no
// information for the chat view.
var noisePrefixes = []string{
	"[Jupyter ",
	"[Python Interpreter",
	"openhands@",
}

// CleanOutput strips terminal control sequences and noise lines from
// command text and trims the result.
func CleanOutput(s string) string {
	s = ansi.Strip(s)
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	kept := lines[:0]
	for _, line := range lines {
		if hasNoisePrefix(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func hasNoisePrefix(line string) bool {
	for _, p := range noisePrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// Render turns an event into its chat display string. An empty result
// means the event is not shown.
//
// The order of the cases matters: command and code actions are rendered
// with their body before any generic thought or content rule applies.
func Render(e Event) string {
	switch e.Kind {
	case KindNull, KindChangeState:
		return ""

	case KindCommandAction:
		return "🤖 " + e.Thought + "\n❯ Command:\n" + CleanOutput(e.Body)

	case KindCodeAction:
		return "🤖 " + e.Thought + "\n❯ Code:\n" + CleanOutput(e.Body)

	case KindCommandOutput:
		if e.Interpreter == InterpreterIPython {
			switch {
			case e.Content != "":
				return "IPython ❯\n" + CleanOutput(e.Content)
			case e.Body != "":
				return "IPython ❯\n" + CleanOutput(e.Body)
			}
			return ""
		}
		return "Bash ❯\n" + CleanOutput(e.Content)

	case KindDelegateAction:
		return fmt.Sprintf("🤖 Delegating to %s: %s", e.Agent, e.Task)

	case KindBrowseAction:
		return "🌐 " + e.BrowserActions

	case KindFinishAction:
		return "🏁 Agent finished: " + e.Thought

	case KindGenericThought:
		if strings.TrimSpace(e.Thought) == "" {
			return ""
		}
		return "🤖 " + e.Thought

	case KindUserMessage:
		// the user's own turn is already in the transcript
		return ""

	case KindAssistantMessage:
		if strings.TrimSpace(e.Content) == "" {
			return ""
		}
		return "🤖 " + e.Content
	}

	// StateChanged, Observation and anything else with content
	if strings.TrimSpace(e.Content) == "" {
		return ""
	}
	return CleanOutput("🤖 " + e.Content)
}
