package engine

import "github.com/nextlevelbuilder/ohbridge/internal/transcript"

// OutputObserver receives rendered engine output.
type OutputObserver interface {
	OnOutput(role transcript.Role, text string, images []string)
}

// NoopObserver discards all output.
type NoopObserver struct{}

func (NoopObserver) OnOutput(transcript.Role, string, []string) {}

// ObserverFunc adapts a function to OutputObserver.
type ObserverFunc func(role transcript.Role, text string, images []string)

func (f ObserverFunc) OnOutput(role transcript.Role, text string, images []string) {
	f(role, text, images)
}
