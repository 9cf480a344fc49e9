// Package speech turns the lifecycle callbacks of a speech recognizer into a
// single observable State value.
package speech

import "slices"

// State is the current dictation state. Values are replaced wholesale on
// every change; an empty Error means no error is pending.
type State struct {
	Error      string
	SpokenText []string
	IsSpeaking bool
}

// Equal reports whether s and other hold the same fields.
func (s State) Equal(other State) bool {
	return s.Error == other.Error &&
		s.IsSpeaking == other.IsSpeaking &&
		slices.Equal(s.SpokenText, other.SpokenText)
}

func (s State) clone() State {
	s.SpokenText = slices.Clone(s.SpokenText)
	return s
}

func withError(msg string) func(State) State {
	return func(s State) State {
		s.Error = msg
		return s
	}
}

func withSpeaking(speaking bool) func(State) State {
	return func(s State) State {
		s.IsSpeaking = speaking
		return s
	}
}

func withSpokenText(text []string) func(State) State {
	return func(s State) State {
		s.SpokenText = text
		return s
	}
}
