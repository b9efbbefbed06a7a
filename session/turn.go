package session

import "strings"

// Turn accumulates the transcription fragments of one exchange.
// It is not safe for concurrent use; the Manager guards it.
type Turn struct {
	user      strings.Builder
	assistant strings.Builder
}

// AppendUser adds a fragment and returns the running user text.
func (t *Turn) AppendUser(fragment string) string {
	t.user.WriteString(fragment)
	return t.user.String()
}

func (t *Turn) AppendAssistant(fragment string) string {
	t.assistant.WriteString(fragment)
	return t.assistant.String()
}

func (t *Turn) Snapshot() (user, assistant string) {
	return t.user.String(), t.assistant.String()
}

// Complete returns the finished turn and starts a new one.
func (t *Turn) Complete() (user, assistant string) {
	user, assistant = t.Snapshot()
	t.Reset()
	return user, assistant
}

func (t *Turn) Reset() {
	t.user.Reset()
	t.assistant.Reset()
}
