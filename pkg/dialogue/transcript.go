package dialogue

// Transcript is a mutable, ordered message sequence for one dialogue.
// The zero value is ready to use. Not safe for concurrent use.
type Transcript struct {
	messages []Message
}

// NewTranscript creates a Transcript pre-populated with the given messages.
func NewTranscript(msgs ...Message) *Transcript {
	return &Transcript{messages: msgs}
}

// Append adds one or more messages to the transcript.
func (t *Transcript) Append(msgs ...Message) {
	t.messages = append(t.messages, msgs...)
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	return len(t.messages)
}

// Messages returns a copy of all messages in order.
func (t *Transcript) Messages() []Message {
	cp := make([]Message, len(t.messages))
	copy(cp, t.messages)
	return cp
}

// Last returns the most recent message and true, or a zero Message and false
// if the transcript is empty.
func (t *Transcript) Last() (Message, bool) {
	if len(t.messages) == 0 {
		return Message{}, false
	}
	return t.messages[len(t.messages)-1], true
}

// LastAssistantText returns the text of the most recent assistant message
// that carries any, or an empty string if there is none.
func (t *Transcript) LastAssistantText() string {
	for i := len(t.messages) - 1; i >= 0; i-- {
		m := t.messages[i]
		if m.Role == RoleAssistant && m.Content != "" {
			return m.Content
		}
	}
	return ""
}
