// Package nlsearch turns free-text CVE queries into validated search payloads
// by asking a language model for a filter_cves function call and feeding
// validator errors back until the call is valid or the retry budget is spent.
package nlsearch

// Role is the speaker of a transcript message.
type Role string

// Transcript roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation with the model.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is an immutable conversation. With returns a new transcript and
// leaves the receiver untouched, so earlier states stay valid.
type Transcript struct {
	messages []Message
}

// NewTranscript starts a conversation with a user prompt.
func NewTranscript(prompt string) Transcript {
	return Transcript{messages: []Message{{Role: RoleUser, Content: prompt}}}
}

// With returns a transcript with msg appended.
func (t Transcript) With(msg Message) Transcript {
	next := make([]Message, len(t.messages), len(t.messages)+1)
	copy(next, t.messages)
	return Transcript{messages: append(next, msg)}
}

// Messages returns a copy of the conversation.
func (t Transcript) Messages() []Message {
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t Transcript) Len() int { return len(t.messages) }

// Last returns the final message, or a zero Message for an empty transcript.
func (t Transcript) Last() Message {
	if len(t.messages) == 0 {
		return Message{}
	}
	return t.messages[len(t.messages)-1]
}
