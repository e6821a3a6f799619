package opencode

// TextPartInput is a single text part of a prompt.
type TextPartInput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// PromptRequest is the payload for queueing a prompt on a session.
type PromptRequest struct {
	Parts []TextPartInput `json:"parts"`
	Agent string          `json:"agent,omitempty"`
}

// MessageInfo carries the role metadata of a message.
type MessageInfo struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// MessagePart is one part of a message body.
type MessagePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Message is one entry of a session transcript.
type Message struct {
	Info  MessageInfo   `json:"info"`
	Parts []MessagePart `json:"parts"`
}

// Text returns the concatenated text parts of the message.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}
