package conversation

import (
	"github.com/tmc/langchaingo/llms"
)

// Role names the author of a message. The values match langchaingo's chat message types.
type Role string

const (
	RoleHuman  Role = Role(llms.ChatMessageTypeHuman)
	RoleAI     Role = Role(llms.ChatMessageTypeAI)
	RoleSystem Role = Role(llms.ChatMessageTypeSystem)
	RoleTool   Role = Role(llms.ChatMessageTypeTool)
)

// Message is one entry of a conversation.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// State is the owned conversation state of one thread. Turn counts committed turns.
type State struct {
	ThreadID string    `json:"thread_id"`
	Turn     int       `json:"turn"`
	Messages []Message `json:"messages"`

	// skipGenerate is set by Retrieve when there is no question to answer.
	skipGenerate bool
}

// Clone returns a copy whose message slice can be appended to independently.
func (s State) Clone() State {
	c := s
	c.Messages = append([]Message(nil), s.Messages...)
	return c
}

// Last returns the final message, or false for an empty conversation.
func (s State) Last() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// LastHuman returns the most recent human message.
func (s State) LastHuman() (Message, bool) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Role == RoleHuman {
			return s.Messages[i], true
		}
	}
	return Message{}, false
}

// TrailingTools returns the contiguous run of tool messages at the end, in order.
func (s State) TrailingTools() []Message {
	i := len(s.Messages)
	for i > 0 && s.Messages[i-1].Role == RoleTool {
		i--
	}
	return s.Messages[i:]
}

func toContent(m Message) llms.MessageContent {
	return llms.TextParts(llms.ChatMessageType(m.Role), m.Content)
}
