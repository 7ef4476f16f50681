package domain

// ChatRole identifies the author of a chat turn.
type ChatRole string

const (
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

// ChatTurn is one entry of the append-only chat transcript.
type ChatTurn struct {
	Role ChatRole `json:"role"`
	Text string   `json:"text"`
}
