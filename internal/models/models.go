package models

import "time"

// AppMode represents the current operating mode of the application
type AppMode int

const (
	ModeChat  AppMode = iota // Regular conversation, no mode tag sent
	ModeAgent                // Backend may invoke tools for the turn
)

// Tag returns the mode tag sent with an inference request, empty for plain chat.
func (m AppMode) Tag() string {
	if m == ModeAgent {
		return "agent"
	}
	return ""
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type MessageStatus int

const (
	StatusCommitted MessageStatus = iota
	StatusPending
	StatusError
)

func (s MessageStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusError:
		return "error"
	default:
		return "committed"
	}
}

// Health is the coarse routing indicator derived from Auto turns.
type Health int

const (
	HealthUnknown Health = iota
	HealthNominal
	HealthDegraded
)

func (h Health) String() string {
	switch h {
	case HealthNominal:
		return "nominal"
	case HealthDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

type AIModel struct {
	ID          string
	DisplayName string
	Provider    string
	IsActive    bool
}

type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// ContractViolation records message content that did not arrive as a string.
type ContractViolation struct {
	Raw string
}

type Message struct {
	ID        string
	Temporary bool // ID was generated client-side and is not durable yet
	Role      Role
	Content   string
	Provider  string
	Model     string
	Status    MessageStatus
	Usage     *Usage
	CreatedAt time.Time
	Violation *ContractViolation
}

// Durable reports whether the message carries a backend-issued id.
func (m Message) Durable() bool {
	return m.ID != "" && !m.Temporary
}

type ChatSession struct {
	ID              string
	Title           string
	SelectedRouting string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastMessageAt   time.Time
}

// Draft reports whether the session has not been created on the backend yet.
func (s ChatSession) Draft() bool {
	return s.ID == ""
}

type ChatDetail struct {
	ChatSession
	Messages []Message
}

// Turn is one user message and its assistant response, persisted as a unit.
type Turn struct {
	TitleSuggestion    string
	SelectedRouting    string
	UserContent        string
	AssistantContent   string
	AssistantProvider  string
	AssistantModelUsed string
}
