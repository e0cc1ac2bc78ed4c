package agent

import "fmt"

// Session is a sliding window over user, assistant and tool messages.
// The system prompt is kept by the agent, not here.
type Session struct {
	messages []Message
	window   int
	added    int
	dropped  int
}

// NewSession creates a session keeping at most window messages
func NewSession(window int) *Session {
	if window < 2 {
		window = 2
	}
	return &Session{messages: make([]Message, 0, window+8), window: window}
}

// Add appends messages and trims the window
func (s *Session) Add(msgs ...Message) {
	s.messages = append(s.messages, msgs...)
	s.added += len(msgs)
	s.trim()
}

// trim drops the oldest messages. It prefers to cut right before a user
// message so that tool results never lose their assistant call.
func (s *Session) trim() {
	if len(s.messages) <= s.window {
		return
	}
	excess := len(s.messages) - s.window
	cut := excess
	for i := excess; i < len(s.messages) && i < excess+5; i++ {
		if s.messages[i].Role == RoleUser {
			cut = i
			break
		}
	}
	// a window that starts with orphaned tool results is rejected by
	// most endpoints
	for cut < len(s.messages)-1 && s.messages[cut].Role == RoleTool {
		cut++
	}
	s.dropped += cut
	s.messages = append(s.messages[:0:0], s.messages[cut:]...)
}

// Messages returns the current window
func (s *Session) Messages() []Message {
	return s.messages
}

// Len returns the number of messages in the window
func (s *Session) Len() int {
	return len(s.messages)
}

// Clear empties the session
func (s *Session) Clear() {
	s.messages = s.messages[:0]
}

// LastAssistant returns the latest assistant answer with text content
func (s *Session) LastAssistant() string {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Role == RoleAssistant && s.messages[i].Content != "" {
			return s.messages[i].Content
		}
	}
	return ""
}

// Stats summarizes the window
func (s *Session) Stats() string {
	roles := make(map[string]int)
	for _, m := range s.messages {
		roles[m.Role]++
	}
	return fmt.Sprintf("messages=%d (user=%d assistant=%d tool=%d) total_added=%d dropped=%d window=%d",
		len(s.messages), roles[RoleUser], roles[RoleAssistant], roles[RoleTool], s.added, s.dropped, s.window)
}
