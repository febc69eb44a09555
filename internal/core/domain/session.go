package domain

import "time"

// MaxHistory bounds the back-navigation stack
const MaxHistory = 30

// Session is the per-chat conversation state, one per chat+bot pair
type Session struct {
	ChatID           string         `json:"chatId"`
	BotID            string         `json:"botId"`
	Platform         string         `json:"platform"`
	Locale           Locale         `json:"language,omitempty"`
	Variables        map[string]any `json:"variables"`
	History          []string       `json:"history"`
	ActiveScenarioID string         `json:"activeScenarioId,omitempty"`
	CurrentNodeID    string         `json:"currentNodeId,omitempty"`
	TempResults      []CarCard      `json:"tempResults,omitempty"`
	LastMessageAt    time.Time      `json:"lastMessageAt"`
	MessageCount     int            `json:"messageCount"`
}

// PlatformTelegram is the only platform the engine drives today
const PlatformTelegram = "TG"

// NewSession creates an empty session for a chat
func NewSession(botID, chatID string) *Session {
	return &Session{
		ChatID:    chatID,
		BotID:     botID,
		Platform:  PlatformTelegram,
		Variables: map[string]any{},
		History:   []string{},
	}
}

// EnsureDefaults repairs nil collections after decoding
func (s *Session) EnsureDefaults() {
	if s.Variables == nil {
		s.Variables = map[string]any{}
	}
	if s.History == nil {
		s.History = []string{}
	}
}

// Var returns a variable rendered as text
func (s *Session) Var(name string) string {
	return VarString(s.Variables, name)
}

// SetVar stores a variable
func (s *Session) SetVar(name string, value any) {
	if s.Variables == nil {
		s.Variables = map[string]any{}
	}
	s.Variables[name] = value
}

// HasLanguage reports whether the user has picked a language
func (s *Session) HasLanguage() bool {
	return s.Locale != "" || s.Var("language") != "" || s.Var("lang") != ""
}

// PushHistory records a node id, dropping the oldest entries beyond MaxHistory
func (s *Session) PushHistory(nodeID string) {
	s.History = append(s.History, nodeID)
	if over := len(s.History) - MaxHistory; over > 0 {
		s.History = append([]string(nil), s.History[over:]...)
	}
}

// PopHistory removes and returns the most recent node id
func (s *Session) PopHistory() (string, bool) {
	if len(s.History) == 0 {
		return "", false
	}
	last := s.History[len(s.History)-1]
	s.History = s.History[:len(s.History)-1]
	return last, true
}

// ResetFlow leaves the active scenario
func (s *Session) ResetFlow() {
	s.ActiveScenarioID = ""
	s.CurrentNodeID = ""
	s.History = []string{}
	s.TempResults = nil
}
