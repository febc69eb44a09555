// Package domain contains core business entities
// Following Hexagonal Architecture: These models are infrastructure-agnostic
package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Locale is the session language. Empty means "not chosen yet".
type Locale string

const (
	LocaleEN Locale = "EN"
	LocaleUK Locale = "UK"
	LocaleRU Locale = "RU"
)

// OrDefault returns EN for an unset locale
func (l Locale) OrDefault() Locale {
	if l == "" {
		return LocaleEN
	}
	return l
}

// NodeType is the wire name of a scenario node kind
type NodeType string

const (
	NodeStart            NodeType = "START"
	NodeMessage          NodeType = "MESSAGE"
	NodeQuestionText     NodeType = "QUESTION_TEXT"
	NodeQuestionChoice   NodeType = "QUESTION_CHOICE"
	NodeMenuReply        NodeType = "MENU_REPLY"
	NodeRequestContact   NodeType = "REQUEST_CONTACT"
	NodeCondition        NodeType = "CONDITION"
	NodeDelay            NodeType = "DELAY"
	NodeGallery          NodeType = "GALLERY"
	NodeAction           NodeType = "ACTION"
	NodeSearchCars       NodeType = "SEARCH_CARS"
	NodeSearchFallback   NodeType = "SEARCH_FALLBACK"
	NodeChannelPost      NodeType = "CHANNEL_POST"
	NodeRequestBroadcast NodeType = "REQUEST_BROADCAST"
	NodeOfferCollect     NodeType = "OFFER_COLLECT"
	NodeJump             NodeType = "JUMP"
)

// IsInput reports whether the node waits for user input
func (t NodeType) IsInput() bool {
	switch t {
	case NodeQuestionText, NodeQuestionChoice, NodeMenuReply, NodeRequestContact:
		return true
	}
	return false
}

// ConditionOperator for CONDITION nodes
type ConditionOperator string

const (
	OpEquals   ConditionOperator = "EQUALS"
	OpContains ConditionOperator = "CONTAINS"
	OpGT       ConditionOperator = "GT"
	OpLT       ConditionOperator = "LT"
	OpHasValue ConditionOperator = "HAS_VALUE"
)

// ActionType for ACTION nodes
type ActionType string

const (
	ActionSetLang          ActionType = "SET_LANG"
	ActionNormalizeRequest ActionType = "NORMALIZE_REQUEST"
	ActionCreateLead       ActionType = "CREATE_LEAD"
	ActionCreateRequest    ActionType = "CREATE_REQUEST"
	ActionTagUser          ActionType = "TAG_USER"
	ActionNotifyAdmin      ActionType = "NOTIFY_ADMIN"
)

// LocalizedText holds the default text and the UK/RU variants
type LocalizedText struct {
	Default string
	UK      string
	RU      string
}

// Resolve picks the locale variant, falling back to the default text
func (t LocalizedText) Resolve(locale Locale) string {
	switch locale {
	case LocaleUK:
		if t.UK != "" {
			return t.UK
		}
	case LocaleRU:
		if t.RU != "" {
			return t.RU
		}
	}
	return t.Default
}

// IsZero reports whether no variant is set
func (t LocalizedText) IsZero() bool {
	return t.Default == "" && t.UK == "" && t.RU == ""
}

// Choice is one option of a QUESTION_CHOICE or MENU_REPLY node
type Choice struct {
	Label      string `json:"label" yaml:"label"`
	LabelUK    string `json:"label_uk,omitempty" yaml:"label_uk,omitempty"`
	LabelRU    string `json:"label_ru,omitempty" yaml:"label_ru,omitempty"`
	Value      string `json:"value" yaml:"value"`
	NextNodeID string `json:"nextNodeId,omitempty" yaml:"nextNodeId,omitempty"`
}

// Labels returns the choice label as localized text
func (c Choice) Labels() LocalizedText {
	return LocalizedText{Default: c.Label, UK: c.LabelUK, RU: c.LabelRU}
}

// Ref is a value given literally or indirected through a session variable
type Ref struct {
	Literal string
	Var     string
}

// Resolve returns the literal, else the named variable rendered as text
func (r Ref) Resolve(vars map[string]any) string {
	if r.Literal != "" {
		return r.Literal
	}
	if r.Var != "" {
		return VarString(vars, r.Var)
	}
	return ""
}

// ============================================================================
// Node bodies (one type per node kind)
// ============================================================================

// NodeBody is the sealed set of per-kind node payloads
type NodeBody interface {
	Type() NodeType
	sealed()
}

type StartBody struct{}

type JumpBody struct{}

type MessageBody struct {
	Text LocalizedText
}

type QuestionTextBody struct {
	Prompt   LocalizedText
	Variable string
}

type QuestionChoiceBody struct {
	Prompt   LocalizedText
	Variable string
	Choices  []Choice
}

type MenuReplyBody struct {
	Prompt   LocalizedText
	Variable string
	Choices  []Choice
}

type RequestContactBody struct {
	Prompt LocalizedText
}

type ConditionBody struct {
	Variable    string
	Operator    ConditionOperator
	Value       string
	TrueNodeID  string
	FalseNodeID string
}

type DelayBody struct {
	Millis int
}

type GalleryBody struct {
	Text LocalizedText
}

type ActionBody struct {
	Action ActionType
	Text   LocalizedText
	Tag    string
}

type SearchCarsBody struct{}

type SearchFallbackBody struct{}

type ChannelPostBody struct {
	Text        LocalizedText
	Destination Ref
	Image       Ref
	ScheduleAt  Ref
}

type RequestBroadcastBody struct {
	Text        LocalizedText
	Destination Ref
	RequestVar  string
	ButtonText  string
	ScheduleAt  Ref
}

type OfferCollectBody struct {
	Text          LocalizedText
	Destination   Ref
	DealerChatVar string
	RequestVar    string
	ButtonText    string
	ScheduleAt    Ref
}

func (StartBody) Type() NodeType            { return NodeStart }
func (JumpBody) Type() NodeType             { return NodeJump }
func (MessageBody) Type() NodeType          { return NodeMessage }
func (QuestionTextBody) Type() NodeType     { return NodeQuestionText }
func (QuestionChoiceBody) Type() NodeType   { return NodeQuestionChoice }
func (MenuReplyBody) Type() NodeType        { return NodeMenuReply }
func (RequestContactBody) Type() NodeType   { return NodeRequestContact }
func (ConditionBody) Type() NodeType        { return NodeCondition }
func (DelayBody) Type() NodeType            { return NodeDelay }
func (GalleryBody) Type() NodeType          { return NodeGallery }
func (ActionBody) Type() NodeType           { return NodeAction }
func (SearchCarsBody) Type() NodeType       { return NodeSearchCars }
func (SearchFallbackBody) Type() NodeType   { return NodeSearchFallback }
func (ChannelPostBody) Type() NodeType      { return NodeChannelPost }
func (RequestBroadcastBody) Type() NodeType { return NodeRequestBroadcast }
func (OfferCollectBody) Type() NodeType     { return NodeOfferCollect }

func (StartBody) sealed()            {}
func (JumpBody) sealed()             {}
func (MessageBody) sealed()          {}
func (QuestionTextBody) sealed()     {}
func (QuestionChoiceBody) sealed()   {}
func (MenuReplyBody) sealed()        {}
func (RequestContactBody) sealed()   {}
func (ConditionBody) sealed()        {}
func (DelayBody) sealed()            {}
func (GalleryBody) sealed()          {}
func (ActionBody) sealed()           {}
func (SearchCarsBody) sealed()       {}
func (SearchFallbackBody) sealed()   {}
func (ChannelPostBody) sealed()      {}
func (RequestBroadcastBody) sealed() {}
func (OfferCollectBody) sealed()     {}

// Node is one step of a scenario graph
type Node struct {
	ID         string
	NextNodeID string
	Body       NodeBody
}

// Type returns the node kind
func (n *Node) Type() NodeType {
	if n.Body == nil {
		return ""
	}
	return n.Body.Type()
}

// Targets lists every node id this node can transition to
func (n *Node) Targets() []string {
	var out []string
	if n.NextNodeID != "" {
		out = append(out, n.NextNodeID)
	}
	switch b := n.Body.(type) {
	case QuestionChoiceBody:
		out = appendChoiceTargets(out, b.Choices)
	case MenuReplyBody:
		out = appendChoiceTargets(out, b.Choices)
	case ConditionBody:
		if b.TrueNodeID != "" {
			out = append(out, b.TrueNodeID)
		}
		if b.FalseNodeID != "" {
			out = append(out, b.FalseNodeID)
		}
	}
	return out
}

func appendChoiceTargets(out []string, choices []Choice) []string {
	for _, c := range choices {
		if c.NextNodeID != "" {
			out = append(out, c.NextNodeID)
		}
	}
	return out
}

// Scenario is an authored dialogue graph
type Scenario struct {
	ID             string   `json:"id" yaml:"id"`
	Name           string   `json:"name" yaml:"name"`
	TriggerCommand string   `json:"triggerCommand" yaml:"triggerCommand"`
	Keywords       []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	IsActive       bool     `json:"isActive" yaml:"isActive"`
	EntryNodeID    string   `json:"entryNodeId" yaml:"entryNodeId"`
	Nodes          []Node   `json:"nodes" yaml:"nodes"`
}

// Node finds a node by id
func (s *Scenario) Node(id string) (*Node, bool) {
	for i := range s.Nodes {
		if s.Nodes[i].ID == id {
			return &s.Nodes[i], true
		}
	}
	return nil, false
}

// MatchesKeyword reports a case-insensitive substring match of any keyword in normalized input
func (s *Scenario) MatchesKeyword(input string) bool {
	for _, k := range s.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && strings.Contains(input, k) {
			return true
		}
	}
	return false
}

// Validate checks entry and reference integrity
func (s *Scenario) Validate() error {
	if len(s.Nodes) == 0 {
		return fmt.Errorf("scenario %s: no nodes", s.ID)
	}
	ids := make(map[string]struct{}, len(s.Nodes))
	for _, n := range s.Nodes {
		ids[n.ID] = struct{}{}
	}
	if _, ok := ids[s.EntryNodeID]; !ok {
		return fmt.Errorf("scenario %s: entry node %q missing", s.ID, s.EntryNodeID)
	}
	for _, n := range s.Nodes {
		for _, target := range n.Targets() {
			if _, ok := ids[target]; !ok {
				return fmt.Errorf("scenario %s: node %s references missing node %q", s.ID, n.ID, target)
			}
		}
	}
	return nil
}

// Scenarios is a loaded scenario set
type Scenarios []*Scenario

// ByID returns the scenario with the given id
func (all Scenarios) ByID(id string) (*Scenario, bool) {
	for _, s := range all {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// ByTrigger returns the first scenario with the given trigger command
func (all Scenarios) ByTrigger(command string) (*Scenario, bool) {
	command = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(command)), "/")
	for _, s := range all {
		if strings.TrimPrefix(strings.ToLower(s.TriggerCommand), "/") == command {
			return s, true
		}
	}
	return nil, false
}

// ByKeyword returns the first active scenario whose keywords match the normalized input
func (all Scenarios) ByKeyword(input string) (*Scenario, bool) {
	for _, s := range all {
		if s.IsActive && s.MatchesKeyword(input) {
			return s, true
		}
	}
	return nil, false
}

// ============================================================================
// Wire form (JSON / YAML)
// ============================================================================

type nodeContentWire struct {
	Text              string   `json:"text,omitempty" yaml:"text,omitempty"`
	TextUK            string   `json:"text_uk,omitempty" yaml:"text_uk,omitempty"`
	TextRU            string   `json:"text_ru,omitempty" yaml:"text_ru,omitempty"`
	VariableName      string   `json:"variableName,omitempty" yaml:"variableName,omitempty"`
	Choices           []Choice `json:"choices,omitempty" yaml:"choices,omitempty"`
	ConditionVariable string   `json:"conditionVariable,omitempty" yaml:"conditionVariable,omitempty"`
	ConditionOperator string   `json:"conditionOperator,omitempty" yaml:"conditionOperator,omitempty"`
	ConditionValue    Scalar   `json:"conditionValue,omitempty" yaml:"conditionValue,omitempty"`
	TrueNodeID        string   `json:"trueNodeId,omitempty" yaml:"trueNodeId,omitempty"`
	FalseNodeID       string   `json:"falseNodeId,omitempty" yaml:"falseNodeId,omitempty"`
	ActionType        string   `json:"actionType,omitempty" yaml:"actionType,omitempty"`
	Tag               string   `json:"tag,omitempty" yaml:"tag,omitempty"`
	DestinationID     string   `json:"destinationId,omitempty" yaml:"destinationId,omitempty"`
	DestinationVar    string   `json:"destinationVar,omitempty" yaml:"destinationVar,omitempty"`
	ImageURL          string   `json:"imageUrl,omitempty" yaml:"imageUrl,omitempty"`
	ImageVar          string   `json:"imageVar,omitempty" yaml:"imageVar,omitempty"`
	ScheduledAt       string   `json:"scheduledAt,omitempty" yaml:"scheduledAt,omitempty"`
	ScheduledAtVar    string   `json:"scheduledAtVar,omitempty" yaml:"scheduledAtVar,omitempty"`
	RequestIDVar      string   `json:"requestIdVar,omitempty" yaml:"requestIdVar,omitempty"`
	DealerChatVar     string   `json:"dealerChatVar,omitempty" yaml:"dealerChatVar,omitempty"`
	ButtonText        string   `json:"buttonText,omitempty" yaml:"buttonText,omitempty"`
}

type nodeWire struct {
	ID         string          `json:"id" yaml:"id"`
	Type       NodeType        `json:"type" yaml:"type"`
	NextNodeID string          `json:"nextNodeId,omitempty" yaml:"nextNodeId,omitempty"`
	Content    nodeContentWire `json:"content" yaml:"content"`
}

// UnmarshalJSON decodes the flat wire form into a typed node
func (n *Node) UnmarshalJSON(data []byte) error {
	var w nodeWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return n.fromWire(w)
}

// UnmarshalYAML decodes the flat wire form into a typed node
func (n *Node) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var w nodeWire
	if err := unmarshal(&w); err != nil {
		return err
	}
	return n.fromWire(w)
}

// MarshalJSON encodes the node back into its flat wire form
func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.toWire())
}

func (n *Node) fromWire(w nodeWire) error {
	c := w.Content
	text := LocalizedText{Default: c.Text, UK: c.TextUK, RU: c.TextRU}

	var body NodeBody
	switch w.Type {
	case NodeStart:
		body = StartBody{}
	case NodeJump:
		body = JumpBody{}
	case NodeMessage:
		body = MessageBody{Text: text}
	case NodeQuestionText:
		body = QuestionTextBody{Prompt: text, Variable: c.VariableName}
	case NodeQuestionChoice:
		body = QuestionChoiceBody{Prompt: text, Variable: c.VariableName, Choices: c.Choices}
	case NodeMenuReply:
		body = MenuReplyBody{Prompt: text, Variable: c.VariableName, Choices: c.Choices}
	case NodeRequestContact:
		body = RequestContactBody{Prompt: text}
	case NodeCondition:
		body = ConditionBody{
			Variable:    c.ConditionVariable,
			Operator:    ConditionOperator(strings.ToUpper(c.ConditionOperator)),
			Value:       string(c.ConditionValue),
			TrueNodeID:  c.TrueNodeID,
			FalseNodeID: c.FalseNodeID,
		}
	case NodeDelay:
		body = DelayBody{Millis: c.ConditionValue.IntOr(1000)}
	case NodeGallery:
		body = GalleryBody{Text: text}
	case NodeAction:
		body = ActionBody{Action: ActionType(c.ActionType), Text: text, Tag: c.Tag}
	case NodeSearchCars:
		body = SearchCarsBody{}
	case NodeSearchFallback:
		body = SearchFallbackBody{}
	case NodeChannelPost:
		body = ChannelPostBody{
			Text:        text,
			Destination: Ref{Literal: c.DestinationID, Var: c.DestinationVar},
			Image:       Ref{Literal: c.ImageURL, Var: c.ImageVar},
			ScheduleAt:  Ref{Literal: c.ScheduledAt, Var: c.ScheduledAtVar},
		}
	case NodeRequestBroadcast:
		body = RequestBroadcastBody{
			Text:        text,
			Destination: Ref{Literal: c.DestinationID, Var: c.DestinationVar},
			RequestVar:  c.RequestIDVar,
			ButtonText:  c.ButtonText,
			ScheduleAt:  Ref{Literal: c.ScheduledAt, Var: c.ScheduledAtVar},
		}
	case NodeOfferCollect:
		body = OfferCollectBody{
			Text:          text,
			Destination:   Ref{Literal: c.DestinationID, Var: c.DestinationVar},
			DealerChatVar: c.DealerChatVar,
			RequestVar:    c.RequestIDVar,
			ButtonText:    c.ButtonText,
			ScheduleAt:    Ref{Literal: c.ScheduledAt, Var: c.ScheduledAtVar},
		}
	default:
		return fmt.Errorf("node %s: unknown type %q", w.ID, w.Type)
	}

	n.ID = w.ID
	n.NextNodeID = w.NextNodeID
	n.Body = body
	return nil
}

func (n Node) toWire() nodeWire {
	w := nodeWire{ID: n.ID, Type: n.Type(), NextNodeID: n.NextNodeID}
	setText := func(t LocalizedText) {
		w.Content.Text, w.Content.TextUK, w.Content.TextRU = t.Default, t.UK, t.RU
	}
	switch b := n.Body.(type) {
	case MessageBody:
		setText(b.Text)
	case QuestionTextBody:
		setText(b.Prompt)
		w.Content.VariableName = b.Variable
	case QuestionChoiceBody:
		setText(b.Prompt)
		w.Content.VariableName = b.Variable
		w.Content.Choices = b.Choices
	case MenuReplyBody:
		setText(b.Prompt)
		w.Content.VariableName = b.Variable
		w.Content.Choices = b.Choices
	case RequestContactBody:
		setText(b.Prompt)
	case ConditionBody:
		w.Content.ConditionVariable = b.Variable
		w.Content.ConditionOperator = string(b.Operator)
		w.Content.ConditionValue = Scalar(b.Value)
		w.Content.TrueNodeID = b.TrueNodeID
		w.Content.FalseNodeID = b.FalseNodeID
	case DelayBody:
		w.Content.ConditionValue = Scalar(fmt.Sprint(b.Millis))
	case GalleryBody:
		setText(b.Text)
	case ActionBody:
		setText(b.Text)
		w.Content.ActionType = string(b.Action)
		w.Content.Tag = b.Tag
	case ChannelPostBody:
		setText(b.Text)
		w.Content.DestinationID, w.Content.DestinationVar = b.Destination.Literal, b.Destination.Var
		w.Content.ImageURL, w.Content.ImageVar = b.Image.Literal, b.Image.Var
		w.Content.ScheduledAt, w.Content.ScheduledAtVar = b.ScheduleAt.Literal, b.ScheduleAt.Var
	case RequestBroadcastBody:
		setText(b.Text)
		w.Content.DestinationID, w.Content.DestinationVar = b.Destination.Literal, b.Destination.Var
		w.Content.RequestIDVar = b.RequestVar
		w.Content.ButtonText = b.ButtonText
		w.Content.ScheduledAt, w.Content.ScheduledAtVar = b.ScheduleAt.Literal, b.ScheduleAt.Var
	case OfferCollectBody:
		setText(b.Text)
		w.Content.DestinationID, w.Content.DestinationVar = b.Destination.Literal, b.Destination.Var
		w.Content.DealerChatVar = b.DealerChatVar
		w.Content.RequestIDVar = b.RequestVar
		w.Content.ButtonText = b.ButtonText
		w.Content.ScheduledAt, w.Content.ScheduledAtVar = b.ScheduleAt.Literal, b.ScheduleAt.Var
	}
	return w
}
