// Package command implements the small text grammars the bot exchanges with
// the platform: inline-button callback data and /start deep-link payloads.
package command

import (
	"fmt"
	"strings"
)

// Namespace groups callback actions
type Namespace string

const (
	NamespaceScenario Namespace = "SCN"
	NamespaceCar      Namespace = "CAR"
	NamespaceCommand  Namespace = "CMD"
)

// Action within a namespace
type Action string

const (
	ActionChoice     Action = "CHOICE"
	ActionSelect     Action = "SELECT"
	ActionAddRequest Action = "ADD_REQUEST"
	ActionAddCatalog Action = "ADD_CATALOG"
	ActionBack       Action = "BACK"
	ActionCancel     Action = "CANCEL"
	ActionMenu       Action = "MENU"
)

// Callback is parsed callback data: NAMESPACE:ACTION[:arg]
type Callback struct {
	Namespace Namespace
	Action    Action
	Arg       string
}

// Choice builds SCN:CHOICE:<value>
func Choice(value string) Callback {
	return Callback{Namespace: NamespaceScenario, Action: ActionChoice, Arg: value}
}

// Car builds CAR:<action>:<id>
func Car(action Action, id string) Callback {
	return Callback{Namespace: NamespaceCar, Action: action, Arg: id}
}

// Cmd builds CMD:<action>
func Cmd(action Action) Callback {
	return Callback{Namespace: NamespaceCommand, Action: action}
}

// String serializes the callback. The argument may itself contain ':'.
func (c Callback) String() string {
	if c.Arg == "" {
		return fmt.Sprintf("%s:%s", c.Namespace, c.Action)
	}
	return fmt.Sprintf("%s:%s:%s", c.Namespace, c.Action, c.Arg)
}

// Is compares namespace and action
func (c Callback) Is(ns Namespace, action Action) bool {
	return c.Namespace == ns && c.Action == action
}

// ParseCallback parses NAMESPACE:ACTION[:arg]. Everything after the second
// separator belongs to the argument.
func ParseCallback(data string) (Callback, bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Callback{}, false
	}
	cb := Callback{
		Namespace: Namespace(strings.ToUpper(parts[0])),
		Action:    Action(strings.ToUpper(parts[1])),
	}
	if len(parts) == 3 {
		cb.Arg = parts[2]
	}
	return cb, true
}
