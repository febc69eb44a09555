package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"botflow/internal/core/domain"
)

// stepKind tells the executor what to do after a node ran
type stepKind int

const (
	stepWait   stepKind = iota // stop here and wait for input
	stepNext                   // continue with step.next
	stepFinish                 // leave the scenario and show the main menu
)

type step struct {
	kind stepKind
	next string
}

var (
	waitStep   = step{kind: stepWait}
	finishStep = step{kind: stepFinish}
)

// advance continues with the node's successor, or finishes the flow
func advance(node *domain.Node) step {
	if node.NextNodeID == "" {
		return finishStep
	}
	return step{kind: stepNext, next: node.NextNodeID}
}

// runFrom executes nodes starting at nodeID until one waits for input or the flow ends.
// replay re-enters the first node without pushing history (used by /back and re-prompts).
// Failures are contained here: the user gets an apology and the main menu.
func (in *Interpreter) runFrom(ctx context.Context, t *turn, sc *domain.Scenario, nodeID string, replay bool) error {
	session := t.session

	for steps := 0; ; steps++ {
		if steps >= in.maxSteps {
			return in.fail(ctx, t, fmt.Errorf("scenario %s at node %s: %w", sc.ID, nodeID, ErrStepLimit))
		}

		node, ok := sc.Node(nodeID)
		if !ok {
			return in.fail(ctx, t, fmt.Errorf("scenario %s: %w: %q", sc.ID, domain.ErrNodeNotFound, nodeID))
		}

		// History holds input nodes only
		if !replay && session.CurrentNodeID != node.ID {
			if prev, ok := sc.Node(session.CurrentNodeID); ok && prev.Type().IsInput() {
				session.PushHistory(prev.ID)
			}
		}
		replay = false
		session.CurrentNodeID = node.ID

		next, err := in.execute(ctx, t, sc, node)
		if err != nil {
			return in.fail(ctx, t, fmt.Errorf("node %s (%s): %w", node.ID, node.Type(), err))
		}

		switch next.kind {
		case stepWait:
			return nil
		case stepFinish:
			session.ResetFlow()
			return in.sendMainMenu(ctx, t, "")
		}
		nodeID = next.next
	}
}

// fail handles a graph integrity or node execution error for one session
func (in *Interpreter) fail(ctx context.Context, t *turn, cause error) error {
	slog.Error("Node execution failed",
		"error", cause,
		"bot_id", t.bot.ID,
		"chat_id", t.chatID(),
		"scenario_id", t.session.ActiveScenarioID,
	)
	in.apologize(ctx, t)
	return nil
}

// apologize tells the user something went wrong and puts them back on the main menu
func (in *Interpreter) apologize(ctx context.Context, t *turn) {
	t.session.ResetFlow()
	if err := t.say(ctx, msgSystemError); err != nil {
		slog.Warn("Failed to send apology", "error", err, "chat_id", t.chatID())
	}
	if err := in.sendMainMenu(ctx, t, ""); err != nil {
		slog.Warn("Failed to send main menu after failure", "error", err, "chat_id", t.chatID())
	}
}

// execute performs the node's side effects and decides the next step
func (in *Interpreter) execute(ctx context.Context, t *turn, sc *domain.Scenario, node *domain.Node) (step, error) {
	session := t.session
	locale := session.Locale
	render := func(text domain.LocalizedText) string {
		return interpolate(text.Resolve(locale), session.Variables)
	}

	switch body := node.Body.(type) {
	case domain.StartBody, domain.JumpBody:
		return advance(node), nil

	case domain.MessageBody:
		if err := t.say(ctx, render(body.Text)); err != nil {
			return step{}, err
		}
		return advance(node), nil

	case domain.QuestionTextBody:
		return waitStep, t.say(ctx, render(body.Prompt))

	case domain.QuestionChoiceBody:
		return waitStep, t.adapter.SendChoiceKeyboard(ctx, t.chatID(), render(body.Prompt), choiceKeyboard(body.Choices, locale))

	case domain.MenuReplyBody:
		return waitStep, t.adapter.SendReplyKeyboard(ctx, t.chatID(), render(body.Prompt), menuReplyRows(body.Choices, locale))

	case domain.RequestContactBody:
		return waitStep, t.adapter.SendContactRequest(ctx, t.chatID(), render(body.Prompt), locale)

	case domain.ConditionBody:
		target := body.FalseNodeID
		if evaluateCondition(body, session) {
			target = body.TrueNodeID
		}
		if target == "" {
			return finishStep, nil
		}
		return step{kind: stepNext, next: target}, nil

	case domain.DelayBody:
		if err := t.adapter.ShowTyping(ctx, t.chatID()); err != nil {
			return step{}, err
		}
		if err := in.sleep(ctx, msDuration(body.Millis)); err != nil {
			return step{}, err
		}
		return advance(node), nil

	case domain.GalleryBody:
		if text := render(body.Text); text != "" {
			if err := t.say(ctx, text); err != nil {
				return step{}, err
			}
		}
		in.sendGallery(ctx, t)
		return advance(node), nil

	case domain.ActionBody:
		if err := in.runAction(ctx, t, body, render(body.Text)); err != nil {
			return step{}, err
		}
		return advance(node), nil

	case domain.SearchCarsBody:
		if err := in.searchCars(ctx, t, false); err != nil {
			return step{}, err
		}
		return advance(node), nil

	case domain.SearchFallbackBody:
		if err := in.searchCars(ctx, t, true); err != nil {
			return step{}, err
		}
		return advance(node), nil

	case domain.ChannelPostBody:
		return in.channelPost(ctx, t, sc, node, body, render(body.Text))

	case domain.RequestBroadcastBody:
		return in.requestBroadcast(ctx, t, node, body, render(body.Text))

	case domain.OfferCollectBody:
		return in.offerCollect(ctx, t, node, body, render(body.Text))
	}

	return step{}, fmt.Errorf("unsupported node type %q", node.Type())
}

// evaluateCondition compares the condition variable (or the result count) with the operand
func evaluateCondition(c domain.ConditionBody, session *domain.Session) bool {
	value := session.Variables[c.Variable]
	if !domain.Truthy(value) {
		value = len(session.TempResults)
	}

	switch c.Operator {
	case domain.OpGT, domain.OpLT:
		left, okLeft := domain.ToNumber(value)
		right, okRight := domain.ToNumber(c.Value)
		if !okLeft || !okRight {
			return false
		}
		if c.Operator == domain.OpGT {
			return left > right
		}
		return left < right
	case domain.OpHasValue:
		return domain.Truthy(value)
	case domain.OpContains:
		return strings.Contains(strings.ToLower(domain.ValueString(value)), strings.ToLower(c.Value))
	default:
		return domain.ValueString(value) == c.Value
	}
}

func (in *Interpreter) sendGallery(ctx context.Context, t *turn) {
	cards := t.session.TempResults
	if len(cards) > galleryLimit {
		cards = cards[:galleryLimit]
	}
	for i, car := range cards {
		if i > 0 {
			if err := in.sleep(ctx, galleryPause); err != nil {
				return
			}
		}
		if err := t.adapter.SendRecordCard(ctx, t.chatID(), carRecordCard(car, t.session.Locale)); err != nil {
			slog.Warn("Gallery card failed",
				"error", err,
				"chat_id", t.chatID(),
				"canonical_id", car.CanonicalID,
			)
		}
	}
}
