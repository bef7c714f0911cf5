package pipeline

import (
	"context"
	"fmt"

	"github.com/kalambet/bella/internal/responder"
)

// Replier produces the assistant's reply to a rendered prompt.
type Replier interface {
	Respond(ctx context.Context, prompt string) (responder.Reply, error)
}

// Exchange is the outcome of one full conversational round trip.
type Exchange struct {
	Turn     TurnResult
	Reply    responder.Reply
	Affinity int
}

// Converse runs a whole turn: ProcessUserMessage, the reply, then
// CompleteConversation. Persistence failures are logged and do not abort the
// turn; a responder failure leaves the entry pending and is returned.
func (e *Engine) Converse(ctx context.Context, text string, r Replier) (Exchange, error) {
	turn, err := e.ProcessUserMessage(ctx, text)
	if err != nil {
		e.logger.Warn("turn not fully persisted", "error", err)
	}

	reply, err := r.Respond(ctx, turn.Context.Prompt(text, e.Affinity()))
	if err != nil {
		return Exchange{Turn: turn, Affinity: e.Affinity()}, fmt.Errorf("generating reply: %w", err)
	}

	if err := e.CompleteConversation(ctx, turn.Entry, reply.Text, reply.Emotion, reply.AffinityDelta); err != nil {
		e.logger.Warn("completing conversation", "entry", turn.Entry.ID, "error", err)
	}
	return Exchange{Turn: turn, Reply: reply, Affinity: e.Affinity()}, nil
}
