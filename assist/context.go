package assist

import (
	"context"
)

// DefaultTokenBudget caps how much history is handed to the generator.
// Small models choke on huge prompts long before the API rejects them.
const DefaultTokenBudget = 2048

// Assembler turns raw chat history into chronological role-tagged turns
type Assembler struct {
	transport   Transport
	tokenBudget int
}

// NewAssembler creates an assembler. tokenBudget <= 0 uses the default.
func NewAssembler(transport Transport, tokenBudget int) *Assembler {
	if tokenBudget <= 0 {
		tokenBudget = DefaultTokenBudget
	}
	return &Assembler{transport: transport, tokenBudget: tokenBudget}
}

// Assemble retrieves up to limit most recent messages for the chat and
// converts them into turns: empty texts dropped, role tagged by whether
// the sender is the account owner, oldest first. An empty history is an
// empty slice, not an error. Nothing is cached between calls.
func (a *Assembler) Assemble(ctx context.Context, chatID int64, limit int) ([]Turn, error) {
	msgs, err := a.transport.RecentMessages(ctx, chatID, limit)
	if err != nil {
		return nil, err
	}

	owner := a.transport.Me()

	// Transport yields newest first; walk it accumulating the token
	// budget, then reverse so the oldest retained turn is first.
	turns := make([]Turn, 0, len(msgs))
	used := 0
	for _, m := range msgs {
		if m.Text == "" {
			continue
		}
		cost := countTokens(m.Text)
		if len(turns) > 0 && used+cost > a.tokenBudget {
			break
		}
		role := RoleUser
		if m.SenderID == owner {
			role = RoleAssistant
		}
		turns = append(turns, Turn{Role: role, Content: m.Text})
		used += cost
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}
