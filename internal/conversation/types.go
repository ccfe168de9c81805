// Package conversation tracks short-lived interactive state for a chat:
// the record that ties a pending issuer-selection prompt to the draft
// payload waiting on the user's reply.
package conversation

// Phase tags what the bot is waiting for. The set is open: new interactive
// flows add phases without schema changes.
type Phase string

const (
	// PhaseAwaitingIssuerSelection means the chat was asked to pick an
	// issuer pattern and the bot is waiting for "1" or "2".
	PhaseAwaitingIssuerSelection Phase = "awaiting_issuer_selection"
)

// State is one interactive session record. At most one active
// (non-expired) state is honored per chat; lookups always take the latest
// non-expired record rather than relying on storage-level uniqueness.
type State struct {
	ID string
	// ChatID identifies the conversation thread.
	ChatID string
	// MessageID is the triggering message, used for threaded replies.
	MessageID string
	Phase     Phase
	// Payload carries the draft invoice data, opaque to the state machine.
	Payload   []byte
	CreatedAt int64
	ExpiresAt int64
}

// ActiveAt reports whether the state is still live at the given unix
// time. A state whose ExpiresAt has been reached is invisible to lookups
// even while the sweeper has not deleted the row yet.
func (s State) ActiveAt(now int64) bool {
	return s.ExpiresAt > now
}
