package ratchet

import "context"

// MessageEventKind and InviteEventKind are the transport "kind" constants
// all peers must agree on; they are compile-time constants rather than
// runtime configuration.
const (
	MessageEventKind = 9400
	InviteEventKind  = 9401
)

// Filter describes which events a subscription should receive: authors,
// kinds, and the #p tag.
type Filter struct {
	Authors [][32]byte
	Kinds   []int
	PTag    [][32]byte
}

// Unsubscribe cancels a live subscription. Calling it more than once must
// be a no-op.
type Unsubscribe func()

// Transport is the capability a Session is constructed with: a filtered
// event subscription service plus a publish function, injected explicitly
// at construction so the crypto/transport boundary stays testable.
type Transport interface {
	Subscribe(ctx context.Context, filter Filter, onEvent func(*Envelope)) (Unsubscribe, error)
	Publish(ctx context.Context, envelope *Envelope) error
}
