package ratchet

import (
	"context"
	"time"
)

// InvitePolicy bounds how many times an invite link may be redeemed.
type InvitePolicy struct {
	MaxUses int
	used    int
	usedBy  map[string]bool
}

func (p *InvitePolicy) exhausted() bool {
	return p.MaxUses > 0 && p.used >= p.MaxUses
}

func (p *InvitePolicy) record(inviteeStaticPub [32]byte) {
	if p.usedBy == nil {
		p.usedBy = make(map[string]bool)
	}
	p.usedBy[hexKey(inviteeStaticPub)] = true
	p.used++
}

// InviteLink is the out-of-band bundle an inviter hands to an invitee
// (e.g. as a URL or QR code). It never travels over the transport: the
// rendezvous public key and link secret are only ever known to parties who
// already hold the link, which is what keeps the handshake from leaking
// either party's identity to the relay.
type InviteLink struct {
	InviterStaticPub [32]byte
	RendezvousPub    [32]byte
	LinkSecret       [32]byte
}

// Invite is the inviter-side handle returned by CreateInvite: the link to
// distribute out of band, plus the rendezvous keypair and policy needed to
// listen for acceptances.
type Invite struct {
	Link       InviteLink
	rendezvous KeyPair
	policy     *InvitePolicy
}

// CreateInvite generates a fresh rendezvous keypair and link secret and
// bundles them with the inviter's static public key into a shareable
// InviteLink.
func CreateInvite(inviterStaticPub [32]byte, maxUses int) (*Invite, error) {
	rendezvous, err := generateKeyPair()
	if err != nil {
		return nil, err
	}
	var linkSecret [32]byte
	if err := readRandom(linkSecret[:]); err != nil {
		return nil, err
	}

	return &Invite{
		Link: InviteLink{
			InviterStaticPub: inviterStaticPub,
			RendezvousPub:    rendezvous.Public,
			LinkSecret:       linkSecret,
		},
		rendezvous: rendezvous,
		policy:     &InvitePolicy{MaxUses: maxUses},
	}, nil
}

// AcceptInvite is the invitee side of the handshake: it builds a
// double-wrapped acceptance envelope and publishes it, then initializes a
// Session ready to send to the inviter.
//
// The inner layer is encrypted under DH(invitee_static_priv,
// inviter_static_pub) and carries the invitee's fresh session public key;
// the invitee's static public key itself travels in the clear inside that
// inner layer, since the inviter needs it to recompute the same DH output.
// The outer layer is encrypted under DH(throwaway_priv, rendezvous_pub),
// published under a disposable author key, so an observer of the
// rendezvous traffic learns neither the invitee's static identity nor
// their session key.
func AcceptInvite(ctx context.Context, transport Transport, link InviteLink, inviteeStaticPriv [32]byte) (*Session, error) {
	inviteeStaticPub, err := publicFromPrivate(inviteeStaticPriv)
	if err != nil {
		return nil, err
	}
	sessionKeyPair, err := generateKeyPair()
	if err != nil {
		return nil, err
	}

	innerSecret, err := dh(inviteeStaticPriv, link.InviterStaticPub)
	if err != nil {
		return nil, err
	}
	innerCipher, err := aeadSeal(innerSecret, sessionKeyPair.Public[:])
	if err != nil {
		return nil, err
	}
	innerBlob := append(append([]byte{}, inviteeStaticPub[:]...), innerCipher...)

	throwaway, err := generateKeyPair()
	if err != nil {
		return nil, err
	}
	outerSecret, err := dh(throwaway.Private, link.RendezvousPub)
	if err != nil {
		return nil, err
	}
	outerCipher, err := aeadSeal(outerSecret, innerBlob)
	if err != nil {
		return nil, err
	}

	// The acceptance envelope travels as an ordinary message-kind event on
	// the rendezvous filter; InviteEventKind is reserved for the separate,
	// addressable discovery event a directory service stores.
	envelope := &Envelope{
		Kind:      MessageEventKind,
		Author:    throwaway.Public,
		Tags:      [][2]string{{"p", hexKey(link.RendezvousPub)}},
		Content:   outerCipher,
		CreatedAt: time.Now().Unix(),
	}
	signEnvelope(envelope, throwaway)

	if err := transport.Publish(ctx, envelope); err != nil {
		return nil, err
	}

	// The session's peer key is the rendezvous key: that keypair is what
	// the inviter's ListenInvite will run its matching DH step against, not
	// the inviter's long-lived static key (that key only ever appears in
	// the inner encryption layer above, to authenticate the invitee).
	state, err := Init(link.RendezvousPub, sessionKeyPair.Private, true, link.LinkSecret)
	if err != nil {
		return nil, err
	}

	return NewSession(state, transport), nil
}

// ListenInvite subscribes for acceptance envelopes addressed to this
// invite's rendezvous key and, for each one that decrypts and passes the
// policy check, constructs a responder Session and invokes onAccept with
// the new session and the invitee's static public key. inviteeStaticPub is
// the zero key whenever err is non-nil.
func ListenInvite(ctx context.Context, transport Transport, invite *Invite, inviterStaticPriv [32]byte, onAccept func(session *Session, inviteeStaticPub [32]byte, err error)) (Unsubscribe, error) {
	handler := func(envelope *Envelope) {
		if !VerifyEnvelope(envelope) {
			onAccept(nil, [32]byte{}, ErrInviteDecryptFailed)
			return
		}
		if invite.policy.exhausted() {
			onAccept(nil, [32]byte{}, ErrInviteExhausted)
			return
		}

		outerSecret, err := dh(invite.rendezvous.Private, envelope.Author)
		if err != nil {
			onAccept(nil, [32]byte{}, ErrInviteDecryptFailed)
			return
		}
		innerBlob, err := aeadOpen(outerSecret, envelope.Content)
		if err != nil {
			onAccept(nil, [32]byte{}, ErrInviteDecryptFailed)
			return
		}
		if len(innerBlob) < 32 {
			onAccept(nil, [32]byte{}, ErrMalformedInviteData)
			return
		}
		var inviteeStaticPub [32]byte
		copy(inviteeStaticPub[:], innerBlob[:32])

		innerSecret, err := dh(inviterStaticPriv, inviteeStaticPub)
		if err != nil {
			onAccept(nil, [32]byte{}, ErrInviteDecryptFailed)
			return
		}
		sessionPubBytes, err := aeadOpen(innerSecret, innerBlob[32:])
		if err != nil || len(sessionPubBytes) != 32 {
			onAccept(nil, [32]byte{}, ErrInviteDecryptFailed)
			return
		}
		var theirSessionPub [32]byte
		copy(theirSessionPub[:], sessionPubBytes)

		// The responder session is keyed to the fresh session key just
		// recovered from the inner layer, not the invitee's static
		// identity, and seeds itself with the rendezvous private key: the
		// same keypair the invitee ran its DH step against in AcceptInvite.
		state, err := Init(theirSessionPub, invite.rendezvous.Private, false, invite.Link.LinkSecret)
		if err != nil {
			onAccept(nil, [32]byte{}, err)
			return
		}

		invite.policy.record(inviteeStaticPub)
		onAccept(NewSession(state, transport), inviteeStaticPub, nil)
	}

	return transport.Subscribe(ctx, Filter{
		Kinds: []int{MessageEventKind},
		PTag:  [][32]byte{invite.Link.RendezvousPub},
	}, handler)
}

// DefaultInviteWait bounds WaitForInvite when the caller passes no timeout.
const DefaultInviteWait = 10 * time.Second

// WaitForInvite is the timeout-bounded variant of ListenInvite: it blocks
// until the first successful acceptance, the timeout elapses, or ctx is
// cancelled, then tears the subscription down either way.
func WaitForInvite(ctx context.Context, transport Transport, invite *Invite, inviterStaticPriv [32]byte, timeout time.Duration) (*Session, [32]byte, error) {
	if timeout <= 0 {
		timeout = DefaultInviteWait
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type acceptance struct {
		session *Session
		invitee [32]byte
	}
	accepted := make(chan acceptance, 1)

	unsubscribe, err := ListenInvite(ctx, transport, invite, inviterStaticPriv, func(session *Session, inviteeStaticPub [32]byte, err error) {
		if err != nil {
			return
		}
		select {
		case accepted <- acceptance{session: session, invitee: inviteeStaticPub}:
		default:
		}
	})
	if err != nil {
		return nil, [32]byte{}, err
	}
	defer unsubscribe()

	select {
	case first := <-accepted:
		return first.session, first.invitee, nil
	case <-ctx.Done():
		return nil, [32]byte{}, ctx.Err()
	}
}
