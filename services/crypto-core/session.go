package ratchet

import "golang.org/x/crypto/curve25519"

// Init constructs the session state for either end of a fresh conversation.
//
// theirStaticPub is the peer's long-term static public key. ourInitialPriv
// is our initial private key: the current envelope keypair's private half
// if isInitiator, or the next envelope keypair's private half if not.
// sharedSecret is the 32-byte secret the invite handshake (or any other
// out-of-band exchange) produced.
func Init(theirStaticPub [32]byte, ourInitialPriv [32]byte, isInitiator bool, sharedSecret [32]byte) (*SessionState, error) {
	initialPub, err := publicFromPrivate(ourInitialPriv)
	if err != nil {
		return nil, err
	}

	fresh, err := generateKeyPair()
	if err != nil {
		return nil, err
	}

	session := &SessionState{
		skipped: make(map[string]*skippedEntry),
	}

	if isInitiator {
		session.role = RoleInitiator
		session.ourCurrent = KeyPair{Private: ourInitialPriv, Public: initialPub}
		session.ourCurrentSet = true
		session.ourNext = fresh
	} else {
		session.role = RoleResponder
		session.ourNext = KeyPair{Private: ourInitialPriv, Public: initialPub}
		session.ourCurrentSet = false
	}

	session.theirEnvelopePub = theirStaticPub
	session.theirCurrentAuthor = theirStaticPub

	dhOut, err := dh(session.ourNext.Private, theirStaticPub)
	if err != nil {
		return nil, err
	}
	derivedRoot, derivedSendChain, err := KDF(sharedSecret[:], dhOut[:])
	if err != nil {
		return nil, err
	}

	if isInitiator {
		session.rootKey = derivedRoot
		session.sendChain = chainState{key: derivedSendChain, set: true}
		session.recvChain = chainState{}
	} else {
		// Responder: discard the derived sending chain key and keep the
		// shared secret itself as the root key. The first inbound header
		// triggers the responder's first DH step, which produces both
		// chain keys.
		session.rootKey = sharedSecret
		session.sendChain = chainState{}
		session.recvChain = chainState{}
	}

	return session, nil
}

func publicFromPrivate(priv [32]byte) ([32]byte, error) {
	return dh(priv, basepoint())
}

func basepoint() [32]byte {
	var bp [32]byte
	copy(bp[:], curve25519.Basepoint)
	return bp
}
