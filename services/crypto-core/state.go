package ratchet

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// KeyPairSnapshot is the lowercase-hex wire form of a KeyPair.
type KeyPairSnapshot struct {
	Private string `json:"private"`
	Public  string `json:"public"`
}

// ChainStateSnapshot is the lowercase-hex wire form of a chainState.
type ChainStateSnapshot struct {
	Key string `json:"key"`
	Set bool   `json:"set"`
}

// SkippedEntrySnapshot is the lowercase-hex wire form of a skippedEntry,
// keyed by message number in MessageKeys.
type SkippedEntrySnapshot struct {
	MessageKeys map[uint32]string `json:"messageKeys"`
	HeaderKeys  []string          `json:"headerKeys,omitempty"`
}

// SessionStateSnapshot is the durable form of a SessionState, every byte
// field rendered as lowercase hex. Resuming from a snapshot leaves the
// session with no live transport subscriptions until OnMessage is called
// again.
type SessionStateSnapshot struct {
	Role SessionRole `json:"role"`

	RootKey            string `json:"rootKey"`
	TheirEnvelopePub   string `json:"theirEnvelopePub"`
	TheirCurrentAuthor string `json:"theirCurrentAuthor"`

	OurCurrent    KeyPairSnapshot `json:"ourCurrent"`
	OurCurrentSet bool            `json:"ourCurrentSet"`
	OurNext       KeyPairSnapshot `json:"ourNext"`

	SendChain ChainStateSnapshot `json:"sendChain"`
	RecvChain ChainStateSnapshot `json:"recvChain"`

	SendCounter       uint32 `json:"sendCounter"`
	RecvCounter       uint32 `json:"recvCounter"`
	PreviousSendCount uint32 `json:"previousSendCount"`

	Skipped map[string]SkippedEntrySnapshot `json:"skipped,omitempty"`
}

// Export serializes a SessionState into its durable snapshot form.
func Export(state *SessionState) (*SessionStateSnapshot, error) {
	if state == nil {
		return nil, errors.New("ratchet: nil session")
	}
	snap := &SessionStateSnapshot{
		Role:               state.role,
		RootKey:            hex.EncodeToString(state.rootKey[:]),
		TheirEnvelopePub:   hex.EncodeToString(state.theirEnvelopePub[:]),
		TheirCurrentAuthor: hex.EncodeToString(state.theirCurrentAuthor[:]),
		OurCurrent:         exportKeyPair(state.ourCurrent),
		OurCurrentSet:      state.ourCurrentSet,
		OurNext:            exportKeyPair(state.ourNext),
		SendChain:          exportChain(state.sendChain),
		RecvChain:          exportChain(state.recvChain),
		SendCounter:        state.sendCounter,
		RecvCounter:        state.recvCounter,
		PreviousSendCount:  state.previousSendCount,
		Skipped:            make(map[string]SkippedEntrySnapshot, len(state.skipped)),
	}
	for author, entry := range state.skipped {
		keys := make(map[uint32]string, len(entry.messageKeys))
		for number, key := range entry.messageKeys {
			keys[number] = hex.EncodeToString(key[:])
		}
		headerKeys := make([]string, len(entry.headerKeys))
		for i, hk := range entry.headerKeys {
			headerKeys[i] = hex.EncodeToString(hk[:])
		}
		snap.Skipped[author] = SkippedEntrySnapshot{MessageKeys: keys, HeaderKeys: headerKeys}
	}
	if len(snap.Skipped) == 0 {
		snap.Skipped = nil
	}
	return snap, nil
}

// Import reconstructs a SessionState from a snapshot produced by Export.
// The returned session has no live subscriptions; wrap it with NewSession
// and call OnMessage to resume delivery.
func Import(snap *SessionStateSnapshot) (*SessionState, error) {
	if snap == nil {
		return nil, errors.New("ratchet: nil session snapshot")
	}
	rootKey, err := decodeFixed(snap.RootKey)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decode root key: %w", err)
	}
	theirEnvelopePub, err := decodeFixed(snap.TheirEnvelopePub)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decode their envelope pubkey: %w", err)
	}
	theirCurrentAuthor, err := decodeFixed(snap.TheirCurrentAuthor)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decode their current author: %w", err)
	}
	ourCurrent, err := importKeyPair(snap.OurCurrent)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decode our current keypair: %w", err)
	}
	ourNext, err := importKeyPair(snap.OurNext)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decode our next keypair: %w", err)
	}
	sendChain, err := importChain(snap.SendChain)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decode send chain: %w", err)
	}
	recvChain, err := importChain(snap.RecvChain)
	if err != nil {
		return nil, fmt.Errorf("ratchet: decode recv chain: %w", err)
	}

	state := &SessionState{
		role:               snap.Role,
		rootKey:            rootKey,
		theirEnvelopePub:   theirEnvelopePub,
		theirCurrentAuthor: theirCurrentAuthor,
		ourCurrent:         ourCurrent,
		ourCurrentSet:      snap.OurCurrentSet,
		ourNext:            ourNext,
		sendChain:          sendChain,
		recvChain:          recvChain,
		sendCounter:        snap.SendCounter,
		recvCounter:        snap.RecvCounter,
		previousSendCount:  snap.PreviousSendCount,
		skipped:            make(map[string]*skippedEntry, len(snap.Skipped)),
	}
	for author, entrySnap := range snap.Skipped {
		entry := &skippedEntry{messageKeys: make(map[uint32][32]byte, len(entrySnap.MessageKeys))}
		for number, encoded := range entrySnap.MessageKeys {
			key, err := decodeFixed(encoded)
			if err != nil {
				return nil, fmt.Errorf("ratchet: decode skipped message key: %w", err)
			}
			entry.messageKeys[number] = key
		}
		entry.headerKeys = make([][32]byte, len(entrySnap.HeaderKeys))
		for i, encoded := range entrySnap.HeaderKeys {
			key, err := decodeFixed(encoded)
			if err != nil {
				return nil, fmt.Errorf("ratchet: decode skipped header key: %w", err)
			}
			entry.headerKeys[i] = key
		}
		state.skipped[author] = entry
	}
	return state, nil
}

func exportKeyPair(kp KeyPair) KeyPairSnapshot {
	return KeyPairSnapshot{
		Private: hex.EncodeToString(kp.Private[:]),
		Public:  hex.EncodeToString(kp.Public[:]),
	}
}

func importKeyPair(snap KeyPairSnapshot) (KeyPair, error) {
	priv, err := decodeFixed(snap.Private)
	if err != nil {
		return KeyPair{}, err
	}
	pub, err := decodeFixed(snap.Public)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Private: priv, Public: pub}, nil
}

func exportChain(cs chainState) ChainStateSnapshot {
	return ChainStateSnapshot{
		Key: hex.EncodeToString(cs.key[:]),
		Set: cs.set,
	}
}

func importChain(snap ChainStateSnapshot) (chainState, error) {
	key, err := decodeFixed(snap.Key)
	if err != nil {
		return chainState{}, err
	}
	return chainState{key: key, set: snap.Set}, nil
}

func decodeFixed(in string) ([32]byte, error) {
	var out [32]byte
	data, err := hex.DecodeString(in)
	if err != nil {
		return out, err
	}
	if len(data) != 32 {
		return out, fmt.Errorf("unexpected length %d, want 32", len(data))
	}
	copy(out[:], data)
	return out, nil
}
