package msgclient

import (
	"sync"

	ratchet "ratchet"
)

// keyPairFile is the lowercase-hex wire form of a ratchet.KeyPair.
type keyPairFile struct {
	Private string `json:"private"`
	Public  string `json:"public"`
}

// stateFile is the on-disk/wire JSON shape msgctl and msgwasm persist
// between runs: one static identity plus every session keyed by the
// peer's static public key (hex).
type stateFile struct {
	UserID           string                                    `json:"userId"`
	DirectoryBaseURL string                                    `json:"directoryBaseUrl"`
	RelayBaseURL     string                                    `json:"relayBaseUrl"`
	Identity         keyPairFile                               `json:"identity"`
	Sessions         map[string]*ratchet.SessionStateSnapshot `json:"sessions,omitempty"`
}

// State is the client-side counterpart of a registered identity: its
// static keypair plus every live Double Ratchet session, keyed by the
// peer's static public key the way the invite handshake identifies
// counterparties.
type State struct {
	mu sync.Mutex

	path     string
	file     stateFile
	identity ratchet.KeyPair
	sessions map[string]*ratchet.Session
}
