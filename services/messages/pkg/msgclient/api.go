package msgclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	ratchet "ratchet"
)

// InitOptions configures identity generation and registration.
type InitOptions struct {
	DirectoryBaseURL string
	RelayBaseURL     string
	UserID           string
	AccessToken      string
}

// registerIdentityRequest/Response mirror the directory's
// /directory/identity endpoint: a lightweight registration binding a
// static public key to a user ID.
type registerIdentityRequest struct {
	UserID      string `json:"userId"`
	StaticKey   string `json:"staticKey"`
	DisplayName string `json:"displayName,omitempty"`
}

type registerIdentityResponse struct {
	UserID string `json:"userId"`
}

// RegisterIdentity generates a fresh static identity keypair and registers
// its public half with the directory service, returning a ready-to-save
// State.
func RegisterIdentity(ctx context.Context, opts InitOptions) (*State, error) {
	identity, err := ratchet.GenerateIdentityKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}

	req := registerIdentityRequest{
		UserID:    strings.TrimSpace(opts.UserID),
		StaticKey: ratchet.EncodeKey(identity.Public),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	endpoint := joinURL(normalizeBaseURL(opts.DirectoryBaseURL), "/directory/identity")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(opts.AccessToken); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		if len(data) == 0 {
			data = []byte(resp.Status)
		}
		return nil, fmt.Errorf("register request failed: %s", strings.TrimSpace(string(data)))
	}
	var regResp registerIdentityResponse
	if err := json.NewDecoder(resp.Body).Decode(&regResp); err != nil {
		return nil, err
	}

	state := &State{
		file: stateFile{
			UserID:           regResp.UserID,
			DirectoryBaseURL: normalizeBaseURL(opts.DirectoryBaseURL),
			RelayBaseURL:     normalizeBaseURL(opts.RelayBaseURL),
			Identity:         exportKeyPair(identity),
		},
		identity: identity,
		sessions: make(map[string]*ratchet.Session),
	}
	return state, nil
}

// LoadStateFromJSON reconstructs a State from its serialized JSON form,
// resuming every session it held with no live subscriptions until Listen
// is next called.
func LoadStateFromJSON(data []byte) (*State, error) {
	var file stateFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	identity, err := importKeyPair(file.Identity)
	if err != nil {
		return nil, fmt.Errorf("import identity: %w", err)
	}
	state := &State{file: file, identity: identity, sessions: make(map[string]*ratchet.Session)}
	transport := newRelayTransport(file.RelayBaseURL)
	for peer, snap := range file.Sessions {
		sessionState, err := ratchet.Import(snap)
		if err != nil {
			return nil, fmt.Errorf("import session %s: %w", peer, err)
		}
		state.sessions[peer] = ratchet.NewSession(sessionState, transport)
	}
	return state, nil
}

// Marshal encodes the state into JSON, exporting every held session.
func (s *State) Marshal() ([]byte, error) {
	s.file.Identity = exportKeyPair(s.identity)
	if len(s.sessions) == 0 {
		s.file.Sessions = nil
	} else {
		sessions := make(map[string]*ratchet.SessionStateSnapshot, len(s.sessions))
		for peer, sess := range s.sessions {
			snap, err := ratchet.Export(sess.State())
			if err != nil {
				return nil, fmt.Errorf("export session %s: %w", peer, err)
			}
			sessions[peer] = snap
		}
		s.file.Sessions = sessions
	}
	return json.MarshalIndent(s.file, "", "  ")
}

// Clone returns a deep copy of the state, preserving the configured path.
func (s *State) Clone() (*State, error) {
	data, err := s.Marshal()
	if err != nil {
		return nil, err
	}
	clone, err := LoadStateFromJSON(data)
	if err != nil {
		return nil, err
	}
	clone.path = s.path
	return clone, nil
}

// CreateInvite mints a fresh invite addressed to this identity and returns
// the shareable URL.
func (s *State) CreateInvite(maxUses int) (*ratchet.Invite, string, error) {
	invite, err := ratchet.CreateInvite(s.identity.Public, maxUses)
	if err != nil {
		return nil, "", err
	}
	return invite, encodeInviteURL(invite.Link), nil
}

// ListenInvite subscribes for acceptances of a previously created invite,
// storing every accepted session under the invitee's static key.
func (s *State) ListenInvite(ctx context.Context, invite *ratchet.Invite, onAccept func(peer string, err error)) (ratchet.Unsubscribe, error) {
	transport := newRelayTransport(s.file.RelayBaseURL)
	return ratchet.ListenInvite(ctx, transport, invite, s.identity.Private, func(sess *ratchet.Session, inviteeStaticPub [32]byte, err error) {
		if err != nil {
			onAccept("", err)
			return
		}
		peer := ratchet.EncodeKey(inviteeStaticPub)
		s.mu.Lock()
		s.sessions[peer] = sess
		s.mu.Unlock()
		onAccept(peer, nil)
	})
}

// AcceptInvite redeems an invite URL produced by CreateInvite, publishing
// the acceptance envelope and storing the resulting session under the
// inviter's static key.
func (s *State) AcceptInvite(ctx context.Context, inviteURL string) (string, error) {
	link, err := decodeInviteURL(inviteURL)
	if err != nil {
		return "", err
	}
	transport := newRelayTransport(s.file.RelayBaseURL)
	sess, err := ratchet.AcceptInvite(ctx, transport, link, s.identity.Private)
	if err != nil {
		return "", err
	}
	peer := ratchet.EncodeKey(link.InviterStaticPub)
	s.mu.Lock()
	s.sessions[peer] = sess
	s.mu.Unlock()
	return peer, nil
}

// Send encrypts plaintext for the named peer (a hex static key) and
// publishes it through that peer's session.
func (s *State) Send(ctx context.Context, peer string, plaintext string) error {
	s.mu.Lock()
	sess, ok := s.sessions[peer]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no session with peer %s", peer)
	}
	_, err := sess.Send(ctx, []byte(plaintext))
	return err
}

// Listen registers delivery callbacks on every held session so inbound
// messages from any peer surface through onMessage.
func (s *State) Listen(ctx context.Context, onMessage func(peer, plaintext string), onError func(peer string, err error)) error {
	s.mu.Lock()
	peers := make([]string, 0, len(s.sessions))
	for peer := range s.sessions {
		peers = append(peers, peer)
	}
	s.mu.Unlock()
	for _, peer := range peers {
		peer := peer
		s.mu.Lock()
		sess := s.sessions[peer]
		s.mu.Unlock()
		err := sess.OnMessage(ctx, func(plaintext []byte, _ *ratchet.Envelope) {
			onMessage(peer, string(plaintext))
		}, func(err error) {
			if onError != nil {
				onError(peer, err)
			}
		})
		if err != nil {
			return fmt.Errorf("listen on %s: %w", peer, err)
		}
	}
	return nil
}

// UserID exposes the registered user identifier.
func (s *State) UserID() string { return s.file.UserID }

// IdentityPublic exposes this identity's static public key as hex.
func (s *State) IdentityPublic() string { return ratchet.EncodeKey(s.identity.Public) }

// DirectoryBaseURL returns the configured directory service base URL.
func (s *State) DirectoryBaseURL() string { return s.file.DirectoryBaseURL }

// RelayBaseURL returns the configured relay service base URL.
func (s *State) RelayBaseURL() string { return s.file.RelayBaseURL }

// SetPath assigns the persistence path that Path reports.
func (s *State) SetPath(path string) { s.path = path }

// Path returns the persistence path last assigned via SetPath, or "" if
// none was ever set.
func (s *State) Path() string { return s.path }

// encodeInviteURL and decodeInviteURL carry the invite as urlencoded JSON
// in a URL fragment, since the fragment is never sent to any server.
type inviteURLPayload struct {
	Inviter    string `json:"inviter"`
	SessionKey string `json:"sessionKey"`
	LinkSecret string `json:"linkSecret"`
}

func encodeInviteURL(link ratchet.InviteLink) string {
	payload := inviteURLPayload{
		Inviter:    ratchet.EncodeKey(link.InviterStaticPub),
		SessionKey: ratchet.EncodeKey(link.RendezvousPub),
		LinkSecret: ratchet.EncodeKey(link.LinkSecret),
	}
	data, _ := json.Marshal(payload)
	return "https://invite.local/#" + url.QueryEscape(string(data))
}

func decodeInviteURL(raw string) (ratchet.InviteLink, error) {
	idx := strings.IndexByte(raw, '#')
	if idx < 0 || idx == len(raw)-1 {
		return ratchet.InviteLink{}, errors.New("invite url missing fragment")
	}
	decoded, err := url.QueryUnescape(raw[idx+1:])
	if err != nil {
		return ratchet.InviteLink{}, fmt.Errorf("decode fragment: %w", err)
	}
	var payload inviteURLPayload
	if err := json.Unmarshal([]byte(decoded), &payload); err != nil {
		return ratchet.InviteLink{}, fmt.Errorf("decode invite payload: %w", err)
	}
	inviter, err := ratchet.DecodeKey(payload.Inviter)
	if err != nil {
		return ratchet.InviteLink{}, fmt.Errorf("decode inviter key: %w", err)
	}
	sessionKey, err := ratchet.DecodeKey(payload.SessionKey)
	if err != nil {
		return ratchet.InviteLink{}, fmt.Errorf("decode session key: %w", err)
	}
	linkSecret, err := ratchet.DecodeKey(payload.LinkSecret)
	if err != nil {
		return ratchet.InviteLink{}, fmt.Errorf("decode link secret: %w", err)
	}
	return ratchet.InviteLink{
		InviterStaticPub: inviter,
		RendezvousPub:    sessionKey,
		LinkSecret:       linkSecret,
	}, nil
}

func exportKeyPair(kp ratchet.KeyPair) keyPairFile {
	return keyPairFile{
		Private: ratchet.EncodeKey(kp.Private),
		Public:  ratchet.EncodeKey(kp.Public),
	}
}

func importKeyPair(f keyPairFile) (ratchet.KeyPair, error) {
	var kp ratchet.KeyPair
	priv, err := ratchet.DecodeKey(f.Private)
	if err != nil {
		return kp, fmt.Errorf("invalid private key: %w", err)
	}
	pub, err := ratchet.DecodeKey(f.Public)
	if err != nil {
		return kp, fmt.Errorf("invalid public key: %w", err)
	}
	kp.Private, kp.Public = priv, pub
	return kp, nil
}
