package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"messages/pkg/msgclient"
)

const (
	defaultStatePath       = "msgctl-state.json"
	defaultDirectoryURL    = "http://localhost:8082"
	defaultRelayURL        = "http://localhost:8084"
	defaultInviteMaxUses   = 1
	defaultListenIdleRetry = 3 * time.Second
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd := os.Args[1]
	args := os.Args[2:]
	var err error
	switch cmd {
	case "init":
		err = runInit(args)
	case "invite":
		err = runInvite(args)
	case "accept":
		err = runAccept(args)
	case "send":
		err = runSend(args)
	case "listen":
		err = runListen(args)
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s <command> [options]\n", os.Args[0])
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  init      Generate an identity and register it with the directory service")
	fmt.Fprintln(os.Stderr, "  invite    Create an invite link and wait for it to be accepted")
	fmt.Fprintln(os.Stderr, "  accept    Redeem an invite link received out of band")
	fmt.Fprintln(os.Stderr, "  send      Encrypt and publish a message to a peer")
	fmt.Fprintln(os.Stderr, "  listen    Subscribe to every held session and print inbound messages")
	os.Exit(2)
}

func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	statePath := fs.String("state", getenv("MSGCTL_STATE_PATH", defaultStatePath), "state file path")
	directoryURL := fs.String("directory-url", getenv("MSGCTL_DIRECTORY_URL", defaultDirectoryURL), "directory service base URL")
	relayURL := fs.String("relay-url", getenv("MSGCTL_RELAY_URL", defaultRelayURL), "relay service base URL")
	userID := fs.String("user", "", "user id to register under")
	token := fs.String("token", os.Getenv("MSGCTL_ACCESS_TOKEN"), "access token for the directory service")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*statePath); err == nil {
		return fmt.Errorf("state file already exists at %s", *statePath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if strings.TrimSpace(*userID) == "" {
		return fmt.Errorf("-user is required")
	}

	state, err := msgclient.RegisterIdentity(context.Background(), msgclient.InitOptions{
		DirectoryBaseURL: *directoryURL,
		RelayBaseURL:     *relayURL,
		UserID:           *userID,
		AccessToken:      *token,
	})
	if err != nil {
		return fmt.Errorf("register identity: %w", err)
	}
	state.SetPath(*statePath)
	if err := saveState(state); err != nil {
		return err
	}
	fmt.Printf("identity registered: user=%s static_key=%s\n", state.UserID(), state.IdentityPublic())
	return nil
}

func runInvite(args []string) error {
	fs := flag.NewFlagSet("invite", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	statePath := fs.String("state", getenv("MSGCTL_STATE_PATH", defaultStatePath), "state file path")
	maxUses := fs.Int("max-uses", defaultInviteMaxUses, "maximum number of times the invite can be redeemed")
	wait := fs.Bool("wait", true, "block until the invite is accepted")
	if err := fs.Parse(args); err != nil {
		return err
	}
	state, err := loadState(*statePath)
	if err != nil {
		return err
	}
	invite, link, err := state.CreateInvite(*maxUses)
	if err != nil {
		return fmt.Errorf("create invite: %w", err)
	}
	fmt.Println(link)
	if !*wait {
		return nil
	}
	ctx, cancel := signalContext()
	defer cancel()
	accepted := make(chan string, 1)
	failed := make(chan error, 1)
	unsub, err := state.ListenInvite(ctx, invite, func(peer string, err error) {
		if err != nil {
			failed <- err
			return
		}
		accepted <- peer
	})
	if err != nil {
		return fmt.Errorf("listen for invite acceptance: %w", err)
	}
	defer unsub()
	select {
	case peer := <-accepted:
		if err := saveState(state); err != nil {
			return err
		}
		fmt.Printf("invite accepted by %s\n", peer)
		return nil
	case err := <-failed:
		return fmt.Errorf("invite acceptance failed: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runAccept(args []string) error {
	fs := flag.NewFlagSet("accept", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	statePath := fs.String("state", getenv("MSGCTL_STATE_PATH", defaultStatePath), "state file path")
	inviteURL := fs.String("invite", "", "invite URL received out of band")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*inviteURL) == "" {
		return fmt.Errorf("-invite is required")
	}
	state, err := loadState(*statePath)
	if err != nil {
		return err
	}
	peer, err := state.AcceptInvite(context.Background(), *inviteURL)
	if err != nil {
		return fmt.Errorf("accept invite: %w", err)
	}
	if err := saveState(state); err != nil {
		return err
	}
	fmt.Printf("session established with %s\n", peer)
	return nil
}

func runSend(args []string) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	statePath := fs.String("state", getenv("MSGCTL_STATE_PATH", defaultStatePath), "state file path")
	peer := fs.String("peer", "", "peer static key (hex)")
	message := fs.String("message", "", "message plaintext (if empty, read stdin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*peer) == "" {
		return fmt.Errorf("-peer is required")
	}
	plaintext := *message
	if plaintext == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return err
		}
		plaintext = string(data)
	}
	if plaintext == "" {
		return fmt.Errorf("message must not be empty")
	}
	state, err := loadState(*statePath)
	if err != nil {
		return err
	}
	if err := state.Send(context.Background(), strings.TrimSpace(*peer), plaintext); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := saveState(state); err != nil {
		return err
	}
	fmt.Println("message published")
	return nil
}

func runListen(args []string) error {
	fs := flag.NewFlagSet("listen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	statePath := fs.String("state", getenv("MSGCTL_STATE_PATH", defaultStatePath), "state file path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	state, err := loadState(*statePath)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()
	err = state.Listen(ctx, func(peer, plaintext string) {
		fmt.Printf("[%s] %s: %s\n", time.Now().UTC().Format(time.RFC3339), peer, plaintext)
		if err := saveState(state); err != nil {
			fmt.Fprintf(os.Stderr, "save state: %v\n", err)
		}
	}, func(peer string, err error) {
		fmt.Fprintf(os.Stderr, "session %s error: %v\n", peer, err)
	})
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	<-ctx.Done()
	return nil
}

func loadState(path string) (*msgclient.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	state, err := msgclient.LoadStateFromJSON(data)
	if err != nil {
		return nil, err
	}
	state.SetPath(path)
	return state, nil
}

func saveState(state *msgclient.State) error {
	data, err := state.Marshal()
	if err != nil {
		return err
	}
	path := statePathOf(state)
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// statePathOf recovers the path SetPath assigned, since State itself keeps
// it unexported to avoid leaking persistence concerns into the library API.
func statePathOf(state *msgclient.State) string {
	if p := state.Path(); p != "" {
		return p
	}
	return defaultStatePath
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
