package main

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"keys/internal/dto"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "register":
		err = runRegister(args)
	case "invite-publish":
		err = runInvitePublish(args)
	case "invite-fetch":
		err = runInviteFetch(args)
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
	fmt.Fprintln(os.Stderr, "  register         Register a static identity with the directory")
	fmt.Fprintln(os.Stderr, "  invite-publish   Publish an invite discovery record")
	fmt.Fprintln(os.Stderr, "  invite-fetch     Fetch an invite discovery record")
	os.Exit(2)
}

type registerOpts struct {
	baseURL     string
	userID      string
	staticKey   string
	displayName string
}

func runRegister(args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var o registerOpts
	fs.StringVar(&o.baseURL, "base-url", getenv("KEYCTL_BASE_URL", "http://localhost:8082"), "directory service base URL")
	fs.StringVar(&o.userID, "user", "", "user UUID (optional; generated if empty)")
	fs.StringVar(&o.staticKey, "static-key", "", "static public key, hex (generated if empty)")
	fs.StringVar(&o.displayName, "name", "", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}

	staticKey := strings.TrimSpace(o.staticKey)
	if staticKey == "" {
		var err error
		staticKey, err = randomHexKey(32)
		if err != nil {
			return err
		}
	}

	payload := dto.RegisterIdentityRequest{
		UserID:      strings.TrimSpace(o.userID),
		StaticKey:   staticKey,
		DisplayName: strings.TrimSpace(o.displayName),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(o.baseURL, "/") + "/directory/identity"
	resp, err := postJSON(endpoint, body)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close response body: %v\n", cerr)
		}
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("register request failed: %s", strings.TrimSpace(readBody(resp)))
	}

	var registerResp dto.RegisterIdentityResponse
	if err := json.NewDecoder(resp.Body).Decode(&registerResp); err != nil {
		return err
	}

	out := struct {
		Request  dto.RegisterIdentityRequest  `json:"request"`
		Response dto.RegisterIdentityResponse `json:"response"`
	}{payload, registerResp}
	return printJSON(out)
}

func runInvitePublish(args []string) error {
	fs := flag.NewFlagSet("invite-publish", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	baseURL := fs.String("base-url", getenv("KEYCTL_BASE_URL", "http://localhost:8082"), "directory service base URL")
	inviterKey := fs.String("inviter", "", "inviter static key, hex")
	dTag := fs.String("d", "default", "invite d-tag")
	rendezvousKey := fs.String("rendezvous", "", "rendezvous public key, hex")
	linkSecret := fs.String("link-secret", "", "link secret, hex")
	maxUses := fs.Int("max-uses", 0, "maximum redemptions (0 = unlimited)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*inviterKey) == "" || strings.TrimSpace(*rendezvousKey) == "" || strings.TrimSpace(*linkSecret) == "" {
		return fmt.Errorf("inviter, rendezvous and link-secret are required")
	}

	payload := dto.PublishInviteDiscoveryRequest{
		InviterKey:    *inviterKey,
		DTag:          *dTag,
		RendezvousKey: *rendezvousKey,
		LinkSecret:    *linkSecret,
		MaxUses:       *maxUses,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := strings.TrimRight(*baseURL, "/") + "/directory/invite"
	resp, err := postJSON(endpoint, body)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close response body: %v\n", cerr)
		}
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("invite publish failed: %s", strings.TrimSpace(readBody(resp)))
	}

	var published dto.InviteDiscoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&published); err != nil {
		return err
	}
	return printJSON(published)
}

func runInviteFetch(args []string) error {
	fs := flag.NewFlagSet("invite-fetch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	baseURL := fs.String("base-url", getenv("KEYCTL_BASE_URL", "http://localhost:8082"), "directory service base URL")
	inviterKey := fs.String("inviter", "", "inviter static key, hex")
	dTag := fs.String("d", "default", "invite d-tag")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*inviterKey) == "" {
		return fmt.Errorf("inviter is required")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	url := fmt.Sprintf("%s/directory/invite?inviter=%s&d=%s", strings.TrimRight(*baseURL, "/"), *inviterKey, *dTag)
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close response body: %v\n", cerr)
		}
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("invite fetch failed: %s", strings.TrimSpace(readBody(resp)))
	}

	var found dto.InviteDiscoveryResponse
	if err := json.NewDecoder(resp.Body).Decode(&found); err != nil {
		return err
	}
	return printJSON(found)
}

func postJSON(url string, body []byte) (*http.Response, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return client.Do(req)
}

func readBody(resp *http.Response) string {
	data, _ := io.ReadAll(resp.Body)
	if len(data) == 0 {
		return resp.Status
	}
	return string(data)
}

func randomHexKey(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
