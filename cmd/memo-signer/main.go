// ABOUTME: Local stand-in for the user's signing agent, for development and E2E testing.
// ABOUTME: Usage: memo-signer [-addr 127.0.0.1:8791] [-keys keys.yaml] [-deny] [-cancel]

package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/nacl/box"
	"gopkg.in/yaml.v3"

	"github.com/faireye-hive/hiveshorts/internal/keychain"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8791", "listen address")
	keysPath := flag.String("keys", "memo-signer-keys.yaml", "keypair file (created on demand)")
	outbox := flag.String("outbox", "", "append broadcast payloads to this JSONL file")
	deny := flag.Bool("deny", false, "reject every request, simulating user denial")
	cancel := flag.Bool("cancel", false, "cancel every request, simulating prompt dismissal")
	flag.Parse()

	if err := run(*addr, *keysPath, *outbox, *deny, *cancel); err != nil {
		log.Fatal(err)
	}
}

func run(addr, keysPath, outbox string, deny, cancel bool) error {
	signer, err := newSigner(keysPath, outbox, deny, cancel)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/encode", signer.handleEncode)
	mux.HandleFunc("POST /v1/decode", signer.handleDecode)
	mux.HandleFunc("POST /v1/broadcast", signer.handleBroadcast)

	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "memo-signer listening on %s (keys: %s)\n", addr, keysPath)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// keypair is one account's Curve25519 keypair, base64 in the key file.
type keypair struct {
	Public  string `yaml:"public"`
	Private string `yaml:"private"`
}

// signer implements the agent HTTP protocol with NaCl box encryption. Real
// agents hold the user's ledger keys and prompt before every operation;
// this one signs nothing for real and exists so the rest of the system can
// be exercised without a ledger account.
type signer struct {
	mu       sync.Mutex
	keysPath string
	keys     map[string]keypair
	outbox   string
	deny     bool
	cancel   bool
}

func newSigner(keysPath, outbox string, deny, cancel bool) (*signer, error) {
	s := &signer{
		keysPath: keysPath,
		keys:     make(map[string]keypair),
		outbox:   outbox,
		deny:     deny,
		cancel:   cancel,
	}

	data, err := os.ReadFile(keysPath)
	if err == nil {
		if err := yaml.Unmarshal(data, &s.keys); err != nil {
			return nil, fmt.Errorf("parsing key file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return s, nil
}

// keyFor returns an account's keypair, generating and saving one on first
// use. Dev convenience: every account named in a request gets keys.
func (s *signer) keyFor(account string) (keypair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kp, ok := s.keys[account]; ok {
		return kp, nil
	}

	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return keypair{}, fmt.Errorf("generating keypair: %w", err)
	}
	kp := keypair{
		Public:  base64.StdEncoding.EncodeToString(pub[:]),
		Private: base64.StdEncoding.EncodeToString(priv[:]),
	}
	s.keys[account] = kp

	data, err := yaml.Marshal(s.keys)
	if err != nil {
		return keypair{}, fmt.Errorf("encoding key file: %w", err)
	}
	if err := os.WriteFile(s.keysPath, data, 0600); err != nil {
		return keypair{}, fmt.Errorf("writing key file: %w", err)
	}
	return kp, nil
}

func (s *signer) refused() (string, bool) {
	if s.cancel {
		return "The user cancelled the request.", true
	}
	if s.deny {
		return "The request was denied by the user.", true
	}
	return "", false
}

func respond(w http.ResponseWriter, resp keychain.Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func decodeRequest(w http.ResponseWriter, r *http.Request) (*keychain.Request, bool) {
	var req keychain.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, keychain.Response{Success: false, Error: "malformed request"})
		return nil, false
	}
	return &req, true
}

// handleEncode encrypts a "#"-prefixed memo from the sender to the
// recipient. Wire format: "#" + base64(senderPub || nonce || sealed).
func (s *signer) handleEncode(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	if msg, refused := s.refused(); refused {
		respond(w, keychain.Response{Success: false, Error: msg})
		return
	}

	senderKP, err := s.keyFor(req.Account)
	if err == nil {
		var recipientKP keypair
		recipientKP, err = s.keyFor(req.Recipient)
		if err == nil {
			var sealed string
			sealed, err = sealMemo(senderKP, recipientKP, strings.TrimPrefix(req.Memo, "#"))
			if err == nil {
				respond(w, keychain.Response{Success: true, Result: sealed})
				return
			}
		}
	}
	respond(w, keychain.Response{Success: false, Error: err.Error()})
}

// handleDecode opens a memo addressed to the account and returns the
// plaintext with the conventional "#" prefix, as the real agent does.
func (s *signer) handleDecode(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	if msg, refused := s.refused(); refused {
		respond(w, keychain.Response{Success: false, Error: msg})
		return
	}

	kp, err := s.keyFor(req.Account)
	if err == nil {
		var plaintext string
		plaintext, err = openMemo(kp, req.Memo)
		if err == nil {
			respond(w, keychain.Response{Success: true, Result: "#" + plaintext})
			return
		}
	}
	respond(w, keychain.Response{Success: false, Error: err.Error()})
}

// handleBroadcast records the operation instead of submitting it: this tool
// has no ledger keys. The optional outbox file makes broadcasts observable.
func (s *signer) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeRequest(w, r)
	if !ok {
		return
	}
	if msg, refused := s.refused(); refused {
		respond(w, keychain.Response{Success: false, Error: msg})
		return
	}

	log.Printf("broadcast [%s] account=%s chat_id=%s payload=%s",
		req.RequestID, req.Account, req.ChatID, req.Payload)

	if s.outbox != "" {
		line, _ := json.Marshal(map[string]string{
			"time":    time.Now().UTC().Format(time.RFC3339),
			"account": req.Account,
			"chat_id": req.ChatID,
			"payload": req.Payload,
		})
		f, err := os.OpenFile(s.outbox, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			respond(w, keychain.Response{Success: false, Error: err.Error()})
			return
		}
		defer f.Close()
		fmt.Fprintf(f, "%s\n", line)
	}

	respond(w, keychain.Response{Success: true})
}

// sealMemo encrypts plaintext from sender to recipient.
func sealMemo(sender, recipient keypair, plaintext string) (string, error) {
	senderPub, senderPriv, err := decodeKeypair(sender)
	if err != nil {
		return "", err
	}
	recipientPub, _, err := decodeKeypair(recipient)
	if err != nil {
		return "", err
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := box.Seal(nil, []byte(plaintext), &nonce, recipientPub, senderPriv)

	// Embed the sender's public key so decode is self-contained.
	blob := make([]byte, 0, 32+24+len(sealed))
	blob = append(blob, senderPub[:]...)
	blob = append(blob, nonce[:]...)
	blob = append(blob, sealed...)
	return "#" + base64.StdEncoding.EncodeToString(blob), nil
}

// openMemo decrypts a memo addressed to the holder of kp.
func openMemo(kp keypair, memo string) (string, error) {
	_, priv, err := decodeKeypair(kp)
	if err != nil {
		return "", err
	}

	blob, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(memo, "#"))
	if err != nil {
		return "", fmt.Errorf("decoding memo: %w", err)
	}
	if len(blob) < 32+24 {
		return "", fmt.Errorf("memo too short")
	}

	var senderPub [32]byte
	copy(senderPub[:], blob[:32])
	var nonce [24]byte
	copy(nonce[:], blob[32:56])

	plaintext, ok := box.Open(nil, blob[56:], &nonce, &senderPub, priv)
	if !ok {
		return "", fmt.Errorf("memo is not addressed to this account")
	}
	return string(plaintext), nil
}

func decodeKeypair(kp keypair) (*[32]byte, *[32]byte, error) {
	pubBytes, err := base64.StdEncoding.DecodeString(kp.Public)
	if err != nil || len(pubBytes) != 32 {
		return nil, nil, fmt.Errorf("invalid public key")
	}
	privBytes, err := base64.StdEncoding.DecodeString(kp.Private)
	if err != nil || len(privBytes) != 32 {
		return nil, nil, fmt.Errorf("invalid private key")
	}

	var pub, priv [32]byte
	copy(pub[:], pubBytes)
	copy(priv[:], privBytes)
	return &pub, &priv, nil
}
