package api

import (
	"bytes"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/ruteri/ledger-factory-backend/interfaces"
)

const (
	// CallerSignatureHeader carries the hex-encoded 65-byte signature of the request.
	CallerSignatureHeader = "X-Caller-Signature"

	// CallerTimestampHeader carries the signing time in unix seconds.
	CallerTimestampHeader = "X-Caller-Timestamp"

	// CallerNonceHeader carries a value unique to the signed request.
	CallerNonceHeader = "X-Caller-Nonce"

	// DefaultSignatureWindow is how far a signing time may be from the server's clock.
	DefaultSignatureWindow = 5 * time.Minute

	maxNonceLength   = 64
	maxTrackedNonces = 1 << 20
)

var (
	ErrInvalidSignature = errors.New("invalid caller signature")
	ErrStaleRequest     = errors.New("request timestamp outside the accepted window")
	ErrReplayedRequest  = errors.New("request nonce already used")
)

// SigningHash returns the hash a caller signs for a request.
func SigningHash(method, path, timestamp, nonce string, body []byte) []byte {
	var msg bytes.Buffer
	msg.WriteString(method)
	msg.WriteByte('\n')
	msg.WriteString(path)
	msg.WriteByte('\n')
	msg.WriteString(timestamp)
	msg.WriteByte('\n')
	msg.WriteString(nonce)
	msg.WriteByte('\n')
	msg.Write(body)
	return accounts.TextHash(msg.Bytes())
}

// SignRequest stamps req with the current time and a fresh nonce and signs it.
// body must be the request body.
func SignRequest(req *http.Request, body []byte, key *ecdsa.PrivateKey) error {
	return signRequest(req, body, key, time.Now(), uuid.NewString())
}

func signRequest(req *http.Request, body []byte, key *ecdsa.PrivateKey, at time.Time, nonce string) error {
	timestamp := strconv.FormatInt(at.Unix(), 10)
	hash := SigningHash(req.Method, req.URL.Path, timestamp, nonce, body)
	sig, err := crypto.Sign(hash, key)
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}
	req.Header.Set(CallerTimestampHeader, timestamp)
	req.Header.Set(CallerNonceHeader, nonce)
	req.Header.Set(CallerSignatureHeader, hexutil.Encode(sig))
	return nil
}

// IdentityFromKey returns the identity of a public key.
func IdentityFromKey(pubkey *ecdsa.PublicKey) interfaces.Identity {
	return interfaces.Identity(crypto.PubkeyToAddress(*pubkey))
}

// Authenticator recovers caller identities from signed requests and rejects
// signatures that are stale or were already used.
type Authenticator struct {
	window time.Duration
	now    func() time.Time

	mu     sync.Mutex
	nonces *expirable.LRU[string, struct{}]
}

// NewAuthenticator accepts signing times within window of the server clock.
func NewAuthenticator(window time.Duration) *Authenticator {
	return &Authenticator{
		window: window,
		now:    time.Now,
		// A nonce can be replayed until its timestamp leaves the window, which is at
		// most two windows after it was first seen.
		nonces: expirable.NewLRU[string, struct{}](maxTrackedNonces, nil, 2*window),
	}
}

// Authenticate returns the caller of r with the given body. Unsigned requests are
// anonymous. A signed request is accepted once.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) (interfaces.Identity, error) {
	sigHex := r.Header.Get(CallerSignatureHeader)
	if sigHex == "" {
		return interfaces.AnonymousIdentity, nil
	}

	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return interfaces.Identity{}, ErrInvalidSignature
	}

	timestamp := r.Header.Get(CallerTimestampHeader)
	nonce := r.Header.Get(CallerNonceHeader)
	if nonce == "" || len(nonce) > maxNonceLength {
		return interfaces.Identity{}, fmt.Errorf("%w: missing or oversized nonce", ErrInvalidSignature)
	}

	hash := SigningHash(r.Method, r.URL.Path, timestamp, nonce, body)
	pubkey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return interfaces.Identity{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	caller := IdentityFromKey(pubkey)

	signedAt, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return interfaces.Identity{}, fmt.Errorf("%w: invalid timestamp %q", ErrStaleRequest, timestamp)
	}
	if skew := a.now().Sub(time.Unix(signedAt, 0)); skew > a.window || skew < -a.window {
		return interfaces.Identity{}, fmt.Errorf("%w: signed %s away from server time", ErrStaleRequest, skew.Truncate(time.Second))
	}

	key := caller.String() + "/" + nonce
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.nonces.Contains(key) {
		return interfaces.Identity{}, ErrReplayedRequest
	}
	a.nonces.Add(key, struct{}{})

	return caller, nil
}
