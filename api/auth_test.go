package api

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ruteri/ledger-factory-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	body := []byte(`{"overrides":{}}`)
	now := time.Unix(1_700_000_000, 0)

	newAuthenticator := func() *Authenticator {
		a := NewAuthenticator(DefaultSignatureWindow)
		a.now = func() time.Time { return now }
		return a
	}
	signedAt := func(at time.Time, nonce string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/ledgers", bytes.NewReader(body))
		require.NoError(t, signRequest(req, body, key, at, nonce))
		return req
	}

	t.Run("recovers the signer", func(t *testing.T) {
		caller, err := newAuthenticator().Authenticate(signedAt(now, "n-1"), body)
		require.NoError(t, err)
		assert.Equal(t, IdentityFromKey(&key.PublicKey), caller)
		assert.False(t, caller.IsAnonymous())
	})

	t.Run("unsigned is anonymous", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
		caller, err := newAuthenticator().Authenticate(req, nil)
		require.NoError(t, err)
		assert.True(t, caller.IsAnonymous())
	})

	t.Run("second submission is rejected", func(t *testing.T) {
		a := newAuthenticator()
		req := signedAt(now, "n-2")

		_, err := a.Authenticate(req, body)
		require.NoError(t, err)

		_, err = a.Authenticate(req.Clone(req.Context()), body)
		assert.ErrorIs(t, err, ErrReplayedRequest)

		// A fresh nonce from the same caller is accepted
		_, err = a.Authenticate(signedAt(now, "n-3"), body)
		assert.NoError(t, err)
	})

	t.Run("timestamps outside the window are rejected", func(t *testing.T) {
		a := newAuthenticator()
		_, err := a.Authenticate(signedAt(now.Add(-DefaultSignatureWindow-time.Second), "old"), body)
		assert.ErrorIs(t, err, ErrStaleRequest)

		_, err = a.Authenticate(signedAt(now.Add(DefaultSignatureWindow+time.Second), "future"), body)
		assert.ErrorIs(t, err, ErrStaleRequest)

		_, err = a.Authenticate(signedAt(now.Add(-DefaultSignatureWindow+time.Second), "recent"), body)
		assert.NoError(t, err)
	})

	t.Run("moving the timestamp changes the signer", func(t *testing.T) {
		req := signedAt(now.Add(-time.Hour), "moved")
		req.Header.Set(CallerTimestampHeader, "1700000000")
		caller, err := newAuthenticator().Authenticate(req, body)
		if err == nil {
			assert.NotEqual(t, IdentityFromKey(&key.PublicKey), caller)
		}
	})

	t.Run("tampered body changes the signer", func(t *testing.T) {
		caller, err := newAuthenticator().Authenticate(signedAt(now, "n-4"), []byte(`{"overrides":{"symbol":"X"}}`))
		if err == nil {
			assert.NotEqual(t, IdentityFromKey(&key.PublicKey), caller)
		}
	})

	t.Run("malformed signature", func(t *testing.T) {
		req := signedAt(now, "n-5")
		req.Header.Set(CallerSignatureHeader, "0x1234")
		_, err := newAuthenticator().Authenticate(req, body)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("missing nonce", func(t *testing.T) {
		req := signedAt(now, "n-6")
		req.Header.Del(CallerNonceHeader)
		_, err := newAuthenticator().Authenticate(req, body)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestSignRequest(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	first := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	second := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	require.NoError(t, SignRequest(first, nil, key))
	require.NoError(t, SignRequest(second, nil, key))

	assert.NotEmpty(t, first.Header.Get(CallerTimestampHeader))
	assert.NotEqual(t, first.Header.Get(CallerNonceHeader), second.Header.Get(CallerNonceHeader))

	a := NewAuthenticator(DefaultSignatureWindow)
	for _, req := range []*http.Request{first, second} {
		caller, err := a.Authenticate(req, nil)
		require.NoError(t, err)
		assert.Equal(t, IdentityFromKey(&key.PublicKey), caller)
	}
}

func TestIdentityFromKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)
	assert.Equal(t, interfaces.Identity(addr), IdentityFromKey(&key.PublicKey))
}
