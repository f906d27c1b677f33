package token

import (
	"crypto/ed25519"
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Keyring provides signing and verification key material. Verification is
// kid-based so keys rotate without invalidating already-issued unexpired
// tokens: keep the old public key in the ring until the last token signed
// with it expires.
type Keyring interface {
	// Signer returns the kid and key material used for new signatures.
	Signer() (kid string, key []byte)
	// Verifier returns the key material for kid, if known.
	Verifier(kid string) (key []byte, ok bool)
}

// StaticKeyring is a fixed in-memory Keyring. For hs256 the shared secret
// appears as both PrivateKey and the VerifyKeys entry for KeyID; for ed25519
// PrivateKey is the seed or PEM private key and VerifyKeys hold public keys.
type StaticKeyring struct {
	KeyID      string
	PrivateKey []byte
	VerifyKeys map[string][]byte
}

var _ Keyring = (*StaticKeyring)(nil)

func (k *StaticKeyring) Signer() (string, []byte) { return k.KeyID, k.PrivateKey }

func (k *StaticKeyring) Verifier(kid string) ([]byte, bool) {
	key, ok := k.VerifyKeys[kid]
	return key, ok
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("token: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("token: invalid ed25519 public key type")
	}
	return edKey, nil
}
