package frametest

import (
	"crypto/ed25519"
	"sync"

	"github.com/blockberries/frame/types"
)

// Keyring derives deterministic ed25519 keys from names, so tests on
// different runtimes sign with the same accounts.
type Keyring struct {
	mu   sync.Mutex
	keys map[string]ed25519.PrivateKey
}

// NewKeyring returns an empty keyring.
func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]ed25519.PrivateKey)}
}

// Key returns the private key for name, deriving it on first use.
func (k *Keyring) Key(name string) ed25519.PrivateKey {
	k.mu.Lock()
	defer k.mu.Unlock()
	if key, ok := k.keys[name]; ok {
		return key
	}
	seed := types.Blake2_256([]byte("frametest/"), []byte(name))
	key := ed25519.NewKeyFromSeed(seed[:])
	k.keys[name] = key
	return key
}

// Account returns the account for name.
func (k *Keyring) Account(name string) types.AccountID {
	var a types.AccountID
	copy(a[:], k.Key(name).Public().(ed25519.PublicKey))
	return a
}

// Sign builds and encodes a signed extrinsic from name.
func (k *Keyring) Sign(name string, call types.Call, nonce, fee uint64, sctx types.SigningContext) ([]byte, error) {
	xt, err := types.Sign(k.Key(name), call, nonce, fee, sctx)
	if err != nil {
		return nil, err
	}
	return types.EncodeExtrinsic(xt)
}
