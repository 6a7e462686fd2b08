package chain

import (
	"errors"
	"fmt"
	"os"
	"strings"

	solana "github.com/gagliardetto/solana-go"
	"github.com/joho/godotenv"
)

// Keyring holds the signing identities the console can act as: the
// deployer at index 0 plus the non-primary actors addressed as U1..Un.
type Keyring struct {
	keys []solana.PrivateKey
}

// LoadKeyringFromEnv reads DEXEXTRA_DEPLOYER_KEY and the comma-separated
// DEXEXTRA_USER_KEYS (base58) after a best-effort .env load.
func LoadKeyringFromEnv() (*Keyring, error) {
	_ = godotenv.Load() // best-effort
	deployer := os.Getenv("DEXEXTRA_DEPLOYER_KEY")
	if deployer == "" {
		return nil, errors.New("DEXEXTRA_DEPLOYER_KEY not set")
	}
	key, err := solana.PrivateKeyFromBase58(deployer)
	if err != nil {
		return nil, fmt.Errorf("deployer key: %w", err)
	}
	keys := []solana.PrivateKey{key}
	for i, b58 := range strings.Split(os.Getenv("DEXEXTRA_USER_KEYS"), ",") {
		b58 = strings.TrimSpace(b58)
		if b58 == "" {
			continue
		}
		userKey, err := solana.PrivateKeyFromBase58(b58)
		if err != nil {
			return nil, fmt.Errorf("user key %d: %w", i+1, err)
		}
		keys = append(keys, userKey)
	}
	return &Keyring{keys: keys}, nil
}

// NewEphemeralKeyring generates a deployer plus n user keypairs, useful
// against local devnets where the gateway credits fresh accounts.
func NewEphemeralKeyring(n int) (*Keyring, error) {
	if n < 0 {
		n = 0
	}
	keys := make([]solana.PrivateKey, 0, n+1)
	for i := 0; i <= n; i++ {
		key, err := solana.NewRandomPrivateKey()
		if err != nil {
			return nil, fmt.Errorf("generate key %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return &Keyring{keys: keys}, nil
}

// Len returns the number of identities, deployer included.
func (k *Keyring) Len() int { return len(k.keys) }

// Address returns the base58 address for actor index i (0 = deployer).
func (k *Keyring) Address(i int) (string, error) {
	if i < 0 || i >= len(k.keys) {
		return "", fmt.Errorf("actor index %d out of range (have %d)", i, len(k.keys))
	}
	return k.keys[i].PublicKey().String(), nil
}

// Key returns the private key for actor index i for request signing.
func (k *Keyring) Key(i int) (solana.PrivateKey, error) {
	if i < 0 || i >= len(k.keys) {
		return nil, fmt.Errorf("actor index %d out of range (have %d)", i, len(k.keys))
	}
	return k.keys[i], nil
}
