package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part used when rendering account
// identities.
type AddressPrefix string

const (
	// AccountPrefix is used for every escrow, depositor and factory account.
	AccountPrefix AddressPrefix = "pool"
)

// AddressLength is the size in bytes of an account identity.
const AddressLength = 20

// Address represents a 20-byte account identity with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  [AddressLength]byte
}

// NewAddress validates the length of b and wraps it with the prefix.
func NewAddress(prefix AddressPrefix, b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes long, got %d", AddressLength, len(b))
	}
	addr := Address{prefix: prefix}
	copy(addr.bytes[:], b)
	return addr, nil
}

// AccountAddress wraps a raw identity using the account prefix.
func AccountAddress(raw [AddressLength]byte) Address {
	return Address{prefix: AccountPrefix, bytes: raw}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy of the raw identity.
func (a Address) Bytes() []byte {
	out := make([]byte, AddressLength)
	copy(out, a.bytes[:])
	return out
}

// Raw returns the identity as a fixed-size array.
func (a Address) Raw() [AddressLength]byte { return a.bytes }

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(AddressPrefix(prefix), conv)
}

// ParseAccount decodes a bech32 identity and enforces the account prefix.
func ParseAccount(addrStr string) ([AddressLength]byte, error) {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		return [AddressLength]byte{}, err
	}
	if addr.Prefix() != AccountPrefix {
		return [AddressLength]byte{}, fmt.Errorf("unexpected address prefix %q", addr.Prefix())
	}
	return addr.Raw(), nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

func (k *PublicKey) Address() Address {
	var raw [AddressLength]byte
	copy(raw[:], crypto.PubkeyToAddress(*k.PublicKey).Bytes())
	return AccountAddress(raw)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// DeriveAccount returns a deterministic identity for a human-readable label.
// It is used for well-known accounts such as factories in local deployments.
func DeriveAccount(label string) [AddressLength]byte {
	var raw [AddressLength]byte
	hash := crypto.Keccak256([]byte(label))
	copy(raw[:], hash[len(hash)-AddressLength:])
	return raw
}
