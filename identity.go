package main

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
)

const (
	// identityKeyLength is the size of a serialized private identity:
	// a 32-byte X25519 scalar followed by a 32-byte Ed25519 seed.
	identityKeyLength = 64

	// nameHashLength is the truncated digest length used when folding a
	// destination name into an address.
	nameHashLength = 10
)

// Identity is the local node's keypair set. The X25519 half encrypts, the
// Ed25519 half signs, and the truncated hash over both public keys is the
// node's address material.
type Identity struct {
	encPriv *ecdh.PrivateKey
	sigPriv ed25519.PrivateKey
}

// NewIdentity generates a fresh random identity.
func NewIdentity() (*Identity, error) {
	encPriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate encryption key: %w", err)
	}
	_, sigPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}
	return &Identity{encPriv: encPriv, sigPriv: sigPriv}, nil
}

// IdentityFromPrivateKey reconstructs an identity from its 64-byte private
// blob.
func IdentityFromPrivateKey(priv []byte) (*Identity, error) {
	if len(priv) != identityKeyLength {
		return nil, fmt.Errorf("invalid identity key: want %d bytes, got %d", identityKeyLength, len(priv))
	}
	encPriv, err := ecdh.X25519().NewPrivateKey(priv[:32])
	if err != nil {
		return nil, fmt.Errorf("load encryption key: %w", err)
	}
	return &Identity{
		encPriv: encPriv,
		sigPriv: ed25519.NewKeyFromSeed(priv[32:]),
	}, nil
}

// LoadIdentityFile reads a private identity blob from disk.
func LoadIdentityFile(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read identity file %s: %w", path, err)
	}
	identity, err := IdentityFromPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse identity file %s: %w", path, err)
	}
	return identity, nil
}

// SaveIdentityFile writes the private identity blob to disk, refusing to
// clobber an existing file.
func (id *Identity) SaveIdentityFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("identity file %s already exists", path)
	}
	if err := os.WriteFile(path, id.PrivateKey(), 0600); err != nil {
		return fmt.Errorf("write identity file %s: %w", path, err)
	}
	return nil
}

// PrivateKey returns the serialized private material.
func (id *Identity) PrivateKey() []byte {
	out := make([]byte, 0, identityKeyLength)
	out = append(out, id.encPriv.Bytes()...)
	out = append(out, id.sigPriv.Seed()...)
	return out
}

// PublicKey returns the serialized public material, X25519 then Ed25519.
func (id *Identity) PublicKey() []byte {
	out := make([]byte, 0, identityKeyLength)
	out = append(out, id.encPriv.PublicKey().Bytes()...)
	out = append(out, id.sigPriv.Public().(ed25519.PublicKey)...)
	return out
}

// Hash is the truncated SHA-256 of the public key material. It identifies
// the node independently of any destination aspect.
func (id *Identity) Hash() []byte {
	sum := sha256.Sum256(id.PublicKey())
	return sum[:destinationHashLength]
}

// HexHash is Hash as lowercase hex, used for storage paths and the wire.
func (id *Identity) HexHash() string {
	return hex.EncodeToString(id.Hash())
}

// DeliveryAddress is the destination hash other peers send LXMF messages
// to.
func (id *Identity) DeliveryAddress() []byte {
	return destinationHashFor(id.Hash(), deliveryAspect)
}

// destinationHashFor folds a destination name and an identity hash into an
// address: a truncated digest of the name is hashed together with the
// identity hash and truncated again.
func destinationHashFor(identityHash []byte, fullName string) []byte {
	nameSum := sha256.Sum256([]byte(fullName))
	material := make([]byte, 0, nameHashLength+len(identityHash))
	material = append(material, nameSum[:nameHashLength]...)
	material = append(material, identityHash...)
	sum := sha256.Sum256(material)
	return sum[:destinationHashLength]
}
