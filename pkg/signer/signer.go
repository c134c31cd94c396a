/*
Package signer supplies concrete (but swappable) collaborator types
that stay opaque to the storage core: a Signer, a Verify function, and
named SchemaValidator/Authorizer contracts. None of pkg/messagestore,
pkg/blobstore, pkg/indexlevel, or pkg/query ever call into this package
directly — handlers built on top of the core call
Signer/SchemaValidator/Authorizer before a Put, never the store itself.

Ed25519Signer exists only so the contract has one concrete, testable
implementation; the signature algorithm itself is deliberately not the
core's concern.
*/
package signer

import (
	"crypto/ed25519"
	"crypto/rand"

	"github.com/dwn-core/dwn/pkg/dwnerr"
	"github.com/dwn-core/dwn/pkg/message"
)

// Signer produces a signature over an arbitrary payload.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// Ed25519Signer is the one concrete Signer implementation this repo
// ships, backed by stdlib crypto/ed25519.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer() (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, dwnerr.Wrap("signer.NewEd25519Signer", dwnerr.IO, err)
	}
	return &Ed25519Signer{priv: priv, pub: pub}, nil
}

// NewEd25519SignerFromSeed builds a signer from a 32-byte seed,
// letting callers such as tests construct a deterministic keypair.
func NewEd25519SignerFromSeed(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, dwnerr.New("signer.NewEd25519SignerFromSeed", dwnerr.BadIndexValue)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// Sign signs payload with the private key.
func (s *Ed25519Signer) Sign(payload []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, payload), nil
}

// PublicKey returns the signer's public key.
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey {
	return s.pub
}

// Verify reports whether signature is a valid Ed25519 signature over
// payload under pub. The core never calls this; it exists for
// handlers built on top of the core.
func Verify(payload, signature []byte, pub ed25519.PublicKey) bool {
	return ed25519.Verify(pub, payload, signature)
}

// SchemaValidator validates a message's shape before it reaches Put.
// The core never calls a SchemaValidator; a handler does, before Put.
type SchemaValidator interface {
	Validate(msg message.Message) error
}

// SchemaValidatorFunc adapts a plain function to a SchemaValidator.
type SchemaValidatorFunc func(msg message.Message) error

// Validate calls f.
func (f SchemaValidatorFunc) Validate(msg message.Message) error { return f(msg) }

// Authorizer decides whether a request to act on a record is
// permitted. The core never calls an Authorizer; a handler does,
// before Put/Get/Query/Delete.
type Authorizer interface {
	Authorize(tenant string, msg message.Message) error
}

// AuthorizerFunc adapts a plain function to an Authorizer.
type AuthorizerFunc func(tenant string, msg message.Message) error

// Authorize calls f.
func (f AuthorizerFunc) Authorize(tenant string, msg message.Message) error { return f(tenant, msg) }
