/*
Package contentaddr computes the content address of a message:
SHA-256 over the canonical CBOR encoding of the message, wrapped as a
CIDv1 with the dag-cbor codec, rendered in its base32 multibase string
form. Two processes that encode the same logical message this way
always produce the same MessageCid.

Canonicalization is delegated to fxamacker/cbor/v2's canonical encoding
mode: map keys sorted length-first and then bytewise (the RFC 7049
canonical order, not a plain lexicographic order of the key strings),
deterministic (shortest-form) integer and float encoding, and no
surrogate-pair mangling of UTF-8 strings.
*/
package contentaddr

import (
	"crypto/sha256"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"

	"github.com/dwn-core/dwn/pkg/dwnerr"
)

var canonicalEncMode = func() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	mode, err := opts.EncMode()
	if err != nil {
		panic("contentaddr: invalid canonical cbor options: " + err.Error())
	}
	return mode
}()

// CanonicalBytes renders message as canonical CBOR. Any field whose value
// is Go's untyped nil is dropped before encoding, so two otherwise-equal
// messages that differ only by an explicit-vs-undefined property hash
// identically.
func CanonicalBytes(message map[string]any) ([]byte, error) {
	stripped := stripUndefined(message)
	data, err := canonicalEncMode.Marshal(stripped)
	if err != nil {
		return nil, dwnerr.Wrap("contentaddr.CanonicalBytes", dwnerr.BadIndexValue, err)
	}
	return data, nil
}

// MessageCid computes the content address of message: SHA-256 of its
// canonical CBOR encoding, wrapped as a CIDv1 dag-cbor/sha2-256 CID.
func MessageCid(message map[string]any) (cid.Cid, error) {
	data, err := CanonicalBytes(message)
	if err != nil {
		return cid.Undef, err
	}
	return cidFromBytes(data, cid.DagCBOR)
}

// DataCid computes the content address of an opaque byte blob: SHA-256
// wrapped as a CIDv1 raw/sha2-256 CID.
func DataCid(data []byte) (cid.Cid, error) {
	return cidFromBytes(data, cid.Raw)
}

func cidFromBytes(data []byte, codec uint64) (cid.Cid, error) {
	sum := sha256.Sum256(data)
	mh, err := multihash.Encode(sum[:], multihash.SHA2_256)
	if err != nil {
		return cid.Undef, dwnerr.Wrap("contentaddr.cidFromBytes", dwnerr.IO, err)
	}
	return cid.NewCidV1(codec, mh), nil
}

func stripUndefined(message map[string]any) map[string]any {
	out := make(map[string]any, len(message))
	for k, v := range message {
		if v == nil {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = stripUndefined(nested)
			continue
		}
		out[k] = v
	}
	return out
}
