// Package hash implements the core's single cryptographic primitive: a
// fixed-output, domain-separated hash with an incremental builder.
package hash

import (
	"encoding/binary"
	stdhash "hash"

	"golang.org/x/crypto/blake2b"
)

// Size is the length in bytes of a Hash value.
const Size = 32

// Hash is an opaque 32-byte digest. The zero value is reserved and must
// never be returned by a hashing operation as if it were a real digest.
type Hash [Size]byte

// Zero is the reserved zero value.
var Zero Hash

// IsZero reports whether h is the reserved zero value.
func (h Hash) IsZero() bool {
	return h == Zero
}

// Bytes returns the hash as a byte slice.
func (h Hash) Bytes() []byte {
	return h[:]
}

// FromBytes copies b (which must be exactly Size bytes) into a Hash.
func FromBytes(b []byte) Hash {
	var out Hash
	copy(out[:], b)
	return out
}

// personalization matches the on-chain validator's blake2b configuration.
// Any implementation that wants byte-identical digests with the on-chain
// side MUST use this exact personalization string.
var personalization = []byte("ckb-default-hash")

func newState() stdhash.Hash {
	h, err := blake2b.NewWithConfig(&blake2b.Config{Size: Size, Person: personalization})
	if err != nil {
		// The config above is a compile-time constant blake2b always
		// accepts; a failure here means the blake2b package is broken.
		panic(err)
	}
	return h
}

// Builder is an incremental byte-oriented hasher producing a 32-byte Hash.
// It wraps blake2b configured with the on-chain personalization so that
// Sum() is byte-identical to the on-chain hash primitive.
type Builder struct {
	h stdhash.Hash
}

// NewBuilder creates a new incremental hash builder.
func NewBuilder() *Builder {
	return &Builder{h: newState()}
}

// Write appends data to the running hash. It never returns an error.
func (b *Builder) Write(data []byte) *Builder {
	_, _ = b.h.Write(data)
	return b
}

// Sum returns the 32-byte digest of everything written so far. It does
// not reset the builder's state.
func (b *Builder) Sum() Hash {
	return FromBytes(b.h.Sum(nil))
}

// Sum256 is a one-shot convenience wrapper that hashes the concatenation
// of data in order.
func Sum256(data ...[]byte) Hash {
	h := newState()
	for _, d := range data {
		_, _ = h.Write(d)
	}
	return FromBytes(h.Sum(nil))
}

// CalculateStateCheckpoint computes the on-chain ABI-mandated state
// checkpoint commitment: H(root || account_count.to_le_bytes_4()).
//
// This is the single byte-for-byte compatibility contract between this
// core and the on-chain validator; every checkpoint comparison in the
// challenge/revert engine ultimately bottoms out in this function.
func CalculateStateCheckpoint(root Hash, accountCount uint32) Hash {
	var countLE [4]byte
	binary.LittleEndian.PutUint32(countLE[:], accountCount)
	return Sum256(root.Bytes(), countLE[:])
}

// FromUint32 maps a small integer (a withdrawal or transaction index) to a
// Hash key suitable for use in the per-block withdrawals/transactions SMT,
// matching the on-chain H256::from_u32 convention (little-endian in the
// low-order bytes).
func FromUint32(v uint32) Hash {
	var out Hash
	binary.LittleEndian.PutUint32(out[:4], v)
	return out
}

// FromUint64 maps a block number to a Hash key suitable for use in the
// block-number SMT, matching the on-chain RawL2Block::smt_key convention
// (little-endian in the low-order bytes).
func FromUint64(v uint64) Hash {
	var out Hash
	binary.LittleEndian.PutUint64(out[:8], v)
	return out
}

// One returns the Hash whose little-endian integer value is 1, used as the
// sentinel "reverted" marker value in the reverted-block SMT.
func One() Hash {
	var out Hash
	out[0] = 1
	return out
}
