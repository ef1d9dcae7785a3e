package smt

import (
	"errors"
	"sort"

	"github.com/nervos-rollup/challenge-engine/internal/hash"
	"github.com/nervos-rollup/challenge-engine/internal/wire"
)

// ErrProofMalformed is returned when a CompiledProof's sibling list does not
// match the shape the verifier's traversal expects — either exhausted early
// or left with unconsumed entries.
var ErrProofMalformed = errors.New("smt: proof malformed")

// Leaf is a (key, value) pair fed into CompiledProof.ComputeRoot to
// reconstruct the root the proof was compiled against.
type Leaf struct {
	Key   Hash
	Value Hash
}

// CompiledProof is an opaque, order-independent multi-leaf Merkle proof: the
// minimal set of sibling hashes needed to recompute a root from a set of
// leaves, with shared siblings (keys with a common ancestor) deduplicated.
type CompiledProof struct {
	siblings []Hash
}

// Bytes serializes the proof to its wire form.
func (p *CompiledProof) Bytes() []byte {
	w := wire.NewWriter()
	w.WriteUint32LE(uint32(len(p.siblings)))
	for _, s := range p.siblings {
		w.WriteFixed(s.Bytes())
	}
	return w.Bytes()
}

// ProofFromBytes parses a proof previously produced by CompiledProof.Bytes.
func ProofFromBytes(b []byte) (*CompiledProof, error) {
	r := wire.NewReader(b)
	n, err := r.ReadUint32LE()
	if err != nil {
		return nil, err
	}
	siblings := make([]Hash, n)
	for i := range siblings {
		raw, err := r.ReadFixed(hash.Size)
		if err != nil {
			return nil, err
		}
		siblings[i] = hash.FromBytes(raw)
	}
	if !r.Empty() {
		return nil, ErrProofMalformed
	}
	return &CompiledProof{siblings: siblings}, nil
}

// MerkleProof compiles a multi-leaf proof for keys against t's current
// tree. keys need not be unique or sorted; the result is independent of
// their order. An empty keys slice compiles a proof of the tree's current
// root alone (no leaves are needed to verify it).
func (t *SMT) MerkleProof(keys []Hash) (*CompiledProof, error) {
	uniq := uniqueSortedKeys(keys)
	if len(uniq) == 0 {
		return &CompiledProof{siblings: []Hash{t.root}}, nil
	}

	var siblings []Hash
	if err := t.collectSiblings(t.root, 0, uniq, &siblings); err != nil {
		return nil, err
	}
	return &CompiledProof{siblings: siblings}, nil
}

func (t *SMT) collectSiblings(nodeHash Hash, d int, keys []Hash, out *[]Hash) error {
	if d == depth {
		return nil
	}

	var left, right Hash
	if !nodeHash.IsZero() {
		branch, found, err := t.store.GetBranch(nodeHash)
		if err != nil {
			return err
		}
		if found {
			left, right = branch.Left, branch.Right
		}
	}

	leftKeys, rightKeys := splitKeys(keys, d)

	switch {
	case len(leftKeys) > 0 && len(rightKeys) > 0:
		if err := t.collectSiblings(left, d+1, leftKeys, out); err != nil {
			return err
		}
		return t.collectSiblings(right, d+1, rightKeys, out)
	case len(leftKeys) > 0:
		*out = append(*out, right)
		return t.collectSiblings(left, d+1, leftKeys, out)
	default:
		*out = append(*out, left)
		return t.collectSiblings(right, d+1, rightKeys, out)
	}
}

// ComputeRoot recomputes the root that p commits to, given the full set of
// leaves (key, value pairs) the proof was compiled over. A proof compiled
// for a different leaf set will, with overwhelming probability, recompute a
// different root — callers detect a failed proof by comparing the result
// against the root they expected, not via an error return.
func (p *CompiledProof) ComputeRoot(leaves []Leaf) (Hash, error) {
	if len(leaves) == 0 {
		if len(p.siblings) != 1 {
			return Hash{}, ErrProofMalformed
		}
		return p.siblings[0], nil
	}

	values := make(map[Hash]Hash, len(leaves))
	keys := make([]Hash, 0, len(leaves))
	for _, l := range leaves {
		if _, ok := values[l.Key]; !ok {
			keys = append(keys, l.Key)
		}
		values[l.Key] = l.Value
	}
	keys = uniqueSortedKeys(keys)

	pos := 0
	root, err := computeFromProof(0, keys, values, p.siblings, &pos)
	if err != nil {
		return Hash{}, err
	}
	if pos != len(p.siblings) {
		return Hash{}, ErrProofMalformed
	}
	return root, nil
}

func computeFromProof(d int, keys []Hash, values map[Hash]Hash, siblings []Hash, pos *int) (Hash, error) {
	if d == depth {
		if len(keys) != 1 {
			return Hash{}, ErrProofMalformed
		}
		return leafCommitment(keys[0], values[keys[0]]), nil
	}

	leftKeys, rightKeys := splitKeys(keys, d)

	switch {
	case len(leftKeys) > 0 && len(rightKeys) > 0:
		left, err := computeFromProof(d+1, leftKeys, values, siblings, pos)
		if err != nil {
			return Hash{}, err
		}
		right, err := computeFromProof(d+1, rightKeys, values, siblings, pos)
		if err != nil {
			return Hash{}, err
		}
		return mergeBranch(d, left, right), nil
	case len(leftKeys) > 0:
		if *pos >= len(siblings) {
			return Hash{}, ErrProofMalformed
		}
		right := siblings[*pos]
		*pos++
		left, err := computeFromProof(d+1, leftKeys, values, siblings, pos)
		if err != nil {
			return Hash{}, err
		}
		return mergeBranch(d, left, right), nil
	default:
		if *pos >= len(siblings) {
			return Hash{}, ErrProofMalformed
		}
		left := siblings[*pos]
		*pos++
		right, err := computeFromProof(d+1, rightKeys, values, siblings, pos)
		if err != nil {
			return Hash{}, err
		}
		return mergeBranch(d, left, right), nil
	}
}

// splitKeys partitions a sorted, deduplicated key set by its bit at depth d.
func splitKeys(keys []Hash, d int) (left, right []Hash) {
	for _, k := range keys {
		if bitAt(k, d) == 0 {
			left = append(left, k)
		} else {
			right = append(right, k)
		}
	}
	return left, right
}

func uniqueSortedKeys(keys []Hash) []Hash {
	if len(keys) == 0 {
		return nil
	}
	seen := make(map[Hash]struct{}, len(keys))
	out := make([]Hash, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i][:]) < string(out[j][:])
	})
	return out
}
