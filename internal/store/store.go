// Package store is the bbolt-backed persistence layer underneath the
// challenge/revert engine: the canonical block index and the three sparse
// Merkle trees (accounts, per-block tx/withdrawal batches are built
// in-memory per block, but the block SMT and reverted-block SMT persist
// across the process lifetime). Every mutation happens inside a single
// *bbolt.Tx so that a failed build can always be undone by Rollback
// (spec §5).
package store

import (
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/nervos-rollup/challenge-engine/internal/hash"
	"github.com/nervos-rollup/challenge-engine/internal/smt"
	"github.com/nervos-rollup/challenge-engine/internal/types"
)

var (
	bucketAccountBranches  = []byte("account_smt_branches")
	bucketAccountLeaves    = []byte("account_smt_leaves")
	bucketRevertedBranches = []byte("reverted_smt_branches")
	bucketRevertedLeaves   = []byte("reverted_smt_leaves")
	bucketBlockSMTBranches = []byte("block_smt_branches")
	bucketBlockSMTLeaves   = []byte("block_smt_leaves")
	bucketBlocksByHash     = []byte("blocks_by_hash")
	bucketBlockHashByNum   = []byte("block_hash_by_number")
	bucketMeta             = []byte("meta")
)

var allBuckets = [][]byte{
	bucketAccountBranches, bucketAccountLeaves,
	bucketRevertedBranches, bucketRevertedLeaves,
	bucketBlockSMTBranches, bucketBlockSMTLeaves,
	bucketBlocksByHash, bucketBlockHashByNum,
	bucketMeta,
}

// metaKeyBlockSMTRoot holds the current root of the block-number SMT (the
// one piece of SMT state that, unlike the account tree, has no natural
// self-describing home inside a block header).
var metaKeyBlockSMTRoot = []byte("block_smt_root")

// metaKeyRevertedSMTRoot holds the current root of the reverted-block SMT.
var metaKeyRevertedSMTRoot = []byte("reverted_smt_root")

// DB is the top-level handle to the bbolt database.
type DB struct {
	bolt *bbolt.DB
	log  *zap.Logger
}

// Open opens (creating if necessary) the bbolt database at path and
// ensures every bucket this package needs exists.
func Open(path string, log *zap.Logger) (*DB, error) {
	bdb, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = bdb.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &DB{bolt: bdb, log: log}, nil
}

// Close releases the underlying bbolt file handle.
func (d *DB) Close() error {
	return d.bolt.Close()
}

// Begin opens a new transaction. Every Begin MUST be followed by exactly
// one Commit or Rollback call, on every exit path including errors
// (spec §5's mandatory-rollback contract).
func (d *DB) Begin(writable bool) (*Tx, error) {
	btx, err := d.bolt.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	return &Tx{btx: btx, log: d.log}, nil
}

// Tx scopes a set of reads/writes against the account SMT, the block SMT
// (addressed by the reverted-block SMT below) and the block index to a
// single underlying bbolt transaction.
type Tx struct {
	btx  *bbolt.Tx
	log  *zap.Logger
	done bool
}

// Commit finalizes every write made through this Tx. A second call is a
// no-op.
func (t *Tx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.btx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Rollback discards every write made through this Tx. A second call, or a
// call after Commit, is a no-op — callers are expected to `defer
// tx.Rollback()` immediately after Begin and still call Commit explicitly
// on the success path.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.btx.Rollback(); err != nil {
		return fmt.Errorf("store: rollback: %w", err)
	}
	return nil
}

// AccountSMTStore returns the smt.Store backing the global account tree.
func (t *Tx) AccountSMTStore() smt.Store {
	return &boltSMTStore{
		branches: t.btx.Bucket(bucketAccountBranches),
		leaves:   t.btx.Bucket(bucketAccountLeaves),
	}
}

// RevertedSMTStore returns the smt.Store backing the reverted-block tree
// (spec §4.7): key = block hash, value = hash.One() if that block has been
// reverted, absent/Zero otherwise.
func (t *Tx) RevertedSMTStore() smt.Store {
	return &boltSMTStore{
		branches: t.btx.Bucket(bucketRevertedBranches),
		leaves:   t.btx.Bucket(bucketRevertedLeaves),
	}
}

// RevertedSMTRoot returns the reverted-block SMT's current persisted root,
// or hash.Zero if no block has ever actually landed as reverted.
// RevertBuilder reads this as the starting point for its throwaway overlay;
// it is only ever advanced by SetRevertedSMTRoot, which RevertBuilder never
// calls (spec §4.7: the builder computes the would-be mutation but never
// persists it — only the real on-chain revert-apply path does).
func (t *Tx) RevertedSMTRoot() hash.Hash {
	raw := t.btx.Bucket(bucketMeta).Get(metaKeyRevertedSMTRoot)
	if raw == nil {
		return hash.Zero
	}
	return hash.FromBytes(raw)
}

// SetRevertedSMTRoot persists a new reverted-block SMT root. Call this only
// when actually applying a revert on-chain, after RevertedSMTStore's
// branches/leaves have themselves been written with the same mutation
// RevertBuilder's overlay computed.
func (t *Tx) SetRevertedSMTRoot(root hash.Hash) error {
	return t.btx.Bucket(bucketMeta).Put(metaKeyRevertedSMTRoot, root.Bytes())
}

// BlockSMTStore returns the smt.Store backing the canonical block tree
// (spec §4.7): key = block number (hash.FromUint64), value = block hash.
// Unlike the reverted-block SMT, RevertBuilder never mutates this tree — it
// only compiles proofs against the entries BlockStore.Put already wrote.
func (t *Tx) BlockSMTStore() smt.Store {
	return &boltSMTStore{
		branches: t.btx.Bucket(bucketBlockSMTBranches),
		leaves:   t.btx.Bucket(bucketBlockSMTLeaves),
	}
}

// Blocks returns the block index view bound to this Tx.
func (t *Tx) Blocks() *BlockStore {
	return &BlockStore{
		byHash:   t.btx.Bucket(bucketBlocksByHash),
		byNumber: t.btx.Bucket(bucketBlockHashByNum),
		meta:     t.btx.Bucket(bucketMeta),
		smt:      t.BlockSMTStore(),
	}
}

// boltSMTStore implements smt.Store against a pair of bbolt buckets scoped
// to one already-open transaction.
type boltSMTStore struct {
	branches *bbolt.Bucket
	leaves   *bbolt.Bucket
}

const (
	branchRecordSize = 2 * 32
	leafRecordSize   = 32
)

func (s *boltSMTStore) GetBranch(nodeHash smt.Hash) (smt.BranchNode, bool, error) {
	raw := s.branches.Get(nodeHash.Bytes())
	if raw == nil {
		return smt.BranchNode{}, false, nil
	}
	if len(raw) != branchRecordSize {
		return smt.BranchNode{}, false, errors.New("store: corrupt branch record")
	}
	var b smt.BranchNode
	copy(b.Left[:], raw[:32])
	copy(b.Right[:], raw[32:])
	return b, true, nil
}

func (s *boltSMTStore) GetLeaf(key smt.Hash) (smt.LeafNode, bool, error) {
	raw := s.leaves.Get(key.Bytes())
	if raw == nil {
		return smt.LeafNode{}, false, nil
	}
	if len(raw) != leafRecordSize {
		return smt.LeafNode{}, false, errors.New("store: corrupt leaf record")
	}
	var l smt.LeafNode
	copy(l.Value[:], raw)
	return l, true, nil
}

func (s *boltSMTStore) InsertBranch(nodeHash smt.Hash, branch smt.BranchNode) error {
	buf := make([]byte, 0, branchRecordSize)
	buf = append(buf, branch.Left.Bytes()...)
	buf = append(buf, branch.Right.Bytes()...)
	return s.branches.Put(nodeHash.Bytes(), buf)
}

func (s *boltSMTStore) InsertLeaf(key smt.Hash, leaf smt.LeafNode) error {
	return s.leaves.Put(key.Bytes(), leaf.Value.Bytes())
}

func (s *boltSMTStore) RemoveBranch(nodeHash smt.Hash) error {
	return s.branches.Delete(nodeHash.Bytes())
}

func (s *boltSMTStore) RemoveLeaf(key smt.Hash) error {
	return s.leaves.Delete(key.Bytes())
}

// BlockStore is the canonical block-hash/number index, used by
// RevertBuilder to walk reverted ranges and by the Executor's ChainView to
// resolve parent_block_hash (SPEC_FULL EXP-4). It also maintains the
// block-number SMT RevertBuilder compiles its block-range proof against,
// since both are written atomically whenever a block is recorded.
type BlockStore struct {
	byHash   *bbolt.Bucket
	byNumber *bbolt.Bucket
	meta     *bbolt.Bucket
	smt      smt.Store
}

// Put records block, indexed by both hash and number, and advances the
// block-number SMT with the new entry (key = hash.FromUint64(number),
// value = block hash), mirroring how a block producer's own store commits
// a new block and its SMT membership in one step.
func (b *BlockStore) Put(block *types.L2Block) error {
	blockHash := block.Hash()
	if err := b.byHash.Put(blockHash.Bytes(), block.Marshal()); err != nil {
		return err
	}
	if err := b.byNumber.Put(numberKey(block.Raw.Number), blockHash.Bytes()); err != nil {
		return err
	}

	tree := smt.New(b.blockSMTRoot(), b.smt)
	if err := tree.Update(hash.FromUint64(block.Raw.Number), blockHash); err != nil {
		return fmt.Errorf("store: update block smt: %w", err)
	}
	return b.meta.Put(metaKeyBlockSMTRoot, tree.Root().Bytes())
}

// blockSMTRoot returns the block-number SMT's current root, or the empty
// tree's root if no block has been recorded yet.
func (b *BlockStore) blockSMTRoot() smt.Hash {
	raw := b.meta.Get(metaKeyBlockSMTRoot)
	if raw == nil {
		return smt.Zero
	}
	return hash.FromBytes(raw)
}

// BlockSMTRoot exposes the block-number SMT's current root, so
// RevertBuilder can open a read-only SMT over it directly (paired with
// Tx.BlockSMTStore for the backing store).
func (b *BlockStore) BlockSMTRoot() hash.Hash {
	return b.blockSMTRoot()
}

// Get returns the block with the given hash.
func (b *BlockStore) Get(blockHash types.Hash) (*types.L2Block, bool, error) {
	raw := b.byHash.Get(blockHash.Bytes())
	if raw == nil {
		return nil, false, nil
	}
	block, err := types.UnmarshalL2Block(raw)
	if err != nil {
		return nil, false, fmt.Errorf("store: decode block %x: %w", blockHash, err)
	}
	return block, true, nil
}

// HashByNumber resolves a block number to its hash.
func (b *BlockStore) HashByNumber(number uint64) (types.Hash, bool) {
	raw := b.byNumber.Get(numberKey(number))
	if raw == nil {
		return types.Hash{}, false
	}
	var h types.Hash
	copy(h[:], raw)
	return h, true
}

// GetByNumber resolves a block number directly to its block.
func (b *BlockStore) GetByNumber(number uint64) (*types.L2Block, bool, error) {
	h, ok := b.HashByNumber(number)
	if !ok {
		return nil, false, nil
	}
	return b.Get(h)
}

func numberKey(n uint64) []byte {
	key := make([]byte, 8)
	for i := 0; i < 8; i++ {
		key[i] = byte(n >> (56 - 8*i))
	}
	return key
}
