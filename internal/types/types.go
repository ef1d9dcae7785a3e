// Package types defines the rollup's on-chain data model: blocks,
// transactions, withdrawals, scripts, and the total-ordered checkpoint used
// to address every intermediate state inside a block (spec §3).
package types

import (
	"github.com/nervos-rollup/challenge-engine/internal/hash"
	"github.com/nervos-rollup/challenge-engine/internal/wire"
)

// Hash re-exports the core digest type so callers of this package rarely
// need to import internal/hash directly.
type Hash = hash.Hash

// AccountMerkleState is a block's snapshot of the global account tree: its
// root together with the account count the checkpoint commitment binds to
// (see hash.CalculateStateCheckpoint).
type AccountMerkleState struct {
	Root  Hash
	Count uint32
}

// Checkpoint returns the on-chain ABI commitment for this account state.
func (a AccountMerkleState) Checkpoint() Hash {
	return hash.CalculateStateCheckpoint(a.Root, a.Count)
}

func (a AccountMerkleState) write(w *wire.Writer) {
	w.WriteFixed(a.Root.Bytes())
	w.WriteUint32LE(a.Count)
}

// SubmitTransactions summarizes a block's transaction batch: the SMT root
// over the block's transaction hashes (keyed by index), and the ordered list
// of account-tree roots produced after each transaction applies (§4.6
// refers to this as the compacted post-state-root list).
type SubmitTransactions struct {
	TxWitnessRoot         Hash
	TxCount               uint32
	CompactedPostRootList []Hash
}

func (s SubmitTransactions) write(w *wire.Writer) {
	w.WriteFixed(s.TxWitnessRoot.Bytes())
	w.WriteUint32LE(s.TxCount)
	wire.WriteVec(w, s.CompactedPostRootList, func(w *wire.Writer, h Hash) { w.WriteFixed(h.Bytes()) })
}

// SubmitWithdrawals summarizes a block's withdrawal batch.
type SubmitWithdrawals struct {
	WithdrawalWitnessRoot Hash
	WithdrawalCount       uint32
}

func (s SubmitWithdrawals) write(w *wire.Writer) {
	w.WriteFixed(s.WithdrawalWitnessRoot.Bytes())
	w.WriteUint32LE(s.WithdrawalCount)
}

// RawL2Block is the block header: everything that is hashed to produce the
// block hash, and everything a challenge witness must be consistent with.
type RawL2Block struct {
	Number             uint64
	ParentBlockHash    Hash
	BlockProducerID    uint32
	Timestamp          uint64
	PrevAccount        AccountMerkleState
	PostAccount        AccountMerkleState
	SubmitTransactions SubmitTransactions
	SubmitWithdrawals  SubmitWithdrawals
}

// Hash computes the block hash used to key the block store and the
// reverted-block SMT.
func (r *RawL2Block) Hash() Hash {
	w := wire.NewWriter()
	w.WriteUint64LE(r.Number)
	w.WriteFixed(r.ParentBlockHash.Bytes())
	w.WriteUint32LE(r.BlockProducerID)
	w.WriteUint64LE(r.Timestamp)
	r.PrevAccount.write(w)
	r.PostAccount.write(w)
	r.SubmitTransactions.write(w)
	r.SubmitWithdrawals.write(w)
	return hash.Sum256(w.Bytes())
}

// L2Block is a full block: its header plus the transactions and
// withdrawals it submits.
type L2Block struct {
	Raw          RawL2Block
	Transactions []Transaction
	Withdrawals  []Withdrawal
}

// Hash delegates to the header hash.
func (b *L2Block) Hash() Hash {
	return b.Raw.Hash()
}

// Marshal serializes the block to the length-prefixed wire form used for
// on-disk persistence (internal/store) and witness embedding.
func (b *L2Block) Marshal() []byte {
	w := wire.NewWriter()
	w.WriteUint64LE(b.Raw.Number)
	w.WriteFixed(b.Raw.ParentBlockHash.Bytes())
	w.WriteUint32LE(b.Raw.BlockProducerID)
	w.WriteUint64LE(b.Raw.Timestamp)
	b.Raw.PrevAccount.write(w)
	b.Raw.PostAccount.write(w)
	b.Raw.SubmitTransactions.write(w)
	b.Raw.SubmitWithdrawals.write(w)

	wire.WriteVec(w, b.Transactions, func(w *wire.Writer, tx Transaction) {
		w.WriteUint32LE(tx.Raw.FromID)
		w.WriteUint32LE(tx.Raw.ToID)
		w.WriteUint32LE(tx.Raw.Nonce)
		w.WriteBytesWithLen(tx.Raw.Args)
		w.WriteBytesWithLen(tx.Signature)
	})
	wire.WriteVec(w, b.Withdrawals, func(w *wire.Writer, wd Withdrawal) {
		w.WriteUint32LE(wd.Raw.Nonce)
		w.WriteUint64LE(wd.Raw.Capacity)
		w.WriteUint64LE(wd.Raw.Amount)
		w.WriteFixed(wd.Raw.SUDTScriptHash.Bytes())
		w.WriteFixed(wd.Raw.AccountScriptHash.Bytes())
		w.WriteFixed(wd.Raw.OwnerLockHash.Bytes())
		w.WriteBytesWithLen(wd.Signature)
	})
	return w.Bytes()
}

// UnmarshalL2Block parses the form produced by L2Block.Marshal.
func UnmarshalL2Block(data []byte) (*L2Block, error) {
	r := wire.NewReader(data)
	block := &L2Block{}

	var err error
	if block.Raw.Number, err = r.ReadUint64LE(); err != nil {
		return nil, err
	}
	if block.Raw.ParentBlockHash, err = readHash(r); err != nil {
		return nil, err
	}
	if block.Raw.BlockProducerID, err = r.ReadUint32LE(); err != nil {
		return nil, err
	}
	if block.Raw.Timestamp, err = r.ReadUint64LE(); err != nil {
		return nil, err
	}
	if block.Raw.PrevAccount, err = readAccountMerkleState(r); err != nil {
		return nil, err
	}
	if block.Raw.PostAccount, err = readAccountMerkleState(r); err != nil {
		return nil, err
	}
	if block.Raw.SubmitTransactions, err = readSubmitTransactions(r); err != nil {
		return nil, err
	}
	if block.Raw.SubmitWithdrawals, err = readSubmitWithdrawals(r); err != nil {
		return nil, err
	}

	txs, err := wire.ReadVec(r, func(r *wire.Reader) (Transaction, error) {
		var tx Transaction
		var err error
		if tx.Raw.FromID, err = r.ReadUint32LE(); err != nil {
			return tx, err
		}
		if tx.Raw.ToID, err = r.ReadUint32LE(); err != nil {
			return tx, err
		}
		if tx.Raw.Nonce, err = r.ReadUint32LE(); err != nil {
			return tx, err
		}
		if tx.Raw.Args, err = r.ReadBytesWithLen(); err != nil {
			return tx, err
		}
		if tx.Signature, err = r.ReadBytesWithLen(); err != nil {
			return tx, err
		}
		return tx, nil
	})
	if err != nil {
		return nil, err
	}
	block.Transactions = txs

	wds, err := wire.ReadVec(r, func(r *wire.Reader) (Withdrawal, error) {
		var wd Withdrawal
		var err error
		if wd.Raw.Nonce, err = r.ReadUint32LE(); err != nil {
			return wd, err
		}
		if wd.Raw.Capacity, err = r.ReadUint64LE(); err != nil {
			return wd, err
		}
		if wd.Raw.Amount, err = r.ReadUint64LE(); err != nil {
			return wd, err
		}
		if wd.Raw.SUDTScriptHash, err = readHash(r); err != nil {
			return wd, err
		}
		if wd.Raw.AccountScriptHash, err = readHash(r); err != nil {
			return wd, err
		}
		if wd.Raw.OwnerLockHash, err = readHash(r); err != nil {
			return wd, err
		}
		if wd.Signature, err = r.ReadBytesWithLen(); err != nil {
			return wd, err
		}
		return wd, nil
	})
	if err != nil {
		return nil, err
	}
	block.Withdrawals = wds

	if !r.Empty() {
		return nil, wire.ErrTruncated
	}
	return block, nil
}

func readHash(r *wire.Reader) (Hash, error) {
	raw, err := r.ReadFixed(hash.Size)
	if err != nil {
		return Hash{}, err
	}
	return hash.FromBytes(raw), nil
}

func readAccountMerkleState(r *wire.Reader) (AccountMerkleState, error) {
	var a AccountMerkleState
	var err error
	if a.Root, err = readHash(r); err != nil {
		return a, err
	}
	if a.Count, err = r.ReadUint32LE(); err != nil {
		return a, err
	}
	return a, nil
}

func readSubmitTransactions(r *wire.Reader) (SubmitTransactions, error) {
	var s SubmitTransactions
	var err error
	if s.TxWitnessRoot, err = readHash(r); err != nil {
		return s, err
	}
	if s.TxCount, err = r.ReadUint32LE(); err != nil {
		return s, err
	}
	s.CompactedPostRootList, err = wire.ReadVec(r, readHash)
	return s, err
}

func readSubmitWithdrawals(r *wire.Reader) (SubmitWithdrawals, error) {
	var s SubmitWithdrawals
	var err error
	if s.WithdrawalWitnessRoot, err = readHash(r); err != nil {
		return s, err
	}
	if s.WithdrawalCount, err = r.ReadUint32LE(); err != nil {
		return s, err
	}
	return s, nil
}

// ScriptHashType distinguishes a script's code interpretation, matching the
// on-chain lock/type script convention.
type ScriptHashType uint8

const (
	HashTypeData ScriptHashType = 0
	HashTypeType ScriptHashType = 1
)

// Script identifies an account's lock or type script.
type Script struct {
	CodeHash Hash
	HashType ScriptHashType
	Args     []byte
}

// Hash is the script hash used as an account's identity key in state.
func (s Script) Hash() Hash {
	w := wire.NewWriter()
	w.WriteFixed(s.CodeHash.Bytes())
	w.WriteFixed([]byte{byte(s.HashType)})
	w.WriteBytesWithLen(s.Args)
	return hash.Sum256(w.Bytes())
}

// RawTransaction is the signable, executable content of a transaction.
type RawTransaction struct {
	FromID uint32
	ToID   uint32
	Nonce  uint32
	Args   []byte
}

// Hash is the transaction's identity, independent of its signature.
func (r RawTransaction) Hash() Hash {
	w := wire.NewWriter()
	w.WriteUint32LE(r.FromID)
	w.WriteUint32LE(r.ToID)
	w.WriteUint32LE(r.Nonce)
	w.WriteBytesWithLen(r.Args)
	return hash.Sum256(w.Bytes())
}

// Transaction is a signed RawTransaction.
type Transaction struct {
	Raw       RawTransaction
	Signature []byte
}

// Hash is the signed transaction's on-chain identity (signature-inclusive).
func (t Transaction) Hash() Hash {
	w := wire.NewWriter()
	w.WriteFixed(t.Raw.Hash().Bytes())
	w.WriteBytesWithLen(t.Signature)
	return hash.Sum256(w.Bytes())
}

// RawWithdrawal is the signable content of a withdrawal request.
type RawWithdrawal struct {
	Nonce             uint32
	Capacity          uint64
	Amount            uint64
	SUDTScriptHash    Hash
	AccountScriptHash Hash
	OwnerLockHash     Hash
}

// Hash is the withdrawal's identity, independent of its signature.
func (r RawWithdrawal) Hash() Hash {
	w := wire.NewWriter()
	w.WriteUint32LE(r.Nonce)
	w.WriteUint64LE(r.Capacity)
	w.WriteUint64LE(r.Amount)
	w.WriteFixed(r.SUDTScriptHash.Bytes())
	w.WriteFixed(r.AccountScriptHash.Bytes())
	w.WriteFixed(r.OwnerLockHash.Bytes())
	return hash.Sum256(w.Bytes())
}

// Withdrawal is a signed RawWithdrawal.
type Withdrawal struct {
	Raw       RawWithdrawal
	Signature []byte
}

// Hash is the signed withdrawal's identity.
func (w Withdrawal) Hash() Hash {
	wr := wire.NewWriter()
	wr.WriteFixed(w.Raw.Hash().Bytes())
	wr.WriteBytesWithLen(w.Signature)
	return hash.Sum256(wr.Bytes())
}

// SubKind distinguishes the sub-positions a CheckPoint can address within a
// block, per spec §3's total order over intra-block state transitions.
type SubKind uint8

const (
	SubGenesis SubKind = iota
	SubPrevTxs
	SubTx
	SubBlock
)

func (k SubKind) String() string {
	switch k {
	case SubGenesis:
		return "genesis"
	case SubPrevTxs:
		return "prev_txs"
	case SubTx:
		return "tx"
	case SubBlock:
		return "block"
	default:
		return "unknown"
	}
}

// CheckPoint addresses a specific point in the rollup's state timeline:
// "before any transaction in block N", "after transaction i of block N", or
// "after block N finalizes withdrawals". Checkpoints have a total order:
// (BlockNumber, Sub, TxIndex) compared lexicographically, with Sub ordered
// Genesis < PrevTxs < Tx < Block.
type CheckPoint struct {
	BlockNumber uint64
	Sub         SubKind
	TxIndex     uint32 // meaningful only when Sub == SubTx
}

// Genesis returns the checkpoint before block 0 exists.
func Genesis() CheckPoint {
	return CheckPoint{BlockNumber: 0, Sub: SubGenesis}
}

// PrevTxs returns the checkpoint for block number's state before any of its
// transactions have executed (after its withdrawals, if withdrawals are
// processed ahead of transactions for that block, per the block producer's
// ordering).
func PrevTxs(blockNumber uint64) CheckPoint {
	return CheckPoint{BlockNumber: blockNumber, Sub: SubPrevTxs}
}

// Tx returns the checkpoint immediately after transaction index txIndex of
// blockNumber applies.
func Tx(blockNumber uint64, txIndex uint32) CheckPoint {
	return CheckPoint{BlockNumber: blockNumber, Sub: SubTx, TxIndex: txIndex}
}

// Block returns the checkpoint for blockNumber's finalized post-state.
func Block(blockNumber uint64) CheckPoint {
	return CheckPoint{BlockNumber: blockNumber, Sub: SubBlock}
}

// Compare returns -1, 0, or 1 as a orders before, equal to, or after b.
func (a CheckPoint) Compare(b CheckPoint) int {
	if a.BlockNumber != b.BlockNumber {
		if a.BlockNumber < b.BlockNumber {
			return -1
		}
		return 1
	}
	if a.Sub != b.Sub {
		if a.Sub < b.Sub {
			return -1
		}
		return 1
	}
	if a.Sub == SubTx && a.TxIndex != b.TxIndex {
		if a.TxIndex < b.TxIndex {
			return -1
		}
		return 1
	}
	return 0
}

// Before reports whether a orders strictly before b.
func (a CheckPoint) Before(b CheckPoint) bool {
	return a.Compare(b) < 0
}
