package types

import "testing"

func sampleBlock() *L2Block {
	var parent, txRoot, wRoot, accRoot Hash
	parent[0] = 1
	txRoot[0] = 2
	wRoot[0] = 3
	accRoot[0] = 4

	return &L2Block{
		Raw: RawL2Block{
			Number:          5,
			ParentBlockHash: parent,
			BlockProducerID: 7,
			Timestamp:       1700000000,
			PrevAccount:     AccountMerkleState{Root: accRoot, Count: 10},
			PostAccount:     AccountMerkleState{Root: accRoot, Count: 11},
			SubmitTransactions: SubmitTransactions{
				TxWitnessRoot:         txRoot,
				TxCount:               1,
				CompactedPostRootList: []Hash{accRoot},
			},
			SubmitWithdrawals: SubmitWithdrawals{
				WithdrawalWitnessRoot: wRoot,
				WithdrawalCount:       0,
			},
		},
		Transactions: []Transaction{
			{Raw: RawTransaction{FromID: 1, ToID: 2, Nonce: 0, Args: []byte("hi")}, Signature: []byte("sig")},
		},
		Withdrawals: nil,
	}
}

func TestRawL2BlockHashDeterministic(t *testing.T) {
	b := sampleBlock()
	if b.Raw.Hash() != b.Raw.Hash() {
		t.Fatal("block hash not deterministic")
	}
}

func TestRawL2BlockHashSensitiveToNumber(t *testing.T) {
	a := sampleBlock()
	b := sampleBlock()
	b.Raw.Number = 6
	if a.Raw.Hash() == b.Raw.Hash() {
		t.Fatal("block hash must depend on number")
	}
}

func TestL2BlockMarshalRoundTrip(t *testing.T) {
	b := sampleBlock()
	data := b.Marshal()

	got, err := UnmarshalL2Block(data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash() != b.Hash() {
		t.Fatalf("round-tripped block hash = %x, want %x", got.Hash(), b.Hash())
	}
	if len(got.Transactions) != 1 || got.Transactions[0].Raw.FromID != 1 {
		t.Fatalf("transactions not preserved: %+v", got.Transactions)
	}
}

func TestScriptHashSensitiveToArgs(t *testing.T) {
	var codeHash Hash
	codeHash[0] = 9
	a := Script{CodeHash: codeHash, HashType: HashTypeType, Args: []byte{1}}
	b := Script{CodeHash: codeHash, HashType: HashTypeType, Args: []byte{2}}
	if a.Hash() == b.Hash() {
		t.Fatal("script hash must depend on args")
	}
}

func TestCheckPointTotalOrder(t *testing.T) {
	cases := []CheckPoint{
		Genesis(),
		PrevTxs(1),
		Tx(1, 0),
		Tx(1, 1),
		Block(1),
		PrevTxs(2),
	}
	for i := 0; i < len(cases)-1; i++ {
		if !cases[i].Before(cases[i+1]) {
			t.Fatalf("expected %+v before %+v", cases[i], cases[i+1])
		}
	}
}

func TestCheckPointEqualCompare(t *testing.T) {
	a := Tx(3, 2)
	b := Tx(3, 2)
	if a.Compare(b) != 0 {
		t.Fatalf("equal checkpoints compared %d, want 0", a.Compare(b))
	}
}
