package merkle

import (
	"testing"
)

func TestSumDeterminism(t *testing.T) {
	a := Sum([]byte("alice"), []byte("asset-1"))
	b := Sum([]byte("alice"), []byte("asset-1"))
	c := Sum([]byte("bob"), []byte("asset-1"))
	if a != b {
		t.Error("MiMC sum is not deterministic")
	}
	if a == c {
		t.Error("MiMC sum collision on distinct inputs")
	}
}

func TestInsertMonotonicIndex(t *testing.T) {
	tree, err := New(8)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	prevRoot := tree.Root()
	for i := 0; i < 16; i++ {
		leaf := SumUint64(uint64(i), 42)
		root, index, err := tree.Insert(leaf)
		if err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
		if index != uint64(i) {
			t.Errorf("expected index %d, got %d", i, index)
		}
		if root == prevRoot {
			t.Errorf("root did not change after insert %d", i)
		}
		prevRoot = root
	}
	if tree.NextIndex() != 16 {
		t.Errorf("expected next index 16, got %d", tree.NextIndex())
	}
}

func TestInsertCapacity(t *testing.T) {
	tree, err := New(2)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		if _, _, err := tree.Insert(SumUint64(uint64(i))); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}
	if _, _, err := tree.Insert(SumUint64(99)); err != ErrLedgerFull {
		t.Errorf("expected ErrLedgerFull, got %v", err)
	}
	if tree.NextIndex() != 4 {
		t.Errorf("failed insert must not advance next index, got %d", tree.NextIndex())
	}
}

func TestMembership(t *testing.T) {
	tree, err := New(6)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	leaves := make([]Hash, 5)
	for i := range leaves {
		leaves[i] = SumUint64(uint64(i), 7)
		if _, _, err := tree.Insert(leaves[i]); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	root := tree.Root()
	for i, leaf := range leaves {
		path, err := tree.Path(uint64(i))
		if err != nil {
			t.Fatalf("Path(%d) failed: %v", i, err)
		}
		if !VerifyMembership(root, leaf, uint64(i), path) {
			t.Errorf("membership proof for leaf %d rejected", i)
		}
	}

	t.Run("WrongLeaf", func(t *testing.T) {
		path, _ := tree.Path(0)
		if VerifyMembership(root, SumUint64(999), 0, path) {
			t.Error("accepted proof for a leaf not in the tree")
		}
	})

	t.Run("WrongIndex", func(t *testing.T) {
		path, _ := tree.Path(0)
		if VerifyMembership(root, leaves[0], 1, path) {
			t.Error("accepted proof under wrong index")
		}
	})

	t.Run("TruncatedPath", func(t *testing.T) {
		path, _ := tree.Path(0)
		if VerifyMembership(root, leaves[0], 0, path[:len(path)-1]) {
			t.Error("accepted proof with truncated path")
		}
	})

	t.Run("EmptyPath", func(t *testing.T) {
		if VerifyMembership(root, leaves[0], 0, nil) {
			t.Error("accepted proof with empty path")
		}
	})

	t.Run("IndexBeyondPath", func(t *testing.T) {
		path, _ := tree.Path(0)
		if VerifyMembership(root, leaves[0], 1<<uint(len(path)), path) {
			t.Error("accepted proof with index beyond path capacity")
		}
	})
}

func TestSetRoot(t *testing.T) {
	tree, err := New(4)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, _, err := tree.Insert(SumUint64(1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	replacement := Sum([]byte("verified transition"))
	tree.SetRoot(replacement)
	if tree.Root() != replacement {
		t.Error("SetRoot did not replace the root")
	}
}

func TestHexRoundTrip(t *testing.T) {
	h := SumUint64(12345)
	parsed, err := HexToHash(h.Hex())
	if err != nil {
		t.Fatalf("HexToHash failed: %v", err)
	}
	if parsed != h {
		t.Error("hex round trip mismatch")
	}
}
