package store

import (
	"bytes"
	"testing"

	"github.com/sanjay-sol/darkbook/internal/merkle"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestNullifierNamespacesAreDisjoint(t *testing.T) {
	j := openTestJournal(t)
	n := merkle.SumUint64(1)

	if err := j.PutNullifier(n); err != nil {
		t.Fatalf("PutNullifier failed: %v", err)
	}

	ok, err := j.HasNullifier(n)
	if err != nil || !ok {
		t.Errorf("expected order nullifier present, ok=%v err=%v", ok, err)
	}
	ok, err = j.HasWithdrawNullifier(n)
	if err != nil {
		t.Fatalf("HasWithdrawNullifier failed: %v", err)
	}
	if ok {
		t.Error("order nullifier leaked into the withdraw namespace")
	}

	if err := j.PutWithdrawNullifier(n); err != nil {
		t.Fatalf("PutWithdrawNullifier failed: %v", err)
	}
	ok, _ = j.HasWithdrawNullifier(n)
	if !ok {
		t.Error("expected withdraw nullifier present")
	}
}

func TestSettlementLogOrder(t *testing.T) {
	j := openTestJournal(t)
	records := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	for i, r := range records {
		if err := j.AppendSettlement(uint64(i), r); err != nil {
			t.Fatalf("AppendSettlement %d failed: %v", i, err)
		}
	}
	got, err := j.Settlements()
	if err != nil {
		t.Fatalf("Settlements failed: %v", err)
	}
	if len(got) != len(records) {
		t.Fatalf("expected %d records, got %d", len(records), len(got))
	}
	for i := range records {
		if !bytes.Equal(got[i], records[i]) {
			t.Errorf("record %d mismatch: %q", i, got[i])
		}
	}
}
