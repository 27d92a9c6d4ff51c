package engine

import (
	"testing"

	"github.com/sanjay-sol/darkbook/internal/merkle"
)

func intent(i uint64, market uint32, side Side, price, qty uint64) Intent {
	return Intent{
		Commitment: merkle.SumUint64(i),
		Owner:      "trader",
		MarketID:   market,
		Side:       side,
		Price:      price,
		Qty:        qty,
	}
}

func TestPricePriority(t *testing.T) {
	b := NewBook(1)
	var seq uint64
	for i, price := range []uint64{10, 12, 11} {
		seq++
		if got := b.Add(intent(uint64(i+1), 1, Bid, price, 5), seq); len(got) != 0 {
			t.Fatalf("resting bid produced %d matches", len(got))
		}
	}

	seq++
	matches := b.Add(intent(9, 1, Ask, 11, 5), seq)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	// The 12 bid has price priority over the 11 bid.
	if want := merkle.SumUint64(2); matches[0].CommitmentA != want {
		t.Errorf("matched bid %s, want the best-priced bid", matches[0].CommitmentA.Hex())
	}
	if matches[0].FillAmount != 5 {
		t.Errorf("fill %d, want 5", matches[0].FillAmount)
	}
}

func TestTimePriorityWithinLevel(t *testing.T) {
	b := NewBook(1)
	b.Add(intent(1, 1, Bid, 10, 5), 1)
	b.Add(intent(2, 1, Bid, 10, 5), 2)

	matches := b.Add(intent(3, 1, Ask, 10, 5), 3)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if want := merkle.SumUint64(1); matches[0].CommitmentA != want {
		t.Errorf("matched bid %s, want the earliest at the level", matches[0].CommitmentA.Hex())
	}
}

func TestMidpointPricing(t *testing.T) {
	b := NewBook(1)
	b.Add(intent(1, 1, Bid, 2000, 10), 1)
	matches := b.Add(intent(2, 1, Ask, 1990, 10), 2)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Price != 1995 {
		t.Errorf("price %d, want midpoint 1995", matches[0].Price)
	}

	// Odd spread floors.
	b.Add(intent(3, 1, Bid, 101, 1), 3)
	matches = b.Add(intent(4, 1, Ask, 100, 1), 4)
	if matches[0].Price != 100 {
		t.Errorf("price %d, want floor midpoint 100", matches[0].Price)
	}
}

func TestPartialFill(t *testing.T) {
	b := NewBook(1)
	b.Add(intent(1, 1, Bid, 50, 100), 1)
	matches := b.Add(intent(2, 1, Ask, 50, 60), 2)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	m := matches[0]
	if m.FillAmount != 60 {
		t.Errorf("fill %d, want 60", m.FillAmount)
	}
	if !m.ResidualBid || m.ResidualAsk {
		t.Errorf("residual flags bid=%v ask=%v, want bid only", m.ResidualBid, m.ResidualAsk)
	}
	if !b.Contains(merkle.SumUint64(1)) {
		t.Error("partially filled bid left the book")
	}
	if b.Contains(merkle.SumUint64(2)) {
		t.Error("fully filled ask still resting")
	}

	// The remainder fills against the next ask.
	matches = b.Add(intent(3, 1, Ask, 50, 40), 3)
	if len(matches) != 1 || matches[0].FillAmount != 40 {
		t.Fatalf("remainder match: %+v", matches)
	}
	if b.Depth() != 0 {
		t.Errorf("book depth %d, want 0", b.Depth())
	}
}

func TestSweepMultipleLevels(t *testing.T) {
	b := NewBook(1)
	b.Add(intent(1, 1, Ask, 100, 5), 1)
	b.Add(intent(2, 1, Ask, 102, 5), 2)

	matches := b.Add(intent(3, 1, Bid, 102, 8), 3)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].FillAmount != 5 || matches[1].FillAmount != 3 {
		t.Errorf("fills %d,%d want 5,3", matches[0].FillAmount, matches[1].FillAmount)
	}
	// Cheapest ask executes first.
	if matches[0].Price != 101 || matches[1].Price != 102 {
		t.Errorf("prices %d,%d want 101,102", matches[0].Price, matches[1].Price)
	}
}

func TestNoCrossBelowSpread(t *testing.T) {
	b := NewBook(1)
	b.Add(intent(1, 1, Bid, 99, 10), 1)
	if matches := b.Add(intent(2, 1, Ask, 100, 10), 2); len(matches) != 0 {
		t.Fatalf("spread crossed: %+v", matches)
	}
	if b.Depth() != 2 {
		t.Errorf("depth %d, want 2", b.Depth())
	}
}

func TestCancelRemovesOrder(t *testing.T) {
	b := NewBook(1)
	c := merkle.SumUint64(1)
	b.Add(intent(1, 1, Bid, 100, 10), 1)

	if !b.Cancel(c) {
		t.Fatal("Cancel returned false for a resting order")
	}
	if b.Cancel(c) {
		t.Error("Cancel returned true twice")
	}
	if matches := b.Add(intent(2, 1, Ask, 100, 10), 2); len(matches) != 0 {
		t.Errorf("cancelled order still matched: %+v", matches)
	}
}

func TestRefundRestoresQueuePosition(t *testing.T) {
	b := NewBook(1)
	first := intent(1, 1, Bid, 100, 10)
	b.Add(first, 1)
	b.Add(intent(2, 1, Bid, 100, 10), 2)

	// Fully consume the first bid, then refund it.
	matches := b.Add(intent(3, 1, Ask, 100, 10), 3)
	if len(matches) != 1 || matches[0].CommitmentA != first.Commitment {
		t.Fatalf("setup match: %+v", matches)
	}
	b.Refund(first, 1, 10)

	// Its original sequence puts it back ahead of the second bid.
	matches = b.cross()
	if len(matches) != 0 {
		t.Fatalf("refund alone crossed: %+v", matches)
	}
	matches = b.Add(intent(4, 1, Ask, 100, 10), 4)
	if len(matches) != 1 || matches[0].CommitmentA != first.Commitment {
		t.Errorf("refunded order lost its queue position: %+v", matches)
	}
}
