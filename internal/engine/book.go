// book.go - Price-time priority order book for one market.
//
// Each side keeps price levels in a sorted slice (bids descending, asks
// ascending) and each level is a FIFO queue ordered by arrival sequence.
// Quantities here are plaintext intents revealed to the matching operator;
// the commitments are the only identity that leaves this package.

package engine

import (
	"github.com/sanjay-sol/darkbook/internal/merkle"
)

// Side of an order intent.
type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Intent is the revealed form of a committed order, submitted to the
// matching operator out of band.
type Intent struct {
	Commitment merkle.Hash
	Owner      string
	MarketID   uint32
	Side       Side
	Price      uint64
	Qty        uint64
}

// Match is one crossing produced by the book. CommitmentA is always the bid
// side and CommitmentB the ask side. The residual flags report whether each
// side keeps an unfilled remainder resting in the book.
type Match struct {
	CommitmentA merkle.Hash
	CommitmentB merkle.Hash
	MarketID    uint32
	FillAmount  uint64
	Price       uint64
	ResidualBid bool
	ResidualAsk bool
}

// bookOrder is one resting order with its remaining quantity and arrival
// sequence. The sequence is global across the engine so time priority
// survives restoration after a failed settlement.
type bookOrder struct {
	Intent
	Remaining uint64
	Seq       uint64
}

// level is one price level's FIFO queue, kept sorted by Seq.
type level struct {
	price  uint64
	orders []*bookOrder
}

// Book is the order book for a single market.
type Book struct {
	marketID uint32
	bids     []*level // descending price
	asks     []*level // ascending price
	resting  map[merkle.Hash]*bookOrder
}

// NewBook creates an empty book.
func NewBook(marketID uint32) *Book {
	return &Book{
		marketID: marketID,
		resting:  make(map[merkle.Hash]*bookOrder),
	}
}

// BestBid returns the highest resting bid price.
func (b *Book) BestBid() (uint64, bool) {
	if len(b.bids) == 0 {
		return 0, false
	}
	return b.bids[0].price, true
}

// BestAsk returns the lowest resting ask price.
func (b *Book) BestAsk() (uint64, bool) {
	if len(b.asks) == 0 {
		return 0, false
	}
	return b.asks[0].price, true
}

// Depth returns the number of resting orders.
func (b *Book) Depth() int { return len(b.resting) }

// Contains reports whether a commitment is currently resting.
func (b *Book) Contains(c merkle.Hash) bool {
	_, ok := b.resting[c]
	return ok
}

// Add rests a new intent and returns the matches produced by crossing the
// book, in execution order.
func (b *Book) Add(in Intent, seq uint64) []Match {
	o := &bookOrder{Intent: in, Remaining: in.Qty, Seq: seq}
	b.insert(o)
	return b.cross()
}

// Refund returns a failed fill's quantity to an order. A still-resting order
// grows back in place; a removed order is re-rested at its original sequence,
// so it regains its former queue position. The caller crosses afterwards.
func (b *Book) Refund(in Intent, seq, qty uint64) {
	if o, ok := b.resting[in.Commitment]; ok {
		o.Remaining += qty
		return
	}
	b.insert(&bookOrder{Intent: in, Remaining: qty, Seq: seq})
}

// Cancel removes a resting order. It reports false when the commitment is
// not resting.
func (b *Book) Cancel(c merkle.Hash) bool {
	o, ok := b.resting[c]
	if !ok {
		return false
	}
	b.remove(o)
	return true
}

// cross matches best bid against best ask while they overlap. The execution
// price is the floor midpoint of the two resting limit prices.
func (b *Book) cross() []Match {
	var out []Match
	for len(b.bids) > 0 && len(b.asks) > 0 {
		bidLevel, askLevel := b.bids[0], b.asks[0]
		if bidLevel.price < askLevel.price {
			break
		}
		bid, ask := bidLevel.orders[0], askLevel.orders[0]
		fill := bid.Remaining
		if ask.Remaining < fill {
			fill = ask.Remaining
		}
		bid.Remaining -= fill
		ask.Remaining -= fill
		m := Match{
			CommitmentA: bid.Commitment,
			CommitmentB: ask.Commitment,
			MarketID:    b.marketID,
			FillAmount:  fill,
			Price:       (bidLevel.price + askLevel.price) / 2,
			ResidualBid: bid.Remaining > 0,
			ResidualAsk: ask.Remaining > 0,
		}
		if bid.Remaining == 0 {
			b.remove(bid)
		}
		if ask.Remaining == 0 {
			b.remove(ask)
		}
		out = append(out, m)
	}
	return out
}

func (b *Book) insert(o *bookOrder) {
	b.resting[o.Commitment] = o
	side := &b.asks
	better := func(a, b uint64) bool { return a < b }
	if o.Side == Bid {
		side = &b.bids
		better = func(a, b uint64) bool { return a > b }
	}
	levels := *side
	i := 0
	for i < len(levels) && better(levels[i].price, o.Price) {
		i++
	}
	if i < len(levels) && levels[i].price == o.Price {
		lv := levels[i]
		j := len(lv.orders)
		for j > 0 && lv.orders[j-1].Seq > o.Seq {
			j--
		}
		lv.orders = append(lv.orders, nil)
		copy(lv.orders[j+1:], lv.orders[j:])
		lv.orders[j] = o
		return
	}
	lv := &level{price: o.Price, orders: []*bookOrder{o}}
	levels = append(levels, nil)
	copy(levels[i+1:], levels[i:])
	levels[i] = lv
	*side = levels
}

func (b *Book) remove(o *bookOrder) {
	delete(b.resting, o.Commitment)
	side := &b.asks
	if o.Side == Bid {
		side = &b.bids
	}
	levels := *side
	for i, lv := range levels {
		if lv.price != o.Price {
			continue
		}
		for j, q := range lv.orders {
			if q == o {
				lv.orders = append(lv.orders[:j], lv.orders[j+1:]...)
				break
			}
		}
		if len(lv.orders) == 0 {
			*side = append(levels[:i], levels[i+1:]...)
		}
		return
	}
}
