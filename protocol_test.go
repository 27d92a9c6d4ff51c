// protocol_test.go - End-to-end exercise of the commit/settle flow: deposits,
// hidden submissions, matching, coordinated settlement, and the event stream.

package darkbook

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sanjay-sol/darkbook/internal/coordinator"
	"github.com/sanjay-sol/darkbook/internal/engine"
	"github.com/sanjay-sol/darkbook/internal/event"
	"github.com/sanjay-sol/darkbook/internal/merkle"
	"github.com/sanjay-sol/darkbook/internal/registry"
	"github.com/sanjay-sol/darkbook/internal/store"
	"github.com/sanjay-sol/darkbook/internal/verifier"
)

// nativeProver computes transition roots without Groth16, mirroring the
// daemon's dev mode.
type nativeProver struct{}

func (nativeProver) ProveMatch(ctx context.Context, m engine.Match) ([]byte, error) {
	return nil, ctx.Err()
}

func (nativeProver) ProveBalanceTransition(ctx context.Context, oldRoot merkle.Hash, m engine.Match) (merkle.Hash, []byte, error) {
	if err := ctx.Err(); err != nil {
		return merkle.Hash{}, nil, err
	}
	fill := verifier.FillBinding(m.FillAmount, m.Price)
	return verifier.TransitionRoot(oldRoot, m.CommitmentA, m.CommitmentB, fill), nil, nil
}

// engineResolver feeds settlement outcomes back to the matching loop.
type engineResolver struct {
	eng *engine.Engine
}

func (r *engineResolver) Resolve(res engine.Result) { r.eng.Resolve(res) }

type trader struct {
	name string
	sk   merkle.Hash
}

type stack struct {
	reg    *registry.Registry
	eng    *engine.Engine
	events *event.Broadcaster
}

func startStack(t *testing.T) *stack {
	t.Helper()
	log := zerolog.Nop()

	journal, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { journal.Close() })

	tree, err := merkle.New(8)
	if err != nil {
		t.Fatalf("merkle.New: %v", err)
	}

	events := event.NewBroadcaster(log)

	// Accept-all oracle with one consistency check: a transition must
	// actually move the root.
	v := &verifier.FuncVerifier{
		BalanceFn: func(proof []byte, st verifier.BalanceStatement) bool {
			return st.NewRoot != st.OldRoot
		},
	}

	reg := registry.New(registry.Config{Admin: "admin"}, tree, v, events, journal, log)

	resolver := &engineResolver{}
	coord := coordinator.New(coordinator.Config{Identity: "operator", Timeout: 2 * time.Second}, nativeProver{}, reg, resolver, log)
	eng := engine.New(engine.Config{BatchInterval: time.Millisecond}, coord, log)
	resolver.eng = eng

	ctx, cancel := context.WithCancel(context.Background())
	engDone := make(chan struct{})
	coordDone := make(chan struct{})
	go func() {
		eng.Run(ctx)
		close(engDone)
	}()
	go func() {
		coord.Run(ctx)
		close(coordDone)
	}()
	t.Cleanup(func() {
		cancel()
		<-engDone
		<-coordDone
	})

	return &stack{reg: reg, eng: eng, events: events}
}

// submitHidden builds the commitment and nullifier the way a trader would and
// routes both the public submission and the revealed intent.
func submitHidden(t *testing.T, s *stack, tr trader, marketID uint32, side uint64, price, qty uint64, saltSeed uint64) merkle.Hash {
	t.Helper()
	salt := merkle.SumUint64(saltSeed)
	cm := verifier.CommitOrder(marketID, price, qty, side, salt)
	nf := verifier.NullifierFor(tr.sk, cm)

	if err := s.reg.SubmitOrder(tr.name, cm, nf, marketID, nil); err != nil {
		t.Fatalf("SubmitOrder for %s failed: %v", tr.name, err)
	}
	engSide := engine.Bid
	if side == verifier.SideAsk {
		engSide = engine.Ask
	}
	s.eng.Submit(engine.Intent{
		Commitment: cm,
		Owner:      tr.name,
		MarketID:   marketID,
		Side:       engSide,
		Price:      price,
		Qty:        qty,
	})
	return cm
}

func waitForStatus(t *testing.T, s *stack, cm merkle.Hash, want registry.Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if got := s.reg.OrderStatus(cm); got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("order %s stuck at %v, want %v", cm.Hex(), s.reg.OrderStatus(cm), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCommitMatchSettleFlow(t *testing.T) {
	s := startStack(t)
	alice := trader{name: "alice", sk: merkle.SumUint64(0xa11ce)}
	bob := trader{name: "bob", sk: merkle.SumUint64(0xb0b)}

	if err := s.reg.AddAsset("admin", 1); err != nil {
		t.Fatalf("AddAsset failed: %v", err)
	}
	for _, tr := range []trader{alice, bob} {
		leaf := verifier.BalanceLeaf(tr.sk, 1_000_000)
		if _, err := s.reg.Deposit(tr.name, 1, 1_000_000, leaf); err != nil {
			t.Fatalf("Deposit for %s failed: %v", tr.name, err)
		}
	}

	sub, cancel := s.events.Subscribe(64)
	defer cancel()
	preRoot := s.reg.Root()

	bid := submitHidden(t, s, alice, 1, verifier.SideBid, 2000, 100, 1)
	ask := submitHidden(t, s, bob, 1, verifier.SideAsk, 1990, 100, 2)

	waitForStatus(t, s, bid, registry.StatusFilled)
	waitForStatus(t, s, ask, registry.StatusFilled)

	if got := s.reg.ActiveCount(1); got != 0 {
		t.Errorf("active count %d, want 0", got)
	}

	log := s.reg.Settlements()
	if len(log) != 1 {
		t.Fatalf("settlement log has %d entries, want 1", len(log))
	}
	rec := log[0]
	if rec.FillAmount != 100 || rec.Price != 1995 {
		t.Errorf("settled %d at %d, want 100 at midpoint 1995", rec.FillAmount, rec.Price)
	}

	// The root moved to the committed transition of the pre-settlement root.
	fill := verifier.FillBinding(rec.FillAmount, rec.Price)
	want := verifier.TransitionRoot(preRoot, rec.CommitmentA, rec.CommitmentB, fill)
	if got := s.reg.Root(); got != want {
		t.Errorf("root %s, want committed transition %s", got.Hex(), want.Hex())
	}

	// The event stream saw the settlement and the root update.
	seen := make(map[event.Type]bool)
	deadline := time.After(2 * time.Second)
	for !(seen[event.TypeSettlement] && seen[event.TypeRootUpdate]) {
		select {
		case e := <-sub:
			seen[e.Type] = true
		case <-deadline:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
}

func TestPartialFillKeepsResidualOpen(t *testing.T) {
	s := startStack(t)
	alice := trader{name: "alice", sk: merkle.SumUint64(0xa11ce)}
	bob := trader{name: "bob", sk: merkle.SumUint64(0xb0b)}

	bid := submitHidden(t, s, alice, 1, verifier.SideBid, 100, 100, 1)
	ask := submitHidden(t, s, bob, 1, verifier.SideAsk, 100, 60, 2)

	waitForStatus(t, s, ask, registry.StatusFilled)
	waitForStatus(t, s, bid, registry.StatusPartialFill)

	if got := s.reg.ActiveCount(1); got != 1 {
		t.Errorf("active count %d, want the residual bid", got)
	}

	// The residual remainder fills against a later ask.
	ask2 := submitHidden(t, s, bob, 1, verifier.SideAsk, 100, 40, 3)
	waitForStatus(t, s, bid, registry.StatusFilled)
	waitForStatus(t, s, ask2, registry.StatusFilled)

	if got := len(s.reg.Settlements()); got != 2 {
		t.Errorf("settlement log has %d entries, want 2", got)
	}
}

func TestCancelBeforeMatch(t *testing.T) {
	s := startStack(t)
	alice := trader{name: "alice", sk: merkle.SumUint64(0xa11ce)}
	bob := trader{name: "bob", sk: merkle.SumUint64(0xb0b)}

	bid := submitHidden(t, s, alice, 1, verifier.SideBid, 100, 10, 1)
	if err := s.reg.CancelOrder("alice", bid); err != nil {
		t.Fatalf("CancelOrder failed: %v", err)
	}
	s.eng.Cancel(bid)

	// Give the engine time to process the cancellation before the ask lands.
	time.Sleep(20 * time.Millisecond)
	ask := submitHidden(t, s, bob, 1, verifier.SideAsk, 100, 10, 2)

	time.Sleep(100 * time.Millisecond)
	if got := s.reg.OrderStatus(bid); got != registry.StatusCancelled {
		t.Errorf("cancelled bid drifted to %v", got)
	}
	if got := s.reg.OrderStatus(ask); got != registry.StatusActive {
		t.Errorf("ask status %v, want active with no counterparty", got)
	}
	if got := len(s.reg.Settlements()); got != 0 {
		t.Errorf("settlement log has %d entries, want 0", got)
	}
}
