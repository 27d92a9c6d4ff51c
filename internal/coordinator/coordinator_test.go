package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sanjay-sol/darkbook/internal/engine"
	"github.com/sanjay-sol/darkbook/internal/merkle"
	"github.com/sanjay-sol/darkbook/internal/registry"
)

type fakeProver struct {
	matchErr   error
	balanceErr error
	delay      time.Duration
	newRoot    merkle.Hash
}

func (p *fakeProver) ProveMatch(ctx context.Context, m engine.Match) ([]byte, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.matchErr != nil {
		return nil, p.matchErr
	}
	return []byte("match-proof"), nil
}

func (p *fakeProver) ProveBalanceTransition(ctx context.Context, oldRoot merkle.Hash, m engine.Match) (merkle.Hash, []byte, error) {
	if p.balanceErr != nil {
		return merkle.Hash{}, nil, p.balanceErr
	}
	return p.newRoot, []byte("balance-proof"), nil
}

type fakeSettler struct {
	root     merkle.Hash
	err      error
	requests []registry.SettleRequest
}

func (s *fakeSettler) Root() merkle.Hash { return s.root }

func (s *fakeSettler) Settle(caller string, req registry.SettleRequest) error {
	if s.err != nil {
		return s.err
	}
	s.requests = append(s.requests, req)
	return nil
}

type chanResolver struct {
	results chan engine.Result
}

func newChanResolver() *chanResolver {
	return &chanResolver{results: make(chan engine.Result, 16)}
}

func (r *chanResolver) Resolve(res engine.Result) { r.results <- res }

func (r *chanResolver) next(t *testing.T) engine.Result {
	t.Helper()
	select {
	case res := <-r.results:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a result")
		return engine.Result{}
	}
}

func testMatch() engine.Match {
	return engine.Match{
		CommitmentA: merkle.SumUint64(1),
		CommitmentB: merkle.SumUint64(2),
		MarketID:    1,
		FillAmount:  10,
		Price:       100,
		ResidualBid: true,
	}
}

func startCoordinator(t *testing.T, cfg Config, p Prover, s Settler) (*Coordinator, *chanResolver) {
	t.Helper()
	resolver := newChanResolver()
	c := New(cfg, p, s, resolver, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return c, resolver
}

func TestSettleSuccess(t *testing.T) {
	prover := &fakeProver{newRoot: merkle.SumUint64(0xaa)}
	settler := &fakeSettler{root: merkle.SumUint64(0x11)}
	c, resolver := startCoordinator(t, Config{Identity: "matcher"}, prover, settler)

	m := testMatch()
	c.Dispatch([]engine.Match{m})

	res := resolver.next(t)
	if res.Err != nil {
		t.Fatalf("settlement failed: %v", res.Err)
	}
	if len(settler.requests) != 1 {
		t.Fatalf("settler saw %d requests, want 1", len(settler.requests))
	}
	req := settler.requests[0]
	if req.NewRoot != prover.newRoot {
		t.Errorf("request root %s, want prover root", req.NewRoot.Hex())
	}
	if !req.ResidualA || req.ResidualB {
		t.Errorf("residual flags A=%v B=%v not carried over", req.ResidualA, req.ResidualB)
	}
	if req.FillAmount != m.FillAmount || req.Price != m.Price {
		t.Errorf("request %+v does not mirror the match", req)
	}
}

func TestProofFailureResolvesWithoutSettling(t *testing.T) {
	wantErr := errors.New("unsatisfied constraint")
	prover := &fakeProver{matchErr: wantErr}
	settler := &fakeSettler{}
	c, resolver := startCoordinator(t, Config{}, prover, settler)

	c.Dispatch([]engine.Match{testMatch()})

	res := resolver.next(t)
	if !errors.Is(res.Err, wantErr) {
		t.Fatalf("got %v, want the prover error", res.Err)
	}
	if len(settler.requests) != 0 {
		t.Error("settler was called despite a proof failure")
	}
}

func TestDeadlineExpiryFailsInstruction(t *testing.T) {
	prover := &fakeProver{delay: time.Second}
	settler := &fakeSettler{}
	c, resolver := startCoordinator(t, Config{Timeout: 10 * time.Millisecond}, prover, settler)

	c.Dispatch([]engine.Match{testMatch()})

	res := resolver.next(t)
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want context.DeadlineExceeded", res.Err)
	}
	if len(settler.requests) != 0 {
		t.Error("settler was called despite the deadline expiry")
	}
}

func TestCancellationRaceSurfacesAsFailure(t *testing.T) {
	// The owner cancelled between match production and settlement; the
	// registry rejects and the failure flows back to the engine.
	prover := &fakeProver{newRoot: merkle.SumUint64(0xaa)}
	settler := &fakeSettler{err: registry.ErrNotActive}
	c, resolver := startCoordinator(t, Config{}, prover, settler)

	c.Dispatch([]engine.Match{testMatch()})

	res := resolver.next(t)
	if !errors.Is(res.Err, registry.ErrNotActive) {
		t.Fatalf("got %v, want ErrNotActive", res.Err)
	}
}

func TestDispatchNeverBlocks(t *testing.T) {
	prover := &fakeProver{delay: time.Hour}
	settler := &fakeSettler{}
	resolver := newChanResolver()
	c := New(Config{QueueSize: 1}, prover, settler, resolver, zerolog.Nop())
	// No Run goroutine: the queue fills immediately.

	c.Dispatch([]engine.Match{testMatch(), testMatch(), testMatch()})

	// The first match queued; the rest failed fast.
	for i := 0; i < 2; i++ {
		res := resolver.next(t)
		if !errors.Is(res.Err, ErrQueueFull) {
			t.Fatalf("got %v, want ErrQueueFull", res.Err)
		}
	}
}
