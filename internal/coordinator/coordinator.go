// coordinator.go - Settlement coordinator between the matching engine and
// the registry.
//
// The coordinator receives match batches from the engine, produces the match
// and balance-transition proofs, and submits each settlement under a
// per-instruction deadline. A deadline expiry or any rejection is reported
// back to the engine as a failed result; the instruction is discarded, never
// retried here.

package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/sanjay-sol/darkbook/internal/engine"
	"github.com/sanjay-sol/darkbook/internal/merkle"
	"github.com/sanjay-sol/darkbook/internal/registry"
)

// ErrQueueFull is reported when a dispatched match cannot be queued.
var ErrQueueFull = errors.New("coordinator: instruction queue full")

const (
	defaultTimeout   = 5 * time.Second
	defaultQueueSize = 1024
)

// Prover produces the two settlement proofs. Implementations must respect
// ctx cancellation; proving dominates the settlement deadline.
type Prover interface {
	ProveMatch(ctx context.Context, m engine.Match) ([]byte, error)
	// ProveBalanceTransition returns the post-settlement root together with
	// the proof binding it to oldRoot and the two commitments.
	ProveBalanceTransition(ctx context.Context, oldRoot merkle.Hash, m engine.Match) (merkle.Hash, []byte, error)
}

// Settler is the registry surface the coordinator drives.
type Settler interface {
	Root() merkle.Hash
	Settle(caller string, req registry.SettleRequest) error
}

// Resolver receives the outcome of every dispatched match.
type Resolver interface {
	Resolve(engine.Result)
}

// Config tunes the coordinator. Zero values select defaults.
type Config struct {
	// Identity is the caller presented to the registry; it must be an
	// authorized matcher when settlement is permissioned.
	Identity  string
	Timeout   time.Duration
	QueueSize int
}

// Coordinator is the engine's settlement sink.
type Coordinator struct {
	cfg      Config
	queue    chan engine.Match
	prover   Prover
	settler  Settler
	resolver Resolver
	log      zerolog.Logger
}

// New creates a coordinator.
func New(cfg Config, prover Prover, settler Settler, resolver Resolver, log zerolog.Logger) *Coordinator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Coordinator{
		cfg:      cfg,
		queue:    make(chan engine.Match, cfg.QueueSize),
		prover:   prover,
		settler:  settler,
		resolver: resolver,
		log:      log.With().Str("component", "coordinator").Logger(),
	}
}

// Dispatch queues a match batch. It never blocks the matching goroutine: a
// match that does not fit is failed immediately.
func (c *Coordinator) Dispatch(batch []engine.Match) {
	for _, m := range batch {
		select {
		case c.queue <- m:
		default:
			c.log.Warn().Str("commitment_a", m.CommitmentA.Hex()).Msg("queue full, dropping instruction")
			c.resolver.Resolve(engine.Result{Match: m, Err: ErrQueueFull})
		}
	}
}

// Run settles queued matches until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-c.queue:
			c.settle(ctx, m)
		}
	}
}

func (c *Coordinator) settle(parent context.Context, m engine.Match) {
	ctx, cancel := context.WithTimeout(parent, c.cfg.Timeout)
	defer cancel()

	err := c.trySettle(ctx, m)
	if err != nil {
		c.log.Warn().
			Str("commitment_a", m.CommitmentA.Hex()).
			Str("commitment_b", m.CommitmentB.Hex()).
			Err(err).
			Msg("settlement failed")
	}
	c.resolver.Resolve(engine.Result{Match: m, Err: err})
}

func (c *Coordinator) trySettle(ctx context.Context, m engine.Match) error {
	matchProof, err := c.prover.ProveMatch(ctx, m)
	if err != nil {
		return err
	}
	oldRoot := c.settler.Root()
	newRoot, balanceProof, err := c.prover.ProveBalanceTransition(ctx, oldRoot, m)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.settler.Settle(c.cfg.Identity, registry.SettleRequest{
		CommitmentA:  m.CommitmentA,
		CommitmentB:  m.CommitmentB,
		FillAmount:   m.FillAmount,
		Price:        m.Price,
		NewRoot:      newRoot,
		ResidualA:    m.ResidualBid,
		ResidualB:    m.ResidualAsk,
		MatchProof:   matchProof,
		BalanceProof: balanceProof,
	})
}
