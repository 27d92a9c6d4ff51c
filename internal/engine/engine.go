// engine.go - Single-goroutine matching loop.
//
// All book mutation happens on the Run goroutine; submissions, cancellations,
// and settlement results arrive over one command channel, so the book needs
// no locking and match production is strictly ordered. Matches are batched
// and handed to the sink; a failed settlement refunds the filled quantity to
// the book at the order's original queue position.

package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/sanjay-sol/darkbook/internal/merkle"
)

const (
	defaultBatchInterval = 10 * time.Millisecond
	defaultMaxBatch      = 32
	cmdBuffer            = 256
)

// Result reports the settlement outcome of one dispatched match.
type Result struct {
	Match Match
	Err   error
}

// Sink receives match batches for settlement. Dispatch must not block for
// long; it runs on the matching goroutine.
type Sink interface {
	Dispatch(batch []Match)
}

// Config tunes the batching behavior. Zero values select defaults.
type Config struct {
	BatchInterval time.Duration
	MaxBatch      int
}

type cmdKind uint8

const (
	cmdSubmit cmdKind = iota
	cmdCancel
	cmdResolve
)

type command struct {
	kind       cmdKind
	intent     Intent
	commitment merkle.Hash
	result     Result
}

// orderRef retains enough of a dispatched order to refund it after a failed
// settlement: the revealed intent, its arrival sequence, and how many of its
// matches are still in flight.
type orderRef struct {
	intent  Intent
	seq     uint64
	pending int
}

// Engine owns the per-market books and the matching loop.
type Engine struct {
	cfg  Config
	cmds chan command
	sink Sink
	log  zerolog.Logger

	books     map[uint32]*Book
	refs      map[merkle.Hash]*orderRef
	cancelled map[merkle.Hash]struct{}
	seq       uint64
	batch     []Match
}

// New creates an engine dispatching into sink.
func New(cfg Config, sink Sink, log zerolog.Logger) *Engine {
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = defaultBatchInterval
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}
	return &Engine{
		cfg:       cfg,
		cmds:      make(chan command, cmdBuffer),
		sink:      sink,
		log:       log.With().Str("component", "engine").Logger(),
		books:     make(map[uint32]*Book),
		refs:      make(map[merkle.Hash]*orderRef),
		cancelled: make(map[merkle.Hash]struct{}),
	}
}

// Submit queues a revealed intent for matching.
func (e *Engine) Submit(in Intent) {
	e.cmds <- command{kind: cmdSubmit, intent: in}
}

// Cancel queues removal of a resting order.
func (e *Engine) Cancel(c merkle.Hash) {
	e.cmds <- command{kind: cmdCancel, commitment: c}
}

// Resolve reports a settlement outcome back to the matching loop.
func (e *Engine) Resolve(res Result) {
	e.cmds <- command{kind: cmdResolve, result: res}
}

// Run drives the matching loop until ctx is cancelled. It flushes any
// buffered matches before returning.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.BatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.flush()
			return
		case cmd := <-e.cmds:
			e.handle(cmd)
			if len(e.batch) >= e.cfg.MaxBatch {
				e.flush()
			}
		case <-ticker.C:
			e.flush()
		}
	}
}

func (e *Engine) handle(cmd command) {
	switch cmd.kind {
	case cmdSubmit:
		e.submit(cmd.intent)
	case cmdCancel:
		e.cancel(cmd.commitment)
	case cmdResolve:
		e.resolve(cmd.result)
	}
}

func (e *Engine) submit(in Intent) {
	if _, ok := e.refs[in.Commitment]; ok {
		e.log.Warn().Str("commitment", in.Commitment.Hex()).Msg("duplicate intent dropped")
		return
	}
	book, ok := e.books[in.MarketID]
	if !ok {
		book = NewBook(in.MarketID)
		e.books[in.MarketID] = book
	}
	e.seq++
	e.refs[in.Commitment] = &orderRef{intent: in, seq: e.seq}
	e.emit(book.Add(in, e.seq))
}

func (e *Engine) cancel(c merkle.Hash) {
	ref, ok := e.refs[c]
	if !ok {
		return
	}
	e.cancelled[c] = struct{}{}
	if book, ok := e.books[ref.intent.MarketID]; ok {
		book.Cancel(c)
	}
	e.prune(c)
}

func (e *Engine) resolve(res Result) {
	m := res.Match
	if res.Err != nil {
		e.log.Warn().
			Str("commitment_a", m.CommitmentA.Hex()).
			Str("commitment_b", m.CommitmentB.Hex()).
			Err(res.Err).
			Msg("settlement failed, refunding fill")
		e.refund(m.CommitmentA, m.FillAmount)
		e.refund(m.CommitmentB, m.FillAmount)
	}
	e.settle(m.CommitmentA)
	e.settle(m.CommitmentB)
}

// refund returns a failed fill's quantity to the book. A cancelled order is
// not restored.
func (e *Engine) refund(c merkle.Hash, qty uint64) {
	if _, gone := e.cancelled[c]; gone {
		return
	}
	ref, ok := e.refs[c]
	if !ok {
		return
	}
	book, ok := e.books[ref.intent.MarketID]
	if !ok {
		return
	}
	book.Refund(ref.intent, ref.seq, qty)
	e.emit(book.cross())
}

func (e *Engine) settle(c merkle.Hash) {
	ref, ok := e.refs[c]
	if !ok {
		return
	}
	if ref.pending > 0 {
		ref.pending--
	}
	e.prune(c)
}

// prune drops bookkeeping for an order that is neither resting nor awaiting
// a settlement outcome.
func (e *Engine) prune(c merkle.Hash) {
	ref, ok := e.refs[c]
	if !ok {
		return
	}
	if ref.pending > 0 {
		return
	}
	if book, ok := e.books[ref.intent.MarketID]; ok && book.Contains(c) {
		return
	}
	delete(e.refs, c)
	delete(e.cancelled, c)
}

func (e *Engine) emit(matches []Match) {
	for _, m := range matches {
		if ref, ok := e.refs[m.CommitmentA]; ok {
			ref.pending++
		}
		if ref, ok := e.refs[m.CommitmentB]; ok {
			ref.pending++
		}
	}
	e.batch = append(e.batch, matches...)
}

func (e *Engine) flush() {
	if len(e.batch) == 0 {
		return
	}
	batch := e.batch
	e.batch = nil
	e.log.Debug().Int("matches", len(batch)).Msg("dispatching batch")
	e.sink.Dispatch(batch)
}
