// main.go - darkbookd entry point: wires the ledger, registry, matching
// engine, settlement coordinator, event stream, and intake API together.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sanjay-sol/darkbook/internal/coordinator"
	"github.com/sanjay-sol/darkbook/internal/engine"
	"github.com/sanjay-sol/darkbook/internal/event"
	"github.com/sanjay-sol/darkbook/internal/merkle"
	"github.com/sanjay-sol/darkbook/internal/registry"
	"github.com/sanjay-sol/darkbook/internal/store"
	"github.com/sanjay-sol/darkbook/internal/verifier"
	"github.com/sanjay-sol/darkbook/relay"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "darkbook.json", "path to the configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, logFile, err := NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("daemon failed")
	}
}

func run(cfg *Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	journal, err := store.Open(filepath.Join(cfg.DataDir, "journal"))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer journal.Close()

	tree, err := merkle.New(cfg.TreeDepth)
	if err != nil {
		return err
	}

	events := event.NewBroadcaster(log)
	cache := newIntentCache()

	proofVerifier, prover, err := buildProofStack(cfg, cache, log)
	if err != nil {
		return err
	}

	reg := registry.New(registry.Config{
		Admin:        cfg.Admin,
		Permissioned: cfg.Permissioned,
	}, tree, proofVerifier, events, journal, log)
	if cfg.Permissioned {
		if err := reg.AuthorizeMatcher(cfg.Admin, cfg.MatcherIdentity); err != nil {
			return fmt.Errorf("authorize matcher: %w", err)
		}
	}

	metrics := NewMetricsCollector()

	// The engine and coordinator reference each other; the resolver breaks
	// the construction cycle.
	resolver := &engineResolver{metrics: metrics}
	coord := coordinator.New(coordinator.Config{
		Identity:  cfg.MatcherIdentity,
		Timeout:   time.Duration(cfg.SettleTimeoutSeconds) * time.Second,
		QueueSize: cfg.SettlementQueueSize,
	}, prover, reg, resolver, log)
	eng := engine.New(engine.Config{
		BatchInterval: time.Duration(cfg.BatchIntervalMS) * time.Millisecond,
		MaxBatch:      cfg.MaxBatch,
	}, coord, log)
	resolver.eng = eng

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		coord.Run(ctx)
	}()

	if len(cfg.KafkaBrokers) > 0 {
		sub, cancel := events.Subscribe(1024)
		defer cancel()
		publisher := event.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		defer publisher.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			publisher.Run(ctx, sub)
		}()
	}

	health := NewHealthChecker(version)
	health.RegisterComponent("journal", func() error {
		_, err := journal.HasNullifier(merkle.Hash{})
		return err
	})
	health.RegisterComponent("engine", nil)

	var node *relay.Node
	if cfg.RelayAddress != "" {
		node, err = startRelay(cfg, reg, eng, cache, &wg, log)
		if err != nil {
			return err
		}
		defer node.Close()
		health.RegisterComponent("relay", nil)
	}

	limiter := NewTraderRateLimiter(cfg.RateLimitTokens, 1, time.Duration(cfg.RateLimitRefillMS)*time.Millisecond)
	server := NewServer(cfg, reg, eng, events, cache, metrics, health, limiter, log)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()

	log.Info().Str("version", version).Bool("dev_mode", cfg.DevMode).Msg("darkbookd started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-serverErr:
		stop()
		log.Error().Err(err).Msg("api server exited")
	}
	server.Close()
	wg.Wait()
	return nil
}

// buildProofStack selects the verifier and prover pair. Dev mode accepts all
// proofs and computes transition roots natively; production compiles the
// circuits and loads or generates Groth16 keys.
func buildProofStack(cfg *Config, cache *intentCache, log zerolog.Logger) (verifier.Verifier, coordinator.Prover, error) {
	if cfg.DevMode {
		return &verifier.FuncVerifier{}, devProver{}, nil
	}
	orderKeys, err := verifier.Setup(&verifier.OrderCircuit{}, cfg.KeyDir, "order")
	if err != nil {
		return nil, nil, err
	}
	matchKeys, err := verifier.Setup(&verifier.MatchCircuit{}, cfg.KeyDir, "match")
	if err != nil {
		return nil, nil, err
	}
	balanceKeys, err := verifier.Setup(&verifier.BalanceCircuit{}, cfg.KeyDir, "balance")
	if err != nil {
		return nil, nil, err
	}
	v := verifier.NewGroth16Verifier(orderKeys.VK, matchKeys.VK, balanceKeys.VK, log)
	return v, newGroth16Prover(cache, matchKeys, balanceKeys), nil
}

// engineResolver feeds settlement outcomes back into the matching loop and
// records the outcome metrics.
type engineResolver struct {
	eng     *engine.Engine
	metrics *MetricsCollector
}

func (r *engineResolver) Resolve(res engine.Result) {
	if res.Err != nil {
		r.metrics.IncrementCounter(MetricSettlementFailures, nil)
	} else {
		r.metrics.IncrementCounter(MetricSettlements, nil)
	}
	r.eng.Resolve(res)
}

// startRelay joins the operator mesh and forwards peer-relayed submissions
// and cancellations into the local registry and book.
func startRelay(cfg *Config, reg *registry.Registry, eng *engine.Engine, cache *intentCache, wg *sync.WaitGroup, log zerolog.Logger) (*relay.Node, error) {
	node := relay.NewNode(cfg.RelayNodeID, cfg.RelayAddress, cfg.RelayPeers, wg, log)

	node.RegisterHandler(relay.TypeSubmit, func(n *relay.Node, msg relay.Message) {
		var p relay.SubmitPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Warn().Err(err).Msg("bad relayed submission")
			return
		}
		cm, err := merkle.HexToHash(p.Commitment)
		if err != nil {
			return
		}
		nf, err := merkle.HexToHash(p.Nullifier)
		if err != nil {
			return
		}
		salt, err := merkle.HexToHash(p.Salt)
		if err != nil {
			return
		}
		side := engine.Bid
		sideNum := uint64(0)
		if p.Side == "ask" {
			side = engine.Ask
			sideNum = 1
		}
		if err := reg.SubmitOrder(p.Owner, cm, nf, p.MarketID, p.Proof); err != nil {
			log.Debug().Err(err).Str("commitment", p.Commitment).Msg("relayed submission rejected")
			return
		}
		cache.Put(cm, revealedOrder{MarketID: p.MarketID, Price: p.Price, Amount: p.Qty, Side: sideNum, Salt: salt})
		eng.Submit(engine.Intent{
			Commitment: cm,
			Owner:      p.Owner,
			MarketID:   p.MarketID,
			Side:       side,
			Price:      p.Price,
			Qty:        p.Qty,
		})
	})

	node.RegisterHandler(relay.TypeCancel, func(n *relay.Node, msg relay.Message) {
		var p relay.CancelPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		cm, err := merkle.HexToHash(p.Commitment)
		if err != nil {
			return
		}
		if err := reg.CancelOrder(p.Owner, cm); err != nil {
			return
		}
		eng.Cancel(cm)
	})

	ready := make(chan struct{}, 1)
	if err := node.StartServer(ready); err != nil {
		return nil, err
	}
	<-ready
	return node, nil
}
