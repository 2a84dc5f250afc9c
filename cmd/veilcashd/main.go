// main.go - Confidential-transfer ledger daemon.
//
// The daemon runs one replica of the confidential-transfer ledger:
//   - a client HTTP API for submitting transfers and accepts and for
//     querying account state
//   - a gossip node that floods transactions and chain heights to peers
//   - a block ticker that advances the chain height on a fixed interval
//     and sweeps timed-out pending transfers into refunds
//   - periodic JSON snapshots of the ledger for restart recovery
//
// Usage:
//
//	veilcashd -config config.json [-tick]
//
// With -tick the daemon drives the chain clock itself; without it the node
// follows heights announced by its peers.
package main

import (
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"veilcash/internal/currency"
	"veilcash/p2p"
)

const version = "1.2.0"

// gossipHealth builds the health check for the gossip component. Pongs are
// asynchronous, so each invocation reads the results of the ping round the
// previous one started, then kicks off the next round. A node with no
// configured peers is always healthy.
func gossipHealth(node *p2p.Node, selfID string, peers map[string]string) func() error {
	return func() error {
		total, healthy := 0, 0
		for peerID := range peers {
			if peerID == selfID {
				continue
			}
			total++
			if node.PeerHealthy(peerID) {
				healthy++
			}
		}
		node.HealthCheck()
		if total > 0 && healthy == 0 {
			return fmt.Errorf("no reachable gossip peers (0 of %d)", total)
		}
		return nil
	}
}

func main() {
	configPath := flag.String("config", "config.json", "path to the daemon configuration file")
	tick := flag.Bool("tick", false, "drive the block clock from this node")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	auditPath := ""
	if cfg.EnableAudit {
		auditPath = cfg.AuditLogPath
	}
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFile, auditPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	// Load the ledger snapshot if one exists, otherwise start fresh.
	var ledger *currency.Ledger
	if l, err := currency.LoadLedgerFromFile(cfg.LedgerPath); err == nil {
		ledger = l
		logger.Info("Loaded ledger snapshot from %s at height %d", cfg.LedgerPath, l.CurrentHeight())
	} else {
		ledger, err = currency.NewLedger(currency.NewMemStore(), cfg.Protocol)
		if err != nil {
			logger.Fatal("failed to create ledger: %v", err)
		}
		logger.Info("Starting with an empty ledger")
	}

	metrics := NewMetricsCollector()
	health := NewHealthChecker(version)
	limiter := NewClientRateLimiter(cfg.RateLimitTokens, cfg.RateLimitRefill, time.Second)

	// Gossip node on its own listener.
	var wg sync.WaitGroup
	node := p2p.NewNode(cfg.NodeID, cfg.GossipAddr, cfg.Peers, ledger, &wg)
	ready := make(chan struct{}, 1)
	node.StartServer(ready)
	<-ready
	logger.Info("Gossip node %s listening on %s with %d peers", cfg.NodeID, cfg.GossipAddr, len(cfg.Peers))

	health.RegisterComponent("ledger", func() error {
		_, err := ledger.AccountState(nil)
		if errors.Is(err, currency.ErrUnknownSender) {
			return nil // store reachable, key simply absent
		}
		return err
	})
	health.RegisterComponent("gossip", gossipHealth(node, cfg.NodeID, cfg.Peers))
	node.HealthCheck() // prime the first ping round

	api := &apiServer{
		node:    node,
		logger:  logger,
		metrics: metrics,
		health:  health,
		limiter: limiter,
	}
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.routes(),
	}

	done := make(chan struct{})

	// Block ticker: advance the height once per interval, refund expired
	// transfers, and let peers know.
	if *tick {
		interval := time.Duration(cfg.BlockIntervalSeconds) * time.Second
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					height := ledger.CurrentHeight() + 1
					refunded := node.AnnounceHeight(height)
					metrics.RecordHeight(height)
					metrics.RecordRefunds(len(refunded))
					for _, id := range refunded {
						logger.Info("Refunded transfer %s at height %d", id, height)
						logger.Audit("transfer_refunded", map[string]interface{}{
							"id": id.String(), "height": height,
						})
					}
				}
			}
		}()
	}

	// Periodic ledger snapshots.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := ledger.SaveToFile(cfg.LedgerPath); err != nil {
					logger.Error("Ledger snapshot failed: %v", err)
					health.UpdateComponent("ledger", Degraded, err.Error())
				}
			}
		}
	}()

	go func() {
		logger.Info("API server listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("API server failed: %v", err)
		}
	}()

	// Shut down on SIGINT/SIGTERM, saving a final snapshot.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down")
	close(done)
	server.Close()
	node.Close()
	wg.Wait()
	if err := ledger.SaveToFile(cfg.LedgerPath); err != nil {
		logger.Error("Final ledger snapshot failed: %v", err)
	}
	logger.Info("Ledger saved to %s at height %d", cfg.LedgerPath, ledger.CurrentHeight())
}
