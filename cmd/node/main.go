// Command node runs an auction house node: a single-authority chain whose
// blocks advance the auction clock, plus the JSON-RPC endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tolelom/tolauction/config"
	"github.com/tolelom/tolauction/consensus"
	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/crypto/certgen"
	"github.com/tolelom/tolauction/events"
	"github.com/tolelom/tolauction/indexer"
	"github.com/tolelom/tolauction/internal/logging"
	"github.com/tolelom/tolauction/network"
	"github.com/tolelom/tolauction/rpc"
	"github.com/tolelom/tolauction/storage"
	"github.com/tolelom/tolauction/vm"
	"github.com/tolelom/tolauction/wallet"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/tolauction/vm/modules/asset"
	_ "github.com/tolelom/tolauction/vm/modules/auction"
	_ "github.com/tolelom/tolauction/vm/modules/economy"
)

func main() {
	cfgPath := flag.String("config", "node.toml", "path to TOML config file")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	genCerts := flag.String("gencerts", "", "issue a replication TLS certificate for node_id into this directory and exit")
	flag.Parse()

	if *genCerts != "" {
		if err := issueCerts(*cfgPath, *genCerts); err != nil {
			fmt.Fprintf(os.Stderr, "node: %v\n", err)
			os.Exit(1)
		}
		return
	}
	if err := run(*cfgPath, *keyPath, *genKey); err != nil {
		fmt.Fprintf(os.Stderr, "node: %v\n", err)
		os.Exit(1)
	}
}

// issueCerts writes the CA (on first use) and this node's certificate.
func issueCerts(cfgPath, dir string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("config: %w", err)
	}
	files, err := certgen.Issue(dir, cfg.NodeID, certgen.Options{})
	if err != nil {
		return err
	}
	fmt.Printf("[tls]\nca_cert = %q\nnode_cert = %q\nnode_key = %q\n", files.CACert, files.NodeCert, files.NodeKey)
	return nil
}

func run(cfgPath, keyPath string, genKey bool) error {
	// Keystore password comes from the environment; CLI flags show up in ps.
	password := os.Getenv("TOL_PASSWORD")

	if genKey {
		w, err := wallet.Generate()
		if err != nil {
			return err
		}
		if err := wallet.SaveKey(keyPath, password, w.PrivKey()); err != nil {
			return err
		}
		fmt.Printf("Generated key. Public key (validator address): %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", keyPath)
		return nil
	}

	cfg, err := config.Load(cfgPath)
	missing := errors.Is(err, os.ErrNotExist)
	if err != nil && !missing {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	if missing {
		log.Warn("config file not found, using defaults", zap.String("path", cfgPath))
	}
	if password == "" {
		log.Warn("TOL_PASSWORD not set; keystore uses an empty password")
	}

	w, err := wallet.Open(keyPath, password)
	if err != nil {
		return fmt.Errorf("load key: %w", err)
	}
	privKey := w.PrivKey()
	if err := cfg.UseSoloDefaults(privKey.Public().Hex()); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "chain"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	// State, blocks and indexes share one DB under distinct key prefixes.
	state := storage.NewStateDB(db)
	bc := core.NewBlockchain(storage.NewBlockStore(db))
	if err := bc.Init(); err != nil {
		return fmt.Errorf("blockchain init: %w", err)
	}

	emitter := events.NewEmitter(log)
	idx, err := indexer.New(db, emitter, log)
	if err != nil {
		return fmt.Errorf("indexer: %w", err)
	}

	authority := cfg.IsValidator(privKey.Public().Hex())
	if bc.Tip() == nil {
		if authority {
			genesisBlock, err := config.CreateGenesisBlock(cfg, state, privKey)
			if err != nil {
				return fmt.Errorf("genesis: %w", err)
			}
			if err := bc.AddBlock(genesisBlock); err != nil {
				return fmt.Errorf("add genesis: %w", err)
			}
			log.Info("genesis block committed", zap.String("hash", genesisBlock.Hash))
		} else {
			// Replicas adopt block 0 from the authority once state matches it.
			if err := config.ApplyGenesis(cfg, state); err != nil {
				return fmt.Errorf("genesis: %w", err)
			}
			if err := state.Commit(); err != nil {
				return fmt.Errorf("genesis commit: %w", err)
			}
		}
	}

	mempool := core.NewMempool()
	exec := vm.NewExecutor(state, emitter, log)
	exec.RequireChainID(cfg.Genesis.ChainID)
	poa := consensus.New(cfg, bc, state, mempool, exec, emitter, privKey, log)

	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(bc, mempool, db, idx, cfg.Genesis.ChainID, log)

	if cfg.P2PPort > 0 {
		tlsCfg, err := cfg.TLS.Load()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		p2p := network.NewNode(cfg.NodeID, fmt.Sprintf(":%d", cfg.P2PPort), tlsCfg, log)
		repl := network.NewReplicator(p2p, bc, poa, mempool, log)
		if authority {
			repl.AnnounceCommits(emitter)
		} else {
			rpcHandler.OnTxAccepted(repl.BroadcastTx)
		}
		if err := p2p.Start(); err != nil {
			return fmt.Errorf("p2p start: %w", err)
		}
		defer p2p.Stop()
		log.Info("p2p listening",
			zap.String("addr", p2p.Addr().String()),
			zap.Bool("tls", tlsCfg != nil),
			zap.Bool("authority", authority))
		peersCtx, cancelPeers := context.WithCancel(context.Background())
		defer cancelPeers()
		for _, peer := range cfg.Peers {
			go keepConnected(peersCtx, p2p, repl, peer, log)
		}
	} else if !authority {
		return errors.New("replica needs p2p_port and peers")
	}

	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken, log)
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	log.Info("rpc listening", zap.String("addr", rpcAddr), zap.Bool("auth", cfg.RPCAuthToken != ""))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if authority {
		g.Go(func() error {
			log.Info("consensus running",
				zap.String("validator", privKey.Public().Hex()),
				zap.Duration("interval", cfg.BlockInterval.Duration))
			return poa.Run(ctx, cfg.BlockInterval.Duration)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		return rpcServer.Stop()
	})
	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

const reconnectInterval = 5 * time.Second

// keepConnected dials peer and redials whenever the connection drops.
func keepConnected(ctx context.Context, p2p *network.Node, repl *network.Replicator, peer config.PeerConfig, log *zap.Logger) {
	ticker := time.NewTicker(reconnectInterval)
	defer ticker.Stop()
	for {
		if !p2p.Connected(peer.ID) {
			dialCtx, cancel := context.WithTimeout(ctx, reconnectInterval)
			err := repl.Connect(dialCtx, peer.ID, peer.Addr)
			cancel()
			if err != nil {
				log.Warn("peer connect failed", zap.String("peer", peer.ID), zap.String("addr", peer.Addr), zap.Error(err))
			} else {
				log.Info("peer connected", zap.String("peer", peer.ID))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
