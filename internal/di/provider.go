package di

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/meridianswap/swapd/internal/config"
	"github.com/meridianswap/swapd/internal/core/amm"
	"github.com/meridianswap/swapd/internal/core/ledgers"
	"github.com/meridianswap/swapd/internal/core/request"
	"github.com/meridianswap/swapd/internal/core/service"
	"github.com/meridianswap/swapd/internal/core/settle"
	"github.com/meridianswap/swapd/internal/core/token"
	"github.com/meridianswap/swapd/internal/crypto/signer"
	"github.com/meridianswap/swapd/internal/crypto/verifier"
	"github.com/meridianswap/swapd/internal/rpc"
	"github.com/meridianswap/swapd/internal/storage/keyValueDb"
	pebbledb "github.com/meridianswap/swapd/internal/storage/keyValueDb/pebble"
	"github.com/meridianswap/swapd/internal/storage/relationalDb"
)

// Provider registers builders for the full application graph.
type Provider struct {
	container *Container
	config    *config.Config
	log       zerolog.Logger
}

// NewProvider creates a provider bound to a container and configuration.
func NewProvider(container *Container, cfg *config.Config, log zerolog.Logger) *Provider {
	return &Provider{container: container, config: cfg, log: log}
}

// RegisterAll registers builders for every service.
func (p *Provider) RegisterAll() {
	p.container.Register(ServiceConfig, p.config)

	p.registerStorageBuilders()
	p.registerCryptoBuilders()
	p.registerCoreBuilders()
	p.registerRPCBuilders()
}

func (p *Provider) registerStorageBuilders() {
	p.container.RegisterBuilder(ServiceKVManager, func(c *Container) (interface{}, error) {
		return pebbledb.NewManager(p.config.Storage.DatabasePath), nil
	})

	p.container.RegisterBuilder(ServiceKVStore, func(c *Container) (interface{}, error) {
		manager, err := c.Get(ServiceKVManager)
		if err != nil {
			return nil, err
		}
		return manager.(*pebbledb.Manager).OpenDB("state")
	})

	p.container.RegisterBuilder(ServiceHistory, func(c *Container) (interface{}, error) {
		if p.config.Storage.HistoryPath == "" {
			return (*relationalDb.Store)(nil), nil
		}
		return relationalDb.Open(p.config.Storage.HistoryPath, p.log)
	})
}

func (p *Provider) registerCryptoBuilders() {
	p.container.RegisterBuilder(ServiceSigner, func(c *Container) (interface{}, error) {
		priv, err := loadSigningKey(p.config.Signer.KeyFile)
		if err != nil {
			return nil, err
		}
		return signer.NewLocal(priv)
	})

	p.container.RegisterBuilder(ServiceVerifier, func(c *Container) (interface{}, error) {
		return verifier.New(p.config.ProofMaxSkew()), nil
	})
}

func (p *Provider) registerCoreBuilders() {
	p.container.RegisterBuilder(ServiceTokens, func(c *Container) (interface{}, error) {
		db, err := c.Get(ServiceKVStore)
		if err != nil {
			return nil, err
		}
		return token.NewRegistry(db.(keyValueDb.DB), p.log)
	})

	p.container.RegisterBuilder(ServiceLedgers, func(c *Container) (interface{}, error) {
		db, err := c.Get(ServiceKVStore)
		if err != nil {
			return nil, err
		}
		return ledgers.New(db.(keyValueDb.DB), p.log), nil
	})

	p.container.RegisterBuilder(ServiceRequests, func(c *Container) (interface{}, error) {
		db, err := c.Get(ServiceKVStore)
		if err != nil {
			return nil, err
		}
		return request.NewLedger(db.(keyValueDb.DB), p.log), nil
	})

	p.container.RegisterBuilder(ServiceCoordinator, func(c *Container) (interface{}, error) {
		db, err := c.Get(ServiceKVStore)
		if err != nil {
			return nil, err
		}
		tokens, err := c.Get(ServiceTokens)
		if err != nil {
			return nil, err
		}
		ledger, err := c.Get(ServiceLedgers)
		if err != nil {
			return nil, err
		}
		requests, err := c.Get(ServiceRequests)
		if err != nil {
			return nil, err
		}
		sign, err := c.Get(ServiceSigner)
		if err != nil {
			return nil, err
		}

		var recorder settle.TxRecorder
		if h, err := c.Get(ServiceHistory); err == nil {
			if store, ok := h.(*relationalDb.Store); ok && store != nil {
				recorder = store
			}
		}

		cfg := settle.Config{
			EngineAccount: p.config.Settlement.EngineAccount,
			AnchorMaxAge:  p.config.AnchorMaxAge(),
		}
		return settle.NewCoordinator(
			db.(keyValueDb.DB),
			tokens.(*token.Registry),
			ledger.(*ledgers.Ledger),
			requests.(*request.Ledger),
			sign.(signer.Signer),
			recorder,
			cfg,
			p.log,
		), nil
	})

	p.container.RegisterBuilder(ServiceEngine, func(c *Container) (interface{}, error) {
		db, err := c.Get(ServiceKVStore)
		if err != nil {
			return nil, err
		}
		tokens, err := c.Get(ServiceTokens)
		if err != nil {
			return nil, err
		}
		ledger, err := c.Get(ServiceLedgers)
		if err != nil {
			return nil, err
		}
		pools := amm.NewPoolStore(db.(keyValueDb.DB))
		return amm.NewEngine(pools, tokens.(*token.Registry), ledger.(*ledgers.Ledger), p.log), nil
	})

	p.container.RegisterBuilder(ServiceCore, func(c *Container) (interface{}, error) {
		engine, err := c.Get(ServiceEngine)
		if err != nil {
			return nil, err
		}
		coord, err := c.Get(ServiceCoordinator)
		if err != nil {
			return nil, err
		}
		requests, err := c.Get(ServiceRequests)
		if err != nil {
			return nil, err
		}
		tokens, err := c.Get(ServiceTokens)
		if err != nil {
			return nil, err
		}
		ledger, err := c.Get(ServiceLedgers)
		if err != nil {
			return nil, err
		}
		verify, err := c.Get(ServiceVerifier)
		if err != nil {
			return nil, err
		}
		hub, err := c.Get(ServiceEventHub)
		if err != nil {
			return nil, err
		}

		return service.New(
			engine.(*amm.Engine),
			coord.(*settle.Coordinator),
			requests.(*request.Ledger),
			tokens.(*token.Registry),
			ledger.(*ledgers.Ledger),
			verify.(*verifier.Verifier),
			hub.(*rpc.EventHub),
			p.log,
		), nil
	})
}

func (p *Provider) registerRPCBuilders() {
	p.container.RegisterBuilder(ServiceEventHub, func(c *Container) (interface{}, error) {
		return rpc.NewEventHub(p.log), nil
	})

	p.container.RegisterBuilder(ServiceRPCServer, func(c *Container) (interface{}, error) {
		svc, err := c.Get(ServiceCore)
		if err != nil {
			return nil, err
		}

		var history *relationalDb.Store
		if h, err := c.Get(ServiceHistory); err == nil {
			if store, ok := h.(*relationalDb.Store); ok {
				history = store
			}
		}

		return rpc.NewServer(
			svc.(*service.Service),
			history,
			p.config.Server.AdminPrincipal,
			p.config.RequestTimeout(),
			p.log,
		), nil
	})
}

// loadSigningKey reads a hex-encoded ed25519 seed from disk.
func loadSigningKey(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key %s: %w", path, err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("signing key %s is not hex: %w", path, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key %s: want %d-byte seed, got %d", path, ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
