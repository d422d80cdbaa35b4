package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"EstateChain/internal/api"
	"EstateChain/internal/broker"
	"EstateChain/internal/config"
	"EstateChain/internal/deal"
	"EstateChain/internal/escrow"
	"EstateChain/internal/escrow/evm"
	"EstateChain/internal/ledger"
	"EstateChain/internal/ledger/canister"
	"EstateChain/internal/neighborhoods"
	"EstateChain/internal/observability/alerting"
	"EstateChain/internal/protocol"
	"EstateChain/internal/scoring"
	"EstateChain/internal/scoring/remote"
	"EstateChain/internal/transport"
	"EstateChain/pkg/logger"
)

// main 是 EstateChain 经纪守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("estatechaind 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("ESTATECHAIN_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "estatechain.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		OutputPaths: cfg.Log.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled: cfg.Log.AuditPath != "",
			Path:    cfg.Log.AuditPath,
		},
	}); err != nil {
		return err
	}
	defer logger.Close()

	// 初始化账本客户端。
	ledgerClient, err := createLedgerClient(cfg)
	if err != nil {
		return err
	}
	defer ledgerClient.Close()

	// 初始化评分引擎。
	engine, err := createScoringEngine(cfg)
	if err != nil {
		return err
	}

	var notesProvider neighborhoods.Provider
	if cfg.Neighborhoods.Source != "" {
		provider, err := neighborhoods.LoadStaticProvider(cfg.Neighborhoods.Source, cfg.Neighborhoods.MaxResults)
		if err != nil {
			return err
		}
		notesProvider = provider
	}

	var dealStore deal.Store
	switch cfg.DealStore.Driver {
	case "", "memory":
		dealStore = deal.NewMemoryStore()
	case "mysql":
		store, err := deal.NewMySQLStore(ctx, deal.MySQLConfig{
			DSN:             cfg.DealStore.DSN,
			MaxOpenConns:    cfg.DealStore.MaxOpenConns,
			MaxIdleConns:    cfg.DealStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.DealStore.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.DealStore.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		dealStore = store
	default:
		return fmt.Errorf("未知的交易存储驱动: %s", cfg.DealStore.Driver)
	}
	defer dealStore.Close()

	verifier, err := createEscrowVerifier(ctx, cfg)
	if err != nil {
		return err
	}
	defer verifier.Close()

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}
	dispatcher := alerting.NewFanout(notifiers...)

	matchBroker := broker.New(ledgerClient, engine,
		broker.WithNeighborhoodProvider(notesProvider),
	)
	coordinator := deal.NewCoordinator(dealStore, ledgerClient, verifier,
		deal.WithEscrowAccount(cfg.Escrow.Account),
		deal.WithAlertDispatcher(dispatcher),
	)

	router := protocol.NewRouter()
	if err := router.Register(protocol.KindListing, matchBroker.HandleListing); err != nil {
		return err
	}
	if err := router.Register(protocol.KindQuery, matchBroker.HandleQuery); err != nil {
		return err
	}
	if err := router.Register(protocol.KindTransaction, coordinator.HandleTransaction); err != nil {
		return err
	}

	bus, err := createBus(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			log.Printf("关闭消息总线失败: %v", err)
		}
	}()

	consumeCtx, consumeCancel := context.WithCancel(ctx)
	defer consumeCancel()

	go func() {
		handler := transport.Bind(router, bus, cfg.Identity.AgentID)
		if err := bus.Consume(consumeCtx, cfg.Bus.Workers, handler); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("消息总线消费异常退出: %v", err)
		}
	}()

	server := api.NewServer(cfg.Server.Address, router, coordinator, cfg.Identity.AgentID)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createLedgerClient(cfg *config.Config) (ledger.Client, error) {
	switch cfg.Ledger.Driver {
	case "", "memory":
		return ledger.NewMemoryLedger(), nil
	case "canister":
		def := ledger.Definition{URL: cfg.Ledger.URL}
		if cfg.Ledger.Catalog != "" {
			defs, err := ledger.LoadDefinitions(cfg.Ledger.Catalog)
			if err != nil {
				return nil, err
			}
			entry, ok := defs.Ledgers[cfg.Ledger.Name]
			if !ok {
				return nil, fmt.Errorf("账本目录中不存在 %q", cfg.Ledger.Name)
			}
			def = entry
		}
		return canister.NewClient(canister.Config{
			URL:        def.URL,
			CanisterID: def.CanisterID,
			Timeout:    time.Duration(def.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的账本驱动: %s", cfg.Ledger.Driver)
	}
}

func createScoringEngine(cfg *config.Config) (scoring.Engine, error) {
	engine := scoring.NewRuleEngine()
	switch cfg.Scoring.FraudProvider {
	case "", "rules":
		return engine, nil
	case "remote":
		screener, err := remote.NewScreener(remote.Config{
			URL:     cfg.Scoring.RemoteURL,
			APIKey:  cfg.Scoring.RemoteAPIKey,
			Timeout: time.Duration(cfg.Scoring.RemoteTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return scoring.Engine{}, err
		}
		engine.Fraud = screener
		return engine, nil
	default:
		return scoring.Engine{}, fmt.Errorf("未知的欺诈初筛 provider: %s", cfg.Scoring.FraudProvider)
	}
}

func createEscrowVerifier(ctx context.Context, cfg *config.Config) (escrow.Verifier, error) {
	switch cfg.Escrow.Driver {
	case "", "static":
		return escrow.StaticVerifier{Approve: cfg.Escrow.Approve}, nil
	case "evm":
		return evm.NewClient(ctx, evm.Config{
			Name:   "escrow",
			RPCURL: cfg.Escrow.RPCURL,
		})
	default:
		return nil, fmt.Errorf("未知的托管核验驱动: %s", cfg.Escrow.Driver)
	}
}

func createBus(cfg *config.Config) (transport.Bus, error) {
	switch cfg.Bus.Driver {
	case "", "memory":
		return transport.NewMemoryBus(cfg.Bus.Inbound, 1024), nil
	case "redis":
		return transport.NewRedisBus(transport.RedisBusConfig{
			Address:   cfg.Bus.Redis.Address,
			Password:  cfg.Bus.Redis.Password,
			DB:        cfg.Bus.Redis.DB,
			Inbound:   cfg.Bus.Inbound,
			BlockWait: time.Duration(cfg.Bus.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return transport.NewRabbitMQBus(transport.RabbitMQConfig{
			URL:        cfg.Bus.RabbitMQ.URL,
			Inbound:    cfg.Bus.Inbound,
			Prefetch:   cfg.Bus.RabbitMQ.Prefetch,
			Durable:    cfg.Bus.RabbitMQ.Durable,
			AutoDelete: cfg.Bus.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的消息总线驱动: %s", cfg.Bus.Driver)
	}
}
