package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"OpenACE-Chain/internal/ace"
	"OpenACE-Chain/internal/api"
	"OpenACE-Chain/internal/auth"
	"OpenACE-Chain/internal/config"
	"OpenACE-Chain/internal/events"
	"OpenACE-Chain/internal/noteregistry"
	"OpenACE-Chain/internal/observability/alerting"
	"OpenACE-Chain/internal/observability/metrics"
	"OpenACE-Chain/internal/proofcache"
	"OpenACE-Chain/internal/storage/mysql"
	redisstore "OpenACE-Chain/internal/storage/redis"
	"OpenACE-Chain/internal/validator"
	"OpenACE-Chain/internal/validator/builtin"
	"OpenACE-Chain/internal/validator/kernel"
	"OpenACE-Chain/internal/web3/provider"
	"OpenACE-Chain/pkg/logger"
)

// app 持有守护进程运行期间的全部组件。
type app struct {
	engine        *ace.Engine
	server        *api.Server
	metrics       *metrics.Metrics
	tokens        *provider.Registry
	engineAddress common.Address
	closers       []func() error
}

// Close 按创建的逆序释放资源。
func (a *app) Close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

func build(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	operatorKey := cfg.OperatorKey()
	a.engineAddress, err = engineAddress(cfg.ACE.EngineAddress, operatorKey)
	if err != nil {
		return nil, err
	}

	a.tokens, err = provider.NewRegistry(ctx, provider.Options{
		DefinitionsPath: cfg.Web3.TokensFile,
		Engine:          a.engineAddress,
		RPCURL:          cfg.Web3.RPCURL,
		OperatorKey:     operatorKey,
		GasLimit:        cfg.Web3.GasLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化代币账本失败: %w", err)
	}
	a.closers = append(a.closers, func() error { a.tokens.Close(); return nil })

	alerts := buildAlerts(cfg.Alerting)

	store, err := buildRegistryStore(ctx, cfg.Storage.NoteRegistry)
	if err != nil {
		return nil, err
	}
	cacheStore, err := buildCacheStore(ctx, cfg.ProofCache)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	publisher, err := buildPublisher(ctx, cfg.Events)
	if err != nil {
		_ = store.Close()
		_ = cacheStore.Close()
		return nil, err
	}

	var validatorOpts []validator.Option
	if cfg.ACE.LockValidators {
		validatorOpts = append(validatorOpts, validator.WithLockedEntries())
	}
	catalog := validator.NewCatalog()
	if cfg.ACE.AllowReferenceValidators {
		logger.Named("aced").Warn("已启用参考验证器，金额守恒缺少范围证明，仅限开发环境")
		catalog = builtin.Catalog()
	}
	a.engine, err = ace.New(ace.Dependencies{
		Validators: validator.NewRegistry(common.HexToAddress(cfg.ACE.Owner), validatorOpts...),
		Catalog:    catalog,
		Cache:      proofcache.New(cacheStore),
		Registries: noteregistry.NewService(store, a.tokens.Directory(), a.engineAddress, noteregistry.WithAlerts(alerts)),
		Events:     publisher,
		Metrics:    a.metrics,
		Alerts:     alerts,
	})
	if err != nil {
		_ = store.Close()
		_ = cacheStore.Close()
		_ = publisher.Close()
		return nil, err
	}
	a.closers = append(a.closers, a.engine.Close)

	if err := bootstrap(ctx, a.engine, cfg.ACE); err != nil {
		return nil, err
	}

	authSvc, err := auth.NewService(auth.Config{Mode: auth.Mode(cfg.Auth.Mode), MaxSkew: cfg.Auth.MaxSkew()})
	if err != nil {
		return nil, err
	}
	var serverMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		serverMetrics = a.metrics
	}
	a.server, err = api.NewServer(cfg.Server.Address, a.engine, authSvc, serverMetrics)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// engineAddress 在配置了操作者私钥时以私钥地址作为引擎账户。
func engineAddress(configured, operatorKey string) (common.Address, error) {
	address := common.HexToAddress(configured)
	if operatorKey == "" {
		return address, nil
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(operatorKey, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("解析操作者私钥失败: %w", err)
	}
	operator := crypto.PubkeyToAddress(key.PublicKey)
	if operator != address {
		logger.Named("aced").Warn("engine_address 与操作者私钥不一致，使用私钥地址",
			slog.String("configured", address.Hex()),
			slog.String("operator", operator.Hex()))
	}
	return operator, nil
}

// bootstrap 以所有者身份设置 CRS 并绑定配置中的验证器。
func bootstrap(ctx context.Context, engine *ace.Engine, cfg config.ACEConfig) error {
	crs := kernel.DefaultCRS()
	if raw := strings.TrimSpace(cfg.CRS); raw != "" {
		decoded, err := hexutil.Decode(raw)
		if err != nil {
			return fmt.Errorf("解析 ace.crs 失败: %w", err)
		}
		crs = validator.CRS(decoded)
	}
	if _, err := kernel.ParseCRS(crs); err != nil {
		return err
	}
	if err := engine.SetCommonReferenceString(ctx, engine.Owner(), crs); err != nil {
		return err
	}

	defs := builtin.DefaultDefinitions()
	if cfg.ValidatorsFile != "" {
		loaded, err := validator.LoadDefinitions(cfg.ValidatorsFile)
		if err != nil {
			return err
		}
		defs = loaded
	}
	if !cfg.AllowReferenceValidators {
		for _, def := range defs.Validators {
			if builtin.Reference(def.Name) {
				return fmt.Errorf("验证器 %s 没有范围证明，仅限开发环境，需要显式设置 ace.allow_reference_validators", def.Name)
			}
		}
	}
	return engine.BindDefinitions(ctx, defs)
}

func buildRegistryStore(ctx context.Context, cfg config.DatabaseConfig) (noteregistry.Store, error) {
	switch cfg.Driver {
	case "memory":
		return noteregistry.NewMemoryStore(), nil
	case "mysql":
		db, err := mysql.OpenAndMigrate(ctx, mysql.Config{
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime(),
		})
		if err != nil {
			return nil, err
		}
		return noteregistry.NewMySQLStore(db), nil
	default:
		return nil, fmt.Errorf("不支持的注册表存储驱动: %s", cfg.Driver)
	}
}

func buildCacheStore(ctx context.Context, cfg config.ProofCacheConfig) (proofcache.Store, error) {
	switch cfg.Driver {
	case "memory":
		return proofcache.NewMemoryStore(), nil
	case "redis":
		return proofcache.NewRedisStore(ctx, proofcache.RedisConfig{
			Config:    redisConfig(cfg.Redis),
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	default:
		return nil, fmt.Errorf("不支持的校验缓存驱动: %s", cfg.Driver)
	}
}

func buildPublisher(ctx context.Context, cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case "none":
		return events.Noop{}, nil
	case "memory":
		return events.NewMemoryPublisher(1024), nil
	case "redis":
		return events.NewRedisQueue(ctx, events.RedisConfig{Config: redisConfig(cfg.Redis), List: cfg.Redis.List})
	case "rabbitmq":
		return events.NewRabbitMQQueue(events.RabbitMQConfig{
			URL:     cfg.RabbitMQ.URL,
			Queue:   cfg.RabbitMQ.Queue,
			Durable: cfg.RabbitMQ.Durable,
		})
	default:
		return nil, fmt.Errorf("不支持的事件驱动: %s", cfg.Driver)
	}
}

func buildAlerts(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerting")}}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookTimeout()))
	}
	if cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.SlackWebhookSender{URL: cfg.SlackWebhookURL},
			ChannelID: cfg.SlackChannel,
		})
	}
	return alerting.NewFanout(notifiers...)
}

func redisConfig(cfg config.RedisConfig) redisstore.Config {
	return redisstore.Config{Address: cfg.Address, Password: cfg.Password, DB: cfg.DB}
}
