// Command server runs the ALTAN economic engine: the ledger and its HTTP API,
// the weekly UBI and state anchor schedules, and the operational endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"khural/internal/allocation"
	allocationMetrics "khural/internal/allocation/metrics"
	"khural/internal/anchor"
	anchorMetrics "khural/internal/anchor/metrics"
	"khural/internal/distribution"
	distributionMetrics "khural/internal/distribution/metrics"
	httpapi "khural/internal/http"
	"khural/internal/ledger"
	ledgerMetrics "khural/internal/ledger/metrics"
	"khural/internal/membership"
	"khural/internal/platform/config"
	"khural/internal/platform/httpserver"
	"khural/internal/platform/logger"
	"khural/internal/platform/postgres"
	platformRedis "khural/internal/platform/redis"
	"khural/internal/platform/scheduler"
	"khural/internal/ubi"
	ubiMetrics "khural/internal/ubi/metrics"
	"khural/internal/wallet"
	id "khural/pkg/domain"
	"khural/pkg/platform/audit"
	auditSink "khural/pkg/platform/audit/sink"
	auditMemory "khural/pkg/platform/audit/store/memory"
	auditPostgres "khural/pkg/platform/audit/store/postgres"
	platformStrings "khural/pkg/platform/strings"
)

func main() {
	if err := run(); err != nil {
		slog.Error("engine exited", "error", err)
		os.Exit(1)
	}
}

type stores struct {
	ledger       ledger.Store
	membership   membership.Store
	distribution distribution.Store
	ubi          ubi.Store
	audit        audit.Store
	anchorSource anchor.Source
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, cleanup, err := buildStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	auditPub, closeSink, err := buildAuditPublisher(cfg, st.audit, log)
	if err != nil {
		return err
	}
	defer closeSink()

	ledgerOpts := []ledger.Option{
		ledger.WithLogger(log),
		ledger.WithAuditPublisher(auditPub),
		ledger.WithMetrics(ledgerMetrics.New()),
	}
	if cfg.TransferFeeBps > 0 && cfg.FeeCollectorID != "" {
		collector, err := id.ParseCitizenID(cfg.FeeCollectorID)
		if err != nil {
			return fmt.Errorf("invalid FEE_COLLECTOR_ID: %w", err)
		}
		ledgerOpts = append(ledgerOpts, ledger.WithTransferFee(cfg.TransferFeeBps, collector))
	}
	ledgerSvc, err := ledger.New(st.ledger, ledgerOpts...)
	if err != nil {
		return err
	}

	memberSvc, err := membership.New(st.membership, membership.WithLogger(log))
	if err != nil {
		return err
	}

	reserve, err := resolveReserve(ctx, cfg, log, memberSvc, ledgerSvc)
	if err != nil {
		return err
	}

	allocationSvc, err := allocation.New(ledgerSvc, memberSvc, reserve,
		allocation.WithLogger(log),
		allocation.WithAuditPublisher(auditPub),
		allocation.WithMetrics(allocationMetrics.New()),
	)
	if err != nil {
		return err
	}

	distributionOpts := []distribution.Option{
		distribution.WithLogger(log),
		distribution.WithAuditPublisher(auditPub),
		distribution.WithMetrics(distributionMetrics.New()),
	}
	if cfg.Redis.URL != "" {
		redisClient, err := platformRedis.New(cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		mirror := wallet.NewRedisMirror(redisClient.Client, wallet.WithTTL(cfg.Redis.MirrorTTL))
		distributionOpts = append(distributionOpts, distribution.WithWalletMirror(mirror))
		log.Info("wallet balance mirror enabled")
	}
	distributionSvc, err := distribution.New(st.distribution, ledgerSvc, reserve, distributionOpts...)
	if err != nil {
		return err
	}

	ubiOpts := []ubi.Option{
		ubi.WithLogger(log),
		ubi.WithAuditPublisher(auditPub),
		ubi.WithMetrics(ubiMetrics.New()),
		ubi.WithWorkers(cfg.UBIWorkers),
	}
	if cfg.UBIWeeklyAmount != "" {
		amount, err := decimal.NewFromString(cfg.UBIWeeklyAmount)
		if err != nil {
			return fmt.Errorf("invalid UBI_WEEKLY_AMOUNT: %w", err)
		}
		ubiOpts = append(ubiOpts, ubi.WithWeeklyAmount(amount))
	}
	ubiSvc, err := ubi.New(st.ubi, ledgerSvc, memberSvc, reserve, ubiOpts...)
	if err != nil {
		return err
	}

	var anchorPublisher anchor.Publisher
	if cfg.AnchorGatewayURL != "" && cfg.AnchorContractAddress != "" {
		anchorPublisher, err = anchor.NewHTTPPublisher(cfg.AnchorGatewayURL, cfg.AnchorContractAddress)
		if err != nil {
			return err
		}
	} else {
		log.Warn("anchor gateway not configured; weekly anchors will be recorded as skipped")
	}
	anchorSvc, err := anchor.New(st.anchorSource, anchorPublisher,
		anchor.WithLogger(log),
		anchor.WithAuditPublisher(auditPub),
		anchor.WithMetrics(anchorMetrics.New()),
	)
	if err != nil {
		return err
	}

	handler := httpapi.NewHandler(log, ledgerSvc, memberSvc, allocationSvc, distributionSvc, ubiSvc, anchorSvc)
	srv := httpserver.New(cfg.HTTPAddr, httpapi.NewRouter(handler, cfg.AdminToken))

	sched := scheduler.New(scheduler.WithLogger(log))
	if cfg.Scheduler.Enabled {
		err = sched.Register("weekly-ubi-distribution", cfg.Scheduler.UBICron, func(ctx context.Context) error {
			_, err := ubiSvc.DistributeWeekly(ctx)
			return err
		})
		if err != nil {
			return err
		}
		err = sched.Register("weekly-state-anchor", cfg.Scheduler.AnchorCron, func(ctx context.Context) error {
			_, err := anchorSvc.AnchorAll(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}

	log.Info("engine starting", "addr", cfg.HTTPAddr, "scheduler", cfg.Scheduler.Enabled)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	return g.Wait()
}

// buildStores selects Postgres or in-memory persistence.
func buildStores(ctx context.Context, cfg config.Config, log *slog.Logger) (stores, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, running on in-memory stores; state is lost on restart")
		return stores{
			ledger:       ledger.NewInMemoryStore(),
			membership:   membership.NewInMemoryStore(),
			distribution: distribution.NewInMemoryStore(),
			ubi:          ubi.NewInMemoryStore(),
			audit:        auditMemory.NewInMemoryStore(),
			anchorSource: anchor.NewInMemorySource(),
		}, func() {}, nil
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return stores{}, nil, err
	}
	if err := postgres.Migrate(db, log); err != nil {
		db.Close()
		return stores{}, nil, err
	}
	return stores{
		ledger:       ledger.NewPostgresStore(db),
		membership:   membership.NewPostgresStore(db),
		distribution: distribution.NewPostgresStore(db),
		ubi:          ubi.NewPostgresStore(db),
		audit:        auditPostgres.New(db),
		anchorSource: anchor.NewPostgresSource(db),
	}, func() { db.Close() }, nil
}

func buildAuditPublisher(cfg config.Config, store audit.Store, log *slog.Logger) (*audit.Publisher, func(), error) {
	brokers := platformStrings.DedupeAndTrim(cfg.Kafka.Brokers)
	if len(brokers) == 0 {
		return audit.NewPublisher(store, nil), func() {}, nil
	}

	sink, err := auditSink.NewKafkaSink(brokers, cfg.Kafka.AuditTopic)
	if err != nil {
		return nil, nil, fmt.Errorf("connect kafka audit sink: %w", err)
	}
	log.Info("kafka audit sink enabled", "topic", cfg.Kafka.AuditTopic)
	return audit.NewPublisher(store, sink), sink.Close, nil
}

// resolveReserve registers the system reserve citizen and its account link.
// The reserve funds awards, distribution slices and UBI payouts; its balance
// is provisioned out of band.
func resolveReserve(
	ctx context.Context,
	cfg config.Config,
	log *slog.Logger,
	memberSvc *membership.Service,
	ledgerSvc *ledger.Service,
) (id.CitizenID, error) {
	var reserve id.CitizenID
	if cfg.ReserveAccountID != "" {
		parsed, err := id.ParseCitizenID(cfg.ReserveAccountID)
		if err != nil {
			return id.CitizenID{}, fmt.Errorf("invalid RESERVE_ACCOUNT_ID: %w", err)
		}
		reserve = parsed
	} else {
		reserve = id.NewCitizenID()
		log.Warn("RESERVE_ACCOUNT_ID not set, generated an ephemeral reserve",
			"reserve_id", reserve.String())
	}

	if _, err := memberSvc.RegisterCitizen(ctx, reserve, membership.LevelFullyVerified, true); err != nil {
		return id.CitizenID{}, fmt.Errorf("register reserve citizen: %w", err)
	}
	account, err := ledgerSvc.OpenAccount(ctx, reserve)
	if err != nil {
		return id.CitizenID{}, fmt.Errorf("open reserve account: %w", err)
	}
	log.Info("reserve account ready", "ref", account.Ref.Short(), "balance", account.Balance.String())
	return reserve, nil
}
