// Command regime-engine is the single binary named in spec.md §6: a cobra
// CLI exposing bootstrap, regime-runner, learning-scheduler and
// tuning-miner as subcommands, each wiring the Storage Gateway, collector
// sources, the Uptrend State Engine, and the learning loop.
//
// Grounded in the teacher's cmd/server/main.go (flag-based single
// entrypoint, setupLogger, graceful-shutdown signal handling) generalized
// into cobra subcommands per NimbleMarkets-dbn-go's CLI layout, with
// configuration loaded by viper per spec.md §6's env var surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/lowcap-labs/regime-engine/internal/api"
	"github.com/lowcap-labs/regime-engine/internal/bootstrap"
	"github.com/lowcap-labs/regime-engine/internal/collector"
	"github.com/lowcap-labs/regime-engine/internal/events"
	"github.com/lowcap-labs/regime-engine/internal/execution"
	"github.com/lowcap-labs/regime-engine/internal/learning"
	"github.com/lowcap-labs/regime-engine/internal/logging"
	"github.com/lowcap-labs/regime-engine/internal/metrics"
	"github.com/lowcap-labs/regime-engine/internal/scheduler"
	"github.com/lowcap-labs/regime-engine/internal/storage"
	"github.com/lowcap-labs/regime-engine/pkg/errs"
	"github.com/lowcap-labs/regime-engine/pkg/types"
	"github.com/lowcap-labs/regime-engine/pkg/utils"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "regime-engine",
		Short: "Uptrend State Engine with a learning loop",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")

	root.AddCommand(bootstrapCmd(), regimeRunnerCmd(), learningSchedulerCmd(), tuningMinerCmd(), reportTradeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig builds a types.Config from defaults, an optional YAML file,
// and REGIME_-prefixed environment variables, per spec.md §6.
func loadConfig() (types.Config, error) {
	cfg := types.DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix("REGIME")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return cfg, errs.Fatal("cmd", "loadConfig", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errs.Fatal("cmd", "loadConfig", err)
	}
	return cfg, nil
}

// openGateway picks PostgresGateway when a DSN is configured, else falls
// back to the in-process MemoryGateway — the same fallback the bootstrap
// and regime-runner commands share.
func openGateway(ctx context.Context, cfg types.Config, logger *zap.Logger) (storage.Gateway, func(), error) {
	if cfg.DatabaseDSN == "" {
		logger.Warn("no database_dsn configured, using in-memory gateway")
		return storage.NewMemoryGateway(logger), func() {}, nil
	}

	pool, err := storage.NewPool(ctx, cfg.DatabaseDSN, storage.DefaultPoolConfig())
	if err != nil {
		return nil, func() {}, errs.Fatal("cmd", "openGateway", err)
	}
	return storage.NewPostgresGateway(pool, logger), pool.Close, nil
}

// buildSources constructs one HTTPSource per required driver from
// cfg.CandleSource. Bucket/dominance composites have no source entry: they
// are synthesized by the collector's rollup, not fetched directly.
func buildSources(cfg types.Config, logger *zap.Logger) map[string]collector.CandleSource {
	retry := utils.DefaultRetryConfig()
	if cfg.CandleSource.MaxRetries > 0 {
		retry.MaxAttempts = cfg.CandleSource.MaxRetries
	}
	if cfg.CandleSource.RetrySpacing > 0 {
		retry.InitialDelay = cfg.CandleSource.RetrySpacing
	}

	sources := make(map[string]collector.CandleSource)
	for _, driver := range bootstrap.RequiredDrivers() {
		sources[driver] = collector.NewHTTPSource(driver, cfg.CandleSource.BaseURL, cfg.CandleSource.WSURL, cfg.CandleSource.RequestTimeout, retry, logger)
	}
	return sources
}

func bootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "run the 9-step idempotent startup sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel)
			defer logger.Sync()

			ctx := cmd.Context()
			gateway, closeFn, err := openGateway(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			b := bootstrap.New(logger, gateway, buildSources(cfg, logger), bootstrap.DefaultConfig())
			report := b.Run(ctx)

			working, degraded, failed := 0, 0, 0
			for _, s := range report.Steps {
				switch {
				case len(s.Errors) > 0:
					failed++
				case len(s.Warnings) > 0:
					degraded++
				default:
					working++
				}
			}
			logger.Info("bootstrap summary",
				zap.String("status", string(report.Status)),
				zap.Int("working", working), zap.Int("degraded", degraded), zap.Int("failed", failed))

			if report.Status == bootstrap.StatusFailed {
				return fmt.Errorf("bootstrap failed")
			}
			return nil
		},
	}
}

func regimeRunnerCmd() *cobra.Command {
	var timeframe string
	var summaryOnly bool

	cmd := &cobra.Command{
		Use:   "regime-runner",
		Short: "run the recurring collector/TA/engine ticks and the API surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel)
			defer logger.Sync()

			ctx := cmd.Context()
			gateway, closeFn, err := openGateway(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			if summaryOnly {
				return printSummary(ctx, gateway)
			}

			tfs, err := parseTimeframes(timeframe)
			if err != nil {
				return err
			}

			sources := buildSources(cfg, logger)
			report := bootstrap.New(logger, gateway, sources, bootstrap.DefaultConfig()).Run(ctx)
			if report.Status == bootstrap.StatusFailed {
				return fmt.Errorf("bootstrap failed")
			}
			bus := events.NewBus(logger, events.DefaultConfig())
			defer bus.Stop()

			sched := scheduler.New(logger)
			registerRegimeTasks(sched, gateway, sources, bus, logger, cfg, tfs)
			sched.Start(ctx)
			defer sched.Stop()

			eventLogger := learning.NewEventLogger(gateway, logger)
			apiServer := api.New(logger, gateway, bus, eventLogger, api.Config{ListenAddr: cfg.API.ListenAddr})
			apiServer.Start()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				apiServer.Stop(shutdownCtx)
			}()

			waitForSignal(logger)
			return nil
		},
	}
	cmd.Flags().StringVar(&timeframe, "timeframe", "all", "1m|1h|1d|all")
	cmd.Flags().BoolVar(&summaryOnly, "summary", false, "print current position summary and exit")
	return cmd
}

func parseTimeframes(flag string) ([]types.Timeframe, error) {
	switch flag {
	case "", "all":
		return bootstrap.AllTimeframes(), nil
	case "1m":
		return []types.Timeframe{types.TF1m}, nil
	case "1h":
		return []types.Timeframe{types.TF1h}, nil
	case "1d":
		return []types.Timeframe{types.TF1d}, nil
	default:
		return nil, fmt.Errorf("unknown --timeframe %q", flag)
	}
}

// registerRegimeTasks registers one recurring scheduler.Task per
// driver/timeframe: an ingestion tick for drivers with a configured
// source, followed by a TA recompute and an engine tick, publishing any
// resulting state-transition events onto bus.
func registerRegimeTasks(sched *scheduler.Scheduler, gateway storage.Gateway, sources map[string]collector.CandleSource, bus *events.Bus, logger *zap.Logger, cfg types.Config, tfs []types.Timeframe) {
	for _, driver := range bootstrap.AllDrivers() {
		driver := driver
		source := sources[driver]
		var col *collector.Collector
		if source != nil {
			col = collector.New(gateway, source)
		}

		for _, tf := range tfs {
			tf := tf
			name := driver + ":" + string(tf)
			sched.Register(scheduler.Task{
				Name:     name,
				Interval: cadenceFor(cfg, tf),
				Run: func(ctx context.Context) error {
					start := time.Now()
					err := runDriverTick(ctx, gateway, col, bus, logger, driver, tf)
					outcome := "ok"
					if err != nil {
						outcome = "failed"
					}
					metrics.RecordTask(name, outcome, time.Since(start).Seconds())
					return err
				},
			})
		}
	}
}

func cadenceFor(cfg types.Config, tf types.Timeframe) time.Duration {
	switch tf {
	case types.TF1m:
		return cfg.Scheduler.Collector1m
	case types.TF1h:
		return cfg.Scheduler.Collector1h
	default:
		return cfg.Scheduler.Collector1d
	}
}

// dominanceRollupSource maps a dominance driver's coarser timeframe back to
// the finer timeframe rollup_dominance rolls up from, per spec.md §4.2.
func dominanceRollupSource(tf types.Timeframe) (types.Timeframe, bool) {
	switch tf {
	case types.TF1h:
		return types.TF1m, true
	case types.TF1d:
		return types.TF1h, true
	default:
		return "", false
	}
}

func isDominanceDriver(driver string) bool {
	return driver == "BTC.d" || driver == "USDT.d"
}

func runDriverTick(ctx context.Context, gateway storage.Gateway, col *collector.Collector, bus *events.Bus, logger *zap.Logger, driver string, tf types.Timeframe) error {
	if col != nil {
		if _, _, err := col.Tick(ctx, storage.TableRegimePriceOHLC, driver, tf); err != nil {
			logger.Warn("collector tick failed", zap.String("driver", driver), zap.String("tf", string(tf)), zap.Error(err))
		}
	} else if isDominanceDriver(driver) {
		if srcTF, ok := dominanceRollupSource(tf); ok {
			if err := collector.RollupDominanceTick(ctx, gateway, storage.TableRegimePriceOHLC, driver, srcTF, tf); err != nil {
				logger.Warn("dominance rollup failed", zap.String("driver", driver), zap.String("tf", string(tf)), zap.Error(err))
			}
		}
	}

	if err := bootstrap.ComputeTA(ctx, gateway, driver, tf); err != nil {
		if errs.Is(err, errs.KindStarvation) {
			return nil
		}
		return err
	}

	id := bootstrap.DriverPositionID(driver, tf)
	prevMeta, err := gateway.GetEngineMeta(ctx, id)
	prevState := types.StateS4Bootstrap
	if err == nil {
		prevState = prevMeta.State
	}

	payload, err := bootstrap.ComputeState(ctx, gateway, driver, tf)
	if err != nil {
		return err
	}

	for _, t := range events.TransitionEvents(prevState, payload) {
		bus.Publish(events.NewEvent(t, id, payload))
		metrics.RecordTransition(string(t))
	}
	return nil
}

func printSummary(ctx context.Context, gateway storage.Gateway) error {
	positions, err := gateway.OpenPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		meta, err := gateway.GetEngineMeta(ctx, p.ID)
		state := "unknown"
		if err == nil {
			state = string(meta.State)
		}
		fmt.Printf("%-24s %s\n", p.ID, state)
	}
	return nil
}

func learningSchedulerCmd() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "learning-scheduler",
		Short: "run the learning loop's recurring mining/materialization jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel)
			defer logger.Sync()

			ctx := cmd.Context()
			gateway, closeFn, err := openGateway(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			if once {
				return runMiningPass(ctx, gateway, logger)
			}

			sched := scheduler.New(logger)
			sched.Register(scheduler.Task{
				Name:     "learning.mine_materialize",
				Interval: cfg.Scheduler.LearningFast,
				Run: func(ctx context.Context) error {
					return runMiningPass(ctx, gateway, logger)
				},
			})
			sched.Register(scheduler.Task{
				Name:     "learning.refit_half_lives",
				Interval: cfg.Scheduler.LearningWeekly,
				Run: func(ctx context.Context) error {
					return runHalfLifeRefit(ctx, gateway, logger)
				},
			})
			sched.Start(ctx)
			defer sched.Stop()

			waitForSignal(logger)
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "run one mining/materialization pass and exit")
	return cmd
}

func tuningMinerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tuning-miner",
		Short: "run one lesson-mining and override-materialization pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel)
			defer logger.Sync()

			ctx := cmd.Context()
			gateway, closeFn, err := openGateway(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			return runMiningPass(ctx, gateway, logger)
		},
	}
}

// runMiningPass mines lessons from every trade event on record and
// materializes pm_strength lessons into sizing overrides, persisting both.
func runMiningPass(ctx context.Context, gateway storage.Gateway, logger *zap.Logger) error {
	tradeEvents, err := gateway.TradeEventsSince(ctx, time.Time{})
	if err != nil {
		return err
	}

	now := time.Now()
	lessons := learning.Mine(tradeEvents, now)

	var lessonsWritten, overridesWritten int
	for _, lesson := range lessons {
		if err := gateway.UpsertLesson(ctx, lesson); err != nil {
			return err
		}
		lessonsWritten++

		if override, ok := learning.MaterializePMStrength(lesson, now); ok {
			if err := gateway.UpsertOverride(ctx, override); err != nil {
				return err
			}
			overridesWritten++
		}
	}

	logger.Info("mining pass complete",
		zap.Int("trade_events", len(tradeEvents)),
		zap.Int("lessons_written", lessonsWritten),
		zap.Int("overrides_written", overridesWritten))
	return nil
}

// runHalfLifeRefit refits half_life_hours for every active, decaying lesson
// from its stored decay slope, the weekly cadence named in spec.md §5.
func runHalfLifeRefit(ctx context.Context, gateway storage.Gateway, logger *zap.Logger) error {
	lessons, err := gateway.Lessons(ctx)
	if err != nil {
		return err
	}
	refit := learning.RefitHalfLives(lessons, time.Now())
	for _, lesson := range refit {
		if err := gateway.UpsertLesson(ctx, lesson); err != nil {
			return err
		}
	}
	logger.Info("half-life refit complete", zap.Int("lessons", len(refit)))
	return nil
}

// reportTradeCmd is the CLI counterpart to POST /trade-events: a local
// execution collaborator that closed a trade out-of-band from the running
// regime-runner process can still feed the learning loop by invoking this
// subcommand, which drives the same PaperCollaborator.ReportClosedTrade path.
func reportTradeCmd() *cobra.Command {
	var tradeID, patternKey string
	var rr float64

	cmd := &cobra.Command{
		Use:   "report-trade",
		Short: "report one closed trade into the learning loop's event log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if tradeID == "" {
				return fmt.Errorf("--trade-id is required")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.LogLevel)
			defer logger.Sync()

			ctx := cmd.Context()
			gateway, closeFn, err := openGateway(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeFn()

			eventLogger := learning.NewEventLogger(gateway, logger)
			collaborator := execution.NewPaperCollaborator(logger, eventLogger)

			ev := types.TradeEvent{
				TradeID:    tradeID,
				PatternKey: patternKey,
				ClosedAt:   time.Now(),
				RR:         rr,
			}
			return collaborator.ReportClosedTrade(ctx, ev)
		},
	}
	cmd.Flags().StringVar(&tradeID, "trade-id", "", "unique ID of the closed trade (required)")
	cmd.Flags().StringVar(&patternKey, "pattern-key", "", "pattern_management key the trade closed under")
	cmd.Flags().Float64Var(&rr, "rr", 0, "realized risk/reward multiple")
	return cmd
}

func waitForSignal(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
