package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loopvault/config"
	nativecommon "loopvault/native/common"
	"loopvault/native/vault"
	"loopvault/native/vault/sim"
	"loopvault/observability/logging"
	otelobs "loopvault/observability/otel"
)

var (
	vaultAddr       = common.HexToAddress("0x0000000000000000000000000000000000000va1")
	callerAddr      = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	operatorAddr    = common.HexToAddress("0x00000000000000000000000000000000000000e1")
	borrowedAsset   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	collateralAsset = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

const (
	simLtvBps          = 9_000
	simLiqThresholdBps = 9_500
)

func main() {
	configFile := flag.String("config", "./loopvault.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LOOPVAULT_ENV"))
	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if env == "" {
		env = cfg.LogEnvironment
	}
	logger := logging.SetupWithOptions("loopvaultd", env, logging.Options{FilePath: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracesEnabled && strings.TrimSpace(cfg.OTLPEndpoint) != "" {
		shutdown, err := otelobs.Init(ctx, otelobs.Config{
			ServiceName: "loopvaultd",
			Environment: env,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    cfg.OTLPInsecure,
		})
		if err != nil {
			logger.Error("telemetry init failed", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("telemetry shutdown", "error", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddress, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("fee policy",
		slog.Uint64("fee_rate_bps", cfg.Vault.FeeRateBps),
		logging.MaskField("fee_recipient", cfg.Vault.FeeRecipient))

	engine, world := buildWorld(cfg, logger)

	scenario := DefaultScenario()
	if strings.TrimSpace(cfg.ScenarioFile) != "" {
		scenario, err = LoadScenario(cfg.ScenarioFile)
		if err != nil {
			logger.Error("scenario load failed", "error", err)
			os.Exit(1)
		}
	}

	if err := runScenario(ctx, logger, engine, world, scenario); err != nil {
		logger.Error("scenario failed", "error", err)
		os.Exit(1)
	}

	nav, err := engine.Nav()
	if err == nil {
		logger.Info("scenario complete", "nav", nav.String())
	}

	logger.Info("serving metrics until shutdown", "address", cfg.MetricsAddress)
	<-ctx.Done()
}

// world bundles the simulated collaborators the scenario runner manipulates.
type world struct {
	state   *sim.State
	market  *sim.Market
	staking *sim.StakingPool
	ledger  *sim.Ledger
	loops   *looper
}

func buildWorld(cfg *config.Config, logger *slog.Logger) (*vault.Engine, *world) {
	staking := sim.NewStakingPool(wadUnit)
	rates := sim.NewRateCap(staking, new(big.Int).Mul(wadUnit, big.NewInt(4)))
	market := sim.NewMarket(rates, simLtvBps, simLiqThresholdBps)
	state := sim.NewState()
	ledger := sim.NewLedger()

	// Seed the participants with borrowed-asset liquidity.
	grant := new(big.Int).Mul(wadUnit, big.NewInt(1_000_000))
	ledger.Mint(borrowedAsset, callerAddr, grant)
	ledger.Mint(borrowedAsset, operatorAddr, grant)

	feeRate := new(big.Int).Mul(wadUnit, new(big.Int).SetUint64(cfg.Vault.FeeRateBps))
	feeRate.Quo(feeRate, big.NewInt(10_000))
	if err := state.PutFeeState(&vault.FeeState{
		FeeRate:         feeRate,
		AllTimeHighRate: new(big.Int).Set(wadUnit),
		Recipient:       common.HexToAddress(cfg.Vault.FeeRecipient),
	}); err != nil {
		logger.Error("seed fee state", "error", err)
		os.Exit(1)
	}

	engine := vault.NewEngine(vaultAddr, borrowedAsset, collateralAsset, cfg.Vault)
	engine.SetState(state)
	engine.SetMarket(market)
	engine.SetStakingPool(staking)
	engine.SetRateCap(rates)
	engine.SetTokenLedger(ledger)
	engine.SetJournal(sim.NewWorldJournal(state, market, staking, rates, ledger))
	engine.SetEmitter(&slogEmitter{logger: logger})
	engine.SetLogger(logger)
	engine.SetQuota(nativecommon.Quota{
		MaxOperationsPerEpoch: cfg.Quota.MaxOperationsPerEpoch,
		MaxWeiPerEpoch:        cfg.Quota.MaxWeiPerEpoch,
		EpochSeconds:          cfg.Quota.EpochSeconds,
	})

	policy := engine.Policy()
	loops := &looper{
		market:          market,
		staking:         staking,
		state:           state,
		vaultAddr:       vaultAddr,
		borrowedAsset:   borrowedAsset,
		collateralAsset: collateralAsset,
		target:          policy.TargetHealthFactor,
		buffer:          cfg.Vault.BorrowBuffer(),
		minLoop:         minLoopAmount(cfg),
	}
	return engine, &world{state: state, market: market, staking: staking, ledger: ledger, loops: loops}
}

func minLoopAmount(cfg *config.Config) *big.Int {
	if cfg.Vault.MinStakeWei != nil && cfg.Vault.MinStakeWei.Sign() > 0 {
		return new(big.Int).Set(cfg.Vault.MinStakeWei)
	}
	// Stop the loop once the sized borrow is economically irrelevant.
	return new(big.Int).Quo(wadUnit, big.NewInt(1_000_000))
}

func runScenario(ctx context.Context, logger *slog.Logger, engine *vault.Engine, w *world, scenario *Scenario) error {
	for i, step := range scenario.Steps {
		if err := runStep(ctx, engine, w, step); err != nil {
			return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		logger.Info("step applied", "index", i, "op", step.Op)
	}
	return nil
}

func runStep(ctx context.Context, engine *vault.Engine, w *world, step Step) error {
	amount, err := step.Amount()
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(step.Op)) {
	case "initialize":
		_, err := engine.Initialize(ctx, callerAddr, w.loops.initialize(callerAddr, amount), nil)
		return err
	case "deposit":
		_, err := engine.Deposit(ctx, callerAddr, callerAddr, w.loops.deposit(callerAddr, amount), nil)
		return err
	case "withdraw":
		held, err := engine.SharesOf(callerAddr)
		if err != nil {
			return err
		}
		shares := new(big.Int).Mul(held, new(big.Int).SetUint64(step.SharePct))
		shares.Quo(shares, big.NewInt(100))
		return engine.Withdraw(ctx, callerAddr, shares, w.loops.withdraw(callerAddr, shares), nil)
	case "unwind":
		scaled, err := w.market.ScaledCollateral(vaultAddr)
		if err != nil {
			return err
		}
		index, err := w.market.CollateralIndex()
		if err != nil {
			return err
		}
		collateral := new(big.Int).Mul(scaled, index)
		collateral.Quo(collateral, wadUnit)
		slice := new(big.Int).Mul(collateral, new(big.Int).SetUint64(step.CollateralPct))
		slice.Quo(slice, big.NewInt(100))
		_, err = engine.Unwind(ctx, operatorAddr, w.loops.unwind(operatorAddr, slice), nil)
		return err
	case "donate":
		return engine.Donate(ctx, callerAddr, w.loops.donate(callerAddr, amount), nil)
	case "accrue":
		if step.RateGrowthBps > 0 {
			rate, err := w.staking.CurrentRate()
			if err != nil {
				return err
			}
			grown := new(big.Int).Mul(rate, new(big.Int).SetUint64(10_000+step.RateGrowthBps))
			grown.Quo(grown, big.NewInt(10_000))
			w.staking.SetRate(grown)
		}
		if step.DebtGrowthBps > 0 {
			w.market.AccrueDebt(step.DebtGrowthBps)
		}
		return nil
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

// slogEmitter logs committed operation records.
type slogEmitter struct {
	logger *slog.Logger
}

func (e *slogEmitter) EmitOperation(record vault.OperationRecord) {
	e.logger.Info("operation record",
		"id", record.ID,
		"kind", string(record.Kind),
		"caller", record.Caller.Hex(),
		"shares_minted", record.SharesMinted.String(),
		"shares_burned", record.SharesBurned.String(),
		"nav_delta", record.NavDelta.String(),
		"nav", record.Nav.String(),
		"collateral", record.Collateral.String(),
		"debt", record.Debt.String(),
		"supply", record.TotalShares.String(),
		"fee_shares", record.FeeShares.String())
}
