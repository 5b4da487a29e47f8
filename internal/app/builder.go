package app

import (
	"fmt"
	"time"

	"guardian/internal/config"
	"guardian/internal/gateway/advisor"
	"guardian/internal/gateway/binance"
	"guardian/internal/gateway/market"
	"guardian/internal/gateway/notifier"
	"guardian/internal/logger"
	"guardian/internal/manager"
	"guardian/internal/risk"
	"guardian/internal/riskprofile"
	"guardian/internal/store/cooldown"
	"guardian/internal/store/decisionlog"
	guardhttp "guardian/internal/transport/http"
)

func build(cfg *config.Config) (*App, error) {
	gw, err := binance.New(binance.Config{
		APIKey:       cfg.Exchange.APIKey,
		APISecret:    cfg.Exchange.APISecret,
		RESTBaseURL:  cfg.Exchange.RESTBaseURL,
		Testnet:      cfg.Exchange.Testnet,
		HTTPTimeout:  time.Duration(cfg.Exchange.TimeoutSeconds) * time.Second,
		ProxyEnabled: cfg.Exchange.ProxyURL != "",
		RESTProxyURL: cfg.Exchange.ProxyURL,
	})
	if err != nil {
		return nil, fmt.Errorf("exchange gateway: %w", err)
	}

	snapshots, err := market.NewClient(market.Config{
		BaseURL:     cfg.Market.AnalyzerURL,
		HTTPTimeout: time.Duration(cfg.Market.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("market client: %w", err)
	}

	cooldowns, err := cooldown.New(cfg.Store.CooldownPath)
	if err != nil {
		return nil, fmt.Errorf("cooldown store: %w", err)
	}
	decisions, err := decisionlog.New(cfg.Store.DecisionLogPath)
	if err != nil {
		cooldowns.Close()
		return nil, fmt.Errorf("decision journal: %w", err)
	}

	riskCfg := risk.Config{
		DefaultStopPct:     cfg.Risk.DefaultStopPct,
		StopATRMultiplier:  cfg.Risk.StopATRMultiplier,
		BreakEvenR:         cfg.Risk.BreakEvenR,
		FeeBufferPct:       cfg.Risk.FeeBufferPct,
		PartialTPR:         cfg.Risk.PartialTPR,
		PartialTPFraction:  cfg.Risk.PartialTPFraction,
		TimeStop:           time.Duration(cfg.Risk.TimeStopMinutes) * time.Minute,
		TimeStopMinProfitR: cfg.Risk.TimeStopMinProfitR,
		TimeStopATRDecay:   cfg.Risk.TimeStopATRDecay,
		TrailATRMultiplier: cfg.Risk.TrailATRMultiplier,
		TrailFallbackPct:   cfg.Risk.TrailFallbackPct,
		StructureATROffset: cfg.Risk.StructureATROffset,
		VolumeSpikeRatio:   cfg.Risk.VolumeSpikeRatio,
		ProtectedR:         cfg.Risk.ProtectedR,
		EntryGapTolerance:  cfg.Risk.EntryGapTolerancePct,
	}.WithDefaults()

	reverseCfg := risk.ReverseConfig{
		WarningThreshold:  cfg.Reverse.WarningThreshold,
		AIReviewThreshold: cfg.Reverse.AIReviewThreshold,
		ReverseThreshold:  cfg.Reverse.ReverseThreshold,
		HardStopThreshold: cfg.Reverse.HardStopThreshold,
		Cooldown:          time.Duration(cfg.Reverse.CooldownMinutes) * time.Minute,
		Leverage:          cfg.Reverse.Leverage,
		MinConfidence:     cfg.Reverse.MinConfidence,
		ContextVotes:      cfg.Reverse.ContextVotes,
		RecoveryMinPct:    cfg.Reverse.RecoveryMinPct,
		RecoveryMaxPct:    cfg.Reverse.RecoveryMaxPct,
	}.WithDefaults()

	gate := risk.NewGate(cooldowns, risk.CooldownConfig{
		Window:     time.Duration(cfg.Cooldown.Minutes) * time.Minute,
		LossWindow: time.Duration(cfg.Cooldown.LossMinutes) * time.Minute,
		Reverse:    reverseCfg.Cooldown,
	})

	var profiles risk.ProfileResolver = risk.NoProfiles{}
	if cfg.Risk.ProfilePath != "" {
		registry, err := riskprofile.NewRegistry(cfg.Risk.ProfilePath)
		if err != nil {
			cooldowns.Close()
			decisions.Close()
			return nil, fmt.Errorf("risk profiles: %w", err)
		}
		profiles = registry
	}

	var oracle risk.Advisor
	if cfg.Advisor.Enabled {
		client, err := advisor.NewClient(advisor.Config{
			URL:         cfg.Advisor.URL,
			AuthToken:   cfg.Advisor.AuthToken,
			HTTPTimeout: time.Duration(cfg.Advisor.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			cooldowns.Close()
			decisions.Close()
			return nil, fmt.Errorf("advisor client: %w", err)
		}
		oracle = client
	} else {
		logger.Warnf("advisor disabled: reverse tier degrades to hold, hard stop unaffected")
	}

	var alerts risk.Notifier
	if cfg.Notify.Telegram.Enabled {
		alerts = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
	}

	anchors := risk.NewAnchorStore(riskCfg)
	engine := risk.NewEngine(riskCfg, gw, anchors, profiles)
	flow := risk.NewFlow(reverseCfg, riskCfg, gw, oracle, gate, anchors, decisions, alerts)

	equity := manager.NewEquityHistory(cfg.Store.EquityMaxSamples)
	mgr := manager.New(manager.Config{
		MaxConcurrency:  cfg.Manage.MaxConcurrency,
		PnLThresholdPct: cfg.Cooldown.PnLThresholdPct,
		DefaultSizePct:  cfg.Trading.DefaultSizePct,
		DefaultLeverage: cfg.Trading.DefaultLeverage,
		MinNotionalUSD:  cfg.Trading.MinNotionalUSD,
		EntryOrderType:  cfg.Trading.EntryOrderType,
	}, gw, snapshots, engine, flow, gate, riskCfg, equity)

	httpServer, err := guardhttp.NewServer(guardhttp.ServerConfig{
		Addr:      cfg.App.HTTPAddr,
		Manager:   mgr,
		Decisions: decisions,
	})
	if err != nil {
		cooldowns.Close()
		decisions.Close()
		return nil, fmt.Errorf("http server: %w", err)
	}

	return &App{
		cfg:            cfg,
		mgr:            mgr,
		http:           httpServer,
		cooldowns:      cooldowns,
		decisions:      decisions,
		tickInterval:   time.Duration(cfg.Manage.IntervalSeconds) * time.Second,
		runImmediately: cfg.Manage.RunImmediately,
	}, nil
}
