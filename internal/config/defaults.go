package config

func (c *Config) applyDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":9920"
	}
	if c.Exchange.TimeoutSeconds <= 0 {
		c.Exchange.TimeoutSeconds = 15
	}
	if c.Market.TimeoutSeconds <= 0 {
		c.Market.TimeoutSeconds = 5
	}
	if c.Advisor.TimeoutSeconds <= 0 {
		c.Advisor.TimeoutSeconds = 30
	}

	if c.Trading.DefaultSizePct <= 0 {
		c.Trading.DefaultSizePct = 0.15
	}
	if c.Trading.DefaultLeverage <= 0 {
		c.Trading.DefaultLeverage = 3
	}
	if c.Trading.MinNotionalUSD <= 0 {
		c.Trading.MinNotionalUSD = 10
	}
	if c.Trading.EntryOrderType == "" {
		c.Trading.EntryOrderType = "market"
	}

	if c.Risk.DefaultStopPct <= 0 {
		c.Risk.DefaultStopPct = 0.04
	}
	if c.Risk.StopATRMultiplier <= 0 {
		c.Risk.StopATRMultiplier = 1.2
	}
	if c.Risk.BreakEvenR <= 0 {
		c.Risk.BreakEvenR = 0.9
	}
	if c.Risk.FeeBufferPct <= 0 {
		c.Risk.FeeBufferPct = 0.0012
	}
	if c.Risk.PartialTPR <= 0 {
		c.Risk.PartialTPR = 0.8
	}
	if c.Risk.PartialTPFraction <= 0 {
		c.Risk.PartialTPFraction = 0.5
	}
	if c.Risk.TimeStopMinutes <= 0 {
		c.Risk.TimeStopMinutes = 14
	}
	if c.Risk.TimeStopMinProfitR <= 0 {
		c.Risk.TimeStopMinProfitR = 0.2
	}
	if c.Risk.TimeStopATRDecay <= 0 {
		c.Risk.TimeStopATRDecay = 0.6
	}
	if c.Risk.TrailATRMultiplier <= 0 {
		c.Risk.TrailATRMultiplier = 1.1
	}
	if c.Risk.TrailFallbackPct <= 0 {
		c.Risk.TrailFallbackPct = 0.025
	}
	if c.Risk.StructureATROffset <= 0 {
		c.Risk.StructureATROffset = 0.2
	}
	if c.Risk.VolumeSpikeRatio <= 0 {
		c.Risk.VolumeSpikeRatio = 2.0
	}
	if c.Risk.ProtectedR <= 0 {
		c.Risk.ProtectedR = 0.5
	}
	if c.Risk.EntryGapTolerancePct <= 0 {
		c.Risk.EntryGapTolerancePct = 0.001
	}

	if c.Reverse.WarningThreshold == 0 {
		c.Reverse.WarningThreshold = -0.08
	}
	if c.Reverse.AIReviewThreshold == 0 {
		c.Reverse.AIReviewThreshold = -0.12
	}
	if c.Reverse.ReverseThreshold == 0 {
		c.Reverse.ReverseThreshold = -0.15
	}
	if c.Reverse.HardStopThreshold == 0 {
		c.Reverse.HardStopThreshold = -0.20
	}
	if c.Reverse.CooldownMinutes <= 0 {
		c.Reverse.CooldownMinutes = 30
	}
	if c.Reverse.Leverage <= 0 {
		c.Reverse.Leverage = 5
	}
	if c.Reverse.MinConfidence <= 0 {
		c.Reverse.MinConfidence = 80
	}
	if c.Reverse.ContextVotes <= 0 {
		c.Reverse.ContextVotes = 2
	}
	if c.Reverse.RecoveryMinPct <= 0 {
		c.Reverse.RecoveryMinPct = 0.05
	}
	if c.Reverse.RecoveryMaxPct <= 0 {
		c.Reverse.RecoveryMaxPct = 0.25
	}

	if c.Cooldown.Minutes <= 0 {
		c.Cooldown.Minutes = 60
	}
	if c.Cooldown.LossMinutes <= 0 {
		c.Cooldown.LossMinutes = 2 * c.Cooldown.Minutes
	}
	if c.Cooldown.PnLThresholdPct <= 0 {
		c.Cooldown.PnLThresholdPct = 5.0
	}

	if c.Manage.IntervalSeconds <= 0 {
		c.Manage.IntervalSeconds = 45
	}
	if c.Manage.MaxConcurrency <= 0 {
		c.Manage.MaxConcurrency = 4
	}

	if c.Store.CooldownPath == "" {
		c.Store.CooldownPath = "data/cooldown.db"
	}
	if c.Store.DecisionLogPath == "" {
		c.Store.DecisionLogPath = "data/decisions.db"
	}
	if c.Store.EquityMaxSamples <= 0 {
		c.Store.EquityMaxSamples = 4000
	}
}
