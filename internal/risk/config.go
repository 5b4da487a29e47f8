package risk

import "time"

// Config is the immutable rule book for the exit rule engine. It is built
// once at startup and passed into constructors; per-asset overrides layer on
// top through a ProfileResolver rather than by mutating this struct.
type Config struct {
	DefaultStopPct    float64 // initial stop distance as a fraction of entry when no ATR
	StopATRMultiplier float64 // initial stop distance in ATRs

	BreakEvenR   float64 // profit (in R) required before the breakeven lock
	FeeBufferPct float64 // breakeven target offset past entry, covers fees

	PartialTPR        float64 // profit (in R) that arms the partial take-profit
	PartialTPFraction float64 // fraction of quantity closed by the partial TP

	TimeStop           time.Duration
	TimeStopMinProfitR float64 // time stop only fires below this R
	TimeStopATRDecay   float64 // and once ATR% has decayed under initial×this

	TrailATRMultiplier float64 // trailing distance in ATRs behind mark
	TrailFallbackPct   float64 // trailing distance when ATR is unavailable
	StructureATROffset float64 // offset (in ATRs) past EMA/structure levels

	VolumeSpikeRatio float64 // volume ratio treated as a spike for the BE lock

	ProtectedR float64 // momentum exit requires breakeven or this many R

	EntryGapTolerance float64 // relative entry drift that rebuilds the anchor
}

// WithDefaults fills zero fields with the engine's standard tuning.
func (c Config) WithDefaults() Config {
	if c.DefaultStopPct <= 0 {
		c.DefaultStopPct = 0.04
	}
	if c.StopATRMultiplier <= 0 {
		c.StopATRMultiplier = 1.2
	}
	if c.BreakEvenR <= 0 {
		c.BreakEvenR = 0.9
	}
	if c.FeeBufferPct <= 0 {
		c.FeeBufferPct = 0.0012
	}
	if c.PartialTPR <= 0 {
		c.PartialTPR = 0.8
	}
	if c.PartialTPFraction <= 0 || c.PartialTPFraction >= 1 {
		c.PartialTPFraction = 0.5
	}
	if c.TimeStop <= 0 {
		c.TimeStop = 14 * time.Minute
	}
	if c.TimeStopMinProfitR <= 0 {
		c.TimeStopMinProfitR = 0.2
	}
	if c.TimeStopATRDecay <= 0 {
		c.TimeStopATRDecay = 0.6
	}
	if c.TrailATRMultiplier <= 0 {
		c.TrailATRMultiplier = 1.1
	}
	if c.TrailFallbackPct <= 0 {
		c.TrailFallbackPct = 0.025
	}
	if c.StructureATROffset <= 0 {
		c.StructureATROffset = 0.2
	}
	if c.VolumeSpikeRatio <= 0 {
		c.VolumeSpikeRatio = 2.0
	}
	if c.ProtectedR <= 0 {
		c.ProtectedR = 0.5
	}
	if c.EntryGapTolerance <= 0 {
		c.EntryGapTolerance = 0.001
	}
	return c
}

// ReverseConfig is the immutable rule book for the losing-position ladder.
type ReverseConfig struct {
	WarningThreshold  float64
	AIReviewThreshold float64
	ReverseThreshold  float64
	HardStopThreshold float64

	Cooldown      time.Duration // per-symbol gap between reverse attempts
	Leverage      float64       // leverage of the recovery position
	MinConfidence float64       // advisor confidence bar for executing REVERSE
	ContextVotes  int           // market context votes required, scored of 3

	RecoveryMinPct float64
	RecoveryMaxPct float64
}

// WithDefaults fills zero fields with the ladder's standard tuning.
func (c ReverseConfig) WithDefaults() ReverseConfig {
	if c.WarningThreshold == 0 {
		c.WarningThreshold = -0.08
	}
	if c.AIReviewThreshold == 0 {
		c.AIReviewThreshold = -0.12
	}
	if c.ReverseThreshold == 0 {
		c.ReverseThreshold = -0.15
	}
	if c.HardStopThreshold == 0 {
		c.HardStopThreshold = -0.20
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Minute
	}
	if c.Leverage <= 0 {
		c.Leverage = 5
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 80
	}
	if c.ContextVotes <= 0 {
		c.ContextVotes = 2
	}
	if c.RecoveryMinPct <= 0 {
		c.RecoveryMinPct = 0.05
	}
	if c.RecoveryMaxPct <= 0 {
		c.RecoveryMaxPct = 0.25
	}
	return c
}

// ClampRecovery bounds an advisor-proposed recovery size to the configured
// band. Values at or below zero fall back to the band's lower edge.
func (c ReverseConfig) ClampRecovery(pct float64) float64 {
	if pct <= 0 {
		return c.RecoveryMinPct
	}
	if pct < c.RecoveryMinPct {
		return c.RecoveryMinPct
	}
	if pct > c.RecoveryMaxPct {
		return c.RecoveryMaxPct
	}
	return pct
}

// Profile carries per-asset overrides for trailing aggressiveness. Zero
// fields defer to Config.
type Profile struct {
	TrailATRMultiplier float64 `yaml:"trail_atr_multiplier"`
	TrailFallbackPct   float64 `yaml:"trail_fallback_pct"`
	StopATRMultiplier  float64 `yaml:"stop_atr_multiplier"`
}

// ProfileResolver looks up per-asset overrides by base asset ("BTC").
type ProfileResolver interface {
	Resolve(base string) (Profile, bool)
}

// NoProfiles is a ProfileResolver with no overrides.
type NoProfiles struct{}

func (NoProfiles) Resolve(string) (Profile, bool) { return Profile{}, false }
