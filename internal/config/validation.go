package config

import "fmt"

func validate(c *Config) error {
	if c.Trading.DefaultSizePct > 1 {
		return fmt.Errorf("trading.default_size_pct must be within (0, 1], got %v", c.Trading.DefaultSizePct)
	}
	if t := c.Trading.EntryOrderType; t != "market" && t != "limit" {
		return fmt.Errorf("trading.entry_order_type must be market or limit, got %q", t)
	}
	if c.Risk.PartialTPFraction >= 1 {
		return fmt.Errorf("risk.partial_tp_fraction must stay below 1 so a partial TP never flattens the position")
	}

	r := c.Reverse
	for name, v := range map[string]float64{
		"reverse.warning_threshold":   r.WarningThreshold,
		"reverse.ai_review_threshold": r.AIReviewThreshold,
		"reverse.reverse_threshold":   r.ReverseThreshold,
		"reverse.hard_stop_threshold": r.HardStopThreshold,
	} {
		if v >= 0 {
			return fmt.Errorf("%s must be negative, got %v", name, v)
		}
	}
	if !(r.HardStopThreshold < r.ReverseThreshold &&
		r.ReverseThreshold < r.AIReviewThreshold &&
		r.AIReviewThreshold < r.WarningThreshold) {
		return fmt.Errorf("reverse thresholds must be ordered hard_stop < reverse < ai_review < warning, got %v < %v < %v < %v",
			r.HardStopThreshold, r.ReverseThreshold, r.AIReviewThreshold, r.WarningThreshold)
	}
	if r.RecoveryMinPct > r.RecoveryMaxPct {
		return fmt.Errorf("reverse.recovery_min_pct (%v) exceeds recovery_max_pct (%v)", r.RecoveryMinPct, r.RecoveryMaxPct)
	}
	if r.ContextVotes > 3 {
		return fmt.Errorf("reverse.context_votes is scored out of 3, got %d", r.ContextVotes)
	}

	if c.Advisor.Enabled && c.Advisor.URL == "" {
		return fmt.Errorf("advisor.url is required when advisor.enabled=true")
	}
	if c.Notify.Telegram.Enabled && (c.Notify.Telegram.BotToken == "" || c.Notify.Telegram.ChatID == "") {
		return fmt.Errorf("notify.telegram requires bot_token and chat_id when enabled")
	}
	return nil
}
