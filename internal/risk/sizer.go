package risk

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPrice is returned when sizing is attempted against a
	// non-positive price.
	ErrInvalidPrice = errors.New("invalid price")
)

// Size converts a balance fraction plus leverage into an exchange-legal
// order quantity. The raw quantity (balanceFree × sizePct × leverage) / price
// is floored to a multiple of lotStep; results below minQty are lifted to
// minQty so any positive balance still yields a tradable quantity.
//
// Pure function: no venue calls, no state.
func Size(balanceFree, sizePct, leverage, price, lotStep, minQty float64) (float64, error) {
	if price <= 0 {
		return 0, fmt.Errorf("sizing %s: %w (price=%v)", "order", ErrInvalidPrice, price)
	}
	if sizePct <= 0 || sizePct > 1 {
		return 0, fmt.Errorf("size_pct must be within (0, 1], got %v", sizePct)
	}
	if leverage < 1 {
		return 0, fmt.Errorf("leverage must be >= 1, got %v", leverage)
	}
	if lotStep <= 0 {
		return 0, fmt.Errorf("lot_step must be > 0, got %v", lotStep)
	}
	if balanceFree <= 0 {
		return 0, fmt.Errorf("no free balance to size against (%v)", balanceFree)
	}

	raw := (balanceFree * sizePct * leverage) / price
	qty := floorToStep(raw, lotStep)
	if minQty > 0 && qty < minQty {
		qty = minQty
	}
	if qty <= 0 {
		// lotStep-only venues with no explicit minimum
		qty = lotStep
	}
	return qty, nil
}
