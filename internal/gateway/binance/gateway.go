package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"

	"guardian/internal/gateway/exchange"
	"guardian/internal/logger"
)

// Gateway talks to Binance USDⓈ-M futures and implements exchange.Gateway.
type Gateway struct {
	cfg    Config
	client *futures.Client

	filtersMu sync.Mutex
	filters   map[string]exchange.LotFilters
	filtersAt time.Time
}

var _ exchange.Gateway = (*Gateway)(nil)

func New(cfg Config) (*Gateway, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(strings.TrimSpace(final.APIKey), strings.TrimSpace(final.APISecret))
	client.BaseURL = strings.TrimSpace(final.RESTBaseURL)
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Gateway{
		cfg:     final,
		client:  client,
		filters: make(map[string]exchange.LotFilters),
	}, nil
}

func (g *Gateway) Name() string { return "binance-futures" }

func (g *Gateway) ListOpenPositions(ctx context.Context) ([]exchange.Position, error) {
	risks, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance position risk: %w", err)
	}
	now := time.Now()
	out := make([]exchange.Position, 0, len(risks))
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		pos := positionFromRisk(r, amt, now)
		stop, err := g.exchangeStopFor(ctx, pos.Symbol, pos.Side)
		if err != nil {
			// The stop is advisory for anchor rebuild; a missing read must
			// not hide the position itself.
			logger.Warnf("binance: read stop for %s failed: %v", pos.Symbol, err)
		} else {
			pos.StopLoss = stop
		}
		out = append(out, pos)
	}
	return out, nil
}

// exchangeStopFor returns the stop price of the active close-position stop
// order for the symbol, or 0 when none is working.
func (g *Gateway) exchangeStopFor(ctx context.Context, symbol string, side exchange.Side) (float64, error) {
	orders, err := g.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	closeSide := binanceSide(side.CloseOrderSide())
	for _, o := range orders {
		if o.Type != futures.OrderTypeStopMarket || o.Side != closeSide {
			continue
		}
		if !o.ClosePosition && !o.ReduceOnly {
			continue
		}
		return parseFloat(o.StopPrice), nil
	}
	return 0, nil
}

func (g *Gateway) OpenPosition(ctx context.Context, req exchange.OpenRequest) (*exchange.OrderResult, error) {
	if !req.Side.Valid() {
		return nil, fmt.Errorf("open %s: invalid side %q", req.Symbol, req.Side)
	}
	if req.Quantity <= 0 {
		return nil, fmt.Errorf("open %s: non-positive quantity", req.Symbol)
	}
	svc := g.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(binanceSide(req.Side.OrderSide())).
		Quantity(formatQty(req.Quantity)).
		NewClientOrderID(clientOrderID("open"))
	if req.Price > 0 {
		svc = svc.Type(futures.OrderTypeLimit).
			TimeInForce(futures.TimeInForceTypeGTC).
			Price(formatQty(req.Price))
	} else {
		svc = svc.Type(futures.OrderTypeMarket)
	}
	resp, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance open %s %s: %w", req.Side, req.Symbol, err)
	}
	result := &exchange.OrderResult{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		ExecutedQty:   parseFloat(resp.ExecutedQuantity),
	}
	if req.StopLoss > 0 {
		if err := g.SetStopLoss(ctx, req.Symbol, req.Side, req.StopLoss); err != nil {
			logger.Warnf("binance: initial stop for %s not placed: %v", req.Symbol, err)
		}
	}
	return result, nil
}

func (g *Gateway) ReduceOnlyClose(ctx context.Context, symbol string, side exchange.Side, quantity float64) (*exchange.OrderResult, error) {
	if quantity <= 0 {
		amt, err := g.openQuantity(ctx, symbol, side)
		if err != nil {
			return nil, err
		}
		if amt <= 0 {
			return nil, fmt.Errorf("close %s: no open %s position", symbol, side)
		}
		quantity = amt
	}
	resp, err := g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(binanceSide(side.CloseOrderSide())).
		Type(futures.OrderTypeMarket).
		Quantity(formatQty(quantity)).
		ReduceOnly(true).
		NewClientOrderID(clientOrderID("close")).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance close %s %s: %w", side, symbol, err)
	}
	return &exchange.OrderResult{
		OrderID:       strconv.FormatInt(resp.OrderID, 10),
		ClientOrderID: resp.ClientOrderID,
		ExecutedQty:   parseFloat(resp.ExecutedQuantity),
	}, nil
}

// SetStopLoss replaces the working close-position stop. The new order is
// placed before stale ones are cancelled so the position is never left
// unprotected between the two calls.
func (g *Gateway) SetStopLoss(ctx context.Context, symbol string, side exchange.Side, stopPrice float64) error {
	if stopPrice <= 0 {
		return fmt.Errorf("set stop %s: non-positive price", symbol)
	}
	orders, err := g.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return fmt.Errorf("binance open orders %s: %w", symbol, err)
	}
	closeSide := binanceSide(side.CloseOrderSide())
	_, err = g.client.NewCreateOrderService().
		Symbol(symbol).
		Side(closeSide).
		Type(futures.OrderTypeStopMarket).
		StopPrice(formatQty(stopPrice)).
		ClosePosition(true).
		NewClientOrderID(clientOrderID("stop")).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("binance set stop %s: %w", symbol, err)
	}
	for _, o := range orders {
		if o.Type != futures.OrderTypeStopMarket || o.Side != closeSide {
			continue
		}
		if !o.ClosePosition && !o.ReduceOnly {
			continue
		}
		if _, cancelErr := g.client.NewCancelOrderService().Symbol(symbol).OrderID(o.OrderID).Do(ctx); cancelErr != nil {
			logger.Warnf("binance: cancel stale stop %d on %s failed: %v", o.OrderID, symbol, cancelErr)
		}
	}
	return nil
}

func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	lev := int(math.Round(leverage))
	if lev < 1 {
		lev = 1
	}
	if _, err := g.client.NewChangeLeverageService().Symbol(symbol).Leverage(lev).Do(ctx); err != nil {
		return fmt.Errorf("binance leverage %s x%d: %w", symbol, lev, err)
	}
	return nil
}

func (g *Gateway) GetBalance(ctx context.Context) (exchange.Balance, error) {
	balances, err := g.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return exchange.Balance{}, fmt.Errorf("binance balance: %w", err)
	}
	for _, b := range balances {
		if !strings.EqualFold(b.Asset, g.cfg.StakeAsset) {
			continue
		}
		return exchange.Balance{
			Total:     parseFloat(b.Balance),
			Available: parseFloat(b.AvailableBalance),
			UpdatedAt: time.Now(),
		}, nil
	}
	return exchange.Balance{}, fmt.Errorf("binance balance: asset %s not found", g.cfg.StakeAsset)
}

func (g *Gateway) GetPrice(ctx context.Context, symbol string) (exchange.PriceQuote, error) {
	prices, err := g.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return exchange.PriceQuote{}, fmt.Errorf("binance price %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return exchange.PriceQuote{}, fmt.Errorf("binance price %s: empty response", symbol)
	}
	return exchange.PriceQuote{
		Symbol:    prices[0].Symbol,
		Last:      parseFloat(prices[0].Price),
		UpdatedAt: time.Now(),
	}, nil
}

func (g *Gateway) SymbolFilters(ctx context.Context, symbol string) (exchange.LotFilters, error) {
	g.filtersMu.Lock()
	fresh := time.Since(g.filtersAt) < g.cfg.FiltersRefresh
	if f, ok := g.filters[symbol]; ok && fresh {
		g.filtersMu.Unlock()
		return f, nil
	}
	g.filtersMu.Unlock()

	info, err := g.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return exchange.LotFilters{}, fmt.Errorf("binance exchange info: %w", err)
	}
	g.filtersMu.Lock()
	defer g.filtersMu.Unlock()
	g.filters = make(map[string]exchange.LotFilters, len(info.Symbols))
	for _, s := range info.Symbols {
		f := exchange.LotFilters{}
		if lot := s.LotSizeFilter(); lot != nil {
			f.StepSize = parseFloat(lot.StepSize)
			f.MinQty = parseFloat(lot.MinQuantity)
		}
		if pf := s.PriceFilter(); pf != nil {
			f.TickSize = parseFloat(pf.TickSize)
		}
		g.filters[s.Symbol] = f
	}
	g.filtersAt = time.Now()
	f, ok := g.filters[symbol]
	if !ok {
		return exchange.LotFilters{}, fmt.Errorf("binance filters: unknown symbol %s", symbol)
	}
	return f, nil
}

// ListRecentCloses reconstructs realized closes inside the window from the
// income history, then resolves direction and exit price through the matching
// account trade. The entry price falls out of the fill arithmetic: for linear
// contracts income = (exit-entry)*qty on longs and the negation on shorts.
func (g *Gateway) ListRecentCloses(ctx context.Context, window time.Duration) ([]exchange.ClosedTrade, error) {
	start := time.Now().Add(-window).UnixMilli()
	incomes, err := g.client.NewGetIncomeHistoryService().
		IncomeType("REALIZED_PNL").
		StartTime(start).
		Limit(200).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance income history: %w", err)
	}
	if len(incomes) == 0 {
		return nil, nil
	}

	leverages, err := g.leverageBySymbol(ctx)
	if err != nil {
		logger.Warnf("binance: leverage lookup for closed trades failed: %v", err)
		leverages = map[string]float64{}
	}

	tradesBySymbol := make(map[string][]*futures.AccountTrade)
	var out []exchange.ClosedTrade
	for _, inc := range incomes {
		pnl := parseFloat(inc.Income)
		trades, ok := tradesBySymbol[inc.Symbol]
		if !ok {
			trades, err = g.client.NewListAccountTradeService().
				Symbol(inc.Symbol).
				StartTime(start).
				Limit(200).
				Do(ctx)
			if err != nil {
				logger.Warnf("binance: account trades for %s failed: %v", inc.Symbol, err)
				trades = nil
			}
			tradesBySymbol[inc.Symbol] = trades
		}
		fill := matchClosingFill(trades, inc.TradeID)
		if fill == nil {
			continue
		}
		trade, ok := closedTradeFromFill(inc.Symbol, pnl, fill, leverages[inc.Symbol], time.UnixMilli(inc.Time))
		if !ok {
			continue
		}
		out = append(out, trade)
	}
	return out, nil
}

func (g *Gateway) openQuantity(ctx context.Context, symbol string, side exchange.Side) (float64, error) {
	risks, err := g.client.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance position risk %s: %w", symbol, err)
	}
	for _, r := range risks {
		amt := parseFloat(r.PositionAmt)
		if amt == 0 {
			continue
		}
		if side == exchange.Long && amt > 0 {
			return amt, nil
		}
		if side == exchange.Short && amt < 0 {
			return -amt, nil
		}
	}
	return 0, nil
}

func (g *Gateway) leverageBySymbol(ctx context.Context) (map[string]float64, error) {
	risks, err := g.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(risks))
	for _, r := range risks {
		if lev := parseFloat(r.Leverage); lev > 0 {
			out[r.Symbol] = lev
		}
	}
	return out, nil
}

func clientOrderID(tag string) string {
	// Binance caps client order IDs at 36 chars.
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("pg-%s-%s", tag, id[:24])
}
