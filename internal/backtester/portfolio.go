// Package backtester provides point-in-time historical simulation:
// portfolio accounting, trade execution, and return/risk metrics.
package backtester

import (
	"github.com/shopspring/decimal"

	"github.com/sqryxz/mts-signal-pipeline/pkg/types"
)

// position is one open long holding, average-price blended across fills.
type position struct {
	Asset    string
	Quantity decimal.Decimal
	AvgPrice decimal.Decimal
}

// portfolio tracks cash, open positions, and the running peak used for
// drawdown. The engine steps it single-threaded, so it carries no mutex.
type portfolio struct {
	cash       decimal.Decimal
	positions  map[string]*position
	peakEquity decimal.Decimal
}

func newPortfolio(initialCapital decimal.Decimal) *portfolio {
	return &portfolio{
		cash:       initialCapital,
		positions:  make(map[string]*position),
		peakEquity: initialCapital,
	}
}

// value marks every open position to today's close (as supplied by
// closes) and adds cash: the portfolio's total equity.
func (p *portfolio) value(closes map[string]decimal.Decimal) decimal.Decimal {
	total := p.cash
	for asset, pos := range p.positions {
		if pos.Quantity.IsZero() {
			continue
		}
		price, ok := closes[asset]
		if !ok {
			price = pos.AvgPrice
		}
		total = total.Add(pos.Quantity.Mul(price))
	}
	return total
}

// openOrAdd executes a LONG fill: debits cash (notional + transaction
// cost) and blends into any existing position by average price.
func (p *portfolio) openOrAdd(asset string, qty, price, transactionCost decimal.Decimal) types.TradeLogEntry {
	notional := qty.Mul(price)
	cost := notional.Mul(transactionCost)
	p.cash = p.cash.Sub(notional).Sub(cost)

	if pos, ok := p.positions[asset]; ok && pos.Quantity.IsPositive() {
		totalCost := pos.AvgPrice.Mul(pos.Quantity).Add(notional)
		newQty := pos.Quantity.Add(qty)
		pos.AvgPrice = totalCost.Div(newQty)
		pos.Quantity = newQty
	} else {
		p.positions[asset] = &position{Asset: asset, Quantity: qty, AvgPrice: price}
	}

	return types.TradeLogEntry{
		Asset:      asset,
		SignalType: types.SignalLong,
		Quantity:   qty,
		Price:      price,
		Cost:       cost,
		PnL:        decimal.Zero,
	}
}

// close liquidates an existing long position, crediting cash net of
// transaction cost and reporting realized P&L.
func (p *portfolio) close(asset string, price, transactionCost decimal.Decimal) (types.TradeLogEntry, bool) {
	pos, ok := p.positions[asset]
	if !ok || !pos.Quantity.IsPositive() {
		return types.TradeLogEntry{}, false
	}
	notional := pos.Quantity.Mul(price)
	cost := notional.Mul(transactionCost)
	pnl := pos.Quantity.Mul(price.Sub(pos.AvgPrice)).Sub(cost)
	p.cash = p.cash.Add(notional).Sub(cost)

	entry := types.TradeLogEntry{
		Asset:      asset,
		SignalType: types.SignalShort,
		Quantity:   pos.Quantity,
		Price:      price,
		Cost:       cost,
		PnL:        pnl,
	}
	delete(p.positions, asset)
	return entry, true
}

// hasPosition reports whether asset currently has an open long position.
func (p *portfolio) hasPosition(asset string) bool {
	pos, ok := p.positions[asset]
	return ok && pos != nil && pos.Quantity.IsPositive()
}

// drawdownFrom updates the running peak against equity and returns the
// non-positive drawdown fraction, peak-relative and always in [-1, 0].
func (p *portfolio) drawdownFrom(equity decimal.Decimal) float64 {
	if equity.GreaterThan(p.peakEquity) {
		p.peakEquity = equity
	}
	if p.peakEquity.IsZero() {
		return 0
	}
	dd := equity.Sub(p.peakEquity).Div(p.peakEquity)
	f, _ := dd.Float64()
	if f > 0 {
		f = 0
	}
	return f
}
