// Package portfolio tracks cash and per-instrument positions for a run.
package portfolio

// Position is a signed holding in one instrument. Quantity > 0 is long,
// < 0 is short. AvgPrice is the volume-weighted entry price and only moves
// when the position opens or adds in its current direction.
type Position struct {
	Symbol   string
	Quantity float64
	AvgPrice float64
}

// Ledger owns cash and open positions. It never rejects a fill; pre-trade
// checks belong to the risk gate upstream.
type Ledger struct {
	InitialCapital float64
	cash           float64
	positions      map[string]*Position
}

func NewLedger(initialCapital float64) *Ledger {
	return &Ledger{
		InitialCapital: initialCapital,
		cash:           initialCapital,
		positions:      make(map[string]*Position),
	}
}

func (l *Ledger) Cash() float64 { return l.cash }

// Position returns the current position for symbol, or a zero-value
// position if flat.
func (l *Ledger) Position(symbol string) Position {
	if p, ok := l.positions[symbol]; ok {
		return *p
	}
	return Position{Symbol: symbol}
}

// Symbols returns the symbols with open positions, in map order.
// Callers that need determinism must sort.
func (l *Ledger) Symbols() []string {
	out := make([]string, 0, len(l.positions))
	for s := range l.positions {
		out = append(out, s)
	}
	return out
}

// ApplyFill mutates cash by -fee - qtyDelta*price and updates the position.
// The average price is recomputed only when the position opens or grows in
// its current direction. Reducing keeps the average; a flip through zero is
// a full close followed by a fresh open at the fill price.
func (l *Ledger) ApplyFill(symbol string, qtyDelta, price, fee float64) {
	l.cash -= fee
	l.cash -= qtyDelta * price

	pos, ok := l.positions[symbol]
	if !ok {
		pos = &Position{Symbol: symbol}
	}
	oldQty := pos.Quantity
	newQty := oldQty + qtyDelta

	switch {
	case oldQty == 0 && newQty != 0:
		pos.Quantity = newQty
		pos.AvgPrice = price
	case oldQty > 0 && newQty > oldQty, oldQty < 0 && newQty < oldQty:
		// Adding in the current direction: weighted average.
		total := absf(oldQty)*pos.AvgPrice + absf(qtyDelta)*price
		pos.Quantity = newQty
		pos.AvgPrice = total / absf(newQty)
	case (oldQty > 0 && newQty < 0) || (oldQty < 0 && newQty > 0):
		// Flip: close the old side, open the remainder at the fill price.
		pos.Quantity = newQty
		pos.AvgPrice = price
	default:
		// Reducing toward zero: average unchanged.
		pos.Quantity = newQty
	}

	if pos.Quantity == 0 {
		delete(l.positions, symbol)
		return
	}
	l.positions[symbol] = pos
}

// Equity returns cash plus the marked value of all positions. A symbol
// missing from marks falls back to its average entry price, so Equity
// never fails.
func (l *Ledger) Equity(marks map[string]float64) float64 {
	equity := l.cash
	for sym, pos := range l.positions {
		equity += pos.Quantity * l.mark(marks, sym, pos)
	}
	return equity
}

// GrossExposure returns the sum of |quantity| * mark across positions,
// with the same average-price fallback as Equity.
func (l *Ledger) GrossExposure(marks map[string]float64) float64 {
	exposure := 0.0
	for sym, pos := range l.positions {
		exposure += absf(pos.Quantity) * l.mark(marks, sym, pos)
	}
	return exposure
}

func (l *Ledger) mark(marks map[string]float64, sym string, pos *Position) float64 {
	if px, ok := marks[sym]; ok {
		return px
	}
	return pos.AvgPrice
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
