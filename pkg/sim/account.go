package sim

import "math"

// Account is one agent's ledger entry. Keyed by an immutable opaque ID;
// the display name is mutable and indexed separately. Mutated only while
// holding the ledger lock.
type Account struct {
	ID          string `json:"account_id"`
	DisplayName string `json:"display_name"`

	Cash         float64 `json:"cash"`
	RegisteredAt string  `json:"registered_at,omitempty"`
	Description  string  `json:"description,omitempty"`
	Avatar       string  `json:"avatar,omitempty"`
	IsTest       bool    `json:"is_test"`

	// Positions holds signed quantities; zero-quantity entries must never
	// persist. AvgCost has an entry iff Positions has one.
	Positions map[string]float64 `json:"positions"`
	AvgCost   map[string]float64 `json:"avg_cost"`

	RealizedPnL float64 `json:"realized_pnl"`

	// Prediction-market holdings: market -> outcome -> shares, with a
	// parallel cost-basis map (cash spent; may be absent for data
	// migrated from before cost basis was tracked).
	PolyPositions   map[string]map[string]float64 `json:"poly_positions"`
	PolyCostBasis   map[string]map[string]float64 `json:"poly_cost_basis,omitempty"`
	PolyRealizedPnL float64                       `json:"poly_realized_pnl"`

	// Blocked is set on a hard risk breach and never cleared
	// automatically; only an operator Unblock lifts it.
	Blocked bool `json:"blocked"`
}

func NewAccount(id, displayName string, cash float64) *Account {
	return &Account{
		ID:            id,
		DisplayName:   displayName,
		Cash:          cash,
		Positions:     make(map[string]float64),
		AvgCost:       make(map[string]float64),
		PolyPositions: make(map[string]map[string]float64),
		PolyCostBasis: make(map[string]map[string]float64),
	}
}

// normalize initializes nil maps after a JSON load.
func (a *Account) normalize() {
	if a.Positions == nil {
		a.Positions = make(map[string]float64)
	}
	if a.AvgCost == nil {
		a.AvgCost = make(map[string]float64)
	}
	if a.PolyPositions == nil {
		a.PolyPositions = make(map[string]map[string]float64)
	}
	if a.PolyCostBasis == nil {
		a.PolyCostBasis = make(map[string]map[string]float64)
	}
}

// setPosition writes a position entry, dropping both the quantity and
// cost-basis entries when the quantity reaches zero. All position writes
// go through here so the no-zero-residue invariant holds in one place.
func (a *Account) setPosition(symbol string, qty, avgCost float64) {
	if qty == 0 {
		delete(a.Positions, symbol)
		delete(a.AvgCost, symbol)
		return
	}
	a.Positions[symbol] = qty
	a.AvgCost[symbol] = avgCost
}

// applyFill folds a signed fill into the position and cost basis:
// same-sign fills accumulate into a weighted-average cost, opposite-sign
// fills realize P&L on the closing quantity, and a sign flip opens the
// residual at the fill price. Cash movement is the caller's business.
func (a *Account) applyFill(symbol string, signedQty, fillPrice, multiplier float64) {
	oldQty := a.Positions[symbol]
	oldAvg, hasAvg := a.AvgCost[symbol]
	if !hasAvg {
		oldAvg = fillPrice
	}
	newQty := oldQty + signedQty

	if oldQty == 0 || oldQty*signedQty > 0 {
		totalAbs := math.Abs(oldQty) + math.Abs(signedQty)
		newAvg := (math.Abs(oldQty)*oldAvg + math.Abs(signedQty)*fillPrice) / totalAbs
		a.setPosition(symbol, newQty, newAvg)
		return
	}

	closing := math.Min(math.Abs(oldQty), math.Abs(signedQty))
	pnlPerUnit := fillPrice - oldAvg
	if oldQty < 0 {
		pnlPerUnit = -pnlPerUnit
	}
	a.RealizedPnL += pnlPerUnit * closing * multiplier

	switch {
	case newQty == 0:
		a.setPosition(symbol, 0, 0)
	case oldQty*newQty < 0:
		// Flip: the residual is a fresh position at the fill price.
		a.setPosition(symbol, newQty, fillPrice)
	default:
		a.setPosition(symbol, newQty, oldAvg)
	}
}

// addPolyShares credits outcome shares and accumulates their cost basis.
func (a *Account) addPolyShares(marketID, outcome string, shares, cost float64) {
	if a.PolyPositions[marketID] == nil {
		a.PolyPositions[marketID] = make(map[string]float64)
	}
	a.PolyPositions[marketID][outcome] += shares
	if a.PolyCostBasis[marketID] == nil {
		a.PolyCostBasis[marketID] = make(map[string]float64)
	}
	a.PolyCostBasis[marketID][outcome] += cost
}

// clearPolyMarket drops all holdings in a market, winners and losers
// alike, after resolution pays out. Returns the total cost basis the
// account had across every outcome of the market.
func (a *Account) clearPolyMarket(marketID string) float64 {
	var basis float64
	for _, cost := range a.PolyCostBasis[marketID] {
		basis += cost
	}
	delete(a.PolyPositions, marketID)
	delete(a.PolyCostBasis, marketID)
	return basis
}

// polyShares returns the account's shares of one market outcome.
func (a *Account) polyShares(marketID, outcome string) float64 {
	return a.PolyPositions[marketID][outcome]
}

// hasOpenPosition reports whether any stock or poly position is nonzero.
func (a *Account) hasOpenPosition() bool {
	for _, qty := range a.Positions {
		if qty != 0 {
			return true
		}
	}
	for _, outcomes := range a.PolyPositions {
		for _, shares := range outcomes {
			if shares != 0 {
				return true
			}
		}
	}
	return false
}

// clone returns a deep copy safe to hand out after the lock is released.
func (a *Account) clone() *Account {
	cp := *a
	cp.Positions = copyFloatMap(a.Positions)
	cp.AvgCost = copyFloatMap(a.AvgCost)
	cp.PolyPositions = copyNestedMap(a.PolyPositions)
	cp.PolyCostBasis = copyNestedMap(a.PolyCostBasis)
	return &cp
}

func copyFloatMap(src map[string]float64) map[string]float64 {
	dst := make(map[string]float64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func copyNestedMap(src map[string]map[string]float64) map[string]map[string]float64 {
	dst := make(map[string]map[string]float64, len(src))
	for k, v := range src {
		dst[k] = copyFloatMap(v)
	}
	return dst
}
