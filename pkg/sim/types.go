package sim

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Fill is the result of successfully applying an order at a given price.
type Fill struct {
	OrderID     string  `json:"order_id"`
	AccountID   string  `json:"account_id"`
	AgentName   string  `json:"agent_id"`
	Symbol      string  `json:"symbol"`
	Side        Side    `json:"side"`
	Qty         float64 `json:"qty"`
	FillPrice   float64 `json:"fill_price"`
	Multiplier  float64 `json:"multiplier"`
	Notional    float64 `json:"notional"`
	PriceSource string  `json:"price_source"` // "live", "cache", or caller-supplied
	Status      string  `json:"status"`       // always "FILLED"
}

// Bet is an accepted prediction-market bet: cash converted to outcome
// shares at the odds in effect.
type Bet struct {
	AccountID string  `json:"account_id"`
	AgentName string  `json:"agent_id"`
	MarketID  string  `json:"market_id"`
	Outcome   string  `json:"outcome"`
	Odds      float64 `json:"odds"`
	Amount    float64 `json:"amount"`
	Shares    float64 `json:"shares"`
	Status    string  `json:"status"` // always "ACCEPTED"
}

// Payout is one account's settlement from a market resolution.
type Payout struct {
	AccountID string  `json:"account_id"`
	AgentName string  `json:"agent_id"`
	Amount    float64 `json:"payout"`
	PnL       float64 `json:"pnl"`
}

// Resolution is the audit record of a market resolution.
type Resolution struct {
	MarketID       string   `json:"market_id"`
	WinningOutcome string   `json:"winning_outcome"`
	Payouts        []Payout `json:"payouts"`
}

// PredictionMarket is a binary-outcome market. Odds are prices in (0,1]
// read as fractional payout per share. Once Resolved is set the record
// is immutable; feed refreshes must skip it.
type PredictionMarket struct {
	ID             string             `json:"market_id"`
	Question       string             `json:"question"`
	Outcomes       map[string]float64 `json:"outcomes"`
	Resolved       bool               `json:"resolved"`
	WinningOutcome string             `json:"winning_outcome"`
}

// ActivityEvent is one append-only audit-log entry. AgentName is a
// denormalized copy of the account's display name at write time and is
// rewritten by Rename.
type ActivityEvent struct {
	ID        int64          `json:"id"`
	Type      string         `json:"type"`
	AccountID string         `json:"account_id"`
	AgentName string         `json:"agent_id"`
	Details   map[string]any `json:"details"`
	CreatedAt string         `json:"created_at"`
}

// RegistrationChallenge is a pending claim-token registration. The
// ledger stores and purges these; issuing and verifying them is the
// auth layer's business.
type RegistrationChallenge struct {
	AccountID string `json:"account_id"`
	AgentName string `json:"agent_id"`
	CreatedAt string `json:"created_at"`
}

// Registration is the result of creating an account.
type Registration struct {
	AccountID string `json:"account_id"`
	AgentName string `json:"agent_id"`
	APIKey    string `json:"api_key"`
}

// PurgeSummary reports everything removed by a cascading account purge.
type PurgeSummary struct {
	AccountID                   string `json:"account_id"`
	AgentName                   string `json:"agent_id"`
	DeletedAccount              bool   `json:"deleted_account"`
	RemovedAPIKeys              int    `json:"removed_api_keys"`
	RemovedKeyMappings          int    `json:"removed_key_mappings"`
	RemovedNameMappings         int    `json:"removed_name_mappings"`
	RemovedChallenges           int    `json:"removed_registration_challenges"`
	RemovedPendingChallenges    int    `json:"removed_pending_challenges"`
	RemovedRegistrationsByKey   int    `json:"removed_registrations_by_api_key"`
	RemovedFollowingOutgoing    int    `json:"removed_following_outgoing"`
	RemovedFollowingIncoming    int    `json:"removed_following_incoming"`
	RemovedActivityEvents       int    `json:"removed_activity_events"`
	RemovedTestFlags            int    `json:"removed_test_flags"`
}
