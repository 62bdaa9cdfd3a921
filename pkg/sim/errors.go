package sim

import "errors"

// Operation errors. All are recoverable and returned to the caller;
// none terminate the process. Check with errors.Is.
var (
	// Not found.
	ErrAgentNotFound  = errors.New("agent_not_found")
	ErrMarketNotFound = errors.New("market_not_found")

	// Insufficient resource.
	ErrInsufficientCash     = errors.New("insufficient_cash")
	ErrInsufficientPosition = errors.New("insufficient_position")

	// Risk rejects.
	ErrRiskMaxPosition  = errors.New("risk_reject_max_position")
	ErrRiskMaxDailyLoss = errors.New("risk_reject_max_daily_loss")

	// State conflicts.
	ErrAgentBlocked          = errors.New("agent_blocked")
	ErrMarketAlreadyResolved = errors.New("market_already_resolved")
	ErrNameAlreadyExists     = errors.New("name_already_exists")
	ErrInvalidOutcome        = errors.New("invalid_outcome")
	ErrInvalidWinningOutcome = errors.New("invalid_winning_outcome")
	ErrInvalidOdds           = errors.New("invalid_odds")
	ErrInvalidName           = errors.New("invalid_agent_name")
	ErrInvalidOrder          = errors.New("invalid_order")

	// Upstream.
	ErrMarketDataUnavailable = errors.New("market_data_unavailable")
)
