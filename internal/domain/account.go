package domain

import "github.com/jonhpyo/MyHTS/pkg/quant"

// Account is one cash ledger. Balance is signed PriceMicros.
type Account struct {
	ID        int64
	UserID    int64
	Name      string
	Balance   quant.PriceMicros
	CreatedAt quant.TimeStamp
}

// CashMovement records a balance change that is not caused by a trade
// (account opening, deposits). Together with the trade journal it fully
// explains the balance.
type CashMovement struct {
	ID        int64
	AccountID int64
	Amount    quant.PriceMicros
	Reason    string
	CreatedAt quant.TimeStamp
}

const (
	MovementOpen    = "OPEN"
	MovementDeposit = "DEPOSIT"
)

// Valuation is a position marked against a reference price.
type Valuation struct {
	Position
	LastPrice     quant.PriceMicros
	AssetValue    quant.PriceMicros
	UnrealizedPnL quant.PriceMicros
}

// AccountSummary is the balance plus every position row of an account.
type AccountSummary struct {
	Account   Account
	Positions []Position
}
