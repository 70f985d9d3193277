package ledger

import (
	"fmt"
	"sort"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/pkg/quant"
	"github.com/jonhpyo/MyHTS/pkg/safe"
)

// Discrepancy is one field where stored ledger state differs from the state
// rebuilt from the journal.
type Discrepancy struct {
	Symbol   string // empty for the cash balance
	Field    string
	Stored   int64
	Replayed int64
}

func (d Discrepancy) String() string {
	if d.Symbol == "" {
		return fmt.Sprintf("%s: stored=%d replayed=%d", d.Field, d.Stored, d.Replayed)
	}
	return fmt.Sprintf("%s %s: stored=%d replayed=%d", d.Symbol, d.Field, d.Stored, d.Replayed)
}

// Replay rebuilds an account's balance and positions from zero using its
// cash movements and its fills. fills must be in execution order, the same
// order Post applied them.
func Replay(movements []domain.CashMovement, fills []domain.Fill) (quant.PriceMicros, map[string]*domain.Position, error) {
	var balance int64
	var err error
	for _, m := range movements {
		if balance, err = safe.Add(balance, int64(m.Amount)); err != nil {
			return 0, nil, err
		}
	}

	positions := make(map[string]*domain.Position)
	for _, f := range fills {
		p, ok := positions[f.Symbol]
		if !ok {
			p = &domain.Position{AccountID: f.AccountID, Symbol: f.Symbol}
			positions[f.Symbol] = p
		}
		delta, err := ApplyFill(p, f.Side, f.Price, f.Quantity)
		if err != nil {
			return 0, nil, fmt.Errorf("replay trade %d: %w", f.ID, err)
		}
		if balance, err = safe.Add(balance, int64(delta)); err != nil {
			return 0, nil, err
		}
	}
	return quant.PriceMicros(balance), positions, nil
}

// Reconcile compares stored state with Replay and lists every mismatch.
func Reconcile(account domain.Account, stored []domain.Position, movements []domain.CashMovement, fills []domain.Fill) ([]Discrepancy, error) {
	balance, replayed, err := Replay(movements, fills)
	if err != nil {
		return nil, err
	}

	var out []Discrepancy
	if balance != account.Balance {
		out = append(out, Discrepancy{Field: "balance", Stored: int64(account.Balance), Replayed: int64(balance)})
	}

	seen := make(map[string]bool, len(stored))
	for _, s := range stored {
		seen[s.Symbol] = true
		r := replayed[s.Symbol]
		if r == nil {
			r = &domain.Position{Symbol: s.Symbol}
		}
		out = append(out, comparePosition(s, *r)...)
	}

	symbols := make([]string, 0, len(replayed))
	for sym := range replayed {
		if !seen[sym] {
			symbols = append(symbols, sym)
		}
	}
	sort.Strings(symbols)
	for _, sym := range symbols {
		out = append(out, comparePosition(domain.Position{Symbol: sym}, *replayed[sym])...)
	}
	return out, nil
}

func comparePosition(stored, replayed domain.Position) []Discrepancy {
	var out []Discrepancy
	if stored.Qty != replayed.Qty {
		out = append(out, Discrepancy{Symbol: stored.Symbol, Field: "qty", Stored: int64(stored.Qty), Replayed: int64(replayed.Qty)})
	}
	if stored.AvgPrice != replayed.AvgPrice {
		out = append(out, Discrepancy{Symbol: stored.Symbol, Field: "avg_price", Stored: int64(stored.AvgPrice), Replayed: int64(replayed.AvgPrice)})
	}
	if stored.RealizedPnL != replayed.RealizedPnL {
		out = append(out, Discrepancy{Symbol: stored.Symbol, Field: "realized_pnl", Stored: int64(stored.RealizedPnL), Replayed: int64(replayed.RealizedPnL)})
	}
	return out
}
