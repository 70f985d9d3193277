package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/pkg/quant"
	"github.com/jonhpyo/MyHTS/pkg/safe"
)

type positionKey struct {
	accountID int64
	symbol    string
}

// Post settles trades inside uow: for every trade the buyer is debited and
// the seller credited the same notional, and both positions are moved with
// ApplyFill. Account and position rows are locked in ascending key order so
// that concurrent posts on overlapping accounts cannot deadlock.
func Post(ctx context.Context, uow domain.UnitOfWork, trades []domain.Trade, now quant.TimeStamp) error {
	if len(trades) == 0 {
		return nil
	}

	accountSet := make(map[int64]struct{})
	keySet := make(map[positionKey]struct{})
	for _, t := range trades {
		accountSet[t.BuyAccountID] = struct{}{}
		accountSet[t.SellAccountID] = struct{}{}
		keySet[positionKey{t.BuyAccountID, t.Symbol}] = struct{}{}
		keySet[positionKey{t.SellAccountID, t.Symbol}] = struct{}{}
	}

	accountIDs := make([]int64, 0, len(accountSet))
	for id := range accountSet {
		accountIDs = append(accountIDs, id)
	}
	sort.Slice(accountIDs, func(i, j int) bool { return accountIDs[i] < accountIDs[j] })

	keys := make([]positionKey, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].accountID != keys[j].accountID {
			return keys[i].accountID < keys[j].accountID
		}
		return keys[i].symbol < keys[j].symbol
	})

	for _, id := range accountIDs {
		if _, err := uow.LockAccount(ctx, id); err != nil {
			return fmt.Errorf("lock account %d: %w", id, err)
		}
	}

	positions := make(map[positionKey]*domain.Position, len(keys))
	for _, k := range keys {
		p, err := uow.LockPosition(ctx, k.accountID, k.symbol)
		if err != nil {
			return fmt.Errorf("lock position %d/%s: %w", k.accountID, k.symbol, err)
		}
		positions[k] = &p
	}

	deltas := make(map[int64]int64, len(accountIDs))
	for _, t := range trades {
		buyerDelta, err := ApplyFill(positions[positionKey{t.BuyAccountID, t.Symbol}], domain.Buy, t.Price, t.Quantity)
		if err != nil {
			return fmt.Errorf("apply buy fill of trade %d: %w", t.ID, err)
		}
		sellerDelta, err := ApplyFill(positions[positionKey{t.SellAccountID, t.Symbol}], domain.Sell, t.Price, t.Quantity)
		if err != nil {
			return fmt.Errorf("apply sell fill of trade %d: %w", t.ID, err)
		}
		if buyerDelta+sellerDelta != 0 {
			return fmt.Errorf("%w: trade %d buyer %d seller %d", domain.ErrLedgerImbalance, t.ID, buyerDelta, sellerDelta)
		}

		if deltas[t.BuyAccountID], err = safe.Add(deltas[t.BuyAccountID], int64(buyerDelta)); err != nil {
			return err
		}
		if deltas[t.SellAccountID], err = safe.Add(deltas[t.SellAccountID], int64(sellerDelta)); err != nil {
			return err
		}
	}

	for _, k := range keys {
		p := positions[k]
		p.UpdatedAt = now
		if err := uow.SavePosition(ctx, *p); err != nil {
			return fmt.Errorf("save position %d/%s: %w", k.accountID, k.symbol, err)
		}
	}
	for _, id := range accountIDs {
		if deltas[id] == 0 {
			continue
		}
		if err := uow.AdjustBalance(ctx, id, quant.PriceMicros(deltas[id])); err != nil {
			return fmt.Errorf("adjust balance %d: %w", id, err)
		}
	}
	return nil
}
