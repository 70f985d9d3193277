package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jonhpyo/MyHTS/internal/domain"
	"github.com/jonhpyo/MyHTS/internal/ledger"
	"github.com/jonhpyo/MyHTS/internal/marketdata"
	"github.com/jonhpyo/MyHTS/pkg/quant"
)

// OpenAccount creates an account funded with the configured initial cash.
// The opening balance is journaled as a cash movement so that replay can
// explain it.
func (s *Service) OpenAccount(ctx context.Context, userID int64, name string) (*domain.Account, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user is required", domain.ErrValidation)
	}
	acct := &domain.Account{UserID: userID, Name: strings.TrimSpace(name), Balance: s.cfg.InitialCash}
	err := s.store.WithTx(ctx, func(uow domain.UnitOfWork) error {
		if err := uow.InsertAccount(ctx, acct); err != nil {
			return err
		}
		return uow.RecordCashMovement(ctx, &domain.CashMovement{
			AccountID: acct.ID,
			Amount:    acct.Balance,
			Reason:    domain.MovementOpen,
			CreatedAt: acct.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Account opened", slog.Int64("account_id", acct.ID), slog.Int64("user_id", userID))
	return acct, nil
}

func (s *Service) ListAccounts(ctx context.Context, userID int64) ([]domain.Account, error) {
	return s.store.AccountsByUser(ctx, userID)
}

// PrimaryAccount is the user's oldest account.
func (s *Service) PrimaryAccount(ctx context.Context, userID int64) (*domain.Account, error) {
	accounts, err := s.store.AccountsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("no account for user %d: %w", userID, domain.ErrNotFound)
	}
	return &accounts[0], nil
}

func (s *Service) Deposit(ctx context.Context, accountID int64, amount quant.PriceMicros) (*domain.Account, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: deposit must be positive", domain.ErrValidation)
	}
	err := s.store.WithTx(ctx, func(uow domain.UnitOfWork) error {
		if _, err := uow.LockAccount(ctx, accountID); err != nil {
			return err
		}
		if err := uow.AdjustBalance(ctx, accountID, amount); err != nil {
			return err
		}
		return uow.RecordCashMovement(ctx, &domain.CashMovement{
			AccountID: accountID,
			Amount:    amount,
			Reason:    domain.MovementDeposit,
		})
	})
	if err != nil {
		return nil, err
	}
	slog.Info("Deposit", slog.Int64("account_id", accountID), slog.String("amount", amount.String()))
	return s.store.Account(ctx, accountID)
}

func (s *Service) AccountSummary(ctx context.Context, accountID int64) (*domain.AccountSummary, error) {
	acct, err := s.store.Account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	positions, err := s.store.Positions(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &domain.AccountSummary{Account: *acct, Positions: positions}, nil
}

// Valuation marks every position of the account against the reference
// price source.
func (s *Service) Valuation(ctx context.Context, accountID int64) (*Valuation, error) {
	sum, err := s.AccountSummary(ctx, accountID)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(sum.Positions))
	for _, p := range sum.Positions {
		symbols = append(symbols, p.Symbol)
	}

	vals, total, err := ledger.MarkToMarket(sum.Positions, marketdata.Prices(ctx, s.prices, symbols))
	if err != nil {
		return nil, err
	}
	return &Valuation{
		AccountID:       accountID,
		Cash:            sum.Account.Balance,
		Positions:       vals,
		TotalUnrealized: total,
	}, nil
}

// Reconcile rebuilds the account from its journals and reports every
// difference to the stored ledger rows.
func (s *Service) Reconcile(ctx context.Context, accountID int64) ([]ledger.Discrepancy, error) {
	sum, err := s.AccountSummary(ctx, accountID)
	if err != nil {
		return nil, err
	}
	movements, err := s.store.CashMovements(ctx, accountID)
	if err != nil {
		return nil, err
	}
	fills, err := s.store.AccountJournal(ctx, accountID)
	if err != nil {
		return nil, err
	}

	diffs, err := ledger.Reconcile(sum.Account, sum.Positions, movements, fills)
	if err != nil {
		return nil, err
	}
	if len(diffs) > 0 {
		slog.Error("Ledger mismatch", slog.Int64("account_id", accountID), slog.Int("discrepancies", len(diffs)))
	}
	return diffs, nil
}
