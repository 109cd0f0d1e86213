package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/vidora/vidora/internal/models"
)

// ConsumeCredits atomically debits a user's balance and appends a consumption
// ledger entry. The decrement is a single conditional UPDATE — never a
// read-check-write across round trips — so concurrent debits for the same user
// cannot drive the balance negative.
//
// Returns (true, newBalance) when the debit succeeded, and (false,
// currentBalance) with no side effect when funds are insufficient. A database
// error fails the whole operation: the billable action must not proceed.
func (db *DB) ConsumeCredits(ctx context.Context, userID uuid.UUID, amount int, resourceType models.ResourceType, resourceID uuid.UUID, description string) (bool, int, error) {
	if amount <= 0 {
		return false, 0, fmt.Errorf("invalid debit amount: %d", amount)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var newBalance int
	err = tx.QueryRowContext(ctx, `
		UPDATE credit_balances
		SET balance = balance - $1, updated_at = NOW()
		WHERE user_id = $2 AND balance >= $1
		RETURNING balance
	`, amount, userID).Scan(&newBalance)

	if err == sql.ErrNoRows {
		// Insufficient funds (or no balance row yet). Report the current
		// balance so the caller can include it in the quota error.
		current, berr := db.GetBalance(ctx, userID)
		if berr != nil {
			return false, 0, berr
		}
		return false, current, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to debit balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (
			id, user_id, amount, balance_after, type, resource_type, resource_id, description
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New(), userID, -amount, newBalance, models.TransactionConsumption, resourceType, resourceID, description)
	if err != nil {
		return false, 0, fmt.Errorf("failed to record consumption: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("failed to commit debit: %w", err)
	}

	return true, newBalance, nil
}

// RefundCredits credits back a previously debited amount, tagged with the same
// resource id as the original charge. At most one refund can ever exist per
// resource id: the ledger carries a partial unique index on
// (resource_id) WHERE type = 'refund', so a duplicate refund rolls back the
// whole transaction and returns ErrAlreadyRefunded without touching the balance.
//
// Callers treat refund failures as non-fatal — log and continue — so a broken
// refund path never masks the original error that triggered it.
func (db *DB) RefundCredits(ctx context.Context, userID uuid.UUID, amount int, resourceType models.ResourceType, resourceID uuid.UUID, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("invalid refund amount: %d", amount)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Record the refund first — the unique index is the idempotency gate.
	// If this resource was already refunded the insert affects zero rows and
	// the balance credit below never happens.
	result, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (
			id, user_id, amount, balance_after, type, resource_type, resource_id, description
		) VALUES ($1, $2, $3, 0, $4, $5, $6, $7)
		ON CONFLICT (resource_id) WHERE type = 'refund' DO NOTHING
	`, uuid.New(), userID, amount, models.TransactionRefund, resourceType, resourceID, reason)
	if err != nil {
		return fmt.Errorf("failed to record refund: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check refund insert: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyRefunded
	}

	var newBalance int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO credit_balances (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = credit_balances.balance + $2, updated_at = NOW()
		RETURNING balance
	`, userID, amount).Scan(&newBalance)
	if err != nil {
		return fmt.Errorf("failed to credit balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE credit_transactions
		SET balance_after = $1
		WHERE resource_id = $2 AND type = 'refund'
	`, newBalance, resourceID)
	if err != nil {
		return fmt.Errorf("failed to finalize refund entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit refund: %w", err)
	}

	return nil
}

// GrantSignupBonus gives a new user their starting balance exactly once.
// Subsequent calls are no-ops: the balance row insert is the idempotency gate.
func (db *DB) GrantSignupBonus(ctx context.Context, userID uuid.UUID) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO credit_balances (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO NOTHING
	`, userID, models.SignupBonusCredits)
	if err != nil {
		return fmt.Errorf("failed to create balance: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check balance insert: %w", err)
	}
	if rows == 0 {
		// Balance already exists — bonus was granted before.
		return nil
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (
			id, user_id, amount, balance_after, type, resource_type, resource_id, description
		) VALUES ($1, $2, $3, $3, $4, $5, $2, 'signup bonus')
	`, uuid.New(), userID, models.SignupBonusCredits, models.TransactionGrant, models.ResourceSignup)
	if err != nil {
		return fmt.Errorf("failed to record signup bonus: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit signup bonus: %w", err)
	}

	return nil
}

// GrantCredits adds credits to a user's balance with a grant ledger entry.
// Used by the billing webhook for credit packs and plan renewals. At most one
// grant can ever exist per resource id — the ledger's partial unique index on
// (resource_id) WHERE type = 'grant' is the idempotency gate, so two
// concurrent redeliveries of the same billing event cannot both credit the
// balance. A duplicate returns ErrAlreadyGranted without side effects.
func (db *DB) GrantCredits(ctx context.Context, userID uuid.UUID, amount int, resourceID uuid.UUID, description string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("invalid grant amount: %d", amount)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Record the grant first. If this resource was already granted the insert
	// affects zero rows and the balance credit below never happens.
	result, err := tx.ExecContext(ctx, `
		INSERT INTO credit_transactions (
			id, user_id, amount, balance_after, type, resource_type, resource_id, description
		) VALUES ($1, $2, $3, 0, $4, $5, $6, $7)
		ON CONFLICT (resource_id) WHERE type = 'grant' DO NOTHING
	`, uuid.New(), userID, amount, models.TransactionGrant, models.ResourceBilling, resourceID, description)
	if err != nil {
		return 0, fmt.Errorf("failed to record grant: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check grant insert: %w", err)
	}
	if rows == 0 {
		return 0, ErrAlreadyGranted
	}

	var newBalance int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO credit_balances (user_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET balance = credit_balances.balance + $2, updated_at = NOW()
		RETURNING balance
	`, userID, amount).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("failed to credit balance: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE credit_transactions
		SET balance_after = $1
		WHERE resource_id = $2 AND type = 'grant'
	`, newBalance, resourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to finalize grant entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit grant: %w", err)
	}

	return newBalance, nil
}

// GetBalance returns the user's current credit balance. A user without a
// balance row has zero credits.
func (db *DB) GetBalance(ctx context.Context, userID uuid.UUID) (int, error) {
	var balance int
	err := db.QueryRowContext(ctx, `
		SELECT balance FROM credit_balances WHERE user_id = $1
	`, userID).Scan(&balance)

	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}

	return balance, nil
}

// ListTransactions returns a user's ledger entries, newest first.
func (db *DB) ListTransactions(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.CreditTransaction, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT
			id, user_id, amount, balance_after, type,
			resource_type, resource_id, description, created_at
		FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txns []models.CreditTransaction
	for rows.Next() {
		var txn models.CreditTransaction
		err := rows.Scan(
			&txn.ID, &txn.UserID, &txn.Amount, &txn.BalanceAfter, &txn.Type,
			&txn.ResourceType, &txn.ResourceID, &txn.Description, &txn.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, txn)
	}

	return txns, rows.Err()
}

func (db *DB) CountTransactions(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM credit_transactions WHERE user_id = $1
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}
