// internal/repository/postgres/credit_transaction_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"lingua-billing/internal/domain/credit"

	"github.com/oklog/ulid/v2"
)

// AppendTransaction inserts one immutable ledger entry
func (r queries) AppendTransaction(ctx context.Context, txn *credit.CreditTransaction) error {
	query := `
		INSERT INTO credit_transactions (
			id, user_id, type, amount, balance, usage_type,
			reference_id, reference_type, description, catalog_version, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, NOW()))
		RETURNING created_at
	`

	if txn.ID == "" {
		txn.ID = ulid.Make().String()
	}

	var metadataJSON []byte
	var err error
	if txn.Metadata != nil {
		metadataJSON, err = json.Marshal(txn.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	var usageType *string
	if txn.UsageType != nil {
		s := string(*txn.UsageType)
		usageType = &s
	}

	var createdAt any
	if !txn.CreatedAt.IsZero() {
		createdAt = txn.CreatedAt
	}

	err = r.q.QueryRow(
		ctx, query,
		txn.ID, txn.UserID, txn.Type, txn.Amount, txn.Balance, usageType,
		nullIfEmpty(txn.ReferenceID), nullIfEmpty(txn.ReferenceType), nullIfEmpty(txn.Description),
		txn.CatalogVersion, metadataJSON, createdAt,
	).Scan(&txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append credit transaction: %w", err)
	}
	return nil
}

// ListTransactions returns the user's ledger newest-first with filters
func (r queries) ListTransactions(ctx context.Context, userID string, filters *credit.HistoryFilters) ([]credit.CreditTransaction, int64, error) {
	if filters == nil {
		filters = &credit.HistoryFilters{}
	}

	conditions := []string{"user_id = $1"}
	args := []interface{}{userID}
	argPos := 2

	if filters.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argPos))
		args = append(args, *filters.Type)
		argPos++
	}
	if filters.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argPos))
		args = append(args, *filters.From)
		argPos++
	}
	if filters.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argPos))
		args = append(args, *filters.To)
		argPos++
	}

	whereClause := strings.Join(conditions, " AND ")

	var total int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM credit_transactions WHERE %s", whereClause)
	if err := r.q.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count credit transactions: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, user_id, type, amount, balance, usage_type,
		       COALESCE(reference_id, ''), COALESCE(reference_type, ''), COALESCE(description, ''),
		       catalog_version, metadata, created_at
		FROM credit_transactions
		WHERE %s
		ORDER BY created_at DESC, id DESC
	`, whereClause)

	if filters.PageSize > 0 {
		page := max(filters.Page, 1)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argPos, argPos+1)
		args = append(args, filters.PageSize, (page-1)*filters.PageSize)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list credit transactions: %w", err)
	}
	defer rows.Close()

	txns := []credit.CreditTransaction{}
	for rows.Next() {
		var txn credit.CreditTransaction
		var usageType *string
		var metadataJSON []byte

		err := rows.Scan(
			&txn.ID, &txn.UserID, &txn.Type, &txn.Amount, &txn.Balance, &usageType,
			&txn.ReferenceID, &txn.ReferenceType, &txn.Description,
			&txn.CatalogVersion, &metadataJSON, &txn.CreatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan credit transaction: %w", err)
		}

		if usageType != nil {
			u := credit.UsageType(*usageType)
			txn.UsageType = &u
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &txn.Metadata); err != nil {
				return nil, 0, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		txns = append(txns, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate credit transactions: %w", err)
	}

	return txns, total, nil
}

// SumTransactionAmounts is the ledger's running sum for a user
func (r queries) SumTransactionAmounts(ctx context.Context, userID string) (int64, error) {
	var sum int64
	err := r.q.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = $1`, userID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum credit transactions: %w", err)
	}
	return sum, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
