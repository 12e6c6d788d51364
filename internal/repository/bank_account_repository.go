package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-tuition-api/internal/models"
)

// BankAccountRepository reads the school's receiving bank accounts.
type BankAccountRepository struct {
	db sqlx.ExtContext
}

// NewBankAccountRepository constructs the repository.
func NewBankAccountRepository(db sqlx.ExtContext) *BankAccountRepository {
	return &BankAccountRepository{db: db}
}

// GetBankAccount fetches an account by id.
func (r *BankAccountRepository) GetBankAccount(ctx context.Context, id string) (*models.BankAccount, error) {
	const query = `SELECT id, bank_name, account_number, account_name, active, created_at FROM bank_accounts WHERE id = $1`
	var account models.BankAccount
	if err := sqlx.GetContext(ctx, r.db, &account, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get bank account: %w", err)
	}
	return &account, nil
}

// ListActiveBankAccounts returns accounts students may transfer into.
func (r *BankAccountRepository) ListActiveBankAccounts(ctx context.Context) ([]models.BankAccount, error) {
	const query = `SELECT id, bank_name, account_number, account_name, active, created_at
FROM bank_accounts WHERE active = TRUE ORDER BY bank_name ASC`
	var accounts []models.BankAccount
	if err := sqlx.SelectContext(ctx, r.db, &accounts, query); err != nil {
		return nil, fmt.Errorf("list bank accounts: %w", err)
	}
	return accounts, nil
}
