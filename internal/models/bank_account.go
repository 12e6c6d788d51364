package models

import "time"

// BankAccount is a school account students may transfer into.
type BankAccount struct {
	ID            string    `db:"id" json:"id"`
	BankName      string    `db:"bank_name" json:"bank_name"`
	AccountNumber string    `db:"account_number" json:"account_number"`
	AccountName   string    `db:"account_name" json:"account_name"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"-"`
}
