package models

// Student is the payer identity shown on tuition receipts.
type Student struct {
	ID       string `db:"id" json:"id"`
	NIS      string `db:"nis" json:"nis"`
	FullName string `db:"full_name" json:"full_name"`
	Active   bool   `db:"active" json:"active"`
}
