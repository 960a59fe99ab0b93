package models

import "time"

const (
	WalletTransactionCredit = "credit"
	WalletTransactionDebit  = "debit"
)

// Wallet holds prepaid platform credit for a user, located on webhook by the
// billing email the payer entered at checkout.
type Wallet struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UserID       uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	BillingEmail string    `gorm:"type:varchar(200);not null;uniqueIndex" json:"billing_email" validate:"required,email"`
	BalanceCents int64     `gorm:"not null;default:0" json:"balance_cents"`
	Currency     string    `gorm:"type:varchar(8);not null;default:'EGP'" json:"currency"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// WalletTransaction is the ledger row behind every balance change. The
// provider transaction id is unique so a redelivered top-up webhook credits
// at most once.
type WalletTransaction struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	WalletID      uint      `gorm:"not null;index" json:"wallet_id"`
	Type          string    `gorm:"type:varchar(10);not null" json:"type"`
	AmountCents   int64     `gorm:"not null" json:"amount_cents"`
	Currency      string    `gorm:"type:varchar(8);not null" json:"currency"`
	TransactionID string    `gorm:"type:varchar(191);not null;index:ux_wallet_transactions_external,unique" json:"transaction_id"`
	Memo          string    `gorm:"type:varchar(255);default:''" json:"memo"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
