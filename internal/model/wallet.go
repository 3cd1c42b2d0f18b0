package model

import "time"

// TransactionType classifies a single wallet ledger entry.
type TransactionType string

const (
	TxCredit      TransactionType = "credit"
	TxDebit       TransactionType = "debit"
	TxTransferOut TransactionType = "transferOut"
	TxTransferIn  TransactionType = "transferIn"
)

// Wallet is the per-(userId, pointCategoryId) balance. Balance is always
// the sum of its transactions (invariant 1, spec §8); the ledger itself
// lives in the transaction store, not embedded here, to keep the row
// cheap to read on the hot path.
type Wallet struct {
	UserID         string `json:"userId" db:"user_id"`
	PointCategory  string `json:"pointCategory" db:"point_category_id"`
	Balance        int64  `json:"balance" db:"balance"`
}

// WalletTransaction is a single immutable ledger entry.
type WalletTransaction struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"userId" db:"user_id"`
	PointCategory string          `json:"pointCategory" db:"point_category_id"`
	Amount        int64           `json:"amount" db:"amount"`
	Type          TransactionType `json:"type" db:"type"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
	ReferenceID   string          `json:"referenceId,omitempty" db:"reference_id"`
}

// TransferStatus is the lifecycle state of a WalletTransfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// WalletTransfer coordinates a two-sided balance move between users.
type WalletTransfer struct {
	ID             string         `json:"id" db:"id"`
	FromUserID     string         `json:"fromUserId" db:"from_user_id"`
	ToUserID       string         `json:"toUserId" db:"to_user_id"`
	PointCategory  string         `json:"pointCategory" db:"point_category_id"`
	Amount         int64          `json:"amount" db:"amount"`
	Status         TransferStatus `json:"status" db:"status"`
	Timestamp      time.Time      `json:"timestamp" db:"timestamp"`
	FailureReason  string         `json:"failureReason,omitempty" db:"failure_reason"`
}
