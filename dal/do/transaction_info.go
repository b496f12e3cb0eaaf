package do

import "time"

// Status values stored in transaction_infos.status. Only TransactionPending
// admits automatic transitions; the other three are terminal.
const (
	TransactionPending = iota
	TransactionVerified
	TransactionFailed
	TransactionTimeout
)

type TransactionInfo struct {
	ID         uint64 `gorm:"primaryKey"`
	OrderID    string `gorm:"index:idx_order_id;not null;type:varchar(64)"`
	TxHash     string `gorm:"uniqueIndex:idx_tx_hash;not null;type:varchar(128)"`
	Status     int    `gorm:"not null;default:0"`
	Amount     string `gorm:"not null;default:'';type:varchar(64)"`
	Currency   string `gorm:"not null;default:'';type:varchar(16)"`
	UserID     string `gorm:"type:varchar(64)"`
	Role       string `gorm:"type:varchar(32)"`
	VerifiedBy string `gorm:"type:varchar(64)"`
	Attempts   int    `gorm:"not null;default:0"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
