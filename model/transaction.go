package model

import "time"

// TxStatus is the reconciliation status of a submitted transaction.
type TxStatus int

const (
	StatusPending TxStatus = iota
	StatusVerified
	StatusFailed
	StatusTimeout
)

var txStatusStrings = map[TxStatus]string{
	StatusPending:  "pending",
	StatusVerified: "verified",
	StatusFailed:   "failed",
	StatusTimeout:  "timeout",
}

// String returns the TxStatus in the wire form used by clients and storage.
func (s TxStatus) String() string {
	if str, ok := txStatusStrings[s]; ok {
		return str
	}
	return "unknown"
}

// IsTerminal reports whether the status admits no further automatic
// transitions.
func (s TxStatus) IsTerminal() bool {
	return s == StatusVerified || s == StatusFailed || s == StatusTimeout
}

// ParseTxStatus maps a wire status string back to a TxStatus.
func ParseTxStatus(s string) (TxStatus, bool) {
	for status, str := range txStatusStrings {
		if str == s {
			return status, true
		}
	}
	return StatusPending, false
}

// Transaction is the in-memory view of a submitted transaction handed
// between the service layer, the reconciliation engine and the relay server.
type Transaction struct {
	ID         uint64
	OrderID    string
	TxHash     string
	Status     TxStatus
	Amount     string
	Currency   string
	UserID     string
	Role       string
	VerifiedBy string
	Attempts   int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
