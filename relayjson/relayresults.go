package relayjson

// CommonResult models a generic ok/error reply.
type CommonResult struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail,omitempty"`
}

// VersionResult models the data returned by the version command.
type VersionResult struct {
	Version   string `json:"version"`
	Major     uint32 `json:"major"`
	Minor     uint32 `json:"minor"`
	Patch     uint32 `json:"patch"`
	StartTime int64  `json:"start_time"`
}

// TransactionResult models a single transaction row as returned by
// gettransaction, gettransactions and transactionsubmitted.
type TransactionResult struct {
	OrderID    string `json:"order_id"`
	TxHash     string `json:"tx_hash"`
	Status     string `json:"status"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	UserID     string `json:"user_id"`
	Role       string `json:"role"`
	VerifiedBy string `json:"verified_by,omitempty"`
	Attempts   int    `json:"attempts"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

// SubmitTransactionResult models the data returned by the
// transactionsubmitted command. Duplicate reports whether the hash was
// already known; a duplicate submit is acknowledged without starting a second
// reconciliation.
type SubmitTransactionResult struct {
	OrderID   string `json:"order_id"`
	TxHash    string `json:"tx_hash"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}

// GetTransactionsResult models the data returned by the gettransactions
// command.
type GetTransactionsResult struct {
	Total        int64                `json:"total"`
	Transactions []*TransactionResult `json:"transactions"`
}

// VerifyTransactionResult models the data returned by the verifytransaction
// command.
type VerifyTransactionResult struct {
	OrderID    string `json:"order_id"`
	TxHash     string `json:"tx_hash"`
	Status     string `json:"status"`
	VerifiedBy string `json:"verified_by"`
}

// JoinAdminResult models the data returned by the joinadmin command.
type JoinAdminResult struct {
	Success  bool   `json:"success"`
	Username string `json:"username"`
}
