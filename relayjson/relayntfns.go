package relayjson

const (
	// TransactionUpdateNtfnMethod is the method used for transaction
	// transition notifications broadcast to every connected client.
	TransactionUpdateNtfnMethod = "transactionupdate"

	// OrderUpdateNtfnMethod is the method used for transaction transition
	// notifications delivered only to clients subscribed to the order.
	OrderUpdateNtfnMethod = "orderupdate"

	// AdminTxUpdateNtfnMethod is the method used to notify admins about
	// every accepted submission and oracle driven transition.
	AdminTxUpdateNtfnMethod = "admintxupdate"

	// AdminTxVerifiedNtfnMethod is the method used to notify admins about
	// override results.
	AdminTxVerifiedNtfnMethod = "admintxverified"
)

// TransactionUpdateNtfn defines the transactionupdate JSON-RPC notification.
type TransactionUpdateNtfn struct {
	OrderID string `json:"order_id"`
	TxHash  string `json:"tx_hash"`
	Status  string `json:"status"`
}

// NewTransactionUpdateNtfn returns a new instance which can be used to issue
// a transactionupdate JSON-RPC notification.
func NewTransactionUpdateNtfn(orderID, txHash, status string) *TransactionUpdateNtfn {
	return &TransactionUpdateNtfn{
		OrderID: orderID,
		TxHash:  txHash,
		Status:  status,
	}
}

// OrderUpdateNtfn defines the orderupdate JSON-RPC notification.
type OrderUpdateNtfn struct {
	OrderID string `json:"order_id"`
	TxHash  string `json:"tx_hash"`
	Status  string `json:"status"`
}

// NewOrderUpdateNtfn returns a new instance which can be used to issue an
// orderupdate JSON-RPC notification.
func NewOrderUpdateNtfn(orderID, txHash, status string) *OrderUpdateNtfn {
	return &OrderUpdateNtfn{
		OrderID: orderID,
		TxHash:  txHash,
		Status:  status,
	}
}

// AdminTxUpdateNtfn defines the admintxupdate JSON-RPC notification.
type AdminTxUpdateNtfn struct {
	OrderID  string `json:"order_id"`
	TxHash   string `json:"tx_hash"`
	Status   string `json:"status"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
}

// NewAdminTxUpdateNtfn returns a new instance which can be used to issue an
// admintxupdate JSON-RPC notification.
func NewAdminTxUpdateNtfn(orderID, txHash, status, amount, currency, userID, role string) *AdminTxUpdateNtfn {
	return &AdminTxUpdateNtfn{
		OrderID:  orderID,
		TxHash:   txHash,
		Status:   status,
		Amount:   amount,
		Currency: currency,
		UserID:   userID,
		Role:     role,
	}
}

// AdminTxVerifiedNtfn defines the admintxverified JSON-RPC notification.
type AdminTxVerifiedNtfn struct {
	OrderID    string `json:"order_id"`
	TxHash     string `json:"tx_hash"`
	Status     string `json:"status"`
	VerifiedBy string `json:"verified_by"`
}

// NewAdminTxVerifiedNtfn returns a new instance which can be used to issue an
// admintxverified JSON-RPC notification.
func NewAdminTxVerifiedNtfn(orderID, txHash, status, verifiedBy string) *AdminTxVerifiedNtfn {
	return &AdminTxVerifiedNtfn{
		OrderID:    orderID,
		TxHash:     txHash,
		Status:     status,
		VerifiedBy: verifiedBy,
	}
}

func init() {
	// The commands in this file are only usable by websockets and are
	// notifications.
	flags := UFWebsocketOnly | UFNotification

	MustRegisterCmd(TransactionUpdateNtfnMethod, (*TransactionUpdateNtfn)(nil), flags)
	MustRegisterCmd(OrderUpdateNtfnMethod, (*OrderUpdateNtfn)(nil), flags)
	MustRegisterCmd(AdminTxUpdateNtfnMethod, (*AdminTxUpdateNtfn)(nil), flags)
	MustRegisterCmd(AdminTxVerifiedNtfnMethod, (*AdminTxVerifiedNtfn)(nil), flags)
}
