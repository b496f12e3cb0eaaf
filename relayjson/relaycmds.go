package relayjson

// ChatMessageCmd defines the message JSON-RPC command. The payload is relayed
// to every connected client without persistence.
type ChatMessageCmd struct {
	From    string `json:"from"`
	Content string `json:"content"`
}

// NewChatMessageCmd returns a new instance which can be used to issue a
// message JSON-RPC command.
func NewChatMessageCmd(from string, content string) *ChatMessageCmd {
	return &ChatMessageCmd{
		From:    from,
		Content: content,
	}
}

// JoinAdminCmd defines the joinadmin JSON-RPC command. A successful call
// promotes the websocket connection into the admin audience.
type JoinAdminCmd struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// NewJoinAdminCmd returns a new instance which can be used to issue a
// joinadmin JSON-RPC command.
func NewJoinAdminCmd(username, password string) *JoinAdminCmd {
	return &JoinAdminCmd{
		Username: username,
		Password: password,
	}
}

// TransactionSubmittedCmd defines the transactionsubmitted JSON-RPC command.
type TransactionSubmittedCmd struct {
	OrderID  string  `json:"order_id"`
	TxHash   string  `json:"tx_hash"`
	Amount   string  `json:"amount"`
	Currency string  `json:"currency"`
	UserID   *string `json:"user_id"`
	Role     *string `json:"role"`
}

// NewTransactionSubmittedCmd returns a new instance which can be used to
// issue a transactionsubmitted JSON-RPC command.
func NewTransactionSubmittedCmd(orderID, txHash, amount, currency string, userID, role *string) *TransactionSubmittedCmd {
	return &TransactionSubmittedCmd{
		OrderID:  orderID,
		TxHash:   txHash,
		Amount:   amount,
		Currency: currency,
		UserID:   userID,
		Role:     role,
	}
}

// VerifyTransactionCmd defines the verifytransaction JSON-RPC command. Admin
// only: forces the transaction to the given status regardless of its current
// one.
type VerifyTransactionCmd struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
}

// NewVerifyTransactionCmd returns a new instance which can be used to issue a
// verifytransaction JSON-RPC command.
func NewVerifyTransactionCmd(txHash, status string) *VerifyTransactionCmd {
	return &VerifyTransactionCmd{
		TxHash: txHash,
		Status: status,
	}
}

// PollTransactionCmd defines the polltransaction JSON-RPC command. It asks
// the server to re-check a transaction against the ledger oracle.
type PollTransactionCmd struct {
	OrderID string `json:"order_id"`
	TxHash  string `json:"tx_hash"`
}

// NewPollTransactionCmd returns a new instance which can be used to issue a
// polltransaction JSON-RPC command.
func NewPollTransactionCmd(orderID, txHash string) *PollTransactionCmd {
	return &PollTransactionCmd{
		OrderID: orderID,
		TxHash:  txHash,
	}
}

// GetTransactionCmd defines the gettransaction JSON-RPC command.
type GetTransactionCmd struct {
	TxHash string `json:"tx_hash"`
}

// NewGetTransactionCmd returns a new instance which can be used to issue a
// gettransaction JSON-RPC command.
func NewGetTransactionCmd(txHash string) *GetTransactionCmd {
	return &GetTransactionCmd{
		TxHash: txHash,
	}
}

// GetTransactionsCmd defines the gettransactions JSON-RPC command. Admin
// only.
type GetTransactionsCmd struct {
	Page *int `json:"page"`
	Num  *int `json:"num"`
}

// NewGetTransactionsCmd returns a new instance which can be used to issue a
// gettransactions JSON-RPC command.
func NewGetTransactionsCmd(page, num *int) *GetTransactionsCmd {
	return &GetTransactionsCmd{
		Page: page,
		Num:  num,
	}
}

// SubscribeOrderCmd defines the subscribeorder JSON-RPC command. It adds the
// connection to the per-order audience for orderupdate notifications.
type SubscribeOrderCmd struct {
	OrderID string `json:"order_id"`
}

// NewSubscribeOrderCmd returns a new instance which can be used to issue a
// subscribeorder JSON-RPC command.
func NewSubscribeOrderCmd(orderID string) *SubscribeOrderCmd {
	return &SubscribeOrderCmd{
		OrderID: orderID,
	}
}

// VersionCmd defines the version JSON-RPC command.
type VersionCmd struct{}

// NewVersionCmd returns a new instance which can be used to issue a JSON-RPC
// version command.
func NewVersionCmd() *VersionCmd { return new(VersionCmd) }

func init() {
	flags := UsageFlag(0)

	MustRegisterCmd("transactionsubmitted", (*TransactionSubmittedCmd)(nil), flags)
	MustRegisterCmd("polltransaction", (*PollTransactionCmd)(nil), flags)
	MustRegisterCmd("gettransaction", (*GetTransactionCmd)(nil), flags)
	MustRegisterCmd("gettransactions", (*GetTransactionsCmd)(nil), flags)
	MustRegisterCmd("version", (*VersionCmd)(nil), flags)

	// Chat relay, admin join, override and order subscription only make
	// sense on a live websocket connection.
	MustRegisterCmd("message", (*ChatMessageCmd)(nil), UFWebsocketOnly)
	MustRegisterCmd("verifytransaction", (*VerifyTransactionCmd)(nil), UFWebsocketOnly)
	MustRegisterCmd("joinadmin", (*JoinAdminCmd)(nil), UFWebsocketOnly)
	MustRegisterCmd("subscribeorder", (*SubscribeOrderCmd)(nil), UFWebsocketOnly)
}
