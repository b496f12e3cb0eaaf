package constdef

const (
	MinUsernameLength = 5
	MaxUsernameLength = 100
	MinPasswordLength = 6
	MaxPasswordLength = 40
)

const (
	// MaxChatContentLength bounds relayed chat payloads.
	MaxChatContentLength = 2048
	// MaxTxHashLength bounds base58 encoded ledger signatures.
	MaxTxHashLength = 128
	MaxOrderIDLength = 64
)
