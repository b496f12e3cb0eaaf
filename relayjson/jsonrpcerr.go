package relayjson

// Standard JSON-RPC 2.0 errors.
var (
	ErrRPCInvalidRequest = &RPCError{
		Code:    -32600,
		Message: "Invalid request",
	}
	ErrRPCMethodNotFound = &RPCError{
		Code:    -32601,
		Message: "Method not found",
	}
	ErrRPCInvalidParams = &RPCError{
		Code:    -32602,
		Message: "Invalid parameters",
	}
	ErrRPCInternal = &RPCError{
		Code:    -32603,
		Message: "Internal error",
	}
	ErrRPCParse = &RPCError{
		Code:    -32700,
		Message: "Parse error",
	}
)

// Application defined errors.
var (
	ErrTxNotFound = &RPCError{
		Code:    201,
		Message: "Transaction not found",
	}
	ErrDuplicateTx = &RPCError{
		Code:    202,
		Message: "Transaction already submitted",
	}
	ErrUnauthorized = &RPCError{
		Code:    203,
		Message: "Unauthorized",
	}
	ErrInvalidTx = &RPCError{
		Code:    204,
		Message: "Invalid transaction submission",
	}
	ErrInvalidStatus = &RPCError{
		Code:    205,
		Message: "Invalid status (pending, verified, failed and timeout are allowed)",
	}
	ErrPasswordIncorrect = &RPCError{
		Code:    206,
		Message: "Incorrect password",
	}
	ErrInvalidRequestParams = &RPCError{
		Code:    401,
		Message: "Invalid request params",
	}
	ErrInternal = &RPCError{
		Code:    500,
		Message: "Internal error",
	}
)
