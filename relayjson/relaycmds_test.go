package relayjson

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCmdRoundTrip(t *testing.T) {
	userID := "user-7"
	role := "buyer"
	cmd := NewTransactionSubmittedCmd("order-1", "hash-1", "12.50", "USDC", &userID, &role)

	marshalled, err := MarshalCmdJson(1, cmd)
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","method":"transactionsubmitted",`+
		`"params":["order-1","hash-1","12.50","USDC","user-7","buyer"],"id":1}`,
		string(marshalled))

	var request Request
	require.NoError(t, json.Unmarshal(marshalled, &request))
	parsed, err := UnmarshalCmd(&request)
	require.NoError(t, err)
	require.Equal(t, cmd, parsed)
}

func TestCmdRoundTripOptionalParams(t *testing.T) {
	// Trailing nil optional params are omitted from the wire form.
	cmd := NewGetTransactionsCmd(nil, nil)
	marshalled, err := MarshalCmdJson(5, cmd)
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","method":"gettransactions","params":[],"id":5}`,
		string(marshalled))

	var request Request
	require.NoError(t, json.Unmarshal(marshalled, &request))
	parsed, err := UnmarshalCmd(&request)
	require.NoError(t, err)
	require.Equal(t, cmd, parsed)
}

func TestUnmarshalCmdErrors(t *testing.T) {
	// Unregistered method.
	request := Request{Jsonrpc: "2.0", Method: "bogusmethod", ID: 1}
	_, err := UnmarshalCmd(&request)
	require.Error(t, err)
	require.Equal(t, ErrUnregisteredMethod, err.(Error).ErrorCode)

	// Wrong number of params.
	request = Request{
		Jsonrpc: "2.0",
		Method:  "polltransaction",
		Params:  []json.RawMessage{[]byte(`"order-1"`)},
		ID:      1,
	}
	_, err = UnmarshalCmd(&request)
	require.Error(t, err)
	require.Equal(t, ErrNumParams, err.(Error).ErrorCode)

	// Wrong param type.
	request = Request{
		Jsonrpc: "2.0",
		Method:  "polltransaction",
		Params:  []json.RawMessage{[]byte(`"order-1"`), []byte(`7`)},
		ID:      1,
	}
	_, err = UnmarshalCmd(&request)
	require.Error(t, err)
	require.Equal(t, ErrInvalidType, err.(Error).ErrorCode)
}

func TestNewCmdStringConversion(t *testing.T) {
	// Command line args arrive as strings and convert to the registered
	// field types, including optional integer params.
	cmd, err := NewCmd("gettransactions", "2", "50")
	require.NoError(t, err)
	getTxs := cmd.(*GetTransactionsCmd)
	require.NotNil(t, getTxs.Page)
	require.Equal(t, 2, *getTxs.Page)
	require.NotNil(t, getTxs.Num)
	require.Equal(t, 50, *getTxs.Num)

	_, err = NewCmd("gettransactions", "two")
	require.Error(t, err)
	require.Equal(t, ErrInvalidType, err.(Error).ErrorCode)

	_, err = NewCmd("bogusmethod")
	require.Error(t, err)
	require.Equal(t, ErrUnregisteredMethod, err.(Error).ErrorCode)
}

func TestMethodUsageFlags(t *testing.T) {
	wsOnly := []string{"message", "joinadmin", "verifytransaction", "subscribeorder"}
	for _, method := range wsOnly {
		flags, err := MethodUsageFlags(method)
		require.NoError(t, err)
		require.NotZero(t, flags&UFWebsocketOnly, method)
	}

	httpOK := []string{"transactionsubmitted", "polltransaction", "gettransaction", "gettransactions", "version"}
	for _, method := range httpOK {
		flags, err := MethodUsageFlags(method)
		require.NoError(t, err)
		require.Zero(t, flags&UFWebsocketOnly, method)
	}
}

func TestNotificationsMarshalWithNilID(t *testing.T) {
	ntfn := NewTransactionUpdateNtfn("order-1", "hash-1", "verified")
	marshalled, err := MarshalCmdJson(nil, ntfn)
	require.NoError(t, err)
	require.JSONEq(t, `{"jsonrpc":"2.0","method":"transactionupdate",`+
		`"params":["order-1","hash-1","verified"],"id":null}`, string(marshalled))

	// Notifications reject a non-nil id.
	_, err = MarshalCmdJson(1, ntfn)
	require.Error(t, err)
	require.Equal(t, ErrInvalidType, err.(Error).ErrorCode)
}
