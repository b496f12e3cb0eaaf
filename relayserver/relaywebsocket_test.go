package relayserver

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/auratrade/aura-relay-server/model"
	"github.com/auratrade/aura-relay-server/reconmgr"
	"github.com/auratrade/aura-relay-server/relayjson"

	"github.com/stretchr/testify/require"
)

// newTestWsClient returns a client that can receive queued notifications
// without a live websocket connection behind it.
func newTestWsClient() *wsClient {
	return &wsClient{
		addr:     "test client",
		ntfnChan: make(chan []byte, 8),
		quit:     make(chan struct{}),
	}
}

func audience(clients ...*wsClient) map[chan struct{}]*wsClient {
	m := make(map[chan struct{}]*wsClient)
	for _, c := range clients {
		m[c.quit] = c
	}
	return m
}

// nextNotification drains one queued notification from the client and decodes
// the JSON-RPC request it carries.
func nextNotification(t *testing.T, c *wsClient) *relayjson.Request {
	t.Helper()
	select {
	case marshalledJSON := <-c.ntfnChan:
		var req relayjson.Request
		require.NoError(t, json.Unmarshal(marshalledJSON, &req))
		return &req
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a queued notification")
		return nil
	}
}

func requireNoNotification(t *testing.T, c *wsClient) {
	t.Helper()
	select {
	case marshalledJSON := <-c.ntfnChan:
		t.Fatalf("unexpected notification queued: %s", marshalledJSON)
	default:
	}
}

func testTransitionEvent(hash string, status model.TxStatus) *reconmgr.TransitionEvent {
	return &reconmgr.TransitionEvent{
		Transaction: &model.Transaction{
			OrderID:  "order-1",
			TxHash:   hash,
			Status:   status,
			Amount:   "25",
			Currency: "USDC",
			UserID:   "user-1",
			Role:     "buyer",
		},
		Previous: model.StatusPending,
	}
}

func TestTransitionNotifiesAllAudiences(t *testing.T) {
	m := newWsNotificationManager(nil)
	global := newTestWsClient()
	admin := newTestWsClient()
	subscriber := newTestWsClient()

	ev := testTransitionEvent("hash-1", model.StatusVerified)
	m.notifyTransactionTransition(audience(global), audience(admin),
		audience(subscriber), ev)

	req := nextNotification(t, global)
	require.Equal(t, relayjson.TransactionUpdateNtfnMethod, req.Method)

	req = nextNotification(t, subscriber)
	require.Equal(t, relayjson.OrderUpdateNtfnMethod, req.Method)

	// An oracle driven transition reaches the admin audience as
	// admintxupdate, not admintxverified.
	req = nextNotification(t, admin)
	require.Equal(t, relayjson.AdminTxUpdateNtfnMethod, req.Method)
	require.Len(t, req.Params, 7)

	var status string
	require.NoError(t, json.Unmarshal(req.Params[2], &status))
	require.Equal(t, "verified", status)
}

func TestOverrideTransitionNotifiesAdminsVerified(t *testing.T) {
	m := newWsNotificationManager(nil)
	admin := newTestWsClient()

	ev := testTransitionEvent("hash-2", model.StatusFailed)
	ev.Override = true
	ev.VerifiedBy = "ops"
	m.notifyTransactionTransition(nil, audience(admin), nil, ev)

	req := nextNotification(t, admin)
	require.Equal(t, relayjson.AdminTxVerifiedNtfnMethod, req.Method)
	require.Len(t, req.Params, 4)

	var verifiedBy string
	require.NoError(t, json.Unmarshal(req.Params[3], &verifiedBy))
	require.Equal(t, "ops", verifiedBy)
}

func TestRepeatedTerminalBroadcastSuppressed(t *testing.T) {
	m := newWsNotificationManager(nil)
	global := newTestWsClient()
	admin := newTestWsClient()

	ev := testTransitionEvent("hash-3", model.StatusVerified)
	m.notifyTransactionTransition(audience(global), audience(admin), nil, ev)
	nextNotification(t, global)
	nextNotification(t, admin)

	m.notifyTransactionTransition(audience(global), audience(admin), nil, ev)
	requireNoNotification(t, global)
	requireNoNotification(t, admin)
}

func TestAcceptedSubmissionNotifiesAllAudiences(t *testing.T) {
	m := newWsNotificationManager(nil)
	global := newTestWsClient()
	admin := newTestWsClient()
	subscriber := newTestWsClient()

	txn := &model.Transaction{
		OrderID:  "order-9",
		TxHash:   "hash-9",
		Status:   model.StatusPending,
		Amount:   "10",
		Currency: "SOL",
		UserID:   "user-9",
		Role:     "seller",
	}
	m.notifyTransactionAccepted(audience(global), audience(admin),
		audience(subscriber), txn)

	req := nextNotification(t, global)
	require.Equal(t, relayjson.TransactionUpdateNtfnMethod, req.Method)

	req = nextNotification(t, subscriber)
	require.Equal(t, relayjson.OrderUpdateNtfnMethod, req.Method)

	req = nextNotification(t, admin)
	require.Equal(t, relayjson.AdminTxUpdateNtfnMethod, req.Method)
}
