package notifier

import (
	"testing"

	"github.com/auratrade/aura-relay-server/model"

	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	changes []*model.ObservedChange
}

func (r *recordingSink) HandleObservedChange(change *model.ObservedChange) {
	r.changes = append(r.changes, change)
}

func TestHandleManualPoll(t *testing.T) {
	sink := &recordingSink{}
	n := NewChangeNotifier(sink)

	n.HandleManualPoll("order-1", "  hash-1  ")
	require.Len(t, sink.changes, 1)
	require.Equal(t, model.SourceManualPoll, sink.changes[0].Source)
	require.Equal(t, "hash-1", sink.changes[0].TxHash)
	require.Equal(t, "order-1", sink.changes[0].OrderID)

	// Missing tx hash never reaches the sink.
	n.HandleManualPoll("order-1", "   ")
	require.Len(t, sink.changes, 1)
}

func TestHandleFeedRow(t *testing.T) {
	sink := &recordingSink{}
	n := NewChangeNotifier(sink)

	n.HandleFeedRow(&FeedRow{OrderID: "order-1", TxHash: "hash-1", Status: "verified"})
	require.Len(t, sink.changes, 1)
	require.Equal(t, model.SourceFeedChange, sink.changes[0].Source)
	require.Equal(t, model.StatusVerified, sink.changes[0].Status)

	// Nil rows, blank hashes and unknown statuses are dropped.
	n.HandleFeedRow(nil)
	n.HandleFeedRow(&FeedRow{OrderID: "order-1", TxHash: ""})
	n.HandleFeedRow(&FeedRow{OrderID: "order-1", TxHash: "hash-2", Status: "exploded"})
	require.Len(t, sink.changes, 1)
}

func TestHandleTriggerPayload(t *testing.T) {
	sink := &recordingSink{}
	n := NewChangeNotifier(sink)

	n.HandleTriggerPayload([]byte(`{"type":"UPDATE","table":"transactions","record":{"order_id":"order-1","tx_hash":"hash-1","status":"pending"}}`))
	require.Len(t, sink.changes, 1)
	require.Equal(t, model.SourceTriggerChange, sink.changes[0].Source)
	require.Equal(t, "hash-1", sink.changes[0].TxHash)

	// Malformed JSON and missing records are dropped without panicking.
	n.HandleTriggerPayload([]byte(`{not json`))
	n.HandleTriggerPayload([]byte(`{"type":"UPDATE","table":"transactions"}`))
	n.HandleTriggerPayload(nil)
	require.Len(t, sink.changes, 1)
}
