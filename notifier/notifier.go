package notifier

import (
	"encoding/json"
	"strings"

	"github.com/auratrade/aura-relay-server/model"
	"github.com/auratrade/aura-relay-server/utils"
)

// ChangeSink receives normalized observed changes. The reconciliation engine
// implements it.
type ChangeSink interface {
	HandleObservedChange(change *model.ObservedChange)
}

// ChangeNotifier funnels the three external change paths (manual polls, feed
// rows and trigger payloads) into one normalized stream of observed changes.
// Malformed inputs are dropped with a log line and never reach the sink.
type ChangeNotifier struct {
	sink ChangeSink
}

// NewChangeNotifier creates a change notifier delivering into sink.
func NewChangeNotifier(sink ChangeSink) *ChangeNotifier {
	return &ChangeNotifier{sink: sink}
}

// FeedRow is the row shape delivered by the storage feed.
type FeedRow struct {
	OrderID string `json:"order_id"`
	TxHash  string `json:"tx_hash"`
	Status  string `json:"status"`
}

// TriggerPayload is the envelope posted by storage triggers. Record carries
// the changed row.
type TriggerPayload struct {
	Type   string   `json:"type"`
	Table  string   `json:"table"`
	Record *FeedRow `json:"record"`
}

// HandleManualPoll normalizes an explicit client poll request.
func (n *ChangeNotifier) HandleManualPoll(orderID string, txHash string) {
	change, ok := n.normalize(model.SourceManualPoll, orderID, txHash, "")
	if !ok {
		return
	}
	n.sink.HandleObservedChange(change)
}

// HandleFeedRow normalizes a storage feed row.
func (n *ChangeNotifier) HandleFeedRow(row *FeedRow) {
	if row == nil {
		log.Warnf("Dropping nil feed row")
		return
	}
	change, ok := n.normalize(model.SourceFeedChange, row.OrderID, row.TxHash, row.Status)
	if !ok {
		return
	}
	n.sink.HandleObservedChange(change)
}

// HandleTriggerPayload parses and normalizes a raw trigger body.
func (n *ChangeNotifier) HandleTriggerPayload(raw []byte) {
	var payload TriggerPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		log.Warnf("Dropping malformed trigger payload: %v", err)
		return
	}
	if payload.Record == nil {
		log.Warnf("Dropping trigger payload without record (type %q, table %q)", payload.Type, payload.Table)
		return
	}
	change, ok := n.normalize(model.SourceTriggerChange, payload.Record.OrderID, payload.Record.TxHash, payload.Record.Status)
	if !ok {
		return
	}
	n.sink.HandleObservedChange(change)
}

// normalize validates the raw fields and builds the ObservedChange. A false
// result means the input was malformed and has been logged and dropped.
func (n *ChangeNotifier) normalize(source model.ChangeSource, orderID string, txHash string, status string) (*model.ObservedChange, bool) {
	txHash = strings.TrimSpace(txHash)
	orderID = strings.TrimSpace(orderID)
	if utils.IsBlank(txHash) {
		log.Warnf("Dropping %v change without tx hash (order %q)", source, orderID)
		return nil, false
	}

	change := &model.ObservedChange{
		Source:  source,
		OrderID: orderID,
		TxHash:  txHash,
	}

	if status != "" {
		parsed, ok := model.ParseTxStatus(status)
		if !ok {
			log.Warnf("Dropping %v change for %v with unknown status %q", source, txHash, status)
			return nil, false
		}
		change.Status = parsed
	}
	return change, true
}
