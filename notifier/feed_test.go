package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/auratrade/aura-relay-server/model"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// pendingStore serves a fixed pending set to the feed poller.
type pendingStore struct {
	pending []*model.Transaction
	scanErr error
	scans   int
}

func (s *pendingStore) Submit(ctx context.Context, tx *gorm.DB, txn *model.Transaction) (*model.Transaction, bool, error) {
	return nil, false, errors.New("not implemented")
}

func (s *pendingStore) GetByTxHash(ctx context.Context, tx *gorm.DB, hash string) (*model.Transaction, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *pendingStore) GetByOrderID(ctx context.Context, tx *gorm.DB, orderID string) ([]*model.Transaction, error) {
	return nil, nil
}

func (s *pendingStore) GetTransactions(ctx context.Context, tx *gorm.DB, page int, num int, positiveOrder bool) ([]*model.Transaction, error) {
	return nil, nil
}

func (s *pendingStore) GetTransactionNum(ctx context.Context, tx *gorm.DB) (int64, error) {
	return 0, nil
}

func (s *pendingStore) GetPendingTransactions(ctx context.Context, tx *gorm.DB) ([]*model.Transaction, error) {
	s.scans++
	if s.scanErr != nil {
		return nil, s.scanErr
	}
	return s.pending, nil
}

func (s *pendingStore) ApplyTransition(ctx context.Context, tx *gorm.DB, hash string, toStatus model.TxStatus, attempts int) (bool, error) {
	return false, errors.New("not implemented")
}

func (s *pendingStore) RecordAttempt(ctx context.Context, tx *gorm.DB, hash string, attempts int) error {
	return errors.New("not implemented")
}

func (s *pendingStore) Override(ctx context.Context, tx *gorm.DB, hash string, toStatus model.TxStatus, verifiedBy string) (*model.Transaction, error) {
	return nil, errors.New("not implemented")
}

func TestFeedPollerReplaysPendingRows(t *testing.T) {
	sink := &recordingSink{}
	store := &pendingStore{
		pending: []*model.Transaction{
			{OrderID: "order-1", TxHash: "hash-1", Status: model.StatusPending},
			{OrderID: "order-2", TxHash: "hash-2", Status: model.StatusPending},
		},
	}
	p := &FeedPoller{
		notifier:  NewChangeNotifier(sink),
		txService: store,
		interval:  time.Hour,
		quit:      make(chan struct{}),
	}

	p.pollOnce()
	require.Len(t, sink.changes, 2)
	require.Equal(t, model.SourceFeedChange, sink.changes[0].Source)
	require.Equal(t, "hash-1", sink.changes[0].TxHash)
	require.Equal(t, model.StatusPending, sink.changes[0].Status)
	require.Equal(t, "hash-2", sink.changes[1].TxHash)
}

func TestFeedPollerScanErrorDeliversNothing(t *testing.T) {
	sink := &recordingSink{}
	store := &pendingStore{scanErr: errors.New("connection refused")}
	p := &FeedPoller{
		notifier:  NewChangeNotifier(sink),
		txService: store,
		interval:  time.Hour,
		quit:      make(chan struct{}),
	}

	p.pollOnce()
	require.Equal(t, 1, store.scans)
	require.Empty(t, sink.changes)
}

func TestFeedPollerStopIsIdempotent(t *testing.T) {
	p := &FeedPoller{
		notifier:  NewChangeNotifier(&recordingSink{}),
		txService: &pendingStore{},
		interval:  time.Hour,
		quit:      make(chan struct{}),
	}
	p.Start()
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())
}
