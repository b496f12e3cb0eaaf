package reconmgr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/auratrade/aura-relay-server/model"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeStore is an in-memory TransactionService used to drive the engine
// without a database. applyFailures makes the next n ApplyTransition calls
// fail to exercise the write-before-broadcast retry.
type fakeStore struct {
	mu            sync.Mutex
	rows          map[string]*model.Transaction
	applyFailures int
	applyCalls    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]*model.Transaction)}
}

func (f *fakeStore) put(txn *model.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *txn
	f.rows[txn.TxHash] = &cp
}

func (f *fakeStore) get(hash string) *model.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[hash]; ok {
		cp := *row
		return &cp
	}
	return nil
}

func (f *fakeStore) Submit(ctx context.Context, tx *gorm.DB, txn *model.Transaction) (*model.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.rows[txn.TxHash]; ok {
		cp := *existing
		return &cp, true, nil
	}
	cp := *txn
	cp.Status = model.StatusPending
	f.rows[txn.TxHash] = &cp
	out := cp
	return &out, false, nil
}

func (f *fakeStore) GetByTxHash(ctx context.Context, tx *gorm.DB, hash string) (*model.Transaction, error) {
	row := f.get(hash)
	if row == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return row, nil
}

func (f *fakeStore) GetByOrderID(ctx context.Context, tx *gorm.DB, orderID string) ([]*model.Transaction, error) {
	return nil, nil
}

func (f *fakeStore) GetTransactions(ctx context.Context, tx *gorm.DB, page int, num int, positiveOrder bool) ([]*model.Transaction, error) {
	return nil, nil
}

func (f *fakeStore) GetTransactionNum(ctx context.Context, tx *gorm.DB) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.rows)), nil
}

func (f *fakeStore) GetPendingTransactions(ctx context.Context, tx *gorm.DB) ([]*model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*model.Transaction
	for _, row := range f.rows {
		if row.Status == model.StatusPending {
			cp := *row
			pending = append(pending, &cp)
		}
	}
	return pending, nil
}

func (f *fakeStore) ApplyTransition(ctx context.Context, tx *gorm.DB, hash string, toStatus model.TxStatus, attempts int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applyCalls++
	if f.applyFailures > 0 {
		f.applyFailures--
		return false, errors.New("store unavailable")
	}
	row, ok := f.rows[hash]
	if !ok || row.Status != model.StatusPending {
		return false, nil
	}
	row.Status = toStatus
	row.Attempts = attempts
	return true, nil
}

func (f *fakeStore) RecordAttempt(ctx context.Context, tx *gorm.DB, hash string, attempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if row, ok := f.rows[hash]; ok {
		row.Attempts = attempts
	}
	return nil
}

func (f *fakeStore) Override(ctx context.Context, tx *gorm.DB, hash string, toStatus model.TxStatus, verifiedBy string) (*model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[hash]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	row.Status = toStatus
	row.VerifiedBy = verifiedBy
	cp := *row
	return &cp, nil
}

// fakeOracle answers observations from a fixed script. Once the script is
// exhausted the last entry repeats. A nil script reports transport errors.
type fakeOracle struct {
	mu     sync.Mutex
	script []model.ObservedState
	calls  int
}

func (f *fakeOracle) GetSignatureStatus(ctx context.Context, txHash string) (model.ObservedState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if len(f.script) == 0 {
		return model.ObservedTransportError, errors.New("oracle unreachable")
	}
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	return f.script[idx], nil
}

func (f *fakeOracle) numCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestManager(store *fakeStore, oracle *fakeOracle, maxAttempts int) *ReconManager {
	return &ReconManager{
		maxAttempts:  maxAttempts,
		pollInterval: 2 * time.Millisecond,
		source:       oracle,
		txService:    store,
		inFlight:     make(map[string]chan struct{}),
		changeChan:   make(chan *model.ObservedChange, 64),
		quit:         make(chan struct{}),
	}
}

// collectTransitions subscribes to the manager and returns a channel of
// committed transition events.
func collectTransitions(m *ReconManager) <-chan *TransitionEvent {
	events := make(chan *TransitionEvent, 16)
	m.Subscribe(func(n *Notification) {
		if n.Type != NTTransactionTransition {
			return
		}
		events <- n.Data.(*TransitionEvent)
	})
	return events
}

func waitTransition(t *testing.T, events <-chan *TransitionEvent) *TransitionEvent {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transition event")
		return nil
	}
}

func TestSubmitDuplicateStartsOneLoop(t *testing.T) {
	store := newFakeStore()
	oracle := &fakeOracle{script: []model.ObservedState{model.ObservedUnconfirmed}}
	m := newTestManager(store, oracle, 1000)
	defer m.Stop()

	var acceptedCount int
	var mu sync.Mutex
	m.Subscribe(func(n *Notification) {
		if n.Type == NTTransactionAccepted {
			mu.Lock()
			acceptedCount++
			mu.Unlock()
		}
	})

	txn := &model.Transaction{OrderID: "order-1", TxHash: "hash-1"}
	_, duplicate, err := m.SubmitTransaction(context.Background(), txn)
	require.NoError(t, err)
	require.False(t, duplicate)

	stored, duplicate, err := m.SubmitTransaction(context.Background(), txn)
	require.NoError(t, err)
	require.True(t, duplicate)
	require.Equal(t, model.StatusPending, stored.Status)

	num, _ := store.GetTransactionNum(context.Background(), nil)
	require.Equal(t, int64(1), num)
	require.True(t, m.InFlight("hash-1"))

	mu.Lock()
	require.Equal(t, 1, acceptedCount)
	mu.Unlock()
}

func TestFinalizedSettlesVerifiedAfterStoreWrite(t *testing.T) {
	store := newFakeStore()
	oracle := &fakeOracle{script: []model.ObservedState{model.ObservedFinalized}}
	m := newTestManager(store, oracle, 8)
	defer m.Stop()

	// The callback sees the stored row already settled, proving the store
	// write preceded the broadcast.
	events := make(chan model.TxStatus, 16)
	m.Subscribe(func(n *Notification) {
		if n.Type != NTTransactionTransition {
			return
		}
		events <- store.get("hash-1").Status
	})

	_, _, err := m.SubmitTransaction(context.Background(), &model.Transaction{OrderID: "order-1", TxHash: "hash-1"})
	require.NoError(t, err)

	select {
	case storedStatus := <-events:
		require.Equal(t, model.StatusVerified, storedStatus)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for transition event")
	}

	// Exactly one broadcast.
	select {
	case <-events:
		t.Fatal("unexpected second broadcast")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, 1, oracle.numCalls())
}

func TestNotFoundFailsImmediately(t *testing.T) {
	store := newFakeStore()
	oracle := &fakeOracle{script: []model.ObservedState{model.ObservedNotFound}}
	m := newTestManager(store, oracle, 8)
	defer m.Stop()

	events := collectTransitions(m)
	_, _, err := m.SubmitTransaction(context.Background(), &model.Transaction{OrderID: "order-1", TxHash: "hash-1"})
	require.NoError(t, err)

	ev := waitTransition(t, events)
	require.Equal(t, model.StatusFailed, ev.Transaction.Status)
	require.Equal(t, 1, ev.Transaction.Attempts)
	require.Equal(t, 1, oracle.numCalls())
}

func TestTransportErrorsExhaustIntoTimeout(t *testing.T) {
	store := newFakeStore()
	oracle := &fakeOracle{}
	m := newTestManager(store, oracle, 3)
	defer m.Stop()

	events := collectTransitions(m)
	_, _, err := m.SubmitTransaction(context.Background(), &model.Transaction{OrderID: "order-1", TxHash: "hash-1"})
	require.NoError(t, err)

	ev := waitTransition(t, events)
	require.Equal(t, model.StatusTimeout, ev.Transaction.Status)
	require.Equal(t, 3, ev.Transaction.Attempts)
	require.Equal(t, 3, oracle.numCalls())
}

func TestTerminalRowIgnoresObservationsButOverrideWins(t *testing.T) {
	store := newFakeStore()
	store.put(&model.Transaction{OrderID: "order-1", TxHash: "hash-1", Status: model.StatusVerified})
	oracle := &fakeOracle{script: []model.ObservedState{model.ObservedNotFound}}
	m := newTestManager(store, oracle, 8)
	m.Start()
	defer m.Stop()

	events := collectTransitions(m)

	// A late feed echo for a settled row never reaches the oracle.
	m.HandleObservedChange(&model.ObservedChange{Source: model.SourceFeedChange, TxHash: "hash-1"})
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, oracle.numCalls())
	require.Equal(t, model.StatusVerified, store.get("hash-1").Status)

	// The admin override still moves the terminal row.
	stored, err := m.Override(context.Background(), "hash-1", model.StatusFailed, "alice")
	require.NoError(t, err)
	require.Equal(t, model.StatusFailed, stored.Status)
	require.Equal(t, "alice", stored.VerifiedBy)

	ev := waitTransition(t, events)
	require.True(t, ev.Override)
	require.Equal(t, "alice", ev.VerifiedBy)
	require.Equal(t, model.StatusVerified, ev.Previous)
	require.Equal(t, model.StatusFailed, ev.Transaction.Status)
}

func TestStoreFailureDefersBroadcast(t *testing.T) {
	store := newFakeStore()
	store.applyFailures = 2
	oracle := &fakeOracle{script: []model.ObservedState{model.ObservedFinalized}}
	m := newTestManager(store, oracle, 8)
	defer m.Stop()

	events := collectTransitions(m)
	_, _, err := m.SubmitTransaction(context.Background(), &model.Transaction{OrderID: "order-1", TxHash: "hash-1"})
	require.NoError(t, err)

	ev := waitTransition(t, events)
	require.Equal(t, model.StatusVerified, ev.Transaction.Status)

	store.mu.Lock()
	applyCalls := store.applyCalls
	store.mu.Unlock()
	require.Equal(t, 3, applyCalls)

	// Single broadcast in total despite the store retries.
	select {
	case <-events:
		t.Fatal("unexpected second broadcast")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResumePendingKeepsAttemptBudget(t *testing.T) {
	store := newFakeStore()
	store.put(&model.Transaction{OrderID: "order-1", TxHash: "hash-1", Status: model.StatusPending, Attempts: 2})
	oracle := &fakeOracle{}
	m := newTestManager(store, oracle, 3)
	m.Start()
	defer m.Stop()

	events := collectTransitions(m)
	ev := waitTransition(t, events)
	require.Equal(t, model.StatusTimeout, ev.Transaction.Status)

	// Two attempts were already consumed before the restart.
	require.Equal(t, 1, oracle.numCalls())
}

func TestOverrideCancelsInFlightLoop(t *testing.T) {
	store := newFakeStore()
	oracle := &fakeOracle{script: []model.ObservedState{model.ObservedUnconfirmed}}
	m := newTestManager(store, oracle, 1000)
	m.pollInterval = time.Hour
	defer m.Stop()

	events := collectTransitions(m)
	_, _, err := m.SubmitTransaction(context.Background(), &model.Transaction{OrderID: "order-1", TxHash: "hash-1"})
	require.NoError(t, err)

	// Let the loop consume its first attempt and park in the wait.
	require.Eventually(t, func() bool {
		return oracle.numCalls() == 1
	}, 5*time.Second, time.Millisecond)

	_, err = m.Override(context.Background(), "hash-1", model.StatusVerified, "alice")
	require.NoError(t, err)

	ev := waitTransition(t, events)
	require.True(t, ev.Override)

	// The parked loop exits without another oracle query.
	require.Eventually(t, func() bool {
		return !m.InFlight("hash-1")
	}, 5*time.Second, time.Millisecond)
	require.Equal(t, 1, oracle.numCalls())
	require.Equal(t, model.StatusVerified, store.get("hash-1").Status)
}

func TestNewReconManagerClampsInterval(t *testing.T) {
	m := NewReconManager(&Config{PollInterval: time.Second}, nil)
	require.Equal(t, MinPollInterval, m.pollInterval)

	m = NewReconManager(&Config{PollInterval: time.Minute}, nil)
	require.Equal(t, MaxPollInterval, m.pollInterval)

	m = NewReconManager(nil, nil)
	require.Equal(t, DefaultPollInterval, m.pollInterval)
	require.Equal(t, DefaultMaxAttempts, m.maxAttempts)
}
