package reconmgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auratrade/aura-relay-server/dal"
	"github.com/auratrade/aura-relay-server/model"
	"github.com/auratrade/aura-relay-server/service"
	"github.com/auratrade/aura-relay-server/utils"

	"gorm.io/gorm"
)

const (
	// DefaultMaxAttempts is the poll attempt budget per transaction.
	DefaultMaxAttempts = 8

	// DefaultPollInterval is the spacing between poll attempts.
	DefaultPollInterval = 5 * time.Second

	// MinPollInterval and MaxPollInterval bound the configurable spacing.
	MinPollInterval = 2 * time.Second
	MaxPollInterval = 10 * time.Second
)

// StatusSource performs a single oracle observation of a ledger signature.
// A non-nil error means the observation could not be made and maps to
// ObservedTransportError.
type StatusSource interface {
	GetSignatureStatus(ctx context.Context, txHash string) (model.ObservedState, error)
}

// Config holds the knobs of the reconciliation engine.
type Config struct {
	// MaxAttempts is the attempt budget per transaction. Zero selects
	// DefaultMaxAttempts.
	MaxAttempts int

	// PollInterval is the inter-attempt delay. Zero selects
	// DefaultPollInterval.
	PollInterval time.Duration
}

// ReconManager drives submitted transactions from pending to a terminal
// status by polling the ledger oracle with a bounded attempt budget. At most
// one poll loop runs per transaction hash.
type ReconManager struct {
	maxAttempts  int
	pollInterval time.Duration

	source StatusSource

	db        *gorm.DB
	txService service.TransactionService

	// inFlight maps each hash with a running poll loop to that loop's
	// cancellation channel.
	inFlight    map[string]chan struct{}
	inFlightMtx sync.Mutex

	notificationsLock sync.RWMutex
	notifications     []NotificationCallback

	changeChan chan *model.ObservedChange

	wg       sync.WaitGroup
	shutdown int32
	quit     chan struct{}
}

// NewReconManager creates a reconciliation engine backed by the global
// database client and the given oracle source.
func NewReconManager(cfg *Config, source StatusSource) *ReconManager {
	maxAttempts := DefaultMaxAttempts
	pollInterval := DefaultPollInterval
	if cfg != nil {
		if cfg.MaxAttempts > 0 {
			maxAttempts = cfg.MaxAttempts
		}
		if cfg.PollInterval > 0 {
			pollInterval = cfg.PollInterval
		}
	}
	if pollInterval < MinPollInterval {
		pollInterval = MinPollInterval
	}
	if pollInterval > MaxPollInterval {
		pollInterval = MaxPollInterval
	}

	res := &ReconManager{
		maxAttempts:  maxAttempts,
		pollInterval: pollInterval,
		source:       source,
		db:           dal.GlobalDBClient,
		txService:    service.GetTransactionService(),
		inFlight:     make(map[string]chan struct{}),
		changeChan:   make(chan *model.ObservedChange, 64),
		quit:         make(chan struct{}),
	}
	return res
}

// Start launches the change intake loop and resumes reconciliation of rows
// that were still pending when the process last stopped.
func (m *ReconManager) Start() {
	m.wg.Add(1)
	go m.changeHandler()

	m.resumePending()
}

// Stop shuts the engine down and waits for all poll loops to return.
func (m *ReconManager) Stop() error {
	if atomic.AddInt32(&m.shutdown, 1) != 1 {
		log.Infof("Reconciliation manager is already in the process of shutting down")
		return nil
	}
	log.Warnf("Reconciliation manager shutting down...")
	close(m.quit)
	m.wg.Wait()
	log.Infof("Reconciliation manager shutdown complete")
	return nil
}

// SubmitTransaction stores a newly reported transaction and starts its poll
// loop. Submits are idempotent on the hash: a duplicate is acknowledged with
// the stored row and true, and never starts a second loop.
func (m *ReconManager) SubmitTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, bool, error) {
	stored, duplicate, err := m.txService.Submit(ctx, m.getDB(ctx), txn)
	if err != nil {
		return nil, false, err
	}

	if !duplicate {
		m.sendNotification(NTTransactionAccepted, stored)
	}

	if stored.Status == model.StatusPending {
		m.startPolling(stored.TxHash, stored.Attempts)
	}
	return stored, duplicate, nil
}

// HandleObservedChange is the single entry point for the change notifier
// adapter. It never blocks the caller for longer than the intake queue.
func (m *ReconManager) HandleObservedChange(change *model.ObservedChange) {
	if change == nil {
		return
	}
	select {
	case m.changeChan <- change:
	case <-m.quit:
	}
}

// Override forces the transaction to the given status on behalf of an admin.
// The override wins over any current status, including terminal ones, and is
// broadcast after the store write succeeds.
func (m *ReconManager) Override(ctx context.Context, txHash string, toStatus model.TxStatus, verifiedBy string) (*model.Transaction, error) {
	previous, err := m.txService.GetByTxHash(ctx, m.getDB(ctx), txHash)
	if err != nil {
		return nil, err
	}

	stored, err := m.txService.Override(ctx, m.getDB(ctx), txHash, toStatus, verifiedBy)
	if err != nil {
		return nil, err
	}

	// Cancel any in-flight poll loop so a later oracle response cannot
	// race the override.
	m.inFlightMtx.Lock()
	if cancel, ok := m.inFlight[txHash]; ok {
		close(cancel)
		delete(m.inFlight, txHash)
	}
	m.inFlightMtx.Unlock()

	m.sendNotification(NTTransactionTransition, &TransitionEvent{
		Transaction: stored,
		Previous:    previous.Status,
		Override:    true,
		VerifiedBy:  verifiedBy,
	})
	return stored, nil
}

// getDB returns the request scoped database handle. Kept behind a method so
// the engine can run against a nil database in tests where the injected
// service ignores the handle.
func (m *ReconManager) getDB(ctx context.Context) *gorm.DB {
	if m.db == nil {
		return nil
	}
	return m.db.WithContext(ctx)
}

// changeHandler serializes the intake of observed changes.
func (m *ReconManager) changeHandler() {
	defer m.wg.Done()

	for {
		select {
		case change := <-m.changeChan:
			m.processObservedChange(change)
		case <-m.quit:
			return
		}
	}
}

// processObservedChange folds one observed change into the engine. All three
// sources behave the same way: the stored row decides, the hint never
// overrides the store.
func (m *ReconManager) processObservedChange(change *model.ObservedChange) {
	ctx := context.Background()
	stored, err := m.txService.GetByTxHash(ctx, m.getDB(ctx), change.TxHash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Debugf("Observed change from %v for unknown transaction %v, ignoring", change.Source, change.TxHash)
			return
		}
		log.Errorf("Unable to load transaction %v for observed change: %v", change.TxHash, err)
		return
	}

	if stored.Status.IsTerminal() {
		// The row already settled. A feed or trigger echo of that
		// settlement is not an error, just old news.
		log.Tracef("Observed change from %v for settled transaction %v (%v), ignoring",
			change.Source, change.TxHash, stored.Status)
		return
	}

	log.Debugf("Observed change from %v for transaction %v, resuming reconciliation", change.Source, change.TxHash)
	m.startPolling(stored.TxHash, stored.Attempts)
}

// resumePending restarts poll loops for rows that are still pending, e.g.
// after a process restart. The persisted attempt counter keeps the budget
// from resetting.
func (m *ReconManager) resumePending() {
	ctx := context.Background()
	pending, err := m.txService.GetPendingTransactions(ctx, m.getDB(ctx))
	if err != nil {
		log.Errorf("Unable to load pending transactions for resume: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	log.Infof("Resuming reconciliation of %v pending transactions", len(pending))
	for _, txn := range pending {
		m.startPolling(txn.TxHash, txn.Attempts)
	}
}

// startPolling launches the poll loop for the hash unless one is already
// running. The check and the insert into the in-flight set happen under one
// lock acquisition.
func (m *ReconManager) startPolling(txHash string, attempts int) {
	m.inFlightMtx.Lock()
	if _, ok := m.inFlight[txHash]; ok {
		m.inFlightMtx.Unlock()
		log.Tracef("Transaction %v already in flight, not starting a second loop", txHash)
		return
	}
	cancel := make(chan struct{})
	m.inFlight[txHash] = cancel
	m.inFlightMtx.Unlock()

	m.wg.Add(1)
	go m.pollHandler(txHash, attempts, cancel)
}

// InFlight reports whether a poll loop is currently running for the hash.
func (m *ReconManager) InFlight(txHash string) bool {
	m.inFlightMtx.Lock()
	defer m.inFlightMtx.Unlock()
	_, ok := m.inFlight[txHash]
	return ok
}

// pollHandler is the per-transaction reconciliation loop. It consumes the
// remaining attempt budget, maps each oracle observation to a decision and
// finishes with exactly one terminal transition.
func (m *ReconManager) pollHandler(txHash string, attempts int, cancel chan struct{}) {
	defer utils.MyRecover()
	defer m.wg.Done()
	defer func() {
		// An override may already have removed this entry and started
		// nothing new, or a successor loop may own the slot by now.
		m.inFlightMtx.Lock()
		if c, ok := m.inFlight[txHash]; ok && c == cancel {
			delete(m.inFlight, txHash)
		}
		m.inFlightMtx.Unlock()
	}()

	ctx := context.Background()
	for attempts < m.maxAttempts {
		select {
		case <-cancel:
			log.Debugf("Poll loop for transaction %v cancelled", txHash)
			return
		case <-m.quit:
			return
		default:
		}

		attempts++

		// Without an oracle source every attempt counts as a transport
		// error and the budget runs into timeout.
		observed := model.ObservedTransportError
		if m.source != nil {
			var err error
			observed, err = m.source.GetSignatureStatus(ctx, txHash)
			if err != nil {
				log.Warnf("Oracle observation %v/%v of transaction %v failed: %v",
					attempts, m.maxAttempts, txHash, err)
				observed = model.ObservedTransportError
			}
		}

		switch observed {
		case model.ObservedFinalized:
			m.resolve(ctx, txHash, model.StatusVerified, attempts)
			return
		case model.ObservedNotFound:
			m.resolve(ctx, txHash, model.StatusFailed, attempts)
			return
		case model.ObservedUnconfirmed, model.ObservedTransportError:
			log.Debugf("Transaction %v still unsettled after attempt %v/%v (%v)",
				txHash, attempts, m.maxAttempts, observed)
			if err := m.txService.RecordAttempt(ctx, m.getDB(ctx), txHash, attempts); err != nil {
				log.Errorf("Unable to persist attempt count for %v: %v", txHash, err)
			}
		}

		if attempts >= m.maxAttempts {
			break
		}

		select {
		case <-time.After(m.pollInterval):
		case <-cancel:
			log.Debugf("Poll loop for transaction %v cancelled", txHash)
			return
		case <-m.quit:
			return
		}
	}

	m.resolve(ctx, txHash, model.StatusTimeout, attempts)
}

// resolve commits the terminal decision and broadcasts it. The broadcast
// never happens before the store write succeeds: on a write error the
// decision is retried on the next tick until it lands or the engine stops.
func (m *ReconManager) resolve(ctx context.Context, txHash string, toStatus model.TxStatus, attempts int) {
	for {
		changed, err := m.txService.ApplyTransition(ctx, m.getDB(ctx), txHash, toStatus, attempts)
		if err == nil {
			if !changed {
				// The row already left pending, e.g. through an
				// admin override. The earlier decision stands.
				log.Debugf("Transaction %v no longer pending, dropping %v decision", txHash, toStatus)
				return
			}
			stored, getErr := m.txService.GetByTxHash(ctx, m.getDB(ctx), txHash)
			if getErr != nil {
				log.Errorf("Unable to reload transaction %v after transition: %v", txHash, getErr)
				return
			}
			log.Infof("Transaction %v settled as %v after %v attempts", txHash, toStatus, attempts)
			m.sendNotification(NTTransactionTransition, &TransitionEvent{
				Transaction: stored,
				Previous:    model.StatusPending,
			})
			return
		}

		log.Errorf("Store write for transaction %v transition to %v failed: %v, retrying in %v...",
			txHash, toStatus, err, m.pollInterval)
		select {
		case <-time.After(m.pollInterval):
		case <-m.quit:
			return
		}
	}
}
