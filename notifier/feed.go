package notifier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/auratrade/aura-relay-server/dal"
	"github.com/auratrade/aura-relay-server/service"

	"gorm.io/gorm"
)

// DefaultFeedInterval is the spacing between storage feed scans.
const DefaultFeedInterval = 30 * time.Second

// FeedPoller tails the transaction store for pending rows and replays them
// through the change notifier, so rows written by other processes still get
// reconciled.  It fills the role of a storage change feed for backends
// without a push channel; rows already in flight are deduplicated by the
// reconciliation engine.
type FeedPoller struct {
	notifier  *ChangeNotifier
	txService service.TransactionService
	db        *gorm.DB
	interval  time.Duration

	wg       sync.WaitGroup
	shutdown int32
	quit     chan struct{}
}

// NewFeedPoller creates a feed poller backed by the global database client,
// delivering into the given change notifier.
func NewFeedPoller(n *ChangeNotifier, interval time.Duration) *FeedPoller {
	if interval <= 0 {
		interval = DefaultFeedInterval
	}
	return &FeedPoller{
		notifier:  n,
		txService: service.GetTransactionService(),
		db:        dal.GlobalDBClient,
		interval:  interval,
		quit:      make(chan struct{}),
	}
}

// Start launches the scan loop.
func (p *FeedPoller) Start() {
	p.wg.Add(1)
	go p.pollHandler()
}

// Stop shuts the scan loop down and waits for it to return.
func (p *FeedPoller) Stop() error {
	if atomic.AddInt32(&p.shutdown, 1) != 1 {
		log.Infof("Feed poller is already in the process of shutting down")
		return nil
	}
	close(p.quit)
	p.wg.Wait()
	log.Infof("Feed poller shutdown complete")
	return nil
}

func (p *FeedPoller) pollHandler() {
	defer p.wg.Done()

	for {
		select {
		case <-time.After(p.interval):
			p.pollOnce()
		case <-p.quit:
			return
		}
	}
}

// pollOnce replays every pending row through the feed entry point.
func (p *FeedPoller) pollOnce() {
	ctx := context.Background()
	rows, err := p.txService.GetPendingTransactions(ctx, p.getDB(ctx))
	if err != nil {
		log.Errorf("Unable to scan pending transactions for the feed: %v", err)
		return
	}

	if len(rows) > 0 {
		log.Debugf("Feed scan found %v pending transactions", len(rows))
	}
	for _, txn := range rows {
		p.notifier.HandleFeedRow(&FeedRow{
			OrderID: txn.OrderID,
			TxHash:  txn.TxHash,
			Status:  txn.Status.String(),
		})
	}
}

// getDB returns the request scoped database handle.  Kept behind a method so
// the poller can run against a nil database in tests where the injected
// service ignores the handle.
func (p *FeedPoller) getDB(ctx context.Context) *gorm.DB {
	if p.db == nil {
		return nil
	}
	return p.db.WithContext(ctx)
}
