package ledgerclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/auratrade/aura-relay-server/errcode"
	"github.com/auratrade/aura-relay-server/model"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// NotificationType represents the type of a notification message.
type NotificationType int

// NotificationCallback is used for a caller to provide a callback for
// notifications about various events.
type NotificationCallback func(*Notification)

const (
	NTClientConnected NotificationType = iota
	NTClientConnectionLost
)

// notificationTypeStrings is a map of notification types back to their constant
// names for pretty printing.
var notificationTypeStrings = map[NotificationType]string{
	NTClientConnected:      "NTClientConnected",
	NTClientConnectionLost: "NTClientConnectionLost",
}

// String returns the NotificationType in human-readable form.
func (n NotificationType) String() string {
	if s, ok := notificationTypeStrings[n]; ok {
		return s
	}
	return fmt.Sprintf("Unknown Notification Type (%d)", int(n))
}

// Notification defines notification that is sent to the caller via the
// callback function provided during the call to Subscribe and consists of a
// notification type as well as associated data.
type Notification struct {
	Type NotificationType
	Data interface{}
}

// Config describes the connection to the ledger RPC endpoint.
type Config struct {
	// RPCURL is the full http(s) URL of the ledger JSON-RPC endpoint.
	RPCURL string

	// RequestTimeout bounds every single oracle request. The client never
	// retries inside a request.
	RequestTimeout time.Duration

	// PingInterval is the spacing of the connect probe loop.
	PingInterval time.Duration
}

// RPCClient represents a client connection to a Solana JSON-RPC endpoint
// used as the transaction status oracle.
type RPCClient struct {
	client *rpc.Client
	cfg    *Config

	connected   bool
	connectedMu sync.Mutex

	notificationsLock sync.RWMutex
	notifications     []NotificationCallback

	started bool
	quitMtx sync.Mutex
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New creates a ledger oracle client for the given endpoint. The connection
// is probed lazily by Start.
func New(cfg *Config) (*RPCClient, error) {
	if cfg == nil || cfg.RPCURL == "" {
		return nil, fmt.Errorf("missing ledger RPC URL")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 5 * time.Second
	}

	client := &RPCClient{
		client: rpc.New(cfg.RPCURL),
		cfg:    cfg,
		quit:   make(chan struct{}),
	}
	return client, nil
}

// Subscribe to notifications. Registers a callback to be executed
// when various events take place.
func (c *RPCClient) Subscribe(callback NotificationCallback) {
	c.notificationsLock.Lock()
	c.notifications = append(c.notifications, callback)
	c.notificationsLock.Unlock()
}

// sendNotification sends a notification with the passed type and data if the
// caller requested notifications by providing a callback function in the call
// to Subscribe.
func (c *RPCClient) sendNotification(typ NotificationType, data interface{}) {
	n := Notification{Type: typ, Data: data}
	c.notificationsLock.RLock()
	for _, callback := range c.notifications {
		callback(&n)
	}
	c.notificationsLock.RUnlock()
}

// Start launches the connect probe loop. The loop keeps probing the endpoint
// until it answers, marks the client connected and notifies subscribers.
func (c *RPCClient) Start() error {
	c.quitMtx.Lock()
	if c.started {
		c.quitMtx.Unlock()
		return nil
	}
	c.started = true
	c.quitMtx.Unlock()

	c.wg.Add(1)
	go c.connectHandler()
	return nil
}

// connectHandler probes the endpoint with getVersion until it answers.
func (c *RPCClient) connectHandler() {
	defer c.wg.Done()

	for {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		version, err := c.client.GetVersion(ctx)
		cancel()
		if err == nil {
			log.Infof("Connected to ledger RPC %v (solana-core %v)", c.cfg.RPCURL, version.SolanaCore)
			c.setConnected(true)
			c.sendNotification(NTClientConnected, nil)
			return
		}

		log.Warnf("Ledger RPC %v not reachable: %v, retrying in %v...", c.cfg.RPCURL, err, c.cfg.PingInterval)
		select {
		case <-time.After(c.cfg.PingInterval):
		case <-c.quit:
			return
		}
	}
}

func (c *RPCClient) setConnected(connected bool) {
	c.connectedMu.Lock()
	c.connected = connected
	c.connectedMu.Unlock()
}

// Connected reports whether the endpoint answered the startup probe.
func (c *RPCClient) Connected() bool {
	c.connectedMu.Lock()
	defer c.connectedMu.Unlock()
	return c.connected
}

// Stop shuts the client down. It is safe to call multiple times.
func (c *RPCClient) Stop() {
	c.quitMtx.Lock()
	select {
	case <-c.quit:
	default:
		close(c.quit)
	}
	c.quitMtx.Unlock()
	log.Trace("Ledger client done")
}

// WaitForShutdown blocks until the probe loop has finished.
func (c *RPCClient) WaitForShutdown() {
	c.wg.Wait()
}

// GetSignatureStatus performs one oracle observation of the given signature.
// The request is bounded by the configured request timeout and is never
// retried here; the reconciliation engine owns the attempt budget.
//
// Any transport or parse problem maps to ObservedTransportError together
// with the underlying error.
func (c *RPCClient) GetSignatureStatus(ctx context.Context, txHash string) (model.ObservedState, error) {
	sig, err := solana.SignatureFromBase58(txHash)
	if err != nil {
		return model.ObservedTransportError, fmt.Errorf("%w %q: %v",
			errcode.ErrInvalidSignature, txHash, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	// Full history search makes a not-found answer authoritative.
	out, err := c.client.GetSignatureStatuses(reqCtx, true, sig)
	if err != nil {
		return model.ObservedTransportError, err
	}
	if out == nil || len(out.Value) == 0 {
		return model.ObservedTransportError, fmt.Errorf("%w: empty getSignatureStatuses response",
			errcode.ErrOracleUnavailable)
	}

	status := out.Value[0]
	if status == nil {
		return model.ObservedNotFound, nil
	}
	if status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
		return model.ObservedFinalized, nil
	}
	return model.ObservedUnconfirmed, nil
}
