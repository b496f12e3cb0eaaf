package relayserver

import (
	"container/list"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru"
	"gorm.io/gorm"

	"github.com/auratrade/aura-relay-server/constdef"
	"github.com/auratrade/aura-relay-server/dal"
	"github.com/auratrade/aura-relay-server/model"
	"github.com/auratrade/aura-relay-server/reconmgr"
	"github.com/auratrade/aura-relay-server/relayjson"
	"github.com/auratrade/aura-relay-server/service"
	"github.com/auratrade/aura-relay-server/utils"
)

const (
	// websocketSendBufferSize is the number of elements the send channel
	// can queue before blocking.  Note that this only applies to requests
	// handled directly in the websocket client input handler or the async
	// handler since notifications have their own queuing mechanism
	// independent of the send channel buffer.
	websocketSendBufferSize = 50

	// terminalBroadcastCacheSize is the number of tx hashes whose last
	// broadcast status is remembered to suppress repeated identical
	// terminal broadcasts.
	terminalBroadcastCacheSize = 1024
)

type semaphore chan struct{}

func makeSemaphore(n int) semaphore {
	return make(semaphore, n)
}

func (s semaphore) acquire() { s <- struct{}{} }
func (s semaphore) release() { <-s }

// Notification types
type notificationTransactionAccepted model.Transaction
type notificationTransactionTransition reconmgr.TransitionEvent
type notificationChatBroadcast []byte

// Notification control requests
type notificationRegisterClient wsClient
type notificationUnregisterClient wsClient
type notificationRegisterAdmin wsClient
type notificationRegisterOrder struct {
	wsc     *wsClient
	orderID string
}

// wsNotificationManager is a connection and notification manager used for
// websockets.  It allows websocket clients to register themselves and their
// order subscriptions, and broadcasts transaction and chat notifications to
// the registered audiences.
type wsNotificationManager struct {
	// server is the relay server the notification manager is associated
	// with.
	server *RelayServer

	// queueNotification queues a notification for handling.
	queueNotification chan interface{}

	// notificationMsgs feeds notificationHandler with notifications and
	// client (un)registration requests from a queue as well as registration
	// and unregistration requests from clients.
	notificationMsgs chan interface{}

	// Access channel for current number of connected clients.
	numClients chan int

	// recentTerminal remembers the last terminal status broadcast per
	// tx hash so a repeated identical terminal broadcast can be dropped.
	recentTerminal *lru.Cache

	// Shutdown handling
	wg   sync.WaitGroup
	quit chan struct{}
}

// newWsNotificationManager returns a new notification manager ready for use.
// See wsNotificationManager for more details.
func newWsNotificationManager(server *RelayServer) *wsNotificationManager {
	terminalCache, _ := lru.New(terminalBroadcastCacheSize)
	return &wsNotificationManager{
		server:            server,
		queueNotification: make(chan interface{}),
		notificationMsgs:  make(chan interface{}),
		numClients:        make(chan int),
		recentTerminal:    terminalCache,
		quit:              make(chan struct{}),
	}
}

// Start starts the goroutines required for the manager to queue and process
// websocket client notifications.
func (m *wsNotificationManager) Start() {
	m.wg.Add(2)
	go m.queueHandler()
	go m.notificationHandler()
}

// WaitForShutdown blocks until all notification manager goroutines have
// finished.
func (m *wsNotificationManager) WaitForShutdown() {
	m.wg.Wait()
}

// Shutdown shuts down the manager, stopping the notification queue and
// notification handler goroutines.
func (m *wsNotificationManager) Shutdown() {
	close(m.quit)
}

// queueHandler maintains a queue of notifications and notification handler
// control messages.
func (m *wsNotificationManager) queueHandler() {
	queueHandler(m.queueNotification, m.notificationMsgs, m.quit)
	m.wg.Done()
}

// queueHandler manages a queue of empty interfaces, reading from in and
// sending the oldest unsent to out.  This handler stops when either of the
// in or quit channels are closed, and closes out before returning, without
// waiting to send any variables still remaining in the queue.
func queueHandler(in <-chan interface{}, out chan<- interface{}, quit <-chan struct{}) {
	var q []interface{}
	var dequeue chan<- interface{}
	skipQueue := out
	var next interface{}
out:
	for {
		select {
		case n, ok := <-in:
			if !ok {
				// Sender closed input channel.
				break out
			}

			// Either send to out immediately if skipQueue is
			// non-nil (queue is empty) and reader is ready,
			// or append to the queue and send later.
			select {
			case skipQueue <- n:
			default:
				q = append(q, n)
				dequeue = out
				skipQueue = nil
				next = q[0]
			}

		case dequeue <- next:
			copy(q, q[1:])
			q[len(q)-1] = nil // avoid leak
			q = q[:len(q)-1]
			if len(q) == 0 {
				dequeue = nil
				skipQueue = out
			} else {
				next = q[0]
			}

		case <-quit:
			break out
		}
	}
	close(out)
}

// NumClients returns the number of clients actively being served.
func (m *wsNotificationManager) NumClients() (n int) {
	select {
	case n = <-m.numClients:
	case <-m.quit: // Use default n (0) if server has shut down.
	}
	return
}

// AddClient adds the passed websocket client to the notification manager.
func (m *wsNotificationManager) AddClient(wsc *wsClient) {
	m.queueNotification <- (*notificationRegisterClient)(wsc)
}

// RemoveClient removes the passed websocket client and all notifications
// registered for it.
func (m *wsNotificationManager) RemoveClient(wsc *wsClient) {
	select {
	case m.queueNotification <- (*notificationUnregisterClient)(wsc):
	case <-m.quit:
	}
}

// RegisterAdmin promotes the passed websocket client to the admin audience
// after a successful joinadmin.
func (m *wsNotificationManager) RegisterAdmin(wsc *wsClient) {
	m.queueNotification <- (*notificationRegisterAdmin)(wsc)
}

// RegisterOrderSubscription subscribes the passed websocket client to
// notifications scoped to the given order.
func (m *wsNotificationManager) RegisterOrderSubscription(wsc *wsClient, orderID string) {
	m.queueNotification <- &notificationRegisterOrder{wsc: wsc, orderID: orderID}
}

// NotifyTransactionAccepted passes a newly accepted transaction to the
// notification manager for delivery of the pending status to the global,
// order, and admin audiences.
func (m *wsNotificationManager) NotifyTransactionAccepted(txn *model.Transaction) {
	// As NotifyTransactionAccepted will be called by the reconciliation
	// manager and the RPC server may no longer be running, use a select
	// statement to unblock enqueuing the notification once the RPC server
	// has begun shutting down.
	select {
	case m.queueNotification <- (*notificationTransactionAccepted)(txn):
	case <-m.quit:
	}
}

// NotifyTransactionTransition passes a committed status transition to the
// notification manager for delivery to the global, order, and admin
// audiences.
func (m *wsNotificationManager) NotifyTransactionTransition(ev *reconmgr.TransitionEvent) {
	select {
	case m.queueNotification <- (*notificationTransactionTransition)(ev):
	case <-m.quit:
	}
}

// BroadcastChat passes an already marshalled chat message to the notification
// manager for delivery to every connected client.
func (m *wsNotificationManager) BroadcastChat(marshalledJSON []byte) {
	select {
	case m.queueNotification <- notificationChatBroadcast(marshalledJSON):
	case <-m.quit:
	}
}

// notificationHandler reads notifications and control messages from the queue
// handler and processes one at a time.
func (m *wsNotificationManager) notificationHandler() {
	// clients is a map of all currently connected websocket clients,
	// whether or not they have joined the admin audience.
	clients := make(map[chan struct{}]*wsClient)
	admins := make(map[chan struct{}]*wsClient)

	// orderSubs maps an order id to the set of clients subscribed to it.
	orderSubs := make(map[string]map[chan struct{}]*wsClient)

out:
	for {
		select {
		case n, ok := <-m.notificationMsgs:
			if !ok {
				// queueHandler quit.
				break out
			}
			switch nT := n.(type) {
			case *notificationRegisterClient:
				wsc := (*wsClient)(nT)
				log.Infof("New websocket client registered: %v", wsc.addr)
				clients[wsc.quit] = wsc

			case *notificationUnregisterClient:
				wsc := (*wsClient)(nT)
				if _, ok := admins[wsc.quit]; ok {
					log.Infof("An admin disconnected: %v", wsc.addr)
				} else {
					log.Infof("A client disconnected: %v", wsc.addr)
				}
				delete(admins, wsc.quit)
				delete(clients, wsc.quit)
				for orderID, subs := range orderSubs {
					delete(subs, wsc.quit)
					if len(subs) == 0 {
						delete(orderSubs, orderID)
					}
				}

			case *notificationRegisterAdmin:
				wsc := (*wsClient)(nT)
				log.Infof("New admin registered: %v (%v)", wsc.addr, wsc.adminName)
				admins[wsc.quit] = wsc

			case *notificationRegisterOrder:
				subs, ok := orderSubs[nT.orderID]
				if !ok {
					subs = make(map[chan struct{}]*wsClient)
					orderSubs[nT.orderID] = subs
				}
				subs[nT.wsc.quit] = nT.wsc

			case *notificationTransactionAccepted:
				txn := (*model.Transaction)(nT)
				m.notifyTransactionAccepted(clients, admins,
					orderSubs[txn.OrderID], txn)

			case *notificationTransactionTransition:
				ev := (*reconmgr.TransitionEvent)(nT)
				m.notifyTransactionTransition(clients, admins,
					orderSubs[ev.Transaction.OrderID], ev)

			case notificationChatBroadcast:
				m.broadcastChat(clients, []byte(nT))

			default:
				log.Warnf("Unhandled notification type %v", nT)
			}

		case m.numClients <- len(clients):

		case <-m.quit:
			// Relay server shutting down.
			break out
		}
	}

	for _, c := range clients {
		c.Disconnect()
	}
	m.wg.Done()
}

// notifyTransactionAccepted announces a newly accepted pending transaction.
// Every connected client and the order's subscribers see the pending status,
// the admin audience additionally receives the full submission details.
func (m *wsNotificationManager) notifyTransactionAccepted(clients, admins,
	orderClients map[chan struct{}]*wsClient, txn *model.Transaction) {

	status := txn.Status.String()
	if len(clients) > 0 {
		ntfn := relayjson.NewTransactionUpdateNtfn(txn.OrderID, txn.TxHash, status)
		marshalledJSON, err := relayjson.MarshalCmdJson(nil, ntfn)
		if err != nil {
			log.Errorf("Failed to marshal transactionupdate notification: %v", err)
			return
		}
		for _, wsc := range clients {
			wsc.QueueNotification(marshalledJSON)
		}
	}

	if len(orderClients) > 0 {
		ntfn := relayjson.NewOrderUpdateNtfn(txn.OrderID, txn.TxHash, status)
		marshalledJSON, err := relayjson.MarshalCmdJson(nil, ntfn)
		if err != nil {
			log.Errorf("Failed to marshal orderupdate notification: %v", err)
			return
		}
		for _, wsc := range orderClients {
			wsc.QueueNotification(marshalledJSON)
		}
	}

	if len(admins) > 0 {
		ntfn := relayjson.NewAdminTxUpdateNtfn(txn.OrderID, txn.TxHash,
			status, txn.Amount, txn.Currency, txn.UserID, txn.Role)
		marshalledJSON, err := relayjson.MarshalCmdJson(nil, ntfn)
		if err != nil {
			log.Errorf("Failed to marshal admintxupdate notification: %v", err)
			return
		}
		for _, wsc := range admins {
			wsc.QueueNotification(marshalledJSON)
		}
	}
}

// notifyTransactionTransition notifies every connected client, the
// subscribers of the transaction's order, and the admin audience about a
// committed status transition.  Repeated identical terminal broadcasts for
// the same hash are dropped.
func (m *wsNotificationManager) notifyTransactionTransition(clients, admins,
	orderClients map[chan struct{}]*wsClient, ev *reconmgr.TransitionEvent) {

	txn := ev.Transaction
	status := txn.Status.String()

	if txn.Status.IsTerminal() {
		cacheKey := txn.TxHash
		if last, ok := m.recentTerminal.Get(cacheKey); ok && last.(string) == status {
			log.Debugf("Dropping repeated terminal broadcast for %v (%v)",
				txn.TxHash, status)
			return
		}
		m.recentTerminal.Add(cacheKey, status)
	}

	if len(clients) > 0 {
		ntfn := relayjson.NewTransactionUpdateNtfn(txn.OrderID, txn.TxHash, status)
		marshalledJSON, err := relayjson.MarshalCmdJson(nil, ntfn)
		if err != nil {
			log.Errorf("Failed to marshal transactionupdate notification: %v", err)
			return
		}
		for _, wsc := range clients {
			wsc.QueueNotification(marshalledJSON)
		}
	}

	if len(orderClients) > 0 {
		ntfn := relayjson.NewOrderUpdateNtfn(txn.OrderID, txn.TxHash, status)
		marshalledJSON, err := relayjson.MarshalCmdJson(nil, ntfn)
		if err != nil {
			log.Errorf("Failed to marshal orderupdate notification: %v", err)
			return
		}
		for _, wsc := range orderClients {
			wsc.QueueNotification(marshalledJSON)
		}
	}

	if len(admins) > 0 {
		// Overrides go out as admintxverified carrying the operator,
		// oracle driven transitions as admintxupdate.
		var ntfn interface{}
		if ev.Override {
			ntfn = relayjson.NewAdminTxVerifiedNtfn(txn.OrderID, txn.TxHash,
				status, ev.VerifiedBy)
		} else {
			ntfn = relayjson.NewAdminTxUpdateNtfn(txn.OrderID, txn.TxHash,
				status, txn.Amount, txn.Currency, txn.UserID, txn.Role)
		}
		marshalledJSON, err := relayjson.MarshalCmdJson(nil, ntfn)
		if err != nil {
			log.Errorf("Failed to marshal admin notification: %v", err)
			return
		}
		for _, wsc := range admins {
			wsc.QueueNotification(marshalledJSON)
		}
	}
}

// broadcastChat relays an already marshalled chat message to every connected
// client.
func (m *wsNotificationManager) broadcastChat(clients map[chan struct{}]*wsClient, marshalledJSON []byte) {
	for _, wsc := range clients {
		wsc.QueueNotification(marshalledJSON)
	}
}

// wsClient provides an abstraction for handling a websocket client.  The
// overall data flow is split into 3 main goroutines, a possible 4th goroutine
// for long-running operations (only started if request is made), and a
// websocket manager which is used to allow things such as broadcasting
// requested notifications to all connected websocket clients.   Inbound
// messages are read via the inHandler goroutine and generally dispatched to
// their own handler.  However, certain potentially long-running operations
// such as paging through the stored transactions are sent to the asyncHander
// goroutine and are limited to one at a time.  There are two outbound message
// types - one for responding to client requests and another for async
// notifications.  Responses to client requests use SendMessage which employs
// a buffered channel thereby limiting the number of outstanding requests that
// can be made.  Notifications are sent via QueueNotification which implements
// a queue via notificationQueueHandler to ensure sending notifications from
// other subsystems can't block.  Ultimately, all messages are sent via the
// outHandler.
type wsClient struct {
	sync.Mutex

	// server is the relay server that is servicing the client.
	server *RelayServer

	// conn is the underlying websocket connection.
	conn *websocket.Conn

	// disconnected indicated whether or not the websocket client is
	// disconnected.
	disconnected bool

	// addr is the remote address of the client.
	addr string

	// isAdmin specifies whether a client has joined the admin audience
	// via a successful joinadmin, gaining access to the restricted
	// commands.
	isAdmin bool

	// adminName is the admin username authenticated by joinadmin.  It is
	// recorded as the verifier on override transitions.
	adminName string

	// sessionID is a random ID generated for each client when connected.
	// These IDs may be queried by a client using the session command.
	sessionID uint64

	// Networking infrastructure.
	serviceRequestSem semaphore
	ntfnChan          chan []byte
	sendChan          chan wsResponse
	quit              chan struct{}
	wg                sync.WaitGroup
}

// newWebsocketClient returns a new websocket client given the notification
// manager, websocket connection, remote address, and whether or not the
// client has already been authenticated (via HTTP Basic access
// authentication).  The returned client is ready to start.  Once started,
// the client will process incoming and outgoing messages in separate
// goroutines complete with queuing and asynchrous handling for long-running
// operations.
func newWebsocketClient(server *RelayServer, conn *websocket.Conn,
	remoteAddr string, isAdmin bool) (*wsClient, error) {

	sessionID, err := utils.RandomUint64()
	if err != nil {
		return nil, err
	}

	client := &wsClient{
		conn:              conn,
		addr:              remoteAddr,
		isAdmin:           isAdmin,
		sessionID:         sessionID,
		server:            server,
		serviceRequestSem: makeSemaphore(server.cfg.RPCMaxConcurrentReqs),
		ntfnChan:          make(chan []byte, 1), // nonblocking sync
		sendChan:          make(chan wsResponse, websocketSendBufferSize),
		quit:              make(chan struct{}),
	}
	return client, nil
}

// inHandler handles all incoming messages for the websocket connection.  It
// must be run as a goroutine.
func (c *wsClient) inHandler() {
out:
	for {
		// Break out of the loop once the quit channel has been closed.
		// Use a non-blocking select here so we fall through otherwise.
		select {
		case <-c.quit:
			break out
		default:
		}

		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			// Log the error if it's not due to disconnecting.
			if err != io.ErrUnexpectedEOF {
				log.Debugf("Websocket receive error from %s: %v",
					c.addr, err)
			}
			break out
		}

		var request relayjson.Request
		err = json.Unmarshal(msg, &request)
		if err != nil {
			jsonErr := &relayjson.RPCError{
				Code:    relayjson.ErrRPCParse.Code,
				Message: "Failed to parse request: " + err.Error(),
			}
			reply, err := createMarshalledReply(nil, nil, jsonErr)
			if err != nil {
				log.Errorf("Failed to marshal parse failure "+
					"reply: %v", err)
				continue
			}
			c.SendMessage(reply, nil)
			continue
		}

		cmd := parseCmd(&request)
		if cmd.err != nil {
			reply, err := createMarshalledReply(cmd.id, nil, cmd.err)
			if err != nil {
				log.Errorf("Failed to marshal reply for unrecognized "+
					"method %v: %v", cmd.method, err)
				continue
			}
			c.SendMessage(reply, nil)
			continue
		}

		log.Debugf("Received command <%s> from %s", cmd.method, c.addr)

		// Commands outside the open set are rejected until the client
		// joins the admin audience via joinadmin.
		if _, ok := rpcLimited[cmd.method]; !ok && !c.admin() {
			jsonErr := &relayjson.RPCError{
				Code:    relayjson.ErrUnauthorized.Code,
				Message: "Command is reserved for admins",
			}
			reply, err := createMarshalledReply(cmd.id, nil, jsonErr)
			if err != nil {
				log.Errorf("Failed to marshal unauthorized "+
					"reply: %v", err)
				continue
			}
			c.SendMessage(reply, nil)
			continue
		}

		// Dispatch the command to the service request goroutine,
		// limited to one long-running operation at a time.
		c.serviceRequestSem.acquire()
		go func() {
			c.serviceRequest(cmd)
			c.serviceRequestSem.release()
		}()
	}

	// Ensure the connection is closed.
	c.Disconnect()
	c.wg.Done()
	log.Tracef("Websocket client input handler done for %s", c.addr)
}

// wsCommandHandler describes a callback function used to handle a specific
// command on a websocket connection.
type wsCommandHandler func(*wsClient, interface{}) (interface{}, error)

// wsHandlers maps RPC command strings to appropriate websocket handler
// functions.  This is set by init because help references wsHandlers and
// thus causes a dependency loop.
var wsHandlers map[string]wsCommandHandler
var wsHandlersBeforeInit = map[string]wsCommandHandler{
	"message":           handleWsChatMessage,
	"joinadmin":         handleWsJoinAdmin,
	"subscribeorder":    handleWsSubscribeOrder,
	"verifytransaction": handleWsVerifyTransaction,
}

// handleWsJoinAdmin implements the joinadmin command.  On success the client
// is promoted to the admin audience for the rest of the connection.
func handleWsJoinAdmin(c *wsClient, icmd interface{}) (interface{}, error) {
	cmd, ok := icmd.(*relayjson.JoinAdminCmd)
	if !ok {
		return nil, relayjson.ErrRPCInternal
	}

	ctx := context.Background()
	success, err := service.GetAdminService().LoginAdmin(ctx, dal.GetDB(ctx),
		cmd.Username, cmd.Password)
	if err != nil || !success {
		log.Warnf("Rejected joinadmin for %v from %v: %v",
			cmd.Username, c.addr, err)
		return nil, &relayjson.RPCError{
			Code:    relayjson.ErrPasswordIncorrect.Code,
			Message: "Invalid admin credentials",
		}
	}

	c.setAdmin(cmd.Username)
	c.server.ntfnMgr.RegisterAdmin(c)
	return &relayjson.JoinAdminResult{
		Success:  true,
		Username: cmd.Username,
	}, nil
}

// handleWsSubscribeOrder implements the subscribeorder command, registering
// the connection for order-scoped notifications.
func handleWsSubscribeOrder(c *wsClient, icmd interface{}) (interface{}, error) {
	cmd, ok := icmd.(*relayjson.SubscribeOrderCmd)
	if !ok {
		return nil, relayjson.ErrRPCInternal
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" || len(orderID) > constdef.MaxOrderIDLength {
		return nil, &relayjson.RPCError{
			Code:    relayjson.ErrInvalidRequestParams.Code,
			Message: "Invalid order id",
		}
	}

	c.server.ntfnMgr.RegisterOrderSubscription(c, orderID)
	return &relayjson.CommonResult{Success: true}, nil
}

// handleWsChatMessage implements the message command by relaying the chat
// message to every connected client.  The relay is fire and forget, nothing
// is persisted, and the sender receives an acknowledgement regardless of
// delivery.
func handleWsChatMessage(c *wsClient, icmd interface{}) (interface{}, error) {
	cmd, ok := icmd.(*relayjson.ChatMessageCmd)
	if !ok {
		return nil, relayjson.ErrRPCInternal
	}

	if strings.TrimSpace(cmd.Content) == "" ||
		len(cmd.Content) > constdef.MaxChatContentLength {
		return nil, &relayjson.RPCError{
			Code:    relayjson.ErrInvalidRequestParams.Code,
			Message: "Invalid chat content",
		}
	}

	// The relayed message carries no id so receivers do not mistake it
	// for a response to one of their own requests.
	marshalledJSON, err := relayjson.MarshalCmdJson(nil, cmd)
	if err != nil {
		log.Errorf("Failed to marshal chat relay: %v", err)
		return nil, relayjson.ErrRPCInternal
	}
	c.server.ntfnMgr.BroadcastChat(marshalledJSON)
	return &relayjson.CommonResult{Success: true}, nil
}

// handleWsVerifyTransaction implements the verifytransaction command.  The
// override always wins over in-flight reconciliation and is recorded with
// the admin's username.
func handleWsVerifyTransaction(c *wsClient, icmd interface{}) (interface{}, error) {
	cmd, ok := icmd.(*relayjson.VerifyTransactionCmd)
	if !ok {
		return nil, relayjson.ErrRPCInternal
	}

	toStatus, ok := model.ParseTxStatus(cmd.Status)
	if !ok || !toStatus.IsTerminal() {
		return nil, &relayjson.RPCError{
			Code:    relayjson.ErrInvalidStatus.Code,
			Message: "Override status must be verified, failed or timeout",
		}
	}

	txn, err := c.server.reconManager.Override(context.Background(),
		cmd.TxHash, toStatus, c.adminUsername())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, relayjson.ErrTxNotFound
		}
		log.Errorf("Handler VerifyTransaction fail: %v", err)
		return nil, relayjson.ErrRPCInternal
	}

	return &relayjson.VerifyTransactionResult{
		OrderID:    txn.OrderID,
		TxHash:     txn.TxHash,
		Status:     txn.Status.String(),
		VerifiedBy: txn.VerifiedBy,
	}, nil
}

// admin returns whether the client has joined the admin audience.
func (c *wsClient) admin() bool {
	c.Lock()
	isAdmin := c.isAdmin
	c.Unlock()

	return isAdmin
}

// adminUsername returns the admin username the client joined with.
func (c *wsClient) adminUsername() string {
	c.Lock()
	name := c.adminName
	c.Unlock()

	return name
}

// setAdmin promotes the client to the admin audience under the given
// username.
func (c *wsClient) setAdmin(username string) {
	c.Lock()
	c.isAdmin = true
	c.adminName = username
	c.Unlock()
}

// serviceRequest services a parsed RPC request by looking up and executing
// the appropriate RPC handler.  The response is marshalled and sent to the
// websocket client.
func (c *wsClient) serviceRequest(r *parsedRPCCmd) {
	// Recovery
	defer func() {
		if err := recover(); err != nil {
			log.Errorf("Panic from %v handler: %v\n", r.method, err)
			var buf [4096]byte
			n := runtime.Stack(buf[:], false)
			log.Errorf("Stack Trace ==>\n %s\n", string(buf[:n]))
			log.Infof("Recovering...")

			// Dump panic file
			_ = utils.DumpPanicInfo(fmt.Sprintf("%v", err) + "\n" + string(buf[:n]))

			reply, err := createMarshalledReply(r.id, nil, relayjson.ErrRPCInternal)
			if err != nil {
				log.Errorf("Failed to marshal reply for <%s> "+
					"command: %v", r.method, err)
				return
			}
			c.SendMessage(reply, nil)
		}
	}()

	var (
		result interface{}
		err    error
	)

	// Lookup the websocket extension for the command and if it doesn't
	// exist fallback to handling the command as a standard command.
	wsHandler, ok := wsHandlers[r.method]
	if ok {
		result, err = wsHandler(c, r.cmd)
	} else {
		result, err = c.server.standardCmdResult(r, c.quit)
	}
	reply, err := createMarshalledReply(r.id, result, err)
	if err != nil {
		log.Errorf("Failed to marshal reply for <%s> "+
			"command: %v", r.method, err)
		return
	}
	c.SendMessage(reply, nil)
}

// Disconnected returns whether or not the websocket client is disconnected.
func (c *wsClient) Disconnected() bool {
	c.Lock()
	isDisconnected := c.disconnected
	c.Unlock()

	return isDisconnected
}

// SendMessage sends the passed json to the websocket client.  It is backed
// by a buffered channel, so it will not block until the send channel is full.
// Note however that QueueNotification must be used for sending async
// notifications instead of the this function.  This approach allows a limit
// to the number of outstanding requests a client can make without preventing
// or blocking on async notifications.
func (c *wsClient) SendMessage(marshalledJSON []byte, doneChan chan bool) {
	// Don't send the message if disconnected.
	if c.Disconnected() {
		if doneChan != nil {
			doneChan <- false
		}
		return
	}

	c.sendChan <- wsResponse{msg: marshalledJSON, doneChan: doneChan}
}

// ErrClientQuit describes the error where a client send is not processed due
// to the client having already been disconnected or dropped.
var ErrClientQuit = errors.New("client quit")

// QueueNotification queues the passed notification to be sent to the
// websocket client.  This function, as the name implies, is only intended for
// notifications since it has additional logic to prevent other subsystems,
// such as the reconciliation manager, from blocking even when the send
// channel is full.
//
// If the client is in the process of shutting down, this function returns
// ErrClientQuit.  This is intended to be checked by long-running notification
// handlers to stop processing if there is no more work needed to be done.
func (c *wsClient) QueueNotification(marshalledJSON []byte) error {
	// Don't queue the message if disconnected.
	if c.Disconnected() {
		return ErrClientQuit
	}

	c.ntfnChan <- marshalledJSON
	return nil
}

// Disconnect disconnects the websocket client.
func (c *wsClient) Disconnect() {
	c.Lock()
	defer c.Unlock()

	// Nothing to do if already disconnected.
	if c.disconnected {
		return
	}

	log.Tracef("Disconnecting websocket client %s", c.addr)
	close(c.quit)
	c.conn.Close()
	c.disconnected = true
}

// Start begins processing input and output messages.
func (c *wsClient) Start() {
	log.Tracef("Starting websocket client %s", c.addr)

	// Start processing input and output.
	c.wg.Add(3)
	go c.inHandler()
	go c.notificationQueueHandler()
	go c.outHandler()
}

// WaitForShutdown blocks until the websocket client goroutines are stopped
// and the connection is closed.
func (c *wsClient) WaitForShutdown() {
	c.wg.Wait()
}

// wsResponse houses a message to send to a connected websocket client as
// well as a channel to reply on when the message is sent.
type wsResponse struct {
	msg      []byte
	doneChan chan bool
}

// notificationQueueHandler handles the queuing of outgoing notifications for
// the websocket client.  This runs as a muxer for various sources of input to
// ensure that queuing up notifications to be sent will not block.  Otherwise,
// slow clients could bog down the other systems (such as the reconciliation
// manager) which are queuing the data.  The data is passed on to outHandler
// to actually be written.  It must be run as a goroutine.
func (c *wsClient) notificationQueueHandler() {
	ntfnSentChan := make(chan bool, 1) // nonblocking sync

	// pendingNtfns is used as a queue for notifications that are ready to
	// be sent once there are no outstanding notifications currently being
	// sent.  The waiting flag is used over simply checking for items in
	// the pending list to ensure cleanup knows what has and hasn't been
	// sent to the outHandler.
	pendingNtfns := list.New()
	waiting := false
out:
	for {
		select {
		// This channel is notified when a message is being queued to
		// be sent across the network socket.  It will either send the
		// message immediately if a send is not already in progress, or
		// queue the message to be sent once the other pending messages
		// are sent.
		case msg := <-c.ntfnChan:
			if !waiting {
				c.SendMessage(msg, ntfnSentChan)
			} else {
				pendingNtfns.PushBack(msg)
			}
			waiting = true

		// This channel is notified when a notification has been sent
		// across the network socket.
		case <-ntfnSentChan:
			// No longer waiting if there are no more messages in
			// the pending messages queue.
			next := pendingNtfns.Front()
			if next == nil {
				waiting = false
				continue
			}

			// Notify the outHandler about the next item to
			// asynchronously send.
			msg := pendingNtfns.Remove(next).([]byte)
			c.SendMessage(msg, ntfnSentChan)

		case <-c.quit:
			break out
		}
	}

	// Drain any wait channels before exiting so nothing is left waiting
	// around to send.
cleanup:
	for {
		select {
		case <-c.ntfnChan:
		case <-ntfnSentChan:
		default:
			break cleanup
		}
	}
	c.wg.Done()
	log.Tracef("Websocket client notification queue handler done "+
		"for %s", c.addr)
}

// outHandler handles all outgoing messages for the websocket connection.  It
// must be run as a goroutine.  It uses a buffered channel to serialize output
// messages while allowing the sender to continue running asynchronously.
func (c *wsClient) outHandler() {
out:
	for {
		// Send any messages ready for send until the quit channel is
		// closed.
		select {
		case r := <-c.sendChan:
			err := c.conn.WriteMessage(websocket.TextMessage, r.msg)
			if err != nil {
				c.Disconnect()
				break out
			}
			if r.doneChan != nil {
				r.doneChan <- true
			}

		case <-c.quit:
			break out
		}
	}

	// Drain any wait channels before exiting so nothing is left waiting
	// around to send.
cleanup:
	for {
		select {
		case r := <-c.sendChan:
			if r.doneChan != nil {
				r.doneChan <- false
			}
		default:
			break cleanup
		}
	}
	c.wg.Done()
	log.Tracef("Websocket client output handler done for %s", c.addr)
}

// WebsocketHandler handles a new websocket client by creating a new wsClient,
// starting it, and blocking until the connection closes.  Since it blocks, it
// must be run in a separate goroutine.  It should be invoked from the
// websocket server handler which runs each new connection in a new goroutine
// thereby satisfying the requirement.
func (svr *RelayServer) WebsocketHandler(conn *websocket.Conn, remoteAddr string, isAdmin bool) {
	// Clear the read deadline that was set before the websocket hijacked
	// the connection.
	conn.SetReadDeadline(timeZeroVal)

	// Limit max number of websocket clients.
	log.Infof("New websocket client %s", remoteAddr)
	if svr.ntfnMgr.NumClients()+1 > svr.cfg.RPCMaxWebsockets {
		log.Infof("Max websocket clients exceeded [%d] - "+
			"disconnecting client %s", svr.cfg.RPCMaxWebsockets,
			remoteAddr)
		conn.Close()
		return
	}

	// Create a new websocket client to handle the new websocket connection
	// and wait for it to shutdown.  Once it has shutdown (and hence
	// disconnected), remove it.
	client, err := newWebsocketClient(svr, conn, remoteAddr, isAdmin)
	if err != nil {
		log.Errorf("Failed to serve client %s: %v", remoteAddr, err)
		conn.Close()
		return
	}
	svr.ntfnMgr.AddClient(client)
	client.Start()
	client.WaitForShutdown()
	svr.ntfnMgr.RemoveClient(client)
	log.Tracef("Disconnected websocket client %s", remoteAddr)
}
