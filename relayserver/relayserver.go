package relayserver

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"gorm.io/gorm"

	"github.com/auratrade/aura-relay-server/constdef"
	"github.com/auratrade/aura-relay-server/dal"
	"github.com/auratrade/aura-relay-server/model"
	"github.com/auratrade/aura-relay-server/notifier"
	"github.com/auratrade/aura-relay-server/reconmgr"
	"github.com/auratrade/aura-relay-server/relayjson"
	"github.com/auratrade/aura-relay-server/service"
	"github.com/auratrade/aura-relay-server/utils"
)

const (
	// rpcAuthTimeoutSeconds is the number of seconds a connection to the
	// RPC server is allowed to stay open without authenticating before it
	// is closed.
	rpcAuthTimeoutSeconds = 10

	// healthBanner is the body returned for plain GET requests against the
	// root endpoint.  Load balancers and uptime monitors probe it.
	healthBanner = "AuraTrade Realtime Server ✅"

	serverVersion = "1.0.0"
	serverMajor   = 1
	serverMinor   = 0
	serverPatch   = 0

	// maxChangeHookPayload bounds the body size accepted on the storage
	// trigger webhook endpoint.
	maxChangeHookPayload = 1 << 16
)

// timeZeroVal is simply the zero value for a time.Time and is used to avoid
// creating multiple instances.
var timeZeroVal time.Time

// Commands that are available to clients that have not joined the admin
// audience.
var rpcLimited = map[string]struct{}{
	"version":              {},
	"message":              {},
	"joinadmin":            {},
	"transactionsubmitted": {},
	"polltransaction":      {},
	"gettransaction":       {},
	"subscribeorder":       {},
}

type commandHandler func(*RelayServer, interface{}, <-chan struct{}) (interface{}, error)

// rpcHandlers maps RPC command strings to appropriate handler functions.
// This is set by init because help references rpcHandlers and thus causes
// a dependency loop.
var rpcHandlers map[string]commandHandler
var rpcHandlersBeforeInit = map[string]commandHandler{
	"version": handleVersion,

	"transactionsubmitted": handleTransactionSubmitted,
	"polltransaction":      handlePollTransaction,
	"gettransaction":       handleGetTransaction,
	"gettransactions":      handleGetTransactions,
}

// simpleAddr implements the net.Addr interface with two struct fields
type simpleAddr struct {
	net, addr string
}

// String returns the address.
//
// This is part of the net.Addr interface.
func (a simpleAddr) String() string {
	return a.addr
}

// Network returns the network.
//
// This is part of the net.Addr interface.
func (a simpleAddr) Network() string {
	return a.net
}

// Ensure simpleAddr implements the net.Addr interface.
var _ net.Addr = simpleAddr{}

// convertTransactionResult converts a stored transaction into the wire form
// shared by the transaction query commands.
func convertTransactionResult(txn *model.Transaction) *relayjson.TransactionResult {
	return &relayjson.TransactionResult{
		OrderID:    txn.OrderID,
		TxHash:     txn.TxHash,
		Status:     txn.Status.String(),
		Amount:     txn.Amount,
		Currency:   txn.Currency,
		UserID:     txn.UserID,
		Role:       txn.Role,
		VerifiedBy: txn.VerifiedBy,
		Attempts:   txn.Attempts,
		CreatedAt:  txn.CreatedAt.Unix(),
		UpdatedAt:  txn.UpdatedAt.Unix(),
	}
}

// handleVersion implements the version command.
func handleVersion(svr *RelayServer, icmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	return &relayjson.VersionResult{
		Version:   serverVersion,
		Major:     serverMajor,
		Minor:     serverMinor,
		Patch:     serverPatch,
		StartTime: svr.startTime,
	}, nil
}

// handleTransactionSubmitted implements the transactionsubmitted command.
// The submit is idempotent on the transaction hash: resubmitting a known hash
// is acknowledged without starting a second reconciliation.
func handleTransactionSubmitted(svr *RelayServer, icmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	cmd, ok := icmd.(*relayjson.TransactionSubmittedCmd)
	if !ok {
		return nil, relayjson.ErrRPCInternal
	}

	orderID := strings.TrimSpace(cmd.OrderID)
	txHash := strings.TrimSpace(cmd.TxHash)
	if utils.IsBlank(orderID) || len(orderID) > constdef.MaxOrderIDLength ||
		utils.IsBlank(txHash) || len(txHash) > constdef.MaxTxHashLength {
		return nil, &relayjson.RPCError{
			Code:    relayjson.ErrInvalidRequestParams.Code,
			Message: "Invalid order id or tx hash",
		}
	}

	txn := &model.Transaction{
		OrderID:  orderID,
		TxHash:   txHash,
		Status:   model.StatusPending,
		Amount:   cmd.Amount,
		Currency: cmd.Currency,
	}
	if cmd.UserID != nil {
		txn.UserID = *cmd.UserID
	}
	if cmd.Role != nil {
		txn.Role = *cmd.Role
	}

	stored, duplicate, err := svr.reconManager.SubmitTransaction(context.Background(), txn)
	if err != nil {
		log.Errorf("Handler TransactionSubmitted fail: %v", err)
		return nil, relayjson.ErrRPCInternal
	}

	return &relayjson.SubmitTransactionResult{
		OrderID:   stored.OrderID,
		TxHash:    stored.TxHash,
		Status:    stored.Status.String(),
		Duplicate: duplicate,
	}, nil
}

// handlePollTransaction implements the polltransaction command.  The current
// row is returned immediately while the reconciliation manager decides
// whether the poll request starts a new bounded polling loop.
func handlePollTransaction(svr *RelayServer, icmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	cmd, ok := icmd.(*relayjson.PollTransactionCmd)
	if !ok {
		return nil, relayjson.ErrRPCInternal
	}

	ctx := context.Background()
	txn, err := service.GetTransactionService().GetByTxHash(ctx, dal.GetDB(ctx), cmd.TxHash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, relayjson.ErrTxNotFound
		}
		log.Errorf("Handler PollTransaction fail: %v", err)
		return nil, relayjson.ErrRPCInternal
	}

	svr.changeNotifier.HandleManualPoll(cmd.OrderID, cmd.TxHash)

	return convertTransactionResult(txn), nil
}

// handleGetTransaction implements the gettransaction command.
func handleGetTransaction(svr *RelayServer, icmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	cmd, ok := icmd.(*relayjson.GetTransactionCmd)
	if !ok {
		return nil, relayjson.ErrRPCInternal
	}

	ctx := context.Background()
	txn, err := service.GetTransactionService().GetByTxHash(ctx, dal.GetDB(ctx), cmd.TxHash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, relayjson.ErrTxNotFound
		}
		log.Errorf("Handler GetTransaction fail: %v", err)
		return nil, relayjson.ErrRPCInternal
	}

	return convertTransactionResult(txn), nil
}

// handleGetTransactions implements the gettransactions command.
func handleGetTransactions(svr *RelayServer, icmd interface{}, closeChan <-chan struct{}) (interface{}, error) {
	cmd, ok := icmd.(*relayjson.GetTransactionsCmd)
	if !ok {
		return nil, relayjson.ErrRPCInternal
	}

	ctx := context.Background()
	db := dal.GetDB(ctx)
	txService := service.GetTransactionService()

	total, err := txService.GetTransactionNum(ctx, db)
	if err != nil {
		log.Errorf("Handler GetTransactions fail: %v", err)
		return nil, relayjson.ErrRPCInternal
	}

	page := 0
	if cmd.Page != nil {
		page = *cmd.Page
	}
	num := 20
	if cmd.Num != nil {
		num = *cmd.Num
	}

	txns, err := txService.GetTransactions(ctx, db, page, num, false)
	if err != nil {
		log.Errorf("Handler GetTransactions fail: %v", err)
		return nil, relayjson.ErrRPCInternal
	}

	res := make([]*relayjson.TransactionResult, 0, len(txns))
	for _, txn := range txns {
		res = append(res, convertTransactionResult(txn))
	}
	return &relayjson.GetTransactionsResult{
		Total:        total,
		Transactions: res,
	}, nil
}

// internalRPCError is a convenience function to convert an internal error to
// an RPC error with the appropriate code set.  It also logs the error to the
// RPC server subsystem since internal errors really should not occur.  The
// context parameter is only used in the log message and may be empty if it's
// not needed.
func internalRPCError(errStr, context string) *relayjson.RPCError {
	logStr := errStr
	if context != "" {
		logStr = context + ": " + errStr
	}
	log.Error(logStr)
	return relayjson.NewRPCError(relayjson.ErrRPCInternal.Code, errStr)
}

// RelayServer provides a concurrent safe websocket relay server for chat
// messages and payment transaction status reconciliation.
type RelayServer struct {
	started                int32
	startTime              int64
	shutdown               int32
	cfg                    ConfigRelayServer
	commonCfg              *CommonConfig
	authsha                [sha256.Size]byte
	ntfnMgr                *wsNotificationManager
	numClients             int32
	statusLines            map[int]string
	statusLock             sync.RWMutex
	wg                     sync.WaitGroup
	requestProcessShutdown chan struct{}
	quit                   chan int

	reconManager   *reconmgr.ReconManager
	changeNotifier *notifier.ChangeNotifier
}

// ConfigRelayServer is a descriptor containing the relay server
// configuration.
type ConfigRelayServer struct {
	DisableTLS bool

	// ListenersString an array that contains ip address and port for
	// generating listeners later
	ListenersString []string

	// Listeners defines a slice of listeners for which the relay server
	// will take ownership of and accept connections.  Since the relay
	// server takes ownership of these listeners, they will be closed when
	// the server is stopped.
	Listeners []net.Listener

	// StartupTime is the unix timestamp for when the server that is
	// hosting the relay server started.
	StartupTime int64

	RPCUser              string
	RPCPass              string
	RPCMaxClients        int
	RPCMaxWebsockets     int
	RPCMaxConcurrentReqs int
	RPCKey               string
	RPCCert              string
	ExternalIPs          []string
}

// CommonConfig holds the IP based access control lists shared by the
// endpoints.
type CommonConfig struct {
	Blacklist      []*net.IPNet
	Whitelist      []*net.IPNet
	AdminBlacklist []*net.IPNet
	AdminWhitelist []*net.IPNet

	// AllowedOrigins restricts which browser origins may open websocket
	// connections.  An empty list allows every origin.
	AllowedOrigins []string
}

// SetReconManager attaches the reconciliation manager serving the
// transaction commands.
func (svr *RelayServer) SetReconManager(mgr *reconmgr.ReconManager) {
	svr.reconManager = mgr
}

// SetChangeNotifier attaches the change notifier feeding manual poll
// requests into the reconciliation manager.
func (svr *RelayServer) SetChangeNotifier(n *notifier.ChangeNotifier) {
	svr.changeNotifier = n
}

// SetCommonConfig attaches the IP based access control lists.
func (svr *RelayServer) SetCommonConfig(cfg *CommonConfig) {
	svr.commonCfg = cfg
}

// parseListeners determines whether each listen address is IPv4 and IPv6 and
// returns a slice of appropriate net.Addrs to listen on with TCP. It also
// properly detects addresses which apply to "all interfaces" and adds the
// address as both IPv4 and IPv6.
func parseListeners(addrs []string) ([]net.Addr, error) {
	netAddrs := make([]net.Addr, 0, len(addrs)*2)
	for _, addr := range addrs {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			// Shouldn't happen due to already being normalized.
			return nil, err
		}

		// Empty host or host of * on plan9 is both IPv4 and IPv6.
		if host == "" || (host == "*" && runtime.GOOS == "plan9") {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp4", addr: addr})
			netAddrs = append(netAddrs, simpleAddr{net: "tcp6", addr: addr})
			continue
		}

		// Strip IPv6 zone id if present since net.ParseIP does not
		// handle it.
		zoneIndex := strings.LastIndex(host, "%")
		if zoneIndex > 0 {
			host = host[:zoneIndex]
		}

		// Parse the IP.
		ip := net.ParseIP(host)
		if ip == nil {
			return nil, fmt.Errorf("'%s' is not a valid IP address", host)
		}

		// To4 returns nil when the IP is not an IPv4 address, so use
		// this determine the address type.
		if ip.To4() == nil {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp6", addr: addr})
		} else {
			netAddrs = append(netAddrs, simpleAddr{net: "tcp4", addr: addr})
		}
	}
	return netAddrs, nil
}

// fileExists reports whether the named file or directory exists.
func fileExists(name string) bool {
	if _, err := os.Stat(name); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// setupRPCListeners returns a slice of listeners that are configured for use
// with the relay server depending on the configuration settings for listen
// addresses and TLS.
func setupRPCListeners(listenersString []string, RPCKey string, RPCCert string,
	disableTLS bool) ([]net.Listener, error) {
	listenFunc := net.Listen
	// Check the TLS cert and key file
	if !disableTLS {
		if !fileExists(RPCKey) && !fileExists(RPCCert) {
			return nil, errors.New("cannot find relay cert and key")
		}

		keypair, err := tls.LoadX509KeyPair(RPCCert, RPCKey)
		if err != nil {
			return nil, err
		}

		tlsConfig := tls.Config{
			Certificates: []tls.Certificate{keypair},
			MinVersion:   tls.VersionTLS12,
		}

		// Change the standard net.Listen function to the tls one.
		listenFunc = func(net string, laddr string) (net.Listener, error) {
			return tls.Listen(net, laddr, &tlsConfig)
		}
	}

	netAddrs, err := parseListeners(listenersString)
	if err != nil {
		return nil, err
	}

	listeners := make([]net.Listener, 0, len(netAddrs))
	for _, addr := range netAddrs {
		listener, err := listenFunc(addr.Network(), addr.String())
		if err != nil {
			log.Warnf("Can't listen on %s: %v", addr, err)
			continue
		}
		listeners = append(listeners, listener)
	}

	return listeners, nil
}

// NewRelayServer returns a new instance of the RelayServer struct.
func NewRelayServer(config *ConfigRelayServer) (*RelayServer, error) {
	rpcListeners, err := setupRPCListeners(config.ListenersString, config.RPCKey,
		config.RPCCert, config.DisableTLS)
	if err != nil {
		return nil, err
	}
	if len(rpcListeners) == 0 {
		return nil, errors.New("Relay RPCS: No valid listen address")
	}
	config.Listeners = rpcListeners
	rpc := RelayServer{
		startTime:              time.Now().Unix(),
		cfg:                    *config,
		statusLines:            make(map[int]string),
		requestProcessShutdown: make(chan struct{}),
		quit:                   make(chan int),
	}
	if config.RPCUser != "" && config.RPCPass != "" {
		login := config.RPCUser + ":" + config.RPCPass
		auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(login))
		rpc.authsha = sha256.Sum256([]byte(auth))
	}
	rpc.ntfnMgr = newWsNotificationManager(&rpc)

	return &rpc, nil
}

// jsonRPCRead handles reading and responding to RPC messages.
func (svr *RelayServer) jsonRPCRead(w http.ResponseWriter, r *http.Request, isAdmin bool) {
	if atomic.LoadInt32(&svr.shutdown) != 0 {
		return
	}

	// Read and close the JSON-RPC request body from the caller.
	body, err := ioutil.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		errCode := http.StatusBadRequest
		http.Error(w, fmt.Sprintf("%d error reading JSON message: %v",
			errCode, err), errCode)
		return
	}

	// Unfortunately, the http server doesn't provide the ability to
	// change the read deadline for the new connection and having one breaks
	// long polling. However, not having a read deadline on the initial
	// connection would mean clients can connect and idle forever. Thus,
	// hijack the connection from the HTTP server, clear the read deadline,
	// and handle writing the response manually.
	hj, ok := w.(http.Hijacker)
	if !ok {
		errMsg := "webserver doesn't support hijacking"
		log.Warnf(errMsg)
		errCode := http.StatusInternalServerError
		http.Error(w, strconv.Itoa(errCode)+" "+errMsg, errCode)
		return
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		log.Warnf("Failed to hijack HTTP connection: %v", err)
		errCode := http.StatusInternalServerError
		http.Error(w, strconv.Itoa(errCode)+" "+err.Error(), errCode)
		return
	}
	defer conn.Close()
	defer buf.Flush()
	conn.SetReadDeadline(timeZeroVal)

	// Attempt to parse the raw body into a JSON-RPC request.
	var responseID interface{}
	var jsonErr error
	var result interface{}
	var request relayjson.Request
	if err := json.Unmarshal(body, &request); err != nil {
		jsonErr = &relayjson.RPCError{
			Code:    relayjson.ErrRPCParse.Code,
			Message: "Failed to parse request: " + err.Error(),
		}
	}
	if jsonErr == nil {
		if request.ID == nil {
			return
		}

		// The parse was at least successful enough to have an ID so
		// set it for the response.
		responseID = request.ID

		// Setup a close notifier.  Since the connection is hijacked,
		// the CloseNotifer on the ResponseWriter is not available.
		closeChan := make(chan struct{}, 1)
		go func() {
			_, err := conn.Read(make([]byte, 1))
			if err != nil {
				close(closeChan)
			}
		}()

		// Check if the user is limited and set error if method unauthorized
		if !isAdmin {
			if _, ok := rpcLimited[request.Method]; !ok {
				jsonErr = &relayjson.RPCError{
					Code:    relayjson.ErrUnauthorized.Code,
					Message: "limited user not authorized for this method",
				}
			}
		}

		if jsonErr == nil {
			// Attempt to parse the JSON-RPC request into a known
			// concrete command.
			parsedCmd := parseCmd(&request)
			if parsedCmd.err != nil {
				jsonErr = parsedCmd.err
			} else {
				result, jsonErr = svr.standardCmdResult(parsedCmd, closeChan)
			}
		}
	}

	if result == nil && jsonErr == nil {
		jsonErr = relayjson.ErrRPCInternal
	}
	// Marshal the response.
	msg, err := createMarshalledReply(responseID, result, jsonErr)
	if err != nil {
		log.Errorf("Failed to marshal reply: %v", err)
		return
	}

	// Write the response.
	err = svr.writeHTTPResponseHeaders(r, w.Header(), http.StatusOK, buf)
	if err != nil {
		log.Error(err)
		return
	}
	if _, err := buf.Write(msg); err != nil {
		log.Errorf("Failed to write marshalled reply: %v", err)
	}

	// Terminate with newline to maintain compatibility.
	if err := buf.WriteByte('\n'); err != nil {
		log.Errorf("Failed to append terminating newline to reply: %v", err)
	}
}

// writeHTTPResponseHeaders writes the necessary response headers prior to
// writing an HTTP body given a request to use for protocol negotiation, headers
// to write, a status code, and a writer.
func (svr *RelayServer) writeHTTPResponseHeaders(req *http.Request, headers http.Header, code int, w io.Writer) error {
	_, err := io.WriteString(w, svr.httpStatusLine(req, code))
	if err != nil {
		return err
	}

	err = headers.Write(w)
	if err != nil {
		return err
	}

	_, err = io.WriteString(w, "\r\n")
	return err
}

// httpStatusLine returns a response Status-Line (RFC 2616 Section 6.1)
// for the given request and response status code.  This function was lifted and
// adapted from the standard library HTTP server code since it's not exported.
func (svr *RelayServer) httpStatusLine(req *http.Request, code int) string {
	// Fast path:
	key := code
	proto11 := req.ProtoAtLeast(1, 1)
	if !proto11 {
		key = -key
	}
	svr.statusLock.RLock()
	line, ok := svr.statusLines[key]
	svr.statusLock.RUnlock()
	if ok {
		return line
	}

	// Slow path:
	proto := "HTTP/1.0"
	if proto11 {
		proto = "HTTP/1.1"
	}
	codeStr := strconv.Itoa(code)
	text := http.StatusText(code)
	if text != "" {
		line = proto + " " + codeStr + " " + text + "\r\n"
		svr.statusLock.Lock()
		svr.statusLines[key] = line
		svr.statusLock.Unlock()
	} else {
		text = "status code " + codeStr
		line = proto + " " + codeStr + " " + text + "\r\n"
	}

	return line
}

// Start is used by server.go to start the relay listener.
func (svr *RelayServer) Start() {
	if atomic.AddInt32(&svr.started, 1) != 1 {
		return
	}

	log.Trace("Starting relay server...")
	rpcServeMux := http.NewServeMux()
	httpServer := &http.Server{
		Handler: rpcServeMux,

		// Timeout connections which don't complete the initial
		// handshake within the allowed timeframe.
		ReadTimeout: time.Second * rpcAuthTimeoutSeconds,
	}

	// Http endpoint.  Plain GET requests are answered with the health
	// banner so uptime probes need no credentials; everything else is the
	// admin JSON-RPC surface.
	rpcServeMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "text/plain; charset=utf-8")
			io.WriteString(w, healthBanner)
			return
		}

		w.Header().Set("Connection", "close")
		w.Header().Set("Content-Type", "application/json")
		r.Close = true

		// Limit the number of connections to max allowed.
		if svr.limitConnections(w, r.RemoteAddr) {
			return
		}

		// Keep track of the number of connected clients.
		svr.incrementClients()
		defer svr.decrementClients()
		_, isAdmin, err := svr.checkAuth(r, true)
		if err != nil {
			jsonAuthFail(w)
			return
		}
		// We do not allow non admin user to use http
		if !isAdmin {
			jsonAuthFail(w)
			return
		}

		// Read and respond to the request.
		svr.jsonRPCRead(w, r, isAdmin)
	})

	// Storage trigger webhook endpoint.
	rpcServeMux.HandleFunc("/changes", svr.handleChangeHook)

	// Websocket endpoint.  The upgrader rejects browser connections from
	// origins outside the configured allow-list.
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"),
				svr.commonCfg.AllowedOrigins)
		},
	}
	rpcServeMux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if isUndesiredIP(r.RemoteAddr, svr.commonCfg.Blacklist, svr.commonCfg.Whitelist) {
			jsonIPForbidden(w)
			return
		}

		_, isAdmin, err := svr.checkAuth(r, false)
		if err != nil {
			jsonAuthFail(w)
			return
		}

		if isAdmin && isUndesiredIP(r.RemoteAddr, svr.commonCfg.AdminBlacklist, svr.commonCfg.AdminWhitelist) {
			jsonIPForbidden(w)
			return
		}

		// Attempt to upgrade the connection to a websocket connection
		// using the default size for read/write buffers.  The upgrader
		// writes the HTTP error response itself on failure.
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			if _, ok := err.(websocket.HandshakeError); !ok {
				log.Errorf("Unexpected websocket error: %v",
					err)
			}
			return
		}
		svr.WebsocketHandler(ws, r.RemoteAddr, isAdmin)
	})

	for _, listener := range svr.cfg.Listeners {
		svr.wg.Add(1)
		go func(listener net.Listener) {
			tlsState := "on"
			if svr.cfg.DisableTLS {
				tlsState = "off"
			}
			log.Infof("Relay websocket server listening on %s (TLS %s)", listener.Addr(), tlsState)
			httpServer.Serve(listener)
			log.Tracef("Relay websocket listener done for %s", listener.Addr())
			svr.wg.Done()
		}(listener)
	}

	svr.ntfnMgr.Start()
}

// handleChangeHook ingests storage trigger payloads posted by the database
// webhook.  The route requires admin credentials and hands the raw envelope
// to the change notifier, which drops malformed payloads.
func (svr *RelayServer) handleChangeHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "405 Method Not Allowed.", http.StatusMethodNotAllowed)
		return
	}

	_, isAdmin, err := svr.checkAuth(r, true)
	if err != nil || !isAdmin {
		jsonAuthFail(w)
		return
	}

	if svr.changeNotifier == nil {
		http.Error(w, "503 Service Unavailable.", http.StatusServiceUnavailable)
		return
	}

	body, err := ioutil.ReadAll(io.LimitReader(r.Body, maxChangeHookPayload))
	r.Body.Close()
	if err != nil {
		http.Error(w, "400 Bad Request.", http.StatusBadRequest)
		return
	}

	svr.changeNotifier.HandleTriggerPayload(body)
	w.WriteHeader(http.StatusNoContent)
}

// Stop is used by server.go to stop the relay listener.
func (svr *RelayServer) Stop() error {
	if atomic.AddInt32(&svr.shutdown, 1) != 1 {
		log.Infof("Relay websocket server is already in the process of shutting down")
		return nil
	}
	log.Warnf("Relay websocket server shutting down...")
	for _, listener := range svr.cfg.Listeners {
		err := listener.Close()
		if err != nil {
			log.Errorf("Problem shutting down relay websocket server: %v", err)
			return err
		}
	}
	svr.ntfnMgr.Shutdown()
	svr.ntfnMgr.WaitForShutdown()
	close(svr.quit)
	svr.wg.Wait()
	log.Infof("Relay websocket server shutdown complete")
	return nil
}

// RequestedProcessShutdown returns a channel that is sent to when an
// authorized RPC client requests the process to shutdown.
func (svr *RelayServer) RequestedProcessShutdown() <-chan struct{} {
	return svr.requestProcessShutdown
}

// limitConnections responds with a 503 service unavailable and returns true if
// adding another client would exceed the maximum allow RPC clients.
//
// This function is safe for concurrent access.
func (svr *RelayServer) limitConnections(w http.ResponseWriter, remoteAddr string) bool {
	if int(atomic.LoadInt32(&svr.numClients)+1) > svr.cfg.RPCMaxClients {
		log.Infof("Max relay RPC clients exceeded [%d] - "+
			"disconnecting client %s", svr.cfg.RPCMaxClients,
			remoteAddr)
		http.Error(w, "503 Too busy.  Try again later.",
			http.StatusServiceUnavailable)
		return true
	}
	return false
}

// incrementClients adds one to the number of connected RPC clients.  Note
// this only applies to standard clients.  Websocket clients have their own
// limits and are tracked separately.
//
// This function is safe for concurrent access.
func (svr *RelayServer) incrementClients() {
	atomic.AddInt32(&svr.numClients, 1)
}

// decrementClients subtracts one from the number of connected RPC clients.
// Note this only applies to standard clients.  Websocket clients have their
// own limits and are tracked separately.
//
// This function is safe for concurrent access.
func (svr *RelayServer) decrementClients() {
	atomic.AddInt32(&svr.numClients, -1)
}

// checkAuth checks the HTTP Basic authentication. If the supplied
// authentication does not match the configured credentials or a stored admin
// account, a non-nil error is returned.
//
// The configured credential comparison is time-constant.
//
// The first bool return value signifies auth success (true if successful) and
// the second bool return value specifies whether the user is an admin.
func (svr *RelayServer) checkAuth(r *http.Request, require bool) (bool, bool, error) {
	authhdr := r.Header["Authorization"]
	if len(authhdr) <= 0 {
		if require {
			log.Warnf("RPC authentication failure from %s",
				r.RemoteAddr)
			return false, false, errors.New("auth failure")
		}

		return false, false, nil
	}

	authsha := sha256.Sum256([]byte(authhdr[0]))
	cmp := subtle.ConstantTimeCompare(authsha[:], svr.authsha[:])
	if cmp == 1 {
		return true, true, nil
	}

	// Fall back to the stored admin accounts.
	username, password, err := parseBasicAuth(authhdr[0])
	if err != nil {
		return false, false, errors.New("auth failure")
	}
	ctx := context.Background()
	success, err := service.GetAdminService().LoginAdmin(ctx, dal.GetDB(ctx), username, password)
	if err != nil || !success {
		return false, false, errors.New("auth failure")
	}
	return true, true, nil
}

// parseBasicAuth splits an HTTP Basic Authorization header value into the
// username and password it carries.
func parseBasicAuth(authhdr string) (string, string, error) {
	const prefix = "Basic "
	if !strings.HasPrefix(authhdr, prefix) {
		return "", "", errors.New("not basic authentication")
	}
	decoded, err := base64.StdEncoding.DecodeString(authhdr[len(prefix):])
	if err != nil {
		return "", "", err
	}
	idx := strings.IndexByte(string(decoded), ':')
	if idx < 0 {
		return "", "", errors.New("malformed basic authentication")
	}
	return string(decoded[:idx]), string(decoded[idx+1:]), nil
}

// jsonAuthFail sends a message back to the client if the http auth is rejected.
func jsonAuthFail(w http.ResponseWriter) {
	w.Header().Add("WWW-Authenticate", `Basic realm="aura relay"`)
	http.Error(w, "401 Unauthorized.", http.StatusUnauthorized)
}

func jsonIPForbidden(w http.ResponseWriter) {
	http.Error(w, "403 Forbidden.", http.StatusForbidden)
}

// createMarshalledReply returns a new marshalled JSON-RPC response given the
// passed parameters.  It will automatically convert errors that are not of
// the type *relayjson.RPCError to the appropriate type as needed.
func createMarshalledReply(id, result interface{}, replyErr error) ([]byte, error) {
	var jsonErr *relayjson.RPCError
	if replyErr != nil {
		if jErr, ok := replyErr.(*relayjson.RPCError); ok {
			jsonErr = jErr
		} else {
			jsonErr = internalRPCError(replyErr.Error(), "")
		}
	}

	return relayjson.MarshalResponse(id, result, jsonErr)
}

// parsedRPCCmd represents a JSON-RPC request object that has been parsed into
// a known concrete command along with any error that might have happened while
// parsing it.
type parsedRPCCmd struct {
	id     interface{}
	method string
	cmd    interface{}
	err    *relayjson.RPCError
}

// parseCmd parses a JSON-RPC request object into known concrete command.  The
// err field of the returned parsedRPCCmd struct will contain an RPC error that
// is suitable for use in replies if the command is invalid in some way such as
// an unregistered command or invalid parameters.
func parseCmd(request *relayjson.Request) *parsedRPCCmd {
	var parsedCmd parsedRPCCmd
	parsedCmd.id = request.ID
	parsedCmd.method = request.Method

	cmd, err := relayjson.UnmarshalCmd(request)
	if err != nil {
		// When the error is because the method is not registered,
		// produce a method not found RPC error.
		if jerr, ok := err.(relayjson.Error); ok &&
			jerr.ErrorCode == relayjson.ErrUnregisteredMethod {

			parsedCmd.err = relayjson.ErrRPCMethodNotFound
			return &parsedCmd
		}

		// Otherwise, some type of invalid parameters is the
		// cause, so produce the equivalent RPC error.
		parsedCmd.err = relayjson.NewRPCError(
			relayjson.ErrRPCInvalidParams.Code, err.Error())
		return &parsedCmd
	}

	parsedCmd.cmd = cmd
	return &parsedCmd
}

// standardCmdResult checks that a parsed command is a standard relay JSON-RPC
// command and runs the appropriate handler to reply to the command.  Any
// commands which are not recognized or not implemented will return an error
// suitable for use in replies.
func (svr *RelayServer) standardCmdResult(cmd *parsedRPCCmd, closeChan <-chan struct{}) (interface{}, error) {
	// Recovery
	defer func() {
		if err := recover(); err != nil {
			log.Errorf("Panic from %v handler: %v\n", cmd.method, err)
			var buf [4096]byte
			n := runtime.Stack(buf[:], false)
			log.Errorf("Stack Trace ==>\n %s\n", string(buf[:n]))
			log.Infof("Recovering...")
			// Dump panic file
			_ = utils.DumpPanicInfo(fmt.Sprintf("%v", err) + "\n" + string(buf[:n]))
		}
	}()

	handler, ok := rpcHandlers[cmd.method]
	if ok {
		goto handled
	}
	return nil, relayjson.ErrRPCMethodNotFound
handled:

	return handler(svr, cmd.cmd, closeChan)
}

// HandleReconNotification handles notifications from the reconciliation
// manager, fanning accepted submissions and committed transitions out to the
// websocket audiences.
func (svr *RelayServer) HandleReconNotification(notification *reconmgr.Notification) {
	switch notification.Type {

	case reconmgr.NTTransactionAccepted:
		txn, ok := notification.Data.(*model.Transaction)
		if !ok {
			log.Warnf("The NTTransactionAccepted notification is not a transaction!")
			break
		}

		svr.ntfnMgr.NotifyTransactionAccepted(txn)

	case reconmgr.NTTransactionTransition:
		ev, ok := notification.Data.(*reconmgr.TransitionEvent)
		if !ok {
			log.Warnf("The NTTransactionTransition notification is not a transition event!")
			break
		}

		svr.ntfnMgr.NotifyTransactionTransition(ev)
	}
}

// originAllowed reports whether a browser origin may open a websocket
// connection.  An empty allow-list permits every origin, and requests
// without an Origin header (non-browser clients) are always allowed.
func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	for _, candidate := range allowed {
		if strings.EqualFold(origin, strings.TrimRight(candidate, "/")) {
			return true
		}
	}
	return false
}

// isUndesiredIP determines whether the server should continue to pursue
// a connection with this peer based on its ip address. It performs
// the following steps:
// 1) Reject the peer if it contains a blacklisted ip.
// 2) If no whitelist is provided, accept all ip.
// 3) Accept the peer if it contains a whitelisted ip.
// 4) Reject all other peers.
func isUndesiredIP(remoteAddress string, blacklistedIPs, whitelistedIPs []*net.IPNet) bool {
	host, _, err := net.SplitHostPort(remoteAddress)
	if err != nil {
		log.Warnf("Unable to SplitHostPort on '%s': %v", remoteAddress, err)
		return false
	}
	ip := net.ParseIP(host)
	if ip == nil {
		log.Warnf("Unable to parse IP '%s'", remoteAddress)
		return false
	}

	for _, blacklistedIP := range blacklistedIPs {
		if blacklistedIP.Contains(ip) {
			log.Debugf("Ignoring peer %s because it contains blacklisted ip: %v", remoteAddress, blacklistedIP)
			return true
		}
	}

	// If no whitelist is provided, we will accept all peers.
	if len(whitelistedIPs) == 0 {
		return false
	}

	// Check to see if it contains one of our whitelisted ip, if so accept.
	for _, whitelistedIP := range whitelistedIPs {
		if whitelistedIP.Contains(ip) {
			return false
		}
	}

	// Otherwise, the peer's ip was not included in our whitelist.
	log.Debugf("Ignoring peer %s because it is not in whitelist", remoteAddress)

	return true
}

func init() {
	rpcHandlers = rpcHandlersBeforeInit
	wsHandlers = wsHandlersBeforeInit
}
