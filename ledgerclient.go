package main

import (
	"sync"
	"time"

	"github.com/auratrade/aura-relay-server/ledgerclient"
)

type ledgerClients struct {
	cfg          *config
	ledgerClient *ledgerclient.RPCClient
	handlerMu    sync.Mutex
}

func (server *ledgerClients) setLedgerClient(client *ledgerclient.RPCClient) {
	server.handlerMu.Lock()
	server.ledgerClient = client
	server.handlerMu.Unlock()
}

func (server *ledgerClients) Stop() {
	ledgerClient := server.ledgerClient
	if ledgerClient != nil {
		relayLog.Warn("Stopping ledger RPC client...")
		ledgerClient.Stop()
		ledgerClient.WaitForShutdown()
		relayLog.Info("Ledger RPC client shutdown complete")
	}
}

func createLedgerClient(cfg *config) (*ledgerClients, error) {
	newClient := ledgerClients{
		cfg: cfg,
	}
	if cfg.DisableConnectToLedger {
		return &newClient, nil
	}

	client, err := ledgerclient.New(&ledgerclient.Config{
		RPCURL:         cfg.LedgerRPCURL,
		RequestTimeout: time.Duration(cfg.PollInterval) * time.Second,
	})
	if err != nil {
		return nil, err
	}
	newClient.setLedgerClient(client)
	return &newClient, nil
}
