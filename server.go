package main

import (
	"time"

	"github.com/auratrade/aura-relay-server/notifier"
	"github.com/auratrade/aura-relay-server/reconmgr"
	"github.com/auratrade/aura-relay-server/relayserver"
)

type server struct {
	relayRPCServer *relayserver.RelayServer
	reconManager   *reconmgr.ReconManager
	changeNotifier *notifier.ChangeNotifier
	feedPoller     *notifier.FeedPoller
}

func newServer(ledgerCli *ledgerClients) (*server, error) {
	commonCfg := relayserver.CommonConfig{
		Blacklist:      cfg.blacklists,
		Whitelist:      cfg.whitelists,
		AdminBlacklist: cfg.adminBlacklists,
		AdminWhitelist: cfg.adminWhitelists,
		AllowedOrigins: cfg.AllowedOrigins,
	}
	relaySvr, err := relayserver.NewRelayServer(&relayserver.ConfigRelayServer{
		DisableTLS:           cfg.DisableTLS,
		ListenersString:      cfg.Listeners,
		StartupTime:          time.Now().Unix(),
		RPCUser:              cfg.RPCUser,
		RPCPass:              cfg.RPCPass,
		RPCMaxClients:        cfg.RPCMaxClients,
		RPCMaxWebsockets:     cfg.RPCMaxWebsockets,
		RPCMaxConcurrentReqs: cfg.RPCMaxConcurrentReqs,
		RPCCert:              cfg.RelayCert,
		RPCKey:               cfg.RelayKey,
		ExternalIPs:          cfg.ExternalIPs,
	})
	if err != nil {
		return nil, err
	}
	relaySvr.SetCommonConfig(&commonCfg)

	// Setup the reconciliation manager.  Without a ledger client every
	// oracle observation reports a transport error and submitted
	// transactions ride the attempt budget into timeout.
	var source reconmgr.StatusSource
	if ledgerCli != nil && ledgerCli.ledgerClient != nil {
		source = ledgerCli.ledgerClient
	}
	reconMgr := reconmgr.NewReconManager(&reconmgr.Config{
		MaxAttempts:  cfg.MaxPollAttempts,
		PollInterval: time.Duration(cfg.PollInterval) * time.Second,
	}, source)
	relaySvr.SetReconManager(reconMgr)
	reconMgr.Subscribe(relaySvr.HandleReconNotification)

	// Setup the change notifier funneling manual polls, feed rows and
	// trigger payloads into the reconciliation manager.
	changeNotifier := notifier.NewChangeNotifier(reconMgr)
	relaySvr.SetChangeNotifier(changeNotifier)

	// The feed poller picks up pending rows written by other processes.
	feedPoller := notifier.NewFeedPoller(changeNotifier, notifier.DefaultFeedInterval)

	ret := &server{
		relayRPCServer: relaySvr,
		reconManager:   reconMgr,
		changeNotifier: changeNotifier,
		feedPoller:     feedPoller,
	}
	return ret, nil
}

func (s *server) Start() {
	if s.reconManager != nil {
		s.reconManager.Start()
	}
	if s.feedPoller != nil {
		s.feedPoller.Start()
	}
	if s.relayRPCServer != nil {
		s.relayRPCServer.Start()
	}
}

func (s *server) Stop() {
	if s.relayRPCServer != nil {
		s.relayRPCServer.Stop()
	}
	if s.feedPoller != nil {
		s.feedPoller.Stop()
	}
	if s.reconManager != nil {
		s.reconManager.Stop()
	}
}
