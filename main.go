package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	"runtime/debug"

	"github.com/auratrade/aura-relay-server/dal"
	"github.com/auratrade/aura-relay-server/service"
)

var (
	cfg *config
)

func startProfileServer() {
	listenAddr := net.JoinHostPort("localhost", cfg.ProfilePort)
	relayLog.Infof("Profile server listening on %s", listenAddr)
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	relayLog.Errorf("%v", http.ListenAndServe(listenAddr, mux))
}

func relayMain() error {

	// Load configuration and parse command line. This function also
	// initializes logging and configures it accordingly.
	tcfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	cfg = tcfg

	defer func() {
		if logRotator != nil {
			logRotator.Close()
		}
	}()

	defer relayLog.Info("Shutdown complete")

	// Enable http profiling server if requested.
	if cfg.ProfilePort != "" {
		go func() {
			startProfileServer()
		}()
	}

	// initiate database
	err = dal.InitDB(&dal.DBConfig{
		Username:     cfg.DbUsername,
		Password:     cfg.DbPassword,
		Address:      cfg.DbAddress,
		DatabaseName: cfg.DbName,
	}, !cfg.DisableAutoCreateDB)
	if err != nil {
		return err
	}

	// check if admin exist
	ctx := context.Background()
	tx := dal.GetDB(ctx)
	adminService := service.GetAdminService()
	exist, err := adminService.AdminExist(ctx, tx)
	if err != nil {
		return err
	}
	if !exist {
		pwd := cfg.AdminPass
		if pwd == "" {
			fmt.Printf("It seems that it is the first time you start the server, please specify the password for %v: ", cfg.AdminUser)
			_, err := fmt.Scanln(&pwd)
			if err != nil {
				return err
			}
		}
		err = adminService.RegisterAdmin(ctx, tx, cfg.AdminUser, pwd)
		if err != nil {
			return err
		}
		relayLog.Infof("Successfully generate account for %v, please use this password to join the admin audience", cfg.AdminUser)
	}

	// create the ledger oracle client
	rpc, err := createLedgerClient(cfg)
	if err != nil {
		relayLog.Errorf("Unable to create ledger RPC client: %v", err)
		return err
	}

	// start the ledger connect probe loop
	if !cfg.DisableConnectToLedger {
		err = rpc.ledgerClient.Start()
		if err != nil {
			relayLog.Errorf("Unable to start ledger RPC client: %v", err)
			return err
		}
	}

	// create and start server, including relay rpc server and
	// reconciliation manager
	svr, err := newServer(rpc)
	if err != nil {
		return err
	}

	svr.Start()

	go func() {
		<-svr.relayRPCServer.RequestedProcessShutdown()
		simulateInterrupt()
	}()

	if rpc != nil {
		addInterruptHandler(func() {
			rpc.Stop()
		})
	}
	if svr != nil {
		addInterruptHandler(func() {
			svr.Stop()
		})
	}

	// Wait until the interrupt signal is received from an OS signal or
	// shutdown is requested through one of the subsystems such as the RPC
	// server.
	<-interruptHandlersDone
	return nil
}

func main() {
	// Use all processor cores.
	runtime.GOMAXPROCS(runtime.NumCPU())

	// Broadcast fan-out and reconciliation polling can cause bursty
	// allocations.  This limits the garbage collector from excessively
	// overallocating during bursts.
	debug.SetGCPercent(10)

	if err := relayMain(); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}
