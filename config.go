package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/auratrade/aura-relay-server/reconmgr"
)

const (
	defaultConfigFilename      = "aura-relay-server.conf"
	defaultLogDirname          = "logs"
	defaultLogFilename         = "aura-relay-server.log"
	defaultDbType              = "mysql"
	defaultLogLevel            = "info"
	defaultListenerPort        = "10000"
	defaultMaxRPCClients       = 10000
	defaultMaxRPCWebsockets    = 10000
	defaultMaxRPCConcurrenReqs = 200
	defaultDbAddress           = "127.0.0.1:3306"
	defaultDatabaseName        = "aura_trade"
	defaultLedgerRPCURL        = "https://api.mainnet-beta.solana.com"
	defaultAdminUser           = "admin"
)

var (
	defaultHomeDir     = "." // overridable via --appdata
	localConfigFile    = defaultConfigFilename
	knownDbTypes       = []string{"mysql"}
	localRelayKeyFile  = "relay.key"
	localRelayCertFile = "relay.cert"
	defaultLogDir      = defaultLogDirname
)

// config defines the configuration options for the relay server.
//
// See loadConfig for details on the configuration load process.
type config struct {
	AllowedOrigins  []string `long:"allowedorigin" description:"Add a browser origin allowed to open websocket connections (eg. https://auratrade.fun) -- NOTE: all origins are allowed when none is given"`
	AdminBlacklists []string `long:"adminblacklist" description:"Add an IP network or IP that will be banned if an admin connects to the server. (eg. 192.168.1.0/24 or ::1)"`
	adminBlacklists []*net.IPNet
	AdminWhitelists []string `long:"adminwhitelist" description:"Add an IP network or IP that will not be banned if an admin connects to the server. (eg. 192.168.1.0/24 or ::1)"`
	adminWhitelists []*net.IPNet
	AppDataDir      string   `short:"A" long:"appdata" description:"Application data directory for relay server config and logs"`
	Blacklists      []string `long:"blacklist" description:"Add an IP network or IP that will be banned. (eg. 192.168.1.0/24 or ::1)"`
	blacklists      []*net.IPNet
	ConfigFile      string   `short:"C" long:"configfile" description:"Path to configuration file"`
	DbType          string   `long:"dbtype" description:"Database backend to use for the data"`
	DbUsername      string   `long:"dbusername" description:"username which is used to connect with database"`
	DbPassword      string   `long:"dbpassword" description:"password which is used to connect with database"`
	DbAddress       string   `long:"dbaddress" description:"ip address and port of database (default: 127.0.0.1:3306)"`
	DbName          string   `long:"dbname" description:"name of server database (default: aura_trade)"`
	ExternalIPs     []string `long:"externalip" description:"Add an ip to the list of local addresses we claim to listen on to clients"`
	Listeners       []string `long:"listen" description:"Add an interface/port to listen for connections (HTTP/ws)"`
	ListenerPort    string   `long:"listenerport" description:"listenerport is the port that the HTTP/ws server listens on (default: 10000)"`
	LogDir          string   `long:"logdir" description:"Directory to log output."`

	RPCMaxClients        int `long:"rpcmaxclients" description:"Max number of rpc clients"`
	RPCMaxConcurrentReqs int `long:"rpcmaxconcurrentreqs" description:"Max number of concurrent RPC requests that may be processed concurrently"`
	RPCMaxWebsockets     int `long:"rpcmaxwebsockets" description:"Max number of websocket connections"`
	DisableAutoCreateDB  bool `long:"noautocreatedb" description:"Disable creating database and table automatically"`

	DisableTLS bool   `long:"notls" description:"Disable TLS for the websocket server -- NOTE: This is only allowed if the server is bound to localhost"`
	DebugLevel string `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	LedgerRPCURL      string `long:"ledgerrpcurl" description:"URL of the Solana JSON-RPC endpoint used as the transaction status oracle (default: mainnet-beta)"`
	PollInterval      int    `long:"pollinterval" description:"Seconds between oracle polls for a pending transaction, must be between 2 and 10 (default: 5)"`
	MaxPollAttempts   int    `long:"maxpollattempts" description:"Number of oracle polls before a pending transaction times out (default: 8)"`
	DisableConnectToLedger bool `long:"noconnecttoledger" description:"Do not connect to the ledger oracle; transactions only transition via admin override"`

	RPCUser   string `short:"u" long:"rpcuser" description:"Username for the HTTP admin JSON-RPC surface. This should be changed in production environment"`
	RPCPass   string `short:"P" long:"rpcpass" default-mask:"-" description:"Password for the HTTP admin JSON-RPC surface. This should be changed in production environment"`
	AdminUser string `long:"adminuser" description:"Username of the bootstrap admin account stored in the database (default: admin)"`
	AdminPass string `long:"adminpass" default-mask:"-" description:"Password of the bootstrap admin account, only used when the account does not exist yet"`

	RelayCert   string `long:"relaycert" description:"File containing the certificate file for clients to connect with the relay server"`
	RelayKey    string `long:"relaykey" description:"File containing the certificate key for clients to connect with the relay server"`
	ProfilePort string `long:"profileport" description:"Enable HTTP profiling on given port -- NOTE port must be between 1024 and 65536"`
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	WorkingDir  string `long:"workingdir" description:"Working directory"`
	Whitelists  []string `long:"whitelist" description:"Add an IP network or IP that will not be banned. (eg. 192.168.1.0/24 or ::1)"`
	whitelists  []*net.IPNet
}

// newConfigParser returns a new command line flags parser.
func newConfigParser(cfg *config, options flags.Options) *flags.Parser {
	parser := flags.NewParser(cfg, options)
	return parser
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(defaultHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// supportedSubsystems returns a sorted slice of the supported subsystems for
// logging purposes.
func supportedSubsystems() []string {
	// Convert the subsystemLoggers map keys to a slice.
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}

	// Sort the subsystems for stable display.
	sort.Strings(subsystems)
	return subsystems
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

// validLogLevel returns whether or not logLevel is a valid debug log level.
func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace":
		fallthrough
	case "debug":
		fallthrough
	case "info":
		fallthrough
	case "warn":
		fallthrough
	case "error":
		fallthrough
	case "critical":
		return true
	}
	return false
}

// validDbType returns whether or not dbType is a supported database type.
func validDbType(dbType string) bool {
	for _, knownType := range knownDbTypes {
		if dbType == knownType {
			return true
		}
	}

	return false
}

// parseAndSetDebugLevels attempts to parse the specified debug level and set
// the levels accordingly.  An appropriate error is returned if anything is
// invalid.
func parseAndSetDebugLevels(debugLevel string) error {
	// When the specified string doesn't have any delimters, treat it as
	// the log level for all subsystems.
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		// Validate debug log level.
		if !validLogLevel(debugLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, debugLevel)
		}

		// Change the logging level for all subsystems.
		setLogLevels(debugLevel)

		return nil
	}

	// Split the specified string into subsystem/level pairs while detecting
	// issues and update the log levels accordingly.
	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			str := "The specified debug level contains an invalid " +
				"subsystem/level pair [%v]"
			return fmt.Errorf(str, logLevelPair)
		}

		// Extract the specified subsystem and log level.
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]

		// Validate subsystem.
		if _, exists := subsystemLoggers[subsysID]; !exists {
			str := "The specified subsystem [%v] is invalid -- " +
				"supported subsytems %v"
			return fmt.Errorf(str, subsysID, supportedSubsystems())
		}

		// Validate log level.
		if !validLogLevel(logLevel) {
			str := "The specified debug level [%v] is invalid"
			return fmt.Errorf(str, logLevel)
		}

		setLogLevel(subsysID, logLevel)
	}

	return nil
}

// removeDuplicateAddresses returns a new slice with all duplicate entries in
// addrs removed.
func removeDuplicateAddresses(addrs []string) []string {
	result := make([]string, 0, len(addrs))
	seen := map[string]struct{}{}
	for _, val := range addrs {
		if _, ok := seen[val]; !ok {
			result = append(result, val)
			seen[val] = struct{}{}
		}
	}
	return result
}

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr, defaultPort string) string {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		return net.JoinHostPort(addr, defaultPort)
	}
	return addr
}

// normalizeAddresses returns a new slice with all the passed addresses
// normalized with the given default port, and all duplicates removed.
func normalizeAddresses(addrs []string, defaultPort string) []string {
	for i, addr := range addrs {
		addrs[i] = normalizeAddress(addr, defaultPort)
	}

	return removeDuplicateAddresses(addrs)
}

// parseIPNets converts a list of IP or CIDR strings into networks, expanding
// bare IPs into host networks.
func parseIPNets(funcName, listName string, addrs []string) ([]*net.IPNet, error) {
	var ip net.IP
	nets := make([]*net.IPNet, 0, len(addrs))

	for _, addr := range addrs {
		_, ipnet, err := net.ParseCIDR(addr)
		if err != nil {
			ip = net.ParseIP(addr)
			if ip == nil {
				str := "%s: The %s value of '%s' is invalid"
				return nil, fmt.Errorf(str, funcName, listName, addr)
			}
			var bits int
			if ip.To4() == nil {
				// IPv6
				bits = 128
			} else {
				bits = 32
			}
			ipnet = &net.IPNet{
				IP:   ip,
				Mask: net.CIDRMask(bits, bits),
			}
		}
		nets = append(nets, ipnet)
	}
	return nets, nil
}

func loadConfig() (*config, []string, error) {
	cfg := config{
		ConfigFile:           localConfigFile,
		AppDataDir:           defaultHomeDir,
		DebugLevel:           defaultLogLevel,
		LogDir:               defaultLogDir,
		RPCMaxClients:        defaultMaxRPCClients,
		RPCMaxConcurrentReqs: defaultMaxRPCConcurrenReqs,
		RPCMaxWebsockets:     defaultMaxRPCWebsockets,
		DbType:               defaultDbType,
		RelayKey:             localRelayKeyFile,
		RelayCert:            localRelayCertFile,
		DbName:               defaultDatabaseName,
		LedgerRPCURL:         defaultLedgerRPCURL,
		PollInterval:         int(reconmgr.DefaultPollInterval / time.Second),
		MaxPollAttempts:      reconmgr.DefaultMaxAttempts,
		AdminUser:            defaultAdminUser,
	}

	// Pre-parse the command line options to see if an alternative config
	// file or the version flag was specified.  Any errors aside from the
	// help message error can be ignored here since they will be caught by
	// the final parse below.
	preCfg := cfg
	preParser := newConfigParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			return nil, nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show usage", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	if preCfg.WorkingDir != "" {
		err := os.Chdir(preCfg.WorkingDir)
		if err != nil {
			return nil, nil, err
		}
	}

	// Load additional config from file.
	var configFileError error
	parser := newConfigParser(&cfg, flags.Default)
	if _, err := os.Stat(preCfg.ConfigFile); err == nil {
		fmt.Printf("Use config file: %v\n", preCfg.ConfigFile)
		err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
		if err != nil {
			if _, ok := err.(*os.PathError); !ok {
				fmt.Fprintf(os.Stderr, "Error parsing config "+
					"file: %v\n", err)
				fmt.Fprintln(os.Stderr, usageMessage)
				return nil, nil, err
			}
			configFileError = err
		}
	}

	// Parse command line options again to ensure they take precedence.
	remainingArgs, err := parser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); !ok || e.Type != flags.ErrHelp {
			fmt.Fprintln(os.Stderr, usageMessage)
		}
		return nil, nil, err
	}

	funcName := "loadConfig"

	// Expand the log directory
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	// Initialize log rotation. After log rotation has been initialized, the
	// logger variables may be used.
	initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		err := fmt.Errorf("%s: %v", funcName, err.Error())
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	// Show version at startup.
	relayLog.Infof("Version %s", version())

	// Validate database type.
	if !validDbType(cfg.DbType) {
		str := "%s: The specified database type [%v] is invalid -- " +
			"supported types %v"
		err := fmt.Errorf(str, funcName, cfg.DbType, knownDbTypes)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}

	if cfg.ListenerPort == "" {
		cfg.ListenerPort = defaultListenerPort
	}
	// Add the default listener if none were specified. The default
	// listener is all addresses on the listen port.
	if len(cfg.Listeners) == 0 {
		cfg.Listeners = []string{
			net.JoinHostPort("", cfg.ListenerPort),
		}
	}

	// Add default port to all listener addresses if needed and remove
	// duplicate addresses.
	cfg.Listeners = normalizeAddresses(cfg.Listeners, cfg.ListenerPort)

	if cfg.DbUsername == "" || cfg.DbPassword == "" {
		return nil, nil, errors.New("database username or password not configured, please add them in configuration file or " +
			"specify them using --dbusername and --dbpassword")
	}

	if cfg.DbAddress == "" {
		relayLog.Infof("Use default database address: %v", defaultDbAddress)
		cfg.DbAddress = defaultDbAddress
	}

	if cfg.DbName == "" {
		return nil, nil, fmt.Errorf("nil dbname")
	}

	minInterval := int(reconmgr.MinPollInterval / time.Second)
	maxInterval := int(reconmgr.MaxPollInterval / time.Second)
	if cfg.PollInterval < minInterval || cfg.PollInterval > maxInterval {
		str := "%s: the pollinterval option must be between %v and %v seconds -- parsed [%v]"
		err := fmt.Errorf(str, funcName, minInterval, maxInterval, cfg.PollInterval)
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usageMessage)
		return nil, nil, err
	}
	relayLog.Infof("Oracle poll interval: %vs", cfg.PollInterval)

	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = reconmgr.DefaultMaxAttempts
	}
	relayLog.Infof("Max oracle poll attempts: %v", cfg.MaxPollAttempts)

	if cfg.DisableConnectToLedger {
		relayLog.Infof("Ledger oracle disabled, transactions only transition via admin override")
	} else if cfg.LedgerRPCURL == "" {
		cfg.LedgerRPCURL = defaultLedgerRPCURL
	}

	if cfg.AdminUser == "" {
		cfg.AdminUser = defaultAdminUser
	}

	// Warn about missing config file only after all other configuration is
	// done.  This prevents the warning on help messages and invalid
	// options.  Note this should go directly before the return.
	if configFileError != nil {
		relayLog.Warnf("%v", configFileError)
	}

	// The TLS cert and key must be provisioned out of band.
	if !cfg.DisableTLS {
		if !fileExists(cfg.RelayCert) || !fileExists(cfg.RelayKey) {
			return nil, nil, errors.New("cannot find relay cert and key, " +
				"provide them via --relaycert and --relaykey or run with --notls")
		}
	} else {
		relayLog.Infof("TLS certificate for websocket server is disabled")
	}

	// Validate profile port number
	if cfg.ProfilePort != "" {
		profilePort, err := strconv.Atoi(cfg.ProfilePort)
		if err != nil || profilePort < 1024 || profilePort > 65535 {
			str := "%s: The profile port must be between 1024 and 65535"
			err := fmt.Errorf(str, funcName)
			return nil, nil, err
		}
	}

	// Validate any given blacklisted IP addresses and networks.
	if len(cfg.Blacklists) > 0 {
		cfg.blacklists, err = parseIPNets(funcName, "blacklist", cfg.Blacklists)
		if err != nil {
			return nil, nil, err
		}
		relayLog.Infof("IP blacklist %s", cfg.Blacklists)
	}

	// Validate any given whitelisted IP addresses and networks.
	if len(cfg.Whitelists) > 0 {
		cfg.whitelists, err = parseIPNets(funcName, "whitelist", cfg.Whitelists)
		if err != nil {
			return nil, nil, err
		}
		relayLog.Infof("IP whitelist %s", cfg.Whitelists)
	}

	if len(cfg.AdminBlacklists) > 0 {
		cfg.adminBlacklists, err = parseIPNets(funcName, "admin blacklist", cfg.AdminBlacklists)
		if err != nil {
			return nil, nil, err
		}
		relayLog.Infof("Admin IP blacklist %s", cfg.AdminBlacklists)
	}

	if len(cfg.AdminWhitelists) > 0 {
		cfg.adminWhitelists, err = parseIPNets(funcName, "admin whitelist", cfg.AdminWhitelists)
		if err != nil {
			return nil, nil, err
		}
		relayLog.Infof("Admin IP whitelist %s", cfg.AdminWhitelists)
	}

	if len(cfg.AllowedOrigins) > 0 {
		relayLog.Infof("Allowed websocket origins %s", cfg.AllowedOrigins)
	}

	return &cfg, remainingArgs, nil
}
