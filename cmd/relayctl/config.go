package main

import (
	"fmt"
	"io/ioutil"
	"net"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/auratrade/aura-relay-server/relayjson"
	"github.com/auratrade/aura-relay-server/utils"
	"github.com/jessevdk/go-flags"
)

const (
	// unusableFlags are the command usage flags which this utility are not
	// able to use. In particular it doesn't support websockets and
	// consequently notifications.
	unusableFlags = relayjson.UFWebsocketOnly | relayjson.UFNotification
)

var (
	relayServerHomeDir = utils.AppDataDir("aura-relay-server", false)
	relayctlHomeDir    = utils.AppDataDir("aura-relayctl", false)
	defaultConfigFile  = "relayctl.conf"
	defaultRPCServer   = "localhost"
	defaultRPCCertFile = "relay.cert"
)

// listCommands categorizes and lists all of the usable commands along with
// their one-line usage.
func listCommands() {
	methods := relayjson.RegisteredCmdMethods()
	fmt.Println("Commands:")
	for _, method := range methods {
		flags, err := relayjson.MethodUsageFlags(method)
		if err != nil {
			continue
		}
		if flags&unusableFlags != 0 {
			// The command is not usable by this utility, so skip it.
			continue
		}
		fmt.Println("  " + method)
	}
}

// config defines the configuration options for relayctl.
//
// See loadConfig for details on the configuration load process.
type config struct {
	ConfigFile   string `short:"C" long:"configfile" description:"Path to configuration file"`
	ListCommands bool   `short:"l" long:"listcommands" description:"List all of the supported commands and exit"`
	NoTLS        bool   `long:"notls" description:"Disable TLS"`
	RelayAddress string `short:"s" long:"relayaddress" description:"RPC server to connect to"`
	RelayCert    string `short:"c" long:"relaycert" description:"RPC server certificate chain for validation"`
	RPCPassword  string `short:"P" long:"rpcpass" default-mask:"-" description:"RPC password"`
	RPCUser      string `short:"u" long:"rpcuser" description:"RPC username"`
	ShowVersion  bool   `short:"V" long:"version" description:"Display version information and exit"`
	WorkingDir   string `long:"workingdir" description:"Working directory"`
}

// createDefaultConfig creates a basic config file at the given destination
// path. For this it tries to read the config file for the relay server, and
// extract the RPC user and password from it.
func createDefaultConfigFile(destinationPath, serverConfigPath string) error {
	// Read the relay server config
	serverConfigFile, err := os.Open(serverConfigPath)
	if err != nil {
		return err
	}
	defer serverConfigFile.Close()
	content, err := ioutil.ReadAll(serverConfigFile)
	if err != nil {
		return err
	}

	// Extract the rpcuser
	rpcUserRegexp := regexp.MustCompile(`(?m)^\s*rpcuser=([^\s]+)`)
	userSubmatches := rpcUserRegexp.FindSubmatch(content)
	if userSubmatches == nil {
		// No user found, nothing to do
		return nil
	}

	// Extract the rpcpass
	rpcPassRegexp := regexp.MustCompile(`(?m)^\s*rpcpass=([^\s]+)`)
	passSubmatches := rpcPassRegexp.FindSubmatch(content)
	if passSubmatches == nil {
		// No password found, nothing to do
		return nil
	}

	// Create the destination directory if it does not exists
	err = os.MkdirAll(filepath.Dir(destinationPath), 0700)
	if err != nil {
		return err
	}

	// Create the destination file and write the rpcuser and rpcpass to it
	dest, err := os.OpenFile(destinationPath,
		os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer dest.Close()

	destString := fmt.Sprintf("rpcuser=%s\nrpcpass=%s\n",
		string(userSubmatches[1]), string(passSubmatches[1]))

	dest.WriteString(destString)

	return nil
}

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		homeDir := filepath.Dir(relayctlHomeDir)
		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// normalizeAddress returns addr with the passed default port appended if
// there is not already a port specified.
func normalizeAddress(addr string) (string, error) {
	_, _, err := net.SplitHostPort(addr)
	if err != nil {
		defaultPort := "10000"

		return net.JoinHostPort(addr, defaultPort), nil
	}
	return addr, nil
}

func loadConfig() (*config, []string, error) {
	// Default config.
	cfg := config{
		ConfigFile:   defaultConfigFile,
		RelayAddress: defaultRPCServer,
		RelayCert:    defaultRPCCertFile,
	}

	// Pre-parse the command line options to see if an alternative config
	// file, the version flag, or the list commands flag was specified.  Any
	// errors aside from the help message error can be ignored here since
	// they will be caught by the final parse below.
	preCfg := cfg
	preParser := flags.NewParser(&preCfg, flags.HelpFlag)
	_, err := preParser.Parse()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, "")
			fmt.Fprintln(os.Stderr, "The special parameter `-` "+
				"indicates that a parameter should be read "+
				"from the\nnext unread line from standard "+
				"input.")
			return nil, nil, err
		}
	}

	// Show the version and exit if the version flag was specified.
	appName := filepath.Base(os.Args[0])
	appName = strings.TrimSuffix(appName, filepath.Ext(appName))
	usageMessage := fmt.Sprintf("Use %s -h to show options", appName)
	if preCfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	// Show the available commands and exit if the associated flag was
	// specified.
	if preCfg.ListCommands {
		listCommands()
		os.Exit(0)
	}

	if preCfg.WorkingDir != "" {
		err := os.Chdir(preCfg.WorkingDir)
		if err != nil {
			return nil, nil, err
		}
	}

	// Load additional config from file.
	parser := flags.NewParser(&cfg, flags.Default)
	err = flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config file: %v\n",
				err)
			fmt.Fprintln(os.Stderr, usageMessage)
			return nil, nil, err
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

	// Handle environment variable expansion in the RPC certificate path.
	cfg.RelayCert = cleanAndExpandPath(cfg.RelayCert)

	// Add default port to RPC server if needed.
	cfg.RelayAddress, err = normalizeAddress(cfg.RelayAddress)
	if err != nil {
		return nil, nil, err
	}

	return &cfg, remainingArgs, nil
}
