package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/jroosing/bsdm-proxy/internal/config"
	"github.com/jroosing/bsdm-proxy/internal/logging"
	"github.com/jroosing/bsdm-proxy/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values. Flag overrides do not
// persist to the config file or storage; they apply for this process only.
type cliFlags struct {
	configPath string
	host       string
	port       int
	mitm       bool
	apiEnabled bool
	jsonLogs   bool
	debug      bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&f.host, "host", "", "Override proxy bind host")
	flag.IntVar(&f.port, "port", 0, "Override proxy bind port")
	flag.BoolVar(&f.mitm, "mitm", false, "Enable TLS interception (requires tls.certs_dir CA material)")
	flag.BoolVar(&f.apiEnabled, "api", false, "Enable the admin REST API")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.mitm {
		cfg.TLS.MITMEnabled = true
	}
	if f.apiEnabled {
		cfg.API.Enabled = true
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
	if cfg.Cluster.NodeID == "" {
		cfg.Cluster.NodeID = uuid.New().String()[:8]
	}
}

func run() error {
	flags := parseFlags()

	cfgPath := config.ResolveConfigPath(flags.configPath)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	logger.Info("bsdm-proxy starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mitm", cfg.TLS.MITMEnabled,
		"hierarchy", cfg.Hierarchy.Enabled,
		"api", cfg.API.Enabled,
		"cluster_mode", cfg.Cluster.Mode,
	)

	runner := server.NewRunner(logger)
	if err := runner.Run(cfg); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	return nil
}
