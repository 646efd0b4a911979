package config

import "flag"

var (
	flagConfig  = flag.String("config", "", "Path to config file")
	flagDebug   = flag.Bool("debug", false, "Enable debug logging")
	flagJobs    = flag.String("jobs", "", "Directory holding trained networks")
	flagNetwork = flag.String("network", "", "Network name under the jobs directory")
	flagSubd    = flag.Int("subd", 0, "Number of subdivision levels")
	flagDevice  = flag.String("device", "", "Compute device (auto, cpu)")
	flagRule    = flag.String("rule", "", "Subdivision position rule (midpoint, loop)")
	flagLog     = flag.String("log", "", "Log file path")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// Args returns the non-flag arguments left after ParseFlags.
func Args() []string {
	return flag.Args()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagJobs != "" {
		cfg.Network.JobsDir = *flagJobs
	}
	if *flagNetwork != "" {
		cfg.Network.Default = *flagNetwork
	}
	if *flagSubd > 0 {
		cfg.Network.NumSubd = *flagSubd
	}
	if *flagDevice != "" {
		cfg.Network.Device = *flagDevice
	}
	if *flagRule != "" {
		cfg.Subdivision.Rule = *flagRule
	}
	if *flagLog != "" {
		cfg.Logging.LogFile = *flagLog
	}
}
