package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	// DefaultWebPort is the default TCP port the HTTP+SSE API listens on.
	DefaultWebPort = 3621
	// DefaultRCONPort is the game's default RCON listen port.
	DefaultRCONPort = 27015
	// DefaultMasterbaseHost is the default demo-ingest endpoint.
	DefaultMasterbaseHost = "masterbase.tf"
	// DefaultFriendsAPIUsage controls how aggressively the friends graph is probed.
	DefaultFriendsAPIUsage = "cheatersOnly"

	// DefaultLogLevel controls verbosity for agent logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "macagent.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultDemoSpoolMaxMatches bounds how many finalized demo spool
	// artefacts are retained on disk before the oldest are pruned.
	DefaultDemoSpoolMaxMatches = 20
	// DefaultDemoSpoolMaxAgeDays bounds how long a demo spool artefact is
	// kept on disk regardless of count.
	DefaultDemoSpoolMaxAgeDays = 14
)

// FriendsAPIUsage controls how aggressively §4.H probes the friends graph.
type FriendsAPIUsage string

const (
	FriendsAPINone         FriendsAPIUsage = "none"
	FriendsAPICheatersOnly FriendsAPIUsage = "cheatersOnly"
	FriendsAPIAll          FriendsAPIUsage = "all"
)

// Config captures all runtime tunables for the companion agent, mirroring
// spec.md §3's `settings` field and §6's CLI flag surface.
type Config struct {
	WebPort        int
	WebDir         string
	UseHTTPS       bool

	RCONPort     int
	RCONPassword string

	SteamAPIKey     string
	SteamUser       string
	FriendsAPIUsage FriendsAPIUsage

	MasterbaseHost string
	MasterbaseKey  string
	MasterbaseHTTP bool

	TF2Directory string

	MinimalDemoParsing bool
	DontParseDemos     bool
	DontUploadDemos     bool
	AutoLaunchUI        bool
	Autokick            bool
	PrintVotes          bool

	DemoSpoolMaxMatches int
	DemoSpoolMaxAgeDays int

	ConfigPath     string
	PlayerlistPath string

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads agent configuration from environment variables, applying sane
// defaults and returning a combined error describing every invalid override.
func Load() (*Config, error) {
	cfg := &Config{
		WebPort:         DefaultWebPort,
		WebDir:          getString("MACAGENT_WEB_DIR", ""),
		UseHTTPS:        false,
		RCONPort:        DefaultRCONPort,
		RCONPassword:    strings.TrimSpace(os.Getenv("MACAGENT_RCON_PASSWORD")),
		SteamAPIKey:     strings.TrimSpace(os.Getenv("MACAGENT_STEAM_API_KEY")),
		SteamUser:       strings.TrimSpace(os.Getenv("MACAGENT_STEAM_USER")),
		FriendsAPIUsage: FriendsAPIUsage(getString("MACAGENT_FRIENDS_API_USAGE", DefaultFriendsAPIUsage)),
		MasterbaseHost:  getString("MACAGENT_MASTERBASE_HOST", DefaultMasterbaseHost),
		MasterbaseKey:   strings.TrimSpace(os.Getenv("MACAGENT_MASTERBASE_KEY")),
		TF2Directory:    strings.TrimSpace(os.Getenv("MACAGENT_TF2_DIR")),
		ConfigPath:      getString("MACAGENT_CONFIG_PATH", "macagent.json"),
		PlayerlistPath:  getString("MACAGENT_PLAYERLIST_PATH", "playerlist.json"),
		DemoSpoolMaxMatches: DefaultDemoSpoolMaxMatches,
		DemoSpoolMaxAgeDays: DefaultDemoSpoolMaxAgeDays,
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("MACAGENT_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("MACAGENT_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("MACAGENT_WEB_PORT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 || value > 65535 {
			problems = append(problems, fmt.Sprintf("MACAGENT_WEB_PORT must be a valid port, got %q", raw))
		} else {
			cfg.WebPort = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MACAGENT_RCON_PORT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 || value > 65535 {
			problems = append(problems, fmt.Sprintf("MACAGENT_RCON_PORT must be a valid port, got %q", raw))
		} else {
			cfg.RCONPort = value
		}
	}

	switch cfg.FriendsAPIUsage {
	case FriendsAPINone, FriendsAPICheatersOnly, FriendsAPIAll:
	default:
		problems = append(problems, fmt.Sprintf("MACAGENT_FRIENDS_API_USAGE must be one of none|cheatersOnly|all, got %q", cfg.FriendsAPIUsage))
	}

	if raw := strings.TrimSpace(os.Getenv("MACAGENT_MASTERBASE_HTTP")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("MACAGENT_MASTERBASE_HTTP must be a boolean value, got %q", raw))
		} else {
			cfg.MasterbaseHTTP = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MACAGENT_AUTOKICK")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("MACAGENT_AUTOKICK must be a boolean value, got %q", raw))
		} else {
			cfg.Autokick = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MACAGENT_DONT_PARSE_DEMOS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("MACAGENT_DONT_PARSE_DEMOS must be a boolean value, got %q", raw))
		} else {
			cfg.DontParseDemos = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MACAGENT_DONT_UPLOAD_DEMOS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("MACAGENT_DONT_UPLOAD_DEMOS must be a boolean value, got %q", raw))
		} else {
			cfg.DontUploadDemos = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MACAGENT_DEMO_SPOOL_MAX_MATCHES")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("MACAGENT_DEMO_SPOOL_MAX_MATCHES must be a non-negative integer, got %q", raw))
		} else {
			cfg.DemoSpoolMaxMatches = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MACAGENT_DEMO_SPOOL_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("MACAGENT_DEMO_SPOOL_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.DemoSpoolMaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MACAGENT_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("MACAGENT_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MACAGENT_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("MACAGENT_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MACAGENT_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("MACAGENT_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("MACAGENT_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("MACAGENT_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
