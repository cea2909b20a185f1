// Package config resolves lovepotion settings. Later layers win:
// built-in defaults, the YAML file named by --config or LOVEPOTION_CONFIG,
// LOVEPOTION_* environment variables, command-line flags.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/wal-rus/lovepotion/internal/lovepotion/types"
	"github.com/wal-rus/lovepotion/internal/wiegand"
)

type Config struct {
	// Hardware
	Hardware    string // "line" | "mock"
	PinFile     string
	BitTimeout  time.Duration
	FrameBuffer int

	// Door
	OpenTime            time.Duration
	DenyBeep            time.Duration // 0 disables
	RejectWhileUnlocked bool

	// Servers
	HTTPAddr  string
	GRPCAddr  string // empty disables
	OpenToken string // empty disables POST /v1/open

	// DB
	Env    string // "dev" | "prod"
	DBPath string // e.g. "./data/lovepotion.db"

	// Audit
	AuditLogFile       string // empty disables the text log
	AuditRetentionDays int    // 0 = keep forever
	PruneIntervalHours int    // how often the pruner runs (default 6)

	// Announcements
	AnnounceAddr    string // host:port, empty disables
	AnnounceTimeout time.Duration

	// Logging
	LogLevel  string
	LogFormat string // "text" | "json"

	// Users
	UserFile string   // optional text user list imported at startup
	Users    []string // "id:name" entries seeded at startup
}

func Default() Config {
	return Config{
		Hardware:    "line",
		PinFile:     "~/.config/lovepotion/pins.toml",
		BitTimeout:  wiegand.DefaultBitTimeout,
		FrameBuffer: wiegand.DefaultFrameBuffer,

		OpenTime:            3 * time.Second,
		RejectWhileUnlocked: true,

		HTTPAddr: ":8080",
		GRPCAddr: ":9090",

		Env:    "dev",
		DBPath: "./data/lovepotion.db",

		AuditLogFile:       "~/.config/lovepotion/log.txt",
		AuditRetentionDays: 90,
		PruneIntervalHours: 6,

		AnnounceTimeout: 2 * time.Second,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// FromEnv returns the defaults overlaid with the environment.
func FromEnv() Config {
	c := Default()
	c.ApplyEnv()
	return c
}

// Load resolves the full configuration for a command named name. It
// returns the positional arguments left after flag parsing.
func Load(name string, args []string) (Config, []string, error) {
	// First pass only finds --config; everything else is parsed below.
	pre := pflag.NewFlagSet(name, pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	pre.Usage = func() {}
	pre.SetInterspersed(false)
	pre.BoolP("help", "h", false, "")
	path := pre.String("config", os.Getenv("LOVEPOTION_CONFIG"), "")
	_ = pre.Parse(args)

	c := Default()
	if *path != "" {
		if err := c.ApplyFile(*path); err != nil {
			return Config{}, nil, err
		}
	}
	c.ApplyEnv()

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", *path, "YAML config file (env LOVEPOTION_CONFIG)")
	c.RegisterFlags(fs)
	// Flags after the subcommand belong to it.
	fs.SetInterspersed(false)
	if err := fs.Parse(args); err != nil {
		return Config{}, nil, err
	}
	if mock, _ := fs.GetBool("mock"); mock {
		c.Hardware = "mock"
	}

	if err := c.Validate(); err != nil {
		return Config{}, nil, fmt.Errorf("validating config: %w", err)
	}
	return c, fs.Args(), nil
}

// RegisterFlags binds one flag per field, defaulting to the current value.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Hardware, "hardware", c.Hardware, "hardware backend: line | mock")
	fs.Bool("mock", false, "shorthand for --hardware=mock")
	fs.StringVar(&c.PinFile, "pins", c.PinFile, "pin map TOML file, created with defaults if missing")
	fs.DurationVar(&c.BitTimeout, "bit-timeout", c.BitTimeout, "Wiegand inter-bit timeout")
	fs.IntVar(&c.FrameBuffer, "frame-buffer", c.FrameBuffer, "decoded frames buffered for the controller")

	fs.DurationVar(&c.OpenTime, "open-time", c.OpenTime, "how long the door stays unlocked")
	fs.DurationVar(&c.DenyBeep, "deny-beep", c.DenyBeep, "sounder pulse on rejected tags, 0 disables")
	fs.BoolVar(&c.RejectWhileUnlocked, "reject-while-unlocked", c.RejectWhileUnlocked, "ignore reads while the door is open")

	fs.StringVar(&c.HTTPAddr, "http-addr", c.HTTPAddr, "HTTP listen address")
	fs.StringVar(&c.GRPCAddr, "grpc-addr", c.GRPCAddr, "gRPC health listen address, empty disables")
	fs.StringVar(&c.OpenToken, "open-token", c.OpenToken, "bearer token for POST /v1/open, empty disables")

	fs.StringVar(&c.Env, "env", c.Env, "dev | prod")
	fs.StringVar(&c.DBPath, "db-path", c.DBPath, "SQLite database path")

	fs.StringVar(&c.AuditLogFile, "audit-log", c.AuditLogFile, "text swipe log, empty disables")
	fs.IntVar(&c.AuditRetentionDays, "audit-retention-days", c.AuditRetentionDays, "days of audit history to keep, 0 keeps all")
	fs.IntVar(&c.PruneIntervalHours, "prune-interval-hours", c.PruneIntervalHours, "hours between audit prunes")

	fs.StringVar(&c.AnnounceAddr, "announce-addr", c.AnnounceAddr, "host:port of the speech box, empty disables")
	fs.DurationVar(&c.AnnounceTimeout, "announce-timeout", c.AnnounceTimeout, "dial and write timeout for announcements")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug | info | warn | error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "text | json")

	fs.StringVar(&c.UserFile, "user-file", c.UserFile, "text user list (<id>:<name> per line) imported at startup")
	fs.StringSliceVar(&c.Users, "user", c.Users, "id:name user to seed, repeatable")
}

// ApplyEnv overrides fields whose LOVEPOTION_* variable is set.
func (c *Config) ApplyEnv() {
	c.Hardware = strings.ToLower(getenvDefault("LOVEPOTION_HARDWARE", c.Hardware))
	c.PinFile = getenvDefault("LOVEPOTION_PINS", c.PinFile)
	c.BitTimeout = getenvDuration("LOVEPOTION_BIT_TIMEOUT", c.BitTimeout)
	c.FrameBuffer = getenvInt("LOVEPOTION_FRAME_BUFFER", c.FrameBuffer)

	c.OpenTime = getenvDuration("LOVEPOTION_OPEN_TIME", c.OpenTime)
	c.DenyBeep = getenvDuration("LOVEPOTION_DENY_BEEP", c.DenyBeep)
	c.RejectWhileUnlocked = getenvBool("LOVEPOTION_REJECT_WHILE_UNLOCKED", c.RejectWhileUnlocked)

	c.HTTPAddr = getenvDefault("LOVEPOTION_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getenvDefault("LOVEPOTION_GRPC_ADDR", c.GRPCAddr)
	c.OpenToken = getenvDefault("LOVEPOTION_OPEN_TOKEN", c.OpenToken)

	env := strings.ToLower(getenvDefault("LOVEPOTION_ENV", c.Env))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}
	c.Env = env
	c.DBPath = getenvDefault("LOVEPOTION_DB_PATH", c.DBPath)

	c.AuditLogFile = getenvDefault("LOVEPOTION_AUDIT_LOG", c.AuditLogFile)
	c.AuditRetentionDays = getenvInt("LOVEPOTION_AUDIT_RETENTION_DAYS", c.AuditRetentionDays)
	c.PruneIntervalHours = getenvInt("LOVEPOTION_PRUNE_INTERVAL_HOURS", c.PruneIntervalHours)

	c.AnnounceAddr = getenvDefault("LOVEPOTION_ANNOUNCE_ADDR", c.AnnounceAddr)
	c.AnnounceTimeout = getenvDuration("LOVEPOTION_ANNOUNCE_TIMEOUT", c.AnnounceTimeout)

	c.LogLevel = getenvDefault("LOVEPOTION_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getenvDefault("LOVEPOTION_LOG_FORMAT", c.LogFormat)

	c.UserFile = getenvDefault("LOVEPOTION_USER_FILE", c.UserFile)
	if users := splitCSV(os.Getenv("LOVEPOTION_USERS")); users != nil {
		c.Users = users
	}
}

func (c Config) Validate() error {
	switch strings.ToLower(c.Hardware) {
	case "line", "mock":
	default:
		return fmt.Errorf("hardware %q must be line or mock", c.Hardware)
	}
	if c.OpenTime <= 0 {
		return fmt.Errorf("open_time must be positive, got %s", c.OpenTime)
	}
	if c.BitTimeout <= 0 {
		return fmt.Errorf("bit_timeout must be positive, got %s", c.BitTimeout)
	}
	if c.FrameBuffer <= 0 {
		return fmt.Errorf("frame_buffer must be positive, got %d", c.FrameBuffer)
	}
	if c.DenyBeep < 0 {
		return fmt.Errorf("deny_beep must not be negative, got %s", c.DenyBeep)
	}
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	if c.Env != "dev" && c.Env != "prod" {
		return fmt.Errorf("env %q must be dev or prod", c.Env)
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		return fmt.Errorf("log_format %q must be text or json", c.LogFormat)
	}
	if _, err := ParseUserList(c.Users); err != nil {
		return err
	}
	return nil
}

// ParseUserList parses "id:name" entries. Ids are normalized.
func ParseUserList(entries []string) ([]types.User, error) {
	out := make([]types.User, 0, len(entries))
	for _, e := range entries {
		rawID, name, ok := strings.Cut(e, ":")
		if !ok {
			return nil, fmt.Errorf("user %q: want id:name", e)
		}
		id, valid := wiegand.NormalizeID(rawID)
		if !valid {
			return nil, fmt.Errorf("user %q: invalid id", e)
		}
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("user %q: empty name", e)
		}
		out = append(out, types.User{ID: id, Name: name, Enabled: true})
	}
	return out, nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
