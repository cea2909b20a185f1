package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML layout. Pointer fields distinguish "absent"
// from the zero value; durations are strings like "3s".
type fileConfig struct {
	Hardware struct {
		Kind        string `yaml:"kind"`
		Pins        string `yaml:"pins"`
		BitTimeout  string `yaml:"bit_timeout"`
		FrameBuffer *int   `yaml:"frame_buffer"`
	} `yaml:"hardware"`
	Door struct {
		OpenTime            string `yaml:"open_time"`
		DenyBeep            string `yaml:"deny_beep"`
		RejectWhileUnlocked *bool  `yaml:"reject_while_unlocked"`
	} `yaml:"door"`
	Server struct {
		HTTPAddr  string  `yaml:"http_addr"`
		GRPCAddr  *string `yaml:"grpc_addr"`
		OpenToken string  `yaml:"open_token"`
	} `yaml:"server"`
	Database struct {
		Env  string `yaml:"env"`
		Path string `yaml:"path"`
	} `yaml:"database"`
	Audit struct {
		LogFile            *string `yaml:"log_file"`
		RetentionDays      *int    `yaml:"retention_days"`
		PruneIntervalHours *int    `yaml:"prune_interval_hours"`
	} `yaml:"audit"`
	Announce struct {
		Addr    string `yaml:"addr"`
		Timeout string `yaml:"timeout"`
	} `yaml:"announce"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Users struct {
		File string   `yaml:"file"`
		Seed []string `yaml:"seed"`
	} `yaml:"users"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or with
// an empty string when it is unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// ApplyFile overlays the YAML file at path onto c.
func (c *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &fc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	setString(&c.Hardware, fc.Hardware.Kind)
	setString(&c.PinFile, fc.Hardware.Pins)
	if fc.Hardware.FrameBuffer != nil {
		c.FrameBuffer = *fc.Hardware.FrameBuffer
	}

	if fc.Door.RejectWhileUnlocked != nil {
		c.RejectWhileUnlocked = *fc.Door.RejectWhileUnlocked
	}

	setString(&c.HTTPAddr, fc.Server.HTTPAddr)
	if fc.Server.GRPCAddr != nil {
		c.GRPCAddr = *fc.Server.GRPCAddr
	}
	setString(&c.OpenToken, fc.Server.OpenToken)

	setString(&c.Env, fc.Database.Env)
	setString(&c.DBPath, fc.Database.Path)

	if fc.Audit.LogFile != nil {
		c.AuditLogFile = *fc.Audit.LogFile
	}
	if fc.Audit.RetentionDays != nil {
		c.AuditRetentionDays = *fc.Audit.RetentionDays
	}
	if fc.Audit.PruneIntervalHours != nil {
		c.PruneIntervalHours = *fc.Audit.PruneIntervalHours
	}

	setString(&c.AnnounceAddr, fc.Announce.Addr)

	setString(&c.LogLevel, fc.Logging.Level)
	setString(&c.LogFormat, fc.Logging.Format)

	setString(&c.UserFile, fc.Users.File)
	if len(fc.Users.Seed) > 0 {
		c.Users = fc.Users.Seed
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"hardware.bit_timeout", fc.Hardware.BitTimeout, &c.BitTimeout},
		{"door.open_time", fc.Door.OpenTime, &c.OpenTime},
		{"door.deny_beep", fc.Door.DenyBeep, &c.DenyBeep},
		{"announce.timeout", fc.Announce.Timeout, &c.AnnounceTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
