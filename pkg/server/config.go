package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the structure of the server config file
type TOMLConfig struct {
	Server TOMLServerSection `toml:"server"`
	Limits TOMLLimitsSection `toml:"limits"`
}

type TOMLServerSection struct {
	TCPPort        int    `toml:"tcp_port"`
	HTTPPort       int    `toml:"http_port"`
	SSHPort        int    `toml:"ssh_port"`
	SSHHostKeyPath string `toml:"ssh_host_key"`
	MetricsPort    int    `toml:"metrics_port"`
	DatabasePath   string `toml:"database_path"`
}

type TOMLLimitsSection struct {
	MaxConnectionsPerIP int `toml:"max_connections_per_ip"`
	MaxMessageLength    int `toml:"max_message_length"`
	MaxUsernameLength   int `toml:"max_username_length"`
	HistoryPageSize     int `toml:"history_page_size"`
}

// DefaultTOMLConfig returns the default TOML configuration
func DefaultTOMLConfig() TOMLConfig {
	return TOMLConfig{
		Server: TOMLServerSection{
			TCPPort:        7475,
			HTTPPort:       8080,
			SSHPort:        0,
			SSHHostKeyPath: "~/.parley/ssh_host_key",
			MetricsPort:    9090,
			DatabasePath:   "~/.parley/parley.db",
		},
		Limits: TOMLLimitsSection{
			MaxConnectionsPerIP: 10,
			MaxMessageLength:    4096,
			MaxUsernameLength:   20,
			HistoryPageSize:     30,
		},
	}
}

// LoadConfig loads configuration from a TOML file, creates default if not
// found, and applies environment variable overrides
func LoadConfig(path string) (TOMLConfig, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return TOMLConfig{}, err
	}
	path = expanded

	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := DefaultTOMLConfig()
		if err := writeDefaultConfig(path, config); err != nil {
			// Can't write (permissions?), but defaults still let us run
			return applyEnvOverrides(config), nil
		}
		return applyEnvOverrides(config), nil
	}

	var config TOMLConfig
	if _, err := toml.DecodeFile(path, &config); err != nil {
		return TOMLConfig{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return applyEnvOverrides(config), nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables follow the pattern: PARLEY_SECTION_KEY
// Example: PARLEY_SERVER_TCP_PORT=8475
func applyEnvOverrides(config TOMLConfig) TOMLConfig {
	if val := os.Getenv("PARLEY_SERVER_TCP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.TCPPort = port
		}
	}
	if val := os.Getenv("PARLEY_SERVER_HTTP_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.HTTPPort = port
		}
	}
	if val := os.Getenv("PARLEY_SERVER_SSH_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.SSHPort = port
		}
	}
	if val := os.Getenv("PARLEY_SERVER_SSH_HOST_KEY"); val != "" {
		config.Server.SSHHostKeyPath = val
	}
	if val := os.Getenv("PARLEY_SERVER_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			config.Server.MetricsPort = port
		}
	}
	if val := os.Getenv("PARLEY_SERVER_DATABASE_PATH"); val != "" {
		config.Server.DatabasePath = val
	}
	if val := os.Getenv("PARLEY_LIMITS_MAX_CONNECTIONS_PER_IP"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Limits.MaxConnectionsPerIP = n
		}
	}
	if val := os.Getenv("PARLEY_LIMITS_MAX_MESSAGE_LENGTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Limits.MaxMessageLength = n
		}
	}
	if val := os.Getenv("PARLEY_LIMITS_MAX_USERNAME_LENGTH"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Limits.MaxUsernameLength = n
		}
	}
	if val := os.Getenv("PARLEY_LIMITS_HISTORY_PAGE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Limits.HistoryPageSize = n
		}
	}
	return config
}

// writeDefaultConfig writes a commented default config file
func writeDefaultConfig(path string, config TOMLConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	content := fmt.Sprintf(`# Parley server configuration
# Every value can be overridden with PARLEY_SECTION_KEY environment
# variables, e.g. PARLEY_SERVER_TCP_PORT=8475

[server]
# Port for the binary chat protocol
tcp_port = %d

# Port for the public HTTP listener (/ws WebSocket intake)
http_port = %d

# Port for the SSH intake (0 = disabled). Clients still authenticate
# with a normal LOGIN over the channel.
ssh_port = %d
ssh_host_key = "%s"

# Port for the internal metrics listener (/metrics, /health).
# Never expose this one publicly.
metrics_port = %d

# SQLite database location
database_path = "%s"

[limits]
max_connections_per_ip = %d
max_message_length = %d
max_username_length = %d
history_page_size = %d
`,
		config.Server.TCPPort,
		config.Server.HTTPPort,
		config.Server.SSHPort,
		config.Server.SSHHostKeyPath,
		config.Server.MetricsPort,
		config.Server.DatabasePath,
		config.Limits.MaxConnectionsPerIP,
		config.Limits.MaxMessageLength,
		config.Limits.MaxUsernameLength,
		config.Limits.HistoryPageSize,
	)

	return os.WriteFile(path, []byte(content), 0644)
}

// ToServerConfig converts the TOML structure into the runtime config.
func (c TOMLConfig) ToServerConfig() ServerConfig {
	return ServerConfig{
		TCPPort:             c.Server.TCPPort,
		HTTPPort:            c.Server.HTTPPort,
		SSHPort:             c.Server.SSHPort,
		SSHHostKeyPath:      c.Server.SSHHostKeyPath,
		MetricsPort:         c.Server.MetricsPort,
		MaxConnectionsPerIP: c.Limits.MaxConnectionsPerIP,
		MaxMessageLength:    c.Limits.MaxMessageLength,
		MaxUsernameLength:   c.Limits.MaxUsernameLength,
		HistoryPageSize:     c.Limits.HistoryPageSize,
	}
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}
	return path, nil
}
