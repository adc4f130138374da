package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds the options shared by every protocol server.
type ServerConfig struct {
	// Set to false to skip starting this server.
	Enabled bool `mapstructure:"enabled"`
	// Port on which the server will listen.
	Port int `mapstructure:"port"`

	TLS struct {
		// PEM encoded private key. Both files must be set for TLS to be enabled.
		KeyFile string `mapstructure:"key_file"`
		// PEM encoded certificate (chain).
		CertFile string `mapstructure:"cert_file"`
	} `mapstructure:"tls"`
}

// TLSEnabled returns true if both key and certificate were configured.
func (s ServerConfig) TLSEnabled() bool {
	return s.TLS.KeyFile != "" && s.TLS.CertFile != ""
}

// Config contains all of the configuration options available to the media server.
type Config struct {
	// Hostname or IP address on which the servers will listen for connections.
	Hostname string `mapstructure:"hostname"`
	// Maximum number of concurrent sessions a single server will keep.
	MaxConnections int `mapstructure:"max_connections"`
	// How often each server scans its sessions for dead ones.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// Sessions without any I/O for this long are considered dead. Zero disables it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	// Upper bound for any single write to a client.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// Bytes queued for a peer that isn't reading before its session is dropped.
	OutboxLimit int `mapstructure:"outbox_limit"`

	Logging struct {
		// Full path to file to which logs will be written. Blank will write to stdout.
		LogFilePath string `mapstructure:"log_file_path"`
		// Minimum level of a log required to be written. Options: trace, debug, info, warn, error
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"logging"`

	RTMPServer ServerConfig `mapstructure:"rtmp_server"`
	// WebSocket server relaying FLV to browser players.
	WebSocketServer ServerConfig `mapstructure:"websocket_server"`
	// WebSocket server speaking the protoo signaling protocol.
	SignalingServer ServerConfig `mapstructure:"signaling_server"`
	HTTPFLVServer   ServerConfig `mapstructure:"httpflv_server"`
	// Plain HTTP server exposing /status and /metrics.
	HTTPServer ServerConfig `mapstructure:"http_server"`

	Journal struct {
		// Record session open/close events in a database.
		Enabled bool `mapstructure:"enabled"`
		// Options: sqlite, postgres
		Engine string `mapstructure:"engine"`
		// Database file when using sqlite.
		Filename string `mapstructure:"filename"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		Name     string `mapstructure:"name"`
		Username string `mapstructure:"username"`
		Password string `mapstructure:"password"`
		SSLMode  string `mapstructure:"sslmode"`
		// Records buffered before new ones are dropped.
		QueueSize int `mapstructure:"queue_size"`
	} `mapstructure:"journal"`

	Debugging struct {
		// Start a pprof server on localhost.
		PprofEnabled bool `mapstructure:"pprof_enabled"`
		PprofPort    int  `mapstructure:"pprof_port"`
	} `mapstructure:"debugging"`
}

const envVarPrefix = "MEDIASERVER"

// SetDefaults registers the reference values for every option on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("hostname", "0.0.0.0")
	v.SetDefault("max_connections", 10000)
	v.SetDefault("sweep_interval", "3s")
	v.SetDefault("idle_timeout", "60s")
	v.SetDefault("write_timeout", "10s")
	v.SetDefault("outbox_limit", 4<<20)
	v.SetDefault("logging.log_level", "info")

	v.SetDefault("rtmp_server.enabled", true)
	v.SetDefault("rtmp_server.port", 1935)
	v.SetDefault("websocket_server.enabled", true)
	v.SetDefault("websocket_server.port", 1900)
	v.SetDefault("signaling_server.enabled", true)
	v.SetDefault("signaling_server.port", 9110)
	v.SetDefault("httpflv_server.enabled", true)
	v.SetDefault("httpflv_server.port", 8080)
	v.SetDefault("http_server.enabled", true)
	v.SetDefault("http_server.port", 8090)

	v.SetDefault("journal.enabled", false)
	v.SetDefault("journal.engine", "sqlite")
	v.SetDefault("journal.filename", "sessions.db")
	v.SetDefault("journal.sslmode", "disable")
	v.SetDefault("journal.queue_size", 1024)

	v.SetDefault("debugging.pprof_port", 6060)
}

// LoadConfig reads config.yaml from configPath (if there is one) on top of the
// defaults. A missing file is fine, a malformed one is not.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.AddConfigPath(configPath)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envVarPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// This allows us to set nested yaml config options through environment
	// variables. For example, rtmp_server.port can be set using: <envVarPrefix>_RTMP_SERVER_PORT
	for _, k := range v.AllKeys() {
		envVar := strings.ReplaceAll(strings.ToUpper(k), ".", "_")
		if err := v.BindEnv(k, envVarPrefix+"_"+envVar); err != nil {
			return nil, fmt.Errorf("error binding %s to %s: %w", k, envVarPrefix+"_"+envVar, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config object: %w", err)
	}
	return config, nil
}

// Address returns the listen address for a server on port.
func (c *Config) Address(port int) string {
	return fmt.Sprintf("%s:%d", c.Hostname, port)
}

const databaseURITemplate = "host=%s port=%d dbname=%s user=%s password=%s sslmode=%s"

// JournalDSN returns the connection string for the journal database.
func (c *Config) JournalDSN() string {
	if c.Journal.Engine == "postgres" {
		return fmt.Sprintf(
			databaseURITemplate,
			c.Journal.Host,
			c.Journal.Port,
			c.Journal.Name,
			c.Journal.Username,
			c.Journal.Password,
			c.Journal.SSLMode,
		)
	}
	return c.Journal.Filename
}
