package config

import (
	"fmt"
	"github.com/fsnotify/fsnotify"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultPort      = 8080
	DefaultAddress   = "0.0.0.0"
	DefaultAdminPort = 8081

	DefaultFileWriteDelay = 150 * time.Millisecond // Small delay to ensure file write is complete
)

var (
	lastReload  time.Time
	reloadMutex sync.Mutex
)

// DefaultConfig returns a configuration with sensible defaults, mirroring
// proxyserver.DefaultOptions so a config-less boot behaves identically to
// one loaded from an empty file.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:             "relay",
			Address:          DefaultAddress,
			Port:             DefaultPort,
			NetworkInterface: "0.0.0.0",
			AllowLocalOnly:   true,
			AcceptorThreads:  2,
			ClientThreads:    8,
			ServerThreads:    8,
			Admin: AdminConfig{
				Address: DefaultAddress,
				Port:    DefaultAdminPort,
			},
		},
		Proxy: ProxyConfig{
			IdleConnectionTimeout: 70 * time.Second,
			ConnectTimeout:        40 * time.Second,
			MaxInitialLineLength:  8192,
			MaxHeaderSize:         16384,
			MaxChunkSize:          16384,
		},
		Chain: ChainConfig{
			Enabled:     false,
			AllowDirect: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			FileOutput: true,
			LogDir:     "./logs",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Theme:      "default",
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Address: ":9090",
			},
		},
		Security: SecurityConfig{
			TLS: TLSConfig{
				Enabled: false,
			},
			Mitm: MitmConfig{
				Enabled:    false,
				CommonName: "relay interception authority",
			},
			AuthenticateSslClients: true,
		},
		Plugins: PluginsConfig{
			Directory: "./plugins",
			Enabled:   []string{},
			Config:    map[string]interface{}{},
		},
	}
}

// Load loads configuration from file and environment variables
func Load(onConfigChange func()) (*Config, error) {
	config := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvPrefix("RELAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// If config file not found, check if we have RELAY_CONFIG_FILE env var
		if configFile := os.Getenv("RELAY_CONFIG_FILE"); configFile != "" {
			viper.SetConfigFile(configFile)
			if err := viper.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	viper.WatchConfig()

	if onConfigChange != nil {
		OnChange(onConfigChange)
	}
	return config, nil
}

// OnChange registers fn to run on every debounced config file change,
// independent of what (if anything) was passed to Load. This lets a caller
// construct its reload notifier after Load returns, since Load typically
// runs before the rest of the process exists to be notified.
func OnChange(fn func()) {
	viper.OnConfigChange(func(e fsnotify.Event) {
		reloadMutex.Lock()
		defer reloadMutex.Unlock()

		// lame debounce to avoid rapid-fire reloads
		now := time.Now()
		if now.Sub(lastReload) < 500*time.Millisecond {
			return // Ignore miultiple rapid changes
		}
		lastReload = now

		// looks like on windows this event is triggered
		// before the file is fully written, not sure why
		time.Sleep(DefaultFileWriteDelay)
		fn()
	})
}
