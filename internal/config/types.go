package config

import "time"

// Config holds all configuration for the relay proxy process.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Chain     ChainConfig     `yaml:"chain"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Security  SecurityConfig  `yaml:"security"`
	Plugins   PluginsConfig   `yaml:"plugins"`
}

// ServerConfig holds the client-facing listener configuration (spec
// section 6's Name/Address/Port/AllowLocalOnly/NetworkInterface/threads).
type ServerConfig struct {
	Name             string `yaml:"name"`
	Address          string `yaml:"address"`
	Port             int    `yaml:"port"`
	NetworkInterface string `yaml:"network_interface"`
	AllowLocalOnly   bool   `yaml:"allow_local_only"`
	AcceptorThreads  int    `yaml:"acceptor_threads"`
	ClientThreads    int    `yaml:"client_threads"`
	ServerThreads    int    `yaml:"server_threads"`
	ProxyAlias       string `yaml:"proxy_alias"`

	Admin AdminConfig `yaml:"admin"`
}

// AdminConfig holds the health/status/version admin-plane listener.
type AdminConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// ProxyConfig holds proxy-behaviour configuration: timeouts, traffic
// shaping, PROXY protocol, and message-size limits (spec section 6).
type ProxyConfig struct {
	IdleConnectionTimeout time.Duration `yaml:"idle_connection_timeout"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`

	ReadBytesPerSec  int `yaml:"read_bytes_per_sec"`
	WriteBytesPerSec int `yaml:"write_bytes_per_sec"`

	MaxInitialLineLength int `yaml:"max_initial_line_length"`
	MaxHeaderSize        int `yaml:"max_header_size"`
	MaxChunkSize         int `yaml:"max_chunk_size"`

	AllowRequestsToOriginServer bool `yaml:"allow_requests_to_origin_server"`
	Transparent                 bool `yaml:"transparent"`
	UseDNSSec                   bool `yaml:"use_dnssec"`

	AcceptProxyProtocol bool `yaml:"accept_proxy_protocol"`
	SendProxyProtocol   bool `yaml:"send_proxy_protocol"`
}

// ChainConfig holds the static chained-proxy upstream list (spec section
// 4.5's ChainedProxyManager).
type ChainConfig struct {
	Enabled     bool             `yaml:"enabled"`
	AllowDirect bool             `yaml:"allow_direct"`
	Upstreams   []UpstreamConfig `yaml:"upstreams"`
}

// UpstreamConfig describes one chained-proxy upstream.
type UpstreamConfig struct {
	Name            string `yaml:"name"`
	Address         string `yaml:"address"`
	RequiresTLS     bool   `yaml:"requires_tls"`
	ForwardsConnect bool   `yaml:"forwards_connect"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
}

// MetricsConfig holds the Prometheus collector's listener configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// SecurityConfig holds the client-facing TLS/MITM and proxy-auth
// configuration (spec section 6's ClientSideSecurity/ProxyAuthenticator).
type SecurityConfig struct {
	TLS  TLSConfig  `yaml:"tls"`
	Mitm MitmConfig `yaml:"mitm"`

	AuthenticateSslClients bool         `yaml:"authenticate_ssl_clients"`
	BasicAuth              BasicAuthCfg `yaml:"basic_auth"`
}

// TLSConfig describes a plain (non-intercepting) TLS terminator.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MitmConfig describes the interception CA used to mint per-host leaf
// certificates for CONNECT tunnels (spec section 4.3).
type MitmConfig struct {
	Enabled    bool   `yaml:"enabled"`
	CommonName string `yaml:"common_name"`
	CAFile     string `yaml:"ca_file"`
	CAKeyFile  string `yaml:"ca_key_file"`
}

// BasicAuthCfg holds the statically configured proxy-auth credential map.
type BasicAuthCfg struct {
	Enabled     bool              `yaml:"enabled"`
	Credentials map[string]string `yaml:"credentials"`
}

// PluginsConfig is retained from the teacher's bootstrap shape for future
// HttpFilters plugin loading; no dynamic loader exists yet (spec section
// 4.6 filters are wired in-process via internal/filter.Source).
type PluginsConfig struct {
	Directory string                 `yaml:"directory"`
	Enabled   []string               `yaml:"enabled"`
	Config    map[string]interface{} `yaml:"config"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FileOutput bool   `yaml:"file_output"`
	LogDir     string `yaml:"log_dir"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Theme      string `yaml:"theme"`
}
