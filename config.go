package go_cdp

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// EndpointConfig is the runtime configuration of a CDP endpoint:
// identity, negotiation bounds, the upgrade listener and optional TLS.
type EndpointConfig struct {
	// DeviceName is the endpoint's display name, required on load.
	// Sessions do not read it: device-info announces the name given to
	// SessionRegistry.SetDeviceCredentials.
	DeviceName string

	// DeviceType classifies this endpoint's hardware.
	DeviceType DeviceType

	// ListenAddress is the host:port the upgrade listener binds.
	ListenAddress string

	// HmacSize is an HMAC length in bytes, validated to 1..32 on load.
	// Sessions do not read it: they start from CDP_DEFAULT_HMAC_SIZE and
	// lower it only to a smaller value sent by the peer.
	HmacSize int

	// FragmentSize is a fragment size in bytes, validated on load.
	// Sessions do not read it: they start from CDP_DEFAULT_FRAGMENT_SIZE
	// and lower it only to a smaller value sent by the peer.
	FragmentSize uint32

	// TLSCertFile and TLSKeyFile enable TLS transports when both are
	// set; TLSCAFile optionally pins the peer CA.
	TLSCertFile string
	TLSKeyFile  string
	TLSCAFile   string

	// TLSInsecure disables certificate verification. Development only.
	TLSInsecure bool

	// LogLevel selects the package log level (DEBUG..FATAL constants).
	LogLevel int
}

// DefaultEndpointConfig returns a config with the protocol defaults
// filled in.
func DefaultEndpointConfig() EndpointConfig {
	return EndpointConfig{
		DeviceName:    "go-cdp",
		DeviceType:    DEVICE_TYPE_LINUX,
		ListenAddress: ":" + CDP_UPGRADE_PORT,
		HmacSize:      CDP_DEFAULT_HMAC_SIZE,
		FragmentSize:  CDP_DEFAULT_FRAGMENT_SIZE,
		LogLevel:      INFO,
	}
}

// endpoint config.toml key mapping.
type fileConfig struct {
	DeviceName    string `toml:"device_name"`
	DeviceType    int    `toml:"device_type"`
	ListenAddress string `toml:"listen_address"`
	HmacSize      int    `toml:"hmac_size"`
	FragmentSize  int    `toml:"fragment_size"`
	TLSCertFile   string `toml:"tls_cert_file"`
	TLSKeyFile    string `toml:"tls_key_file"`
	TLSCAFile     string `toml:"tls_ca_file"`
	TLSInsecure   bool   `toml:"tls_insecure"`
	LogLevel      string `toml:"log_level"`
}

// LoadEndpointConfig reads a TOML config file over the defaults. Keys
// absent from the file keep their default values.
func LoadEndpointConfig(path string) (EndpointConfig, error) {
	cfg := DefaultEndpointConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return EndpointConfig{}, fmt.Errorf("cdp: load endpoint config: %w", err)
	}

	if meta.IsDefined("device_name") {
		cfg.DeviceName = strings.TrimSpace(raw.DeviceName)
	}
	if meta.IsDefined("device_type") {
		cfg.DeviceType = DeviceType(raw.DeviceType)
	}
	if meta.IsDefined("listen_address") {
		cfg.ListenAddress = strings.TrimSpace(raw.ListenAddress)
	}
	if meta.IsDefined("hmac_size") {
		cfg.HmacSize = raw.HmacSize
	}
	if meta.IsDefined("fragment_size") {
		cfg.FragmentSize = uint32(raw.FragmentSize)
	}
	if meta.IsDefined("tls_cert_file") {
		cfg.TLSCertFile = strings.TrimSpace(raw.TLSCertFile)
	}
	if meta.IsDefined("tls_key_file") {
		cfg.TLSKeyFile = strings.TrimSpace(raw.TLSKeyFile)
	}
	if meta.IsDefined("tls_ca_file") {
		cfg.TLSCAFile = strings.TrimSpace(raw.TLSCAFile)
	}
	if meta.IsDefined("tls_insecure") {
		cfg.TLSInsecure = raw.TLSInsecure
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = parseLogLevel(raw.LogLevel, cfg.LogLevel)
	}

	if err := cfg.Validate(); err != nil {
		return EndpointConfig{}, err
	}
	LogInit(cfg.LogLevel)
	return cfg, nil
}

// Validate checks the configuration bounds.
func (cfg *EndpointConfig) Validate() error {
	if cfg.DeviceName == "" {
		return fmt.Errorf("cdp: device_name must not be empty: %w", ErrInvalidConfiguration)
	}
	if cfg.HmacSize <= 0 || cfg.HmacSize > 32 {
		return fmt.Errorf("cdp: hmac_size %d out of range (1..32): %w", cfg.HmacSize, ErrInvalidConfiguration)
	}
	if cfg.FragmentSize == 0 || cfg.FragmentSize > CDP_MAX_PAYLOAD_SIZE {
		return fmt.Errorf("cdp: fragment_size %d out of range: %w", cfg.FragmentSize, ErrInvalidConfiguration)
	}
	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return fmt.Errorf("cdp: tls_cert_file and tls_key_file must be set together: %w", ErrInvalidConfiguration)
	}
	return nil
}

func parseLogLevel(s string, fallback int) int {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warning", "warn":
		return WARNING
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return fallback
	}
}
