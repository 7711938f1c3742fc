package config

import "time"

// Config holds runtime settings for the profkeeper CLI.
//
// Fields:
//   - ServerEndpointAddr: host:port of the profkeeper server.
//   - KeyFile: where the fetched server public key is cached between runs.
//   - RequestTimeout: per-request dial/read deadline.
type Config struct {
	ServerEndpointAddr string
	KeyFile            string
	RequestTimeout     time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "127.0.0.1:9999"
	c.KeyFile = "server_pub.pem"
	c.RequestTimeout = 10 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
