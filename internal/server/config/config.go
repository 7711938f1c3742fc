// Package config handles configuration for the server component,
// including defaults, JSON overlay, and command-line flags.
package config

import "time"

// Config holds runtime settings for the profkeeper server.
//
// Fields:
//   - Addr: bind address for the TCP endpoint.
//   - KeyFile: path to the PEM-encoded RSA private key. Generated on first
//     start if the file does not exist.
//   - SnapshotFile: path of the on-disk directory snapshot written by SAV.
//   - SnapshotPassphrase: when non-empty, snapshots are sealed with a key
//     derived from this passphrase.
//   - DatabaseDSN: PostgreSQL DSN (pgx). When empty the in-memory store with
//     file snapshots is used instead.
//   - ReadTimeout: per-connection deadline for reading a complete request.
//   - S3RootUser / S3RootPassword: credentials for the S3-compatible backend.
//   - S3Bucket / S3Region / S3BaseEndpoint / S3ObjectKey: object storage
//     settings for snapshot replication. Replication is disabled while
//     S3BaseEndpoint is empty.
type Config struct {
	Addr               string
	KeyFile            string
	SnapshotFile       string
	SnapshotPassphrase string
	DatabaseDSN        string
	ReadTimeout        time.Duration
	S3RootUser         string
	S3RootPassword     string
	S3Bucket           string
	S3Region           string
	S3BaseEndpoint     string
	S3ObjectKey        string
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.Addr = ":9999"
	c.KeyFile = "server_rsa.pem"
	c.SnapshotFile = "profkeeper.dat"
	c.SnapshotPassphrase = ""
	c.DatabaseDSN = ""
	c.ReadTimeout = 30 * time.Second
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "profkeeper"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = ""
	c.S3ObjectKey = "profkeeper.dat"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
