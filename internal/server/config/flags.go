package config

import (
	"flag"
	"os"
	"time"

	"profkeeper/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   TCP bind address (e.g., ":9999")
//	-k string   RSA private key file
//	-f string   snapshot file written by SAV
//	-s string   snapshot sealing passphrase (empty disables sealing)
//	-d string   PostgreSQL DSN (empty selects the in-memory store)
//	-t int      per-connection read timeout, seconds
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-o string   S3 object key for the snapshot
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - The timeout flag is accepted as an integer in seconds and then converted
//     to a time.Duration value.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-k", "-f", "-s", "-d", "-t", "-u", "-p", "-b", "-g", "-e", "-o"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.Addr, "a", config.Addr, "address and port to run server")
	fs.StringVar(&config.KeyFile, "k", config.KeyFile, "RSA private key file")
	fs.StringVar(&config.SnapshotFile, "f", config.SnapshotFile, "snapshot file")
	fs.StringVar(&config.SnapshotPassphrase, "s", config.SnapshotPassphrase, "snapshot passphrase")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")

	readTimeout := fs.Int("t", int(config.ReadTimeout.Seconds()), "read timeout (in seconds)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 root bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 root region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3ObjectKey, "o", config.S3ObjectKey, "S3 snapshot object key")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.ReadTimeout = time.Duration(*readTimeout) * time.Second
}
