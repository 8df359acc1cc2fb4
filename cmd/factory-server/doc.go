// Package main (cmd/factory-server) serves the ledger factory API.
//
// On an empty state store the server installs its configuration from the
// --payment-ledger flag (or the default payment ledger). On a populated store it
// keeps the stored configuration unless --reinit is given.
//
// State lives in pebble under --state-dir, or in postgres when --postgres-dsn is set.
// Code module bytes live in the --module-storage backends (file, s3, vault, ipfs).
//
// Example usage against a simulated platform:
//
//	factory-server --listen-addr=0.0.0.0:8080 \
//	    --state-dir=./factory-state \
//	    --module-storage=file:///var/lib/ledger-factory/modules \
//	    --platform-rpc=simulated \
//	    --service-key=$SERVICE_KEY \
//	    --controller=0x1234567890abcdef1234567890abcdef12345678
package main
