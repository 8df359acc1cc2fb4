// Package storage provides content-addressed storage for code modules with pluggable backends.
//
// Module bytes are identified by their SHA-256 hash and namespaced by instance kind
// (ledger or index). Backends are selected with location URIs:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/ledger-factory/modules
//   - s3://bucket-name/prefix?region=us-west-2
//   - ipfs://ipfs.example.com:5001/ledger-factory?timeout=30s
//   - vault://token@vault.example.com:8200/secret/ledger-factory
//
// MultiStorageBackend fans writes out to every available backend and reads from the
// first backend that has the module.
package storage
