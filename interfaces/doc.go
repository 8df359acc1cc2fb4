// Package interfaces defines core interfaces and types for the ledger factory,
// separating interface definitions from implementations.
//
// # Domain Types
//
//   - Identity: 20-byte caller address; the zero value is anonymous
//   - InstanceHandle: 20-byte platform identifier of a compute instance
//   - InstanceKind: ledger or index
//   - ProvisionedInstance: registry record {handle, kind, installed}
//   - ServiceConfig: the payment ledger trusted by the admission guard
//
// # Remote Collaborators
//
// Platform: management interface of the execution platform, allocating
// compute instances and installing code modules in install or upgrade mode.
//
// Ledger and LedgerResolver: payment ledgers supporting pre-authorized
// deductions, used by the payment admission guard.
//
// # Storage Interfaces
//
// StorageBackend: content-addressed storage for code module blobs across
// multiple backend types (file, S3, IPFS, Vault).
//
// StorageBackendFactory: creates storage backends from URI strings and manages
// multi-backend configurations for redundant storage.
//
// SlotStore: the named slots (configuration, code module pointers, per-client
// registry) that survive process restart and upgrade.
package interfaces
