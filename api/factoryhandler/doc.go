// Package factoryhandler serves the ledger factory HTTP API.
//
// Client routes (any signed caller):
//
//	POST /api/v1/ledgers                    create a ledger, returns {handle}
//	POST /api/v1/indexes                    create an index for a ledger, returns {handle}
//	PUT  /api/v1/ledgers/{ledger_id}/index  point a ledger at its index
//	PUT  /api/v1/ledgers/{ledger_id}/symbol change a ledger's token symbol
//	PUT  /api/v1/ledgers/{ledger_id}/name   change a ledger's token name
//	GET  /api/v1/config                     service configuration
//	GET  /api/v1/instances                  instances provisioned by the caller
//
// Controller routes:
//
//	PUT  /api/admin/modules/{kind}               upload a code module (raw body)
//	POST /api/admin/modules/{kind}/fetch         download a code module from {url}
//	GET  /api/admin/modules/{kind}               describe the stored module
//	POST /api/admin/ledgers/{ledger_id}/upgrade  apply a partial ledger update
package factoryhandler
