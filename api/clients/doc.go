/*
Package clients provides a Go client for the ledger factory HTTP API.

FactoryClient signs every request with the caller's secp256k1 key, so the factory
sees the caller as the identity of that key. Controllers use the same client for
the admin routes.

	client := clients.NewFactoryClient("http://localhost:8080", key)
	accounts, err := client.PaymentAccounts()
	// deposit at least payment.Fee(payment.OpCreateLedger) into accounts.Escrow
	ledger, err := client.CreateLedger(initargs.LedgerOverrides{}, nil)

Error responses are returned as *APIError carrying the error kind.
*/
package clients
