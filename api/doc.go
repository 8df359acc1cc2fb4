/*
Package api defines the HTTP surface of the ledger factory: request and response
types, caller authentication, and the client interfaces.

The API is organized into two subpackages:

1. factoryhandler - chi routes that translate HTTP requests into provisioning.Service calls
2. clients - Go clients for the client and controller APIs

# Caller Identity

Every request may carry a secp256k1 signature in the X-Caller-Signature header,
together with X-Caller-Timestamp (unix seconds) and X-Caller-Nonce. The signature
covers the method, the path, the timestamp, the nonce and the body, hashed with the
Ethereum text-message scheme. The caller's identity is the address of the recovered
public key. Requests without a signature are anonymous.

A signed request is accepted once, and only while its timestamp is within the
Authenticator's window of the server clock.

# Attached Balance

Attached balance is never declared by the caller. It is deposited beforehand into the
caller's escrow subaccount of the service on the balance ledger, which
GET /api/v1/payment-accounts returns. Each paid call moves the fee out of escrow.

# Errors

Every non-2xx response carries {"error": {"kind": ..., "message": ...}} where kind
is one of the provisioning error kinds (NoCodeStored, AllocationFailed,
InitArgsEncodingFailed, WasmInstallationFailed, PaymentError, FetchFailed,
RegistryFull, Unauthorized, BadRequest, Internal).
*/
package api
