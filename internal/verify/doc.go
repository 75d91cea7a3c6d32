// Package verify defines the contract every payment rail verifier implements.
//
// A verifier proves that an off-chain purchase is backed by a real transfer on
// one rail. It answers with an Outcome for every business-level result and
// reserves Go errors for infrastructure trouble:
//
//   - Outcome{OK: true}: the transfer exists, reached the treasury, carried
//     enough value, and the verifier reports its finality depth.
//   - Outcome{OK: false, Reason: ...}: the transfer was understood but does
//     not (yet) satisfy the Expectation. Reason.Retryable tells callers
//     whether waiting can change the answer.
//   - error: the upstream could not be reached, rejected the request,
//     reported an error, or answered with something unparseable. See
//     IsInfrastructure.
//
// # Amounts
//
// Amounts travel as base-10 strings of integer atomic units (wei, satoshis,
// drops, platform units). They are compared with math/big and never pass
// through float64.
package verify
