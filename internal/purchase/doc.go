// Package purchase turns a claimed payment into a finalized purchase.
//
// Service.Verify is the request-time path: it resolves the rail and price,
// creates the pending purchase, calls the rail verifier once and settles the
// result. Service.Reconcile re-verifies one pending purchase for the
// background worker. Both paths share the same settle step, and both rely on
// the store's guarded transitions for exactly-once completion.
package purchase
