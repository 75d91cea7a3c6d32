// Package rails implements verify.Verifier for each supported payment rail
// and the Registry that builds them from configuration rows.
//
// Every upstream call is bounded by a per-request timeout and reports
// failures with the infrastructure error types from package verify.
package rails
