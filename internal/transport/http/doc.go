// Package http implements the HTTP handlers of the validation service. It
// is a thin layer between transport and the engine: handlers parse and
// validate requests, delegate to the service interfaces, and transform
// errors into RFC 7807 problem responses.
//
// Each handler owns its sub-router via Routes() and is mounted by the app
// wiring:
//
//	/api/validation  table catalog, single-table runs, run-all
//	/api/dashboard   recent results, aggregate stats, trends, Excel export
//	/api/health      liveness and readiness
//
// Success responses share one envelope: {"status": "success", "data": ...}.
// Failures render application/problem+json.
package http
