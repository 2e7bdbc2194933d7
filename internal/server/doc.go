// Package server exposes a RemoteStore over HTTP.
//
// Routes:
//
//	GET    /rest/v1/{table}?<filter>      rows matching the filter
//	POST   /rest/v1/{table}               insert, returns the stored row
//	PATCH  /rest/v1/{table}/{id}          partial update, returns the row
//	DELETE /rest/v1/{table}/{id}          delete
//	GET    /realtime/v1/{table}?<filter>  websocket change feed
//	GET    /auth/v1/user                  the caller's user
//	GET    /metrics                       Prometheus metrics
//	GET    /healthz                       liveness
//
// Every route except /metrics and /healthz requires a bearer token issued
// by auth.Issuer. Failures are reported as {"message": "..."} with a status
// derived from the store error.
package server
