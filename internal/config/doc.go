// Package config loads roomtodo configuration.
//
// Files are CUE, JSON or YAML. Their values are unified with the embedded
// #Config schema, which supplies defaults and rejects unknown fields.
// Environment variables override file values:
//
//	ROOMTODO_SERVER_URL   client.url
//	ROOMTODO_TOKEN        client.token
//	ROOMTODO_JWT_SECRET   server.jwt_secret
//	ROOMTODO_DB           server.db
//
// Command-line flags override both; that layer lives in the cli package.
package config
