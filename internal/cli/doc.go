// Package cli implements the roomtodo command line.
//
// "serve", "user" and "token" work on the server side: they open the
// SQLite database directly. Every other command is a client: it runs a
// sync core against the server named by --server (or client.url) with the
// token from --token (or client.token), performs one operation and exits.
// "watch" keeps the core running and prints each new view.
package cli
