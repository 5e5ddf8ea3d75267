// Package api serves the view tables over HTTP.
//
// Reads go straight to the tables. Every write is submitted to the engine
// as a command and answered once the Run loop has applied it, so HTTP
// writes never race with reconciliation.
package api
