// Package client provides typed convenience methods over the Client RPC
// Surface (orig §4.3/§6), used by pkg/api's leader forwarding and by tests.
// See client.go.
package client
