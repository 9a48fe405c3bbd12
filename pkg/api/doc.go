// Package api implements the Client RPC Surface (orig §4.3/§6) over a
// *replication.Manager: envelope dispatch (dispatch.go), the in-memory
// session flag (session.go), leader-forwarding for writes received by a
// follower (server.go), and the READ_MESSAGES streaming subscription
// (subscribe.go).
package api
