// Package notify delivers best-effort downstream notifications: wallet funding
// requests and on-chain role grants over NATS JetStream, and site-open pings to
// the P2P site service over HTTP.
//
// Every notification carries an idempotency key derived from its target resource
// (funding:<address>, role-grant:<principal>:<org>, site-open:<peerId>) so that
// receivers can deduplicate repeated deliveries. Notifications run on a Dispatcher
// and never block or fail the request that triggered them.
package notify
