/*
Package api holds the wire types, server configuration and client plumbing shared by
the custody service's HTTP APIs.

# Subpackages

  - servers: HTTP server lifecycle, health probes and drain handling
  - authhandler: public login, refresh, logout and session endpoints
  - internalhandler: private key release, for network-isolated internal callers

# Errors

Every non-2xx response carries an ErrorResponse. Unauthorized responses are
deliberately generic. A login that could not finish provisioning answers 503 with
"registration did not complete" so clients can tell it apart from bad credentials
and retry.

DoJSON returns a *StatusError for non-2xx responses which matches
interfaces.ErrUnauthorized, interfaces.ErrNotFound or interfaces.ErrProvisioningFailed
depending on the status code.
*/
package api
