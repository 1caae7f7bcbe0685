/*
Package servers runs the HTTP listeners of the custody service.

A Server mounts one or more API handlers next to the operational endpoints:

  - GET /livez   - liveness probe
  - GET /readyz  - readiness probe, 503 while draining
  - GET /drain   - mark the server not ready ahead of a shutdown
  - GET /undrain - mark the server ready again

Every route is access-logged with the flashbots httplogger middleware. pprof is
mounted under /debug when enabled, and a Prometheus metrics server is started
alongside when the config names a metrics address.

The custody server runs two instances: the public one with the auth API, and an
internal one, bound to a network-isolated address, which releases private keys.
*/
package servers
