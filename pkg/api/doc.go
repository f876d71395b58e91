/*
Package api exposes an Engine's operational surface over plain HTTP:
/health (liveness), /ready (readiness: primary namespace bootstrapped and
content store reachable), and /metrics (Prometheus exposition).

The key-value RPC surface itself (lookup, commit, fence, ...) is exposed
directly as Go methods on engine.Engine; this package only wraps the
operational side-channel a deployment's load balancer or orchestrator
polls.
*/
package api
