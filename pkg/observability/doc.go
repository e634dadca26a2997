/*
Package observability turns controller lifecycle events into logs and Prometheus metrics.

Both are exposed as domain.LifecycleHooks, so they are attached with
runtime.WithLifecycleHooks or session.WithLifecycleHooks and combined with Merge.
*/
package observability
