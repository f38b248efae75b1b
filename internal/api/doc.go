// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/observances[...] for the daily and look-ahead queries.
//   - GET /v1/calendar.ics for an iCalendar subscription.
//   - /v1/sources, /v1/holidays, /v1/custom, /v1/categories, /v1/mode and
//     /v1/announcements for operators and announcement handlers.
package api
