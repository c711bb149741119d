// Package main hosts the listing harvester entrypoint.
//
// Architecture overview:
//   - Fetch loop: internal/dispatcher drives internal/cycle back to back. Each cycle plans page fetches from the
//     cursor store, fans them out through leased proxies with a bounded errgroup, de-duplicates the entries and
//     forwards the unique batch to the collector through internal/uplink.
//   - Proxies: internal/proxypool leases egress descriptors, cools down rate-limited ones and tops itself up in the
//     background from a chain of providers (static list, rotating session gateway, provisioning API).
//   - Reporting: every cycle report lands in internal/stats (status counters and Prometheus gauges), an in-memory
//     history, the log, and optionally a Postgres table and a Pub/Sub topic.
//   - HTTP: internal/api serves /status, health probes, /cycles and /metrics on the configured port.
//
// Quick checklist:
//   - Required: HARVESTER_LISTING_PLACE_ID, HARVESTER_UPLINK_COLLECTOR_URL and at least one proxy source
//     (HARVESTER_PROXY_STATIC, HARVESTER_PROXY_SESSION_HOST or HARVESTER_PROXY_PROVIDER_ENDPOINT).
//   - Optional: HARVESTER_DB_DSN for cycle history, HARVESTER_PUBSUB_PROJECT_ID and HARVESTER_PUBSUB_TOPIC_NAME for
//     report notifications, PORT to override the listen port.
//   - Run locally: go run ./cmd/harvester -config config.yaml
package main
