/*
Package compute talks to the cloud provider.

Client wraps the DigitalOcean API behind the provider-neutral API interface
the rest of the service consumes: droplets, managed Kubernetes clusters,
DNS records, SSH keys, and the size/image/version catalogs.

# Architecture

	┌─────────────── pkg/compute ────────────────────────┐
	│                                                     │
	│  API interface                                      │
	│     │                                               │
	│  Client                                             │
	│     │── retry layer (withRetry)                     │
	│     │     429  → wait max(backoff, Retry-After)     │
	│     │     5xx  → exponential backoff 1s..30s        │
	│     │     4xx  → fail immediately                   │
	│     │     net  → exponential backoff                │
	│     │                                               │
	│     │── catalog cache (pkg/cache, 1h TTL)           │
	│     │     sizes, images, domains, cluster options   │
	│     │                                               │
	│     └── godo (DigitalOcean SDK)                     │
	│                                                     │
	└─────────────────────────────────────────────────────┘

Every resource the client creates carries CreatorTag plus an owner tag, so
anything this service made is identifiable from the provider console alone.

Mutating calls are bounded: a create or delete makes at most 1+maxRetries
attempts and then surfaces ErrRetriesExhausted wrapping the provider error.
*/
package compute
