package auth

// HeaderInternalSecret carries the shared secret the edge router stamps
// on every proxied request. API routes that must not be reachable
// directly compare it against the configured value.
const HeaderInternalSecret = "X-Internal-Secret"

// HeaderAPIKey carries the raw ingest credential on agent requests.
const HeaderAPIKey = "X-API-Key"
