package marketplace_client

const (
	// API Endpoints
	AuctionsEndpoint = "/auction"

	// Headers
	AuthorizationHeader = "Authorization"
	IdempotencyHeader   = "Idempotency-Key"

	// Paging
	DefaultPageSize = 20
	MaxPageSize     = 100
)
