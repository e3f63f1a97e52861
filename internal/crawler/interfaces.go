package crawler

import (
	"context"
	"time"
)

// Fetcher retrieves a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// Extractor turns a fetched document into visible text and absolute links.
type Extractor interface {
	Extract(body []byte, baseURL string) (Extraction, error)
}

// Sink persists saved pages.
type Sink interface {
	Save(ctx context.Context, page Page) error
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
