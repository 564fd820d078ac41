package downstream

import "time"

// DefaultRequestTimeout applies when a tenant sets no request_timeout.
const DefaultRequestTimeout = 30 * time.Second

// Tenant is the per-tenant engine configuration. It is read-only once a
// Client has been built from it.
type Tenant struct {
	ID             string
	IngestAPI      string
	EngineAPIURI   string
	AccessToken    string
	APIKey         string
	RequestTimeout time.Duration
}

func (t Tenant) timeout() time.Duration {
	if t.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return t.RequestTimeout
}

// BreakerConfig enables a circuit breaker in front of a tenant's engines.
type BreakerConfig struct {
	Enabled bool
	// ConsecutiveFailures of retryable results that open the breaker.
	ConsecutiveFailures uint32
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears the closed-state counts; 0 never clears them.
	Interval time.Duration
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

func (b *BreakerConfig) applyDefaults() {
	if b.ConsecutiveFailures == 0 {
		b.ConsecutiveFailures = 5
	}
	if b.MaxRequests == 0 {
		b.MaxRequests = 1
	}
	if b.OpenTimeout == 0 {
		b.OpenTimeout = 30 * time.Second
	}
}
