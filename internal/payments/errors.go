package payments

import "fmt"

// ConfigError signals missing provider credentials. It is raised before any
// network call and is never retryable.
type ConfigError struct {
	Provider string
	Missing  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: missing configuration: %s", e.Provider, e.Missing)
}

// ProviderAPIError wraps a transport or API-level failure: a non-2xx HTTP
// response or a provider error envelope. The raw body is kept for server-side
// diagnostics and must never be surfaced to the end user verbatim.
type ProviderAPIError struct {
	Provider   string
	Operation  string
	StatusCode int
	Body       string
}

func (e *ProviderAPIError) Error() string {
	return fmt.Sprintf("%s %s failed: status=%d body=%s", e.Provider, e.Operation, e.StatusCode, e.Body)
}

// Retryable reports whether the failure is worth a bounded retry. Only
// transport-level trouble qualifies; 4xx responses and business declines are
// never retried.
func (e *ProviderAPIError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == 429 || e.StatusCode >= 500
}
