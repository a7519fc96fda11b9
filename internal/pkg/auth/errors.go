package auth

import "fmt"

// CredentialError means the identity provider rejected the credentials
// themselves. It is not retryable and is surfaced to process startup.
type CredentialError struct {
	Reason string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credentials rejected: %s", e.Reason)
}

// TransientAuthError wraps a renewal failure that left the stored token
// triple untouched. The next scheduled renewal retries.
type TransientAuthError struct {
	Err error
}

func (e *TransientAuthError) Error() string {
	return fmt.Sprintf("transient auth failure: %v", e.Err)
}

func (e *TransientAuthError) Unwrap() error {
	return e.Err
}
