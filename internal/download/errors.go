package download

import "fmt"

// Error codes for the download phase. Callers branch on these, so the
// numeric values are part of the package contract.
const (
	CodeInvalidURL      = 100
	CodeNetworkError    = 101
	CodeInvalidResponse = 102
	CodeFilesystemError = 103
)

// Error is a domain-tagged download failure.
type Error struct {
	Code    int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("download error %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("download error %d: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NetworkError reports a non-2xx HTTP response. HTTP-level failures are
// never retried: a 404 will not become a 200 on retry.
type NetworkError struct {
	StatusCode int
	Message    string
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("download error %d: HTTP %d: %s", CodeNetworkError, e.StatusCode, e.Message)
}

func invalidURL(rawURL string, err error) *Error {
	return &Error{Code: CodeInvalidURL, Message: fmt.Sprintf("invalid URL %q", rawURL), Err: err}
}

func filesystemError(msg string, err error) *Error {
	return &Error{Code: CodeFilesystemError, Message: msg, Err: err}
}
