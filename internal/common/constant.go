package common

const (
	// SessionCookieName is the browser cookie carrying the session token.
	SessionCookieName = "fs_session"

	// SessionHeaderName is the metadata key used by non-browser clients.
	SessionHeaderName = "X-Session-Token"

	// RequestIDHeaderName is echoed back on every HTTP response.
	RequestIDHeaderName = "X-Request-ID"
)
