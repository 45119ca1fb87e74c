package session

import "errors"

var (
	// ErrInvalidCredentials is returned when the backend rejects a login.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrSessionNotFound is returned when a session record is missing or corrupt.
	ErrSessionNotFound = errors.New("session not found")

	// ErrTokenExpired is returned when a refresh was rejected. The session has been dropped.
	ErrTokenExpired = errors.New("token expired")

	// ErrProfileFetchFailed is returned when the profile of a session could not be loaded.
	// The session has been dropped.
	ErrProfileFetchFailed = errors.New("profile fetch failed")

	// ErrStorageFailure wraps write errors of a Store or Pointer.
	ErrStorageFailure = errors.New("session storage failure")

	// ErrNotAuthenticated is returned by operations that need an active session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrBackendUnavailable marks transport failures talking to the auth backend.
	ErrBackendUnavailable = errors.New("auth backend unavailable")

	// ErrUnauthorized is wrapped by Backend implementations when the server
	// rejects the presented credentials or token.
	ErrUnauthorized = errors.New("rejected by auth backend")

	// ErrCorruptRecord is returned when stored data cannot be decoded into a valid Record.
	ErrCorruptRecord = errors.New("corrupt session record")
)

// UserMessage maps an error returned by a Manager to a message fit for end users.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Invalid username or password."
	case errors.Is(err, ErrTokenExpired), errors.Is(err, ErrProfileFetchFailed):
		return "Your session has expired. Please log in again."
	case errors.Is(err, ErrSessionNotFound):
		return "That session is no longer available. Please log in again."
	case errors.Is(err, ErrNotAuthenticated):
		return "Please log in."
	case errors.Is(err, ErrBackendUnavailable):
		return "The server could not be reached. Please try again."
	default:
		return "Something went wrong. Please try again."
	}
}
