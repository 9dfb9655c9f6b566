package steam

import "errors"

var (
	// ErrNotAuthenticated is returned when an action requires a live session
	ErrNotAuthenticated = errors.New("account is not authenticated")

	// ErrCommentsNotAllowed is returned when the target profile does not
	// accept comments from this account
	ErrCommentsNotAllowed = errors.New("profile settings do not allow you to add comments")

	// ErrGuardTimeout is returned when a Steam Guard code does not arrive in time
	ErrGuardTimeout = errors.New("steam guard code not provided in time")
)
