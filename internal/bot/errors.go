package bot

import "errors"

var (
	// ErrAlreadyRunning is returned when Start is called on a running bot
	ErrAlreadyRunning = errors.New("bot is already running")

	// ErrNoEligibleAccounts is returned when no account has a steam id
	ErrNoEligibleAccounts = errors.New("no accounts with a steam id to start")
)
