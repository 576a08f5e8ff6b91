package source

import "errors"

var (
	// ErrAuthRequired means no valid session exists. The core pauses remote
	// operation until the auth collaborator resolves it; there is no token
	// refresh logic anywhere in this module.
	ErrAuthRequired = errors.New("calendar: auth required")
)
