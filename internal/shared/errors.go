package shared

import "errors"

// ErrInvalidCredentials indicates a rejected operator key.
var ErrInvalidCredentials = errors.New("invalid credentials")
