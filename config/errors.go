package config

import "errors"

// ErrInvalidConfig is returned when a configuration fails validation or cannot be parsed.
var ErrInvalidConfig = errors.New("invalid configuration")
