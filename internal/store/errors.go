package store

import "errors"

var ErrJobNotFound = errors.New("job not found")
