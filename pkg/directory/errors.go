package directory

import "errors"

var (
	errNodeNotFound   = errors.New("node not found")
	errNoHealthyNodes = errors.New("no healthy nodes available")
)
