package server

import "errors"

var ErrMissingID = errors.New("missing track id")
