package model

import (
	"strconv"

	"github.com/m-mizutani/goerr/v2"
)

// Params carries caller supplied parameters of an analysis request
type Params map[string]string

const (
	ParamWordLimit = "word_limit"
	ParamLabel     = "label"
)

// Int reads key as a positive integer
func (p Params) Int(key string) (int, error) {
	raw, ok := p[key]
	if !ok || raw == "" {
		return 0, goerr.Wrap(ErrInvalidRequest, "missing parameter", goerr.V("key", key))
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, goerr.Wrap(ErrInvalidRequest, "parameter must be an integer", goerr.V("key", key), goerr.V("value", raw))
	}
	if n <= 0 {
		return 0, goerr.Wrap(ErrInvalidRequest, "parameter must be positive", goerr.V("key", key), goerr.V("value", n))
	}
	return n, nil
}

// String returns key or def when absent
func (p Params) String(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}
