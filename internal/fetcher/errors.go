package fetcher

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyResult indicates the upstream answered but carried no usable data,
// e.g. a P2P search with zero ads.
var ErrEmptyResult = errors.New("upstream returned no usable data")

// UpstreamHTTPError reports a non-2xx status from a source.
type UpstreamHTTPError struct {
	Source     string
	StatusCode int
	Body       string
}

func (e *UpstreamHTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body != "" {
		return fmt.Sprintf("%s: upstream status %d: %s", e.Source, e.StatusCode, body)
	}
	return fmt.Sprintf("%s: upstream status %d", e.Source, e.StatusCode)
}

// ParseError reports that an expected element or value was missing or
// non-numeric in a scraped document.
type ParseError struct {
	Source string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: parse: %s", e.Source, e.Reason)
}
