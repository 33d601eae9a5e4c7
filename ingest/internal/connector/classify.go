package connector

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net"
	"strings"

	"github.com/hazyhaar/datatrack/derived"
	"github.com/hazyhaar/datatrack/ingest/internal/extract"
	"github.com/hazyhaar/datatrack/ingest/internal/fetch"
	"github.com/hazyhaar/datatrack/ingest/internal/pdftext"
)

// ErrParse marks a payload or record that could not be normalized.
var ErrParse = errors.New("connector: parse")

// Class categorizes a run error.
type Class string

const (
	ClassTransient Class = "transient"  // 5xx, 408, timeouts, network
	ClassRateLimit Class = "rate_limit" // 429
	ClassNotFound  Class = "not_found"  // 404, 410
	ClassAuth      Class = "auth"       // 401
	ClassForbidden Class = "forbidden"  // 403
	ClassParse     Class = "parse"
	ClassConfig    Class = "config" // blocked URL, bad config
	ClassUnknown   Class = "unknown"
)

// Classification is the class of an error and whether a later run may
// succeed without intervention.
type Classification struct {
	Class     Class `json:"class"`
	Retryable bool  `json:"retryable"`
}

// Classify maps an error from a fetch, parse or store step to its class.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Class: ClassUnknown}
	}

	var se *fetch.StatusError
	if errors.As(err, &se) {
		return classifyStatus(se.Code)
	}

	switch {
	case errors.Is(err, fetch.ErrBlocked), errors.Is(err, ErrInvalidConfig):
		return Classification{Class: ClassConfig}
	case errors.Is(err, ErrParse), errors.Is(err, derived.ErrInvalidRecord),
		errors.Is(err, pdftext.ErrNoText), errors.Is(err, extract.ErrNoContent):
		return Classification{Class: ClassParse}
	case errors.Is(err, context.DeadlineExceeded):
		return Classification{Class: ClassTransient, Retryable: true}
	}

	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		csvErr    *csv.ParseError
		netErr    net.Error
	)
	switch {
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.As(err, &csvErr):
		return Classification{Class: ClassParse}
	case errors.As(err, &netErr):
		return Classification{Class: ClassTransient, Retryable: true}
	}

	msg := strings.ToLower(err.Error())
	if isParseError(msg) {
		return Classification{Class: ClassParse}
	}
	if isNetworkError(msg) {
		return Classification{Class: ClassTransient, Retryable: true}
	}
	return Classification{Class: ClassUnknown}
}

func classifyStatus(code int) Classification {
	switch {
	case code == 429:
		return Classification{Class: ClassRateLimit, Retryable: true}
	case code == 401:
		return Classification{Class: ClassAuth}
	case code == 403:
		return Classification{Class: ClassForbidden}
	case code == 404 || code == 410:
		return Classification{Class: ClassNotFound}
	case code == 408 || code >= 500:
		return Classification{Class: ClassTransient, Retryable: true}
	}
	return Classification{Class: ClassUnknown}
}

func isParseError(msg string) bool {
	return strings.Contains(msg, "xml") && (strings.Contains(msg, "parse") || strings.Contains(msg, "syntax")) ||
		strings.Contains(msg, "json") && (strings.Contains(msg, "unmarshal") || strings.Contains(msg, "invalid")) ||
		strings.Contains(msg, "malformed pdf")
}

func isNetworkError(msg string) bool {
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "unexpected eof") ||
		strings.Contains(msg, "tls handshake")
}
