package hls

import (
	"errors"
	"fmt"
)

// Kind classifies a failed engine step.
type Kind int

const (
	KindTransport Kind = iota + 1
	KindStatus
	KindURL
	KindParse
	KindNoVariantStream
	KindEmptySegment
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindStatus:
		return "http_status"
	case KindURL:
		return "url"
	case KindParse:
		return "parse"
	case KindNoVariantStream:
		return "no_variant_stream"
	case KindEmptySegment:
		return "empty_segment"
	default:
		return "unknown"
	}
}

var (
	// ErrNoVariantStream is returned when a master playlist lists no variants.
	ErrNoVariantStream = errors.New("no variant stream found")

	// ErrParse is returned for documents that are not the expected playlist type.
	ErrParse = errors.New("playlist parsing error")

	// ErrEmptySegment is returned when a segment download has a zero-length body.
	ErrEmptySegment = errors.New("got empty segment from server")

	// ErrHTTPStatus is returned for non-2xx responses.
	ErrHTTPStatus = errors.New("unexpected http status")

	// ErrInvalidURL is returned for URLs that cannot be parsed or are refused.
	ErrInvalidURL = errors.New("invalid url")
)

var kindSentinels = map[Kind]error{
	KindStatus:          ErrHTTPStatus,
	KindURL:             ErrInvalidURL,
	KindParse:           ErrParse,
	KindNoVariantStream: ErrNoVariantStream,
	KindEmptySegment:    ErrEmptySegment,
}

// Error is the failure of one network or parse operation. None of them are
// fatal; the session loop retries the step that produced it.
type Error struct {
	Op   string // "manifest", "playlist", "segment"
	URL  string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.URL, e.Kind)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind, so errors.Is(err, ErrParse) holds for
// every parse failure regardless of the wrapped decoder error.
func (e *Error) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
