// Package hls implements the network side of the player: resolving a
// channel's manifest to a media playlist, walking that playlist as it slides,
// and downloading segments.
package hls

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/mogiioin/hls-m3u8/m3u8"
)

const (
	// initial buffer for a segment download; typical AAC segments are ~200 KiB
	segmentEstimate = 1024 * 200

	DefaultTimeout      = 10 * time.Second
	DefaultSegmentLimit = 1024 * 1000 * 50
)

// Options configures a Client.
type Options struct {
	UserAgent    string
	Timeout      time.Duration // whole-request timeout, DefaultTimeout when zero
	SegmentLimit int64         // segment byte ceiling, DefaultSegmentLimit when zero
	HTTPSOnly    bool

	// HTTPClient overrides the transport (tests pass httptest's TLS client).
	// Its Timeout is replaced by Options.Timeout.
	HTTPClient *http.Client
}

// Client issues the manifest, playlist and segment requests of one engine.
// It never retries; callers decide when to try again.
type Client struct {
	http      *http.Client
	userAgent string
	limit     int64
	httpsOnly bool
	log       *slog.Logger
}

// NewClient returns a Client for opts.
func NewClient(opts Options, log *slog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	limit := opts.SegmentLimit
	if limit <= 0 {
		limit = DefaultSegmentLimit
	}

	hc := &http.Client{}
	if opts.HTTPClient != nil {
		c := *opts.HTTPClient
		hc = &c
	}
	hc.Timeout = timeout

	return &Client{
		http:      hc,
		userAgent: opts.UserAgent,
		limit:     limit,
		httpsOnly: opts.HTTPSOnly,
		log:       log,
	}
}

// ResolveManifest fetches manifestURL and returns the media playlist URL to
// walk. For a master playlist that is the variant whose bandwidth is closest
// to target; for a media playlist it is manifestURL itself.
func (c *Client) ResolveManifest(ctx context.Context, manifestURL *url.URL, target uint64) (*url.URL, error) {
	pl, listType, err := c.decode(ctx, "manifest", manifestURL)
	if err != nil {
		return nil, err
	}

	switch listType {
	case m3u8.MASTER:
		master, ok := pl.(*m3u8.MasterPlaylist)
		if !ok {
			return nil, &Error{Op: "manifest", URL: manifestURL.String(), Kind: KindParse, Err: ErrParse}
		}
		v, ok := SelectVariant(master.Variants, target)
		if !ok {
			return nil, &Error{Op: "manifest", URL: manifestURL.String(), Kind: KindNoVariantStream, Err: ErrNoVariantStream}
		}
		media, err := resolve(manifestURL, v.URI)
		if err != nil {
			return nil, &Error{Op: "manifest", URL: v.URI, Kind: KindURL, Err: err}
		}
		c.log.Debug("variant selected",
			slog.String("url", media.String()),
			slog.Uint64("bandwidth", uint64(v.Bandwidth)),
			slog.Uint64("target", target))
		return media, nil
	case m3u8.MEDIA:
		return manifestURL, nil
	default:
		return nil, &Error{Op: "manifest", URL: manifestURL.String(), Kind: KindParse, Err: ErrParse}
	}
}

// SelectVariant returns the variant minimising |bandwidth - target|. Ties go
// to the variant listed first. I-frame-only variants are never selected.
func SelectVariant(variants []*m3u8.Variant, target uint64) (*m3u8.Variant, bool) {
	var best *m3u8.Variant
	var bestDiff uint64
	for _, v := range variants {
		if v == nil || v.Iframe {
			continue
		}
		d := absDiff(uint64(v.Bandwidth), target)
		if best == nil || d < bestDiff {
			best, bestDiff = v, d
		}
	}
	return best, best != nil
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// FetchMediaPlaylist fetches and decodes the media playlist at u.
func (c *Client) FetchMediaPlaylist(ctx context.Context, u *url.URL) (*m3u8.MediaPlaylist, error) {
	pl, listType, err := c.decode(ctx, "playlist", u)
	if err != nil {
		return nil, err
	}
	media, ok := pl.(*m3u8.MediaPlaylist)
	if listType != m3u8.MEDIA || !ok {
		return nil, &Error{Op: "playlist", URL: u.String(), Kind: KindParse, Err: ErrParse}
	}
	return media, nil
}

// FetchSegment downloads the segment at u. Bodies longer than the segment
// limit are cut at the limit. An empty body is ErrEmptySegment.
func (c *Client) FetchSegment(ctx context.Context, u *url.URL) ([]byte, error) {
	resp, err := c.get(ctx, "segment", u)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf := bytes.NewBuffer(make([]byte, 0, segmentEstimate))
	if _, err := buf.ReadFrom(io.LimitReader(resp.Body, c.limit)); err != nil {
		return nil, &Error{Op: "segment", URL: u.String(), Kind: KindTransport, Err: err}
	}
	if buf.Len() == 0 {
		return nil, &Error{Op: "segment", URL: u.String(), Kind: KindEmptySegment, Err: ErrEmptySegment}
	}
	if int64(buf.Len()) == c.limit {
		var probe [1]byte
		if n, _ := resp.Body.Read(probe[:]); n > 0 {
			c.log.Warn("segment truncated at size limit",
				slog.String("url", u.String()),
				slog.Int64("limit", c.limit))
		}
	}
	return buf.Bytes(), nil
}

func (c *Client) decode(ctx context.Context, op string, u *url.URL) (m3u8.Playlist, m3u8.ListType, error) {
	resp, err := c.get(ctx, op, u)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	pl, listType, err := m3u8.DecodeFrom(resp.Body, false)
	if err != nil {
		return nil, 0, &Error{Op: op, URL: u.String(), Kind: KindParse, Err: fmt.Errorf("%w: %v", ErrParse, err)}
	}
	if pl == nil {
		return nil, 0, &Error{Op: op, URL: u.String(), Kind: KindParse, Err: ErrParse}
	}
	return pl, listType, nil
}

func (c *Client) get(ctx context.Context, op string, u *url.URL) (*http.Response, error) {
	if c.httpsOnly && u.Scheme != "https" {
		return nil, &Error{Op: op, URL: u.String(), Kind: KindURL, Err: fmt.Errorf("%w: scheme %q refused, https only", ErrInvalidURL, u.Scheme)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &Error{Op: op, URL: u.String(), Kind: KindURL, Err: fmt.Errorf("%w: %v", ErrInvalidURL, err)}
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: op, URL: u.String(), Kind: KindTransport, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &Error{Op: op, URL: u.String(), Kind: KindStatus, Err: fmt.Errorf("%w: %s", ErrHTTPStatus, resp.Status)}
	}
	return resp, nil
}

// resolve parses ref and resolves it against base when it is relative.
func resolve(base *url.URL, ref string) (*url.URL, error) {
	r, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return base.ResolveReference(r), nil
}
