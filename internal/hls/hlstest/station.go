package hlstest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

type response struct {
	status int
	body   []byte
}

// Station is a TLS origin serving playlists and segments registered by path.
// Unknown paths answer 404. Content can be replaced while a test runs to
// simulate a live playlist sliding forward.
type Station struct {
	*httptest.Server

	mu   sync.Mutex
	docs map[string]response
	hits map[string]int
}

// NewStation starts a station that is closed when the test finishes.
func NewStation(tb testing.TB) *Station {
	tb.Helper()
	s := &Station{
		docs: make(map[string]response),
		hits: make(map[string]int),
	}
	s.Server = httptest.NewTLSServer(http.HandlerFunc(s.serve))
	tb.Cleanup(s.Close)
	return s
}

func (s *Station) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.hits[r.URL.Path]++
	resp, ok := s.docs[r.URL.Path]
	s.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if strings.HasSuffix(r.URL.Path, ".m3u8") {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	}
	w.WriteHeader(resp.status)
	_, _ = w.Write(resp.body)
}

// Set serves body with 200 OK at path.
func (s *Station) Set(path, body string) {
	s.SetBytes(path, []byte(body))
}

// SetBytes serves body with 200 OK at path.
func (s *Station) SetBytes(path string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = response{status: http.StatusOK, body: body}
}

// SetStatus answers path with an empty body and the given status code.
func (s *Station) SetStatus(path string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[path] = response{status: status}
}

// SetWindow serves segments as a media playlist at path and a body for every
// segment, named after its Path relative to the playlist directory.
func (s *Station) SetWindow(path string, segments []Segment, ended bool) {
	dir := path[:strings.LastIndex(path, "/")+1]
	for _, seg := range segments {
		if !strings.Contains(seg.Path, "://") && !strings.HasPrefix(seg.Path, "/") {
			s.Set(dir+seg.Path, "audio:"+seg.Path)
		}
	}
	s.Set(path, BuildMediaPlaylist(segments, ended))
}

// Hits returns how many requests path has received.
func (s *Station) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// URL returns the absolute URL of path on this station.
func (s *Station) URL(path string) string {
	return s.Server.URL + path
}
