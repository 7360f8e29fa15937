package channel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"sync"
)

// Stream yields the data of successive server-sent events.
type Stream interface {
	// Next blocks until the next event and returns its data. It returns
	// io.EOF when the server ends the stream.
	Next() ([]byte, error)
	Close() error
}

// Dialer opens event streams. The stream lives until ctx is cancelled or
// the stream is closed.
type Dialer interface {
	Dial(ctx context.Context, url string) (Stream, error)
}

// SSEDialer opens text/event-stream responses over HTTP.
type SSEDialer struct {
	// Client must not set a Timeout; streams stay open indefinitely.
	Client *http.Client
}

// NewSSEDialer creates a dialer on a dedicated HTTP client.
func NewSSEDialer() *SSEDialer {
	return &SSEDialer{Client: &http.Client{}}
}

// Dial issues the GET and returns once response headers arrived.
func (d *SSEDialer) Dial(ctx context.Context, url string) (Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type")); mediaType != "text/event-stream" {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}

	return newSSEStream(resp.Body), nil
}

type sseStream struct {
	body   io.ReadCloser
	reader *bufio.Reader

	closeOnce sync.Once
	closeErr  error
	started   bool
}

func newSSEStream(body io.ReadCloser) *sseStream {
	return &sseStream{body: body, reader: bufio.NewReader(body)}
}

// Next parses lines until a blank line completes an event carrying data.
// Events with a type other than "message" are skipped, as are comments and
// the id and retry fields.
func (s *sseStream) Next() ([]byte, error) {
	var (
		data      strings.Builder
		hasData   bool
		eventType string
	)

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")

		if !s.started {
			line = strings.TrimPrefix(line, "\ufeff")
			s.started = true
		}

		if line == "" {
			if hasData && (eventType == "" || eventType == "message") {
				return []byte(data.String()), nil
			}
			data.Reset()
			hasData = false
			eventType = ""
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if found {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "event":
			eventType = value
		}
	}
}

func (s *sseStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}
