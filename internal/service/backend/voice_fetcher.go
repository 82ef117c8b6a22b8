package backend

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/pkg/errors"
)

var errVoiceFetch = errors.New("Failed to fetch custom voice file")

// HTTPVoiceFetcher downloads a configured custom voice. file:// URLs are read from disk.
type HTTPVoiceFetcher struct {
	http *http.Client
}

func NewHTTPVoiceFetcher(httpClient *http.Client) *HTTPVoiceFetcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPVoiceFetcher{http: httpClient}
}

func (f *HTTPVoiceFetcher) FetchVoice(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse voice url")
	}

	if u.Scheme == "file" {
		data, err := os.ReadFile(u.Path)
		if err != nil {
			return nil, errVoiceFetch
		}
		return data, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build voice request")
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errVoiceFetch
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
}
