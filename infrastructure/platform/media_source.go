package platform

import (
	"context"
	"io"
	"net/http"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
)

// HTTPMediaSource streams media from its URL without buffering the whole file.
type HTTPMediaSource struct {
	client *http.Client
}

func NewHTTPMediaSource(client *http.Client) *HTTPMediaSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPMediaSource{client: client}
}

var _ repository.IMediaSource = (*HTTPMediaSource)(nil)

func (s *HTTPMediaSource) Open(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	if url == "" {
		return nil, 0, model.ValidationRejected("media", "media url is empty")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, model.ValidationRejected("media", err.Error())
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, ClassifyTransport("media", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
			// A missing or private source file will not heal on retry.
			return nil, 0, model.ValidationRejected("media", "media not reachable: "+resp.Status)
		}
		return nil, 0, ClassifyStatus("media", resp.StatusCode, body)
	}
	return resp.Body, resp.ContentLength, nil
}
