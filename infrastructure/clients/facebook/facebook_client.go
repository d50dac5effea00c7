package facebook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"
	"social-publisher/infrastructure/configuration"
	"social-publisher/infrastructure/platform"

	"github.com/google/go-querystring/query"
)

const (
	Platform       = "facebook"
	defaultBaseURL = "https://graph.facebook.com/v19.0"
)

// Client posts page videos by URL. The Graph API pulls the file itself, so there is no part stage.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg configuration.PlatformConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return &Client{baseURL: base, httpClient: httpClient}
}

var _ repository.IPlatformAdapter = (*Client)(nil)

type videoForm struct {
	FileURL     string `url:"file_url,omitempty"`
	Title       string `url:"title,omitempty"`
	Description string `url:"description,omitempty"`
	Thumb       string `url:"thumb,omitempty"`
	Published   bool   `url:"published"`
	AccessToken string `url:"access_token"`
}

type graphError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func (c *Client) Platform() string { return Platform }

func (c *Client) Strategy() model.UploadStrategy { return model.SingleShot() }

func (c *Client) Validate(p model.PublishPayload) error {
	if p.VideoURL == "" {
		return model.ValidationRejected("validate", "facebook requires a video url")
	}
	if !strings.HasPrefix(p.VideoURL, "http://") && !strings.HasPrefix(p.VideoURL, "https://") {
		return model.ValidationRejected("validate", "facebook pulls video by public url")
	}
	return nil
}

func (c *Client) InitUpload(_ context.Context, _ model.AuthCredential, p model.PublishPayload) (*model.UploadHandle, error) {
	return &model.UploadHandle{
		UploadURL: p.VideoURL,
		Extra: map[string]string{
			"title":       p.Title,
			"description": platform.Caption(p.Description, p.Topics),
			"cover":       p.CoverURL,
		},
	}, nil
}

func (c *Client) UploadParts(context.Context, model.AuthCredential, *model.UploadHandle, repository.IMediaSource) ([]model.PartResult, error) {
	return nil, nil
}

// CompleteUpload hands the file url to the page as an unpublished video.
func (c *Client) CompleteUpload(ctx context.Context, cred model.AuthCredential, h *model.UploadHandle, _ int) (string, error) {
	form := videoForm{
		FileURL:     h.UploadURL,
		Title:       h.Extra["title"],
		Description: h.Extra["description"],
		Thumb:       h.Extra["cover"],
		AccessToken: cred.AccessToken,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := c.post(ctx, platform.StageComplete, fmt.Sprintf("%s/%s/videos", c.baseURL, cred.AccountUID), form, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", model.Transient(platform.StageComplete, fmt.Errorf("graph returned no video id"))
	}
	return out.ID, nil
}

func (c *Client) Publish(ctx context.Context, cred model.AuthCredential, mediaID string, _ model.PublishPayload) (*model.PublishResult, error) {
	form := videoForm{Published: true, AccessToken: cred.AccessToken}
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.post(ctx, platform.StagePublish, fmt.Sprintf("%s/%s", c.baseURL, mediaID), form, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, model.Transient(platform.StagePublish, fmt.Errorf("graph did not confirm publish of %s", mediaID))
	}
	return &model.PublishResult{
		ProviderContentID: mediaID,
		WorkLink:          fmt.Sprintf("https://www.facebook.com/%s/videos/%s", cred.AccountUID, mediaID),
	}, nil
}

func (c *Client) post(ctx context.Context, stage, endpoint string, form videoForm, out any) error {
	values, err := query.Values(form)
	if err != nil {
		return model.ValidationRejected(stage, err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(values.Encode()))
	if err != nil {
		return model.ValidationRejected(stage, err.Error())
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	status, body, err := platform.Do(c.httpClient, req, stage)
	if err != nil {
		return err
	}
	if status/100 != 2 {
		return classify(stage, status, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return model.Transient(stage, fmt.Errorf("unreadable graph response: %w", err))
	}
	return nil
}

// classify reads the Graph error envelope; codes take precedence over the HTTP status.
func classify(stage string, status int, body []byte) error {
	var ge graphError
	if json.Unmarshal(body, &ge) != nil || ge.Error == nil {
		return platform.ClassifyStatus(stage, status, body)
	}
	msg := ge.Error.Message
	switch ge.Error.Code {
	case 190, 102, 10, 200:
		return model.AuthRejected(stage, msg)
	case 4, 17, 32, 613:
		return model.QuotaExceeded(stage, msg)
	case 1, 2:
		return model.Transient(stage, fmt.Errorf("%s", msg))
	}
	return platform.ClassifyStatus(stage, status, []byte(msg))
}
