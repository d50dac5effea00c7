package tiktok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
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
	Platform        = "tiktok"
	defaultBaseURL  = "https://open.tiktokapis.com"
	defaultPartSize = 5 << 20
	maxCaption      = 2200
	mediaURLKey     = "media_url"
)

var authErrorCodes = map[int]bool{2190002: true, 2190008: true, 2190015: true}

const rateLimitCode = 2100005

// Client uploads fragments against an upload id and merges them before creating the post.
// The post is reviewed asynchronously; the final state arrives through the webhook.
type Client struct {
	baseURL    string
	uploadURL  string
	partSize   int64
	httpClient *http.Client
}

func NewClient(cfg configuration.PlatformConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		uploadURL:  strings.TrimSuffix(cfg.UploadURL, "/"),
		partSize:   cfg.PartSize,
		httpClient: httpClient,
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.uploadURL == "" {
		c.uploadURL = c.baseURL
	}
	if c.partSize <= 0 {
		c.partSize = defaultPartSize
	}
	return c
}

var _ repository.IPlatformAdapter = (*Client)(nil)

type params struct {
	OpenID     string `url:"open_id"`
	UploadID   string `url:"upload_id,omitempty"`
	PartNumber int    `url:"part_number,omitempty"`
}

type envelope struct {
	Data struct {
		ErrorCode   int    `json:"error_code"`
		Description string `json:"description"`
		UploadID    string `json:"upload_id"`
		ItemID      string `json:"item_id"`
		Video       struct {
			VideoID string `json:"video_id"`
		} `json:"video"`
	} `json:"data"`
}

func (c *Client) Platform() string { return Platform }

func (c *Client) Strategy() model.UploadStrategy { return model.Chunked(c.partSize) }

func (c *Client) Validate(p model.PublishPayload) error {
	if p.VideoURL == "" {
		return model.ValidationRejected("validate", "tiktok requires a video")
	}
	if n := len([]rune(platform.Caption(p.Title, p.Topics))); n > maxCaption {
		return model.ValidationRejected("validate", fmt.Sprintf("caption is %d characters, limit is %d", n, maxCaption))
	}
	return nil
}

func (c *Client) InitUpload(ctx context.Context, cred model.AuthCredential, p model.PublishPayload) (*model.UploadHandle, error) {
	env, err := c.call(ctx, platform.StageInit, c.baseURL+"/video/upload/init/", params{OpenID: cred.AccountUID}, cred, "", nil)
	if err != nil {
		return nil, err
	}
	if env.Data.UploadID == "" {
		return nil, model.Transient(platform.StageInit, errors.New("no upload id returned"))
	}
	return &model.UploadHandle{UploadID: env.Data.UploadID, Extra: map[string]string{mediaURLKey: p.MediaURL()}}, nil
}

func (c *Client) UploadParts(ctx context.Context, cred model.AuthCredential, h *model.UploadHandle, src repository.IMediaSource) ([]model.PartResult, error) {
	rc, _, err := src.Open(ctx, h.Extra[mediaURLKey])
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var results []model.PartResult
	var total int64
	_, err = platform.PumpParts(ctx, rc, c.partSize, func(ctx context.Context, part platform.Part) error {
		q := params{OpenID: cred.AccountUID, UploadID: h.UploadID, PartNumber: part.Index}
		if _, err := c.call(ctx, platform.StageParts, c.uploadURL+"/video/part/upload/", q, cred, "application/octet-stream", part.Data); err != nil {
			return err
		}
		results = append(results, model.PartResult{Index: part.Index, Size: int64(len(part.Data))})
		total += int64(len(part.Data))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, model.ValidationRejected(platform.StageParts, "media is empty")
	}
	h.TotalSize = total
	return results, nil
}

// CompleteUpload merges the uploaded parts into one video.
func (c *Client) CompleteUpload(ctx context.Context, cred model.AuthCredential, h *model.UploadHandle, partCount int) (string, error) {
	if partCount == 0 {
		return "", model.ValidationRejected(platform.StageComplete, "no parts to merge")
	}
	env, err := c.call(ctx, platform.StageComplete, c.baseURL+"/video/part/complete/", params{OpenID: cred.AccountUID, UploadID: h.UploadID}, cred, "", nil)
	if err != nil {
		return "", err
	}
	if env.Data.Video.VideoID == "" {
		return "", model.Transient(platform.StageComplete, errors.New("merge returned no video id"))
	}
	return env.Data.Video.VideoID, nil
}

func (c *Client) Publish(ctx context.Context, cred model.AuthCredential, mediaID string, p model.PublishPayload) (*model.PublishResult, error) {
	body, err := json.Marshal(map[string]any{"video_id": mediaID, "text": platform.Caption(p.Title, p.Topics)})
	if err != nil {
		return nil, model.ValidationRejected(platform.StagePublish, err.Error())
	}
	env, err := c.call(ctx, platform.StagePublish, c.baseURL+"/video/create/", params{OpenID: cred.AccountUID}, cred, "application/json", body)
	if err != nil {
		return nil, err
	}
	if env.Data.ItemID == "" {
		return nil, model.Transient(platform.StagePublish, errors.New("create returned no item id"))
	}
	return &model.PublishResult{ProviderContentID: env.Data.ItemID, Pending: true}, nil
}

func (c *Client) call(ctx context.Context, stage, endpoint string, p params, cred model.AuthCredential, contentType string, body []byte) (*envelope, error) {
	values, err := query.Values(p)
	if err != nil {
		return nil, model.ValidationRejected(stage, err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?"+values.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, model.ValidationRejected(stage, err.Error())
	}
	req.Header.Set("access-token", cred.AccessToken)
	platform.Bearer(req, cred.AccessToken, cred.TokenType)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	status, raw, err := platform.Do(c.httpClient, req, stage)
	if err != nil {
		return nil, err
	}
	if err := platform.ClassifyStatus(stage, status, raw); err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, model.Transient(stage, fmt.Errorf("unreadable response: %w", err))
	}
	switch code := env.Data.ErrorCode; {
	case code == 0:
		return &env, nil
	case authErrorCodes[code]:
		return nil, model.AuthRejected(stage, env.Data.Description)
	case code == rateLimitCode:
		return nil, model.QuotaExceeded(stage, env.Data.Description)
	default:
		return nil, model.ValidationRejected(stage, fmt.Sprintf("%d: %s", code, env.Data.Description))
	}
}
