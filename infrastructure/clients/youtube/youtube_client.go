package youtube

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
	"social-publisher/infrastructure/logger"
	"social-publisher/infrastructure/platform"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	Platform = "youtube"

	defaultBaseURL   = "https://youtube.googleapis.com/youtube/v3/"
	defaultUploadURL = "https://www.googleapis.com/upload/youtube/v3/videos"
	// Resumable uploads want parts in multiples of 256 KiB.
	defaultPartSize = 32 * 256 * 1024

	maxTitleLength       = 100
	maxDescriptionLength = 5000
	mediaURLKey          = "media_url"
)

// Client publishes videos through a resumable upload session.
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
	c := &Client{baseURL: cfg.BaseURL, uploadURL: cfg.UploadURL, partSize: cfg.PartSize, httpClient: httpClient}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if !strings.HasSuffix(c.baseURL, "/") {
		c.baseURL += "/"
	}
	if c.uploadURL == "" {
		c.uploadURL = defaultUploadURL
	}
	if c.partSize <= 0 {
		c.partSize = defaultPartSize
	}
	return c
}

var _ repository.IPlatformAdapter = (*Client)(nil)

func (c *Client) Platform() string { return Platform }

func (c *Client) Strategy() model.UploadStrategy { return model.SessionBased(c.partSize) }

func (c *Client) Validate(p model.PublishPayload) error {
	switch {
	case p.VideoURL == "":
		return model.ValidationRejected("validate", "youtube requires a video")
	case strings.TrimSpace(p.Title) == "":
		return model.ValidationRejected("validate", "youtube requires a title")
	case len([]rune(p.Title)) > maxTitleLength:
		return model.ValidationRejected("validate", fmt.Sprintf("title exceeds %d characters", maxTitleLength))
	case len([]rune(p.Description)) > maxDescriptionLength:
		return model.ValidationRejected("validate", fmt.Sprintf("description exceeds %d characters", maxDescriptionLength))
	}
	return nil
}

// InitUpload opens a resumable session; the session URL comes back in the Location header.
func (c *Client) InitUpload(ctx context.Context, cred model.AuthCredential, p model.PublishPayload) (*model.UploadHandle, error) {
	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{Title: p.Title, Description: p.Description, Tags: p.Topics},
		Status:  &youtube.VideoStatus{PrivacyStatus: "public"},
	}
	body, err := json.Marshal(video)
	if err != nil {
		return nil, model.ValidationRejected(platform.StageInit, err.Error())
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL+"?uploadType=resumable&part=snippet,status", bytes.NewReader(body))
	if err != nil {
		return nil, model.ValidationRejected(platform.StageInit, err.Error())
	}
	platform.Bearer(req, cred.AccessToken, cred.TokenType)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Type", "video/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, platform.ClassifyTransport(platform.StageInit, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		return nil, platform.ClassifyStatus(platform.StageInit, resp.StatusCode, buf.Bytes())
	}
	session := resp.Header.Get("Location")
	if session == "" {
		return nil, model.Transient(platform.StageInit, errors.New("upload session location missing"))
	}
	return &model.UploadHandle{UploadURL: session, Extra: map[string]string{mediaURLKey: p.MediaURL()}}, nil
}

// UploadParts streams the media into the session with ranged PUTs. Intermediate parts are
// answered with 308; the final one returns the created video.
func (c *Client) UploadParts(ctx context.Context, cred model.AuthCredential, h *model.UploadHandle, src repository.IMediaSource) ([]model.PartResult, error) {
	rc, size, err := src.Open(ctx, h.Extra[mediaURLKey])
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var results []model.PartResult
	n, err := platform.PumpParts(ctx, rc, c.partSize, func(ctx context.Context, part platform.Part) error {
		end := part.Offset + int64(len(part.Data)) - 1
		total := "*"
		if size > 0 {
			total = fmt.Sprint(size)
		} else if part.Last {
			total = fmt.Sprint(end + 1)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, h.UploadURL, bytes.NewReader(part.Data))
		if err != nil {
			return model.ValidationRejected(platform.StageParts, err.Error())
		}
		platform.Bearer(req, cred.AccessToken, cred.TokenType)
		req.ContentLength = int64(len(part.Data))
		req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%s", part.Offset, end, total))

		status, body, err := platform.Do(c.httpClient, req, platform.StageParts)
		if err != nil {
			return err
		}
		switch {
		case status == http.StatusPermanentRedirect:
			if part.Last {
				return model.Transient(platform.StageParts, errors.New("session still incomplete after final part"))
			}
		case status == http.StatusOK || status == http.StatusCreated:
			var v youtube.Video
			if err := json.Unmarshal(body, &v); err != nil || v.Id == "" {
				return model.Transient(platform.StageParts, fmt.Errorf("unreadable upload response: %s", body))
			}
			h.MediaID = v.Id
		default:
			return platform.ClassifyStatus(platform.StageParts, status, body)
		}
		results = append(results, model.PartResult{Index: part.Index, Size: int64(len(part.Data))})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, model.ValidationRejected(platform.StageParts, "media is empty")
	}
	h.TotalSize = results[len(results)-1].Size + int64(n-1)*c.partSize
	return results, nil
}

// CompleteUpload has nothing to merge: the session finalizes with its last part.
func (c *Client) CompleteUpload(_ context.Context, _ model.AuthCredential, h *model.UploadHandle, _ int) (string, error) {
	if h.MediaID == "" {
		return "", model.Transient(platform.StageComplete, errors.New("upload session did not finalize"))
	}
	return h.MediaID, nil
}

// Publish checks the uploaded video was not refused and returns its watch link. The video exists
// once the session finalized, so a status lookup that fails or lags still counts as published:
// a retry would upload it a second time.
func (c *Client) Publish(ctx context.Context, cred model.AuthCredential, mediaID string, _ model.PublishPayload) (*model.PublishResult, error) {
	lg := logger.GetLogger().WithField("platform", Platform).WithField("video_id", mediaID)
	svc, err := c.service(ctx, cred)
	if err != nil {
		lg.WithField("error", err).Warn("video status not checked")
		return published(mediaID), nil
	}
	resp, err := svc.Videos.List([]string{"status"}).Id(mediaID).Context(ctx).Do()
	if err != nil {
		if err = classifyAPIError(platform.StagePublish, err); !model.IsTransient(err) {
			return nil, err
		}
		lg.WithField("error", err).Warn("video status not available")
		return published(mediaID), nil
	}
	if len(resp.Items) == 0 {
		lg.Info("video not listed yet")
		return published(mediaID), nil
	}
	if st := resp.Items[0].Status; st != nil {
		switch st.UploadStatus {
		case "rejected":
			return nil, model.ValidationRejected(platform.StagePublish, "video rejected: "+st.RejectionReason)
		case "failed":
			return nil, model.ValidationRejected(platform.StagePublish, "video processing failed: "+st.FailureReason)
		case "deleted":
			return nil, model.ValidationRejected(platform.StagePublish, "video was deleted")
		}
	}
	return published(mediaID), nil
}

func published(videoID string) *model.PublishResult {
	return &model.PublishResult{
		ProviderContentID: videoID,
		WorkLink:          "https://www.youtube.com/watch?v=" + videoID,
	}
}

func (c *Client) service(ctx context.Context, cred model.AuthCredential) (*youtube.Service, error) {
	token := &oauth2.Token{AccessToken: cred.AccessToken, TokenType: cred.TokenType}
	authed := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, c.httpClient), oauth2.StaticTokenSource(token))
	return youtube.NewService(ctx, option.WithHTTPClient(authed), option.WithEndpoint(c.baseURL))
}

func classifyAPIError(stage string, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusForbidden {
			for _, item := range gerr.Errors {
				if item.Reason == "quotaExceeded" || item.Reason == "uploadLimitExceeded" {
					return model.QuotaExceeded(stage, gerr.Message)
				}
			}
		}
		return platform.ClassifyStatus(stage, gerr.Code, []byte(gerr.Message))
	}
	return platform.ClassifyTransport(stage, err)
}
