package model

// UploadMode tags how a platform receives media.
type UploadMode string

const (
	// SingleShot platforms accept a direct URL or one request; there is no part stage.
	UploadSingleShot UploadMode = "single_shot"
	// Chunked platforms take fixed-size fragments and merge them on completion.
	UploadChunked UploadMode = "chunked"
	// SessionBased platforms open an upload session and take ranged writes against it.
	UploadSessionBased UploadMode = "session_based"
)

type UploadStrategy struct {
	Mode     UploadMode
	PartSize int64
}

func SingleShot() UploadStrategy { return UploadStrategy{Mode: UploadSingleShot} }

func Chunked(partSize int64) UploadStrategy {
	return UploadStrategy{Mode: UploadChunked, PartSize: partSize}
}

func SessionBased(partSize int64) UploadStrategy {
	return UploadStrategy{Mode: UploadSessionBased, PartSize: partSize}
}

// PublishPayload is the opaque content an adapter publishes.
type PublishPayload struct {
	TaskID      string
	AccountUID  string
	Title       string
	Description string
	Topics      []string
	VideoURL    string
	CoverURL    string
	ImageURLs   []string
}

// MediaURL is the primary media reference the upload stages stream.
func (p PublishPayload) MediaURL() string {
	if p.VideoURL != "" {
		return p.VideoURL
	}
	if len(p.ImageURLs) > 0 {
		return p.ImageURLs[0]
	}
	return ""
}

// UploadHandle is returned by InitUpload and threaded through the later stages.
type UploadHandle struct {
	UploadID  string
	UploadURL string
	// MediaID is set by platforms that assign the media id up front.
	MediaID   string
	TotalSize int64
	Extra     map[string]string
}

type PartResult struct {
	Index int
	Size  int64
	ETag  string
}

// PublishResult is the outcome of the final stage. Pending means the platform finishes
// asynchronously and a later callback carries the final state.
type PublishResult struct {
	ProviderContentID string
	WorkLink          string
	Pending           bool
}

// AuthCredential is what an adapter needs to call the platform on behalf of an account.
type AuthCredential struct {
	AccessToken string
	TokenType   string
	AccountUID  string
}
