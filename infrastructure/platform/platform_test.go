package platform

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"social-publisher/domain/model"
	"social-publisher/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	cases := map[int]model.ErrorKind{
		401: model.KindAuthRejected,
		403: model.KindAuthRejected,
		429: model.KindQuotaExceeded,
		400: model.KindValidationRejected,
		422: model.KindValidationRejected,
		408: model.KindTransient,
		500: model.KindTransient,
		503: model.KindTransient,
	}
	for status, kind := range cases {
		err := ClassifyStatus("publish", status, []byte("nope"))
		require.Error(t, err, status)
		assert.Equal(t, kind, model.KindOf(err), status)
	}
	assert.NoError(t, ClassifyStatus("publish", 201, nil))
}

func TestClassifyTransport_KeepsTypedErrors(t *testing.T) {
	typed := model.AuthRejected("init_upload", "revoked")
	assert.Same(t, typed, ClassifyTransport("x", typed).(*model.PublishError))
	assert.True(t, model.IsTransient(ClassifyTransport("x", context.DeadlineExceeded)))
}

func TestPumpParts_MarksLastPart(t *testing.T) {
	data := []byte("0123456789")
	var got []Part
	n, err := PumpParts(context.Background(), bytes.NewReader(data), 4, func(_ context.Context, p Part) error {
		got = append(got, p)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, n)
	assert.Equal(t, "0123", string(got[0].Data))
	assert.Equal(t, int64(4), got[1].Offset)
	assert.Equal(t, "89", string(got[2].Data))
	assert.Equal(t, 3, got[2].Index)
	assert.False(t, got[1].Last)
	assert.True(t, got[2].Last)
}

func TestPumpParts_ExactMultipleAndEmpty(t *testing.T) {
	var last []bool
	n, err := PumpParts(context.Background(), bytes.NewReader([]byte("abcdef")), 3, func(_ context.Context, p Part) error {
		last = append(last, p.Last)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []bool{false, true}, last)

	n, err = PumpParts(context.Background(), bytes.NewReader(nil), 3, func(context.Context, Part) error {
		t.Fatal("no part expected")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}

// slowReader hands out one byte per read.
type slowReader struct{ r io.Reader }

func (s slowReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return s.r.Read(p)
}

func TestPumpParts_SlowSourceAndSinkError(t *testing.T) {
	src := slowReader{r: strings.NewReader(strings.Repeat("x", 25))}
	sizes := []int{}
	_, err := PumpParts(context.Background(), src, 10, func(_ context.Context, p Part) error {
		sizes = append(sizes, len(p.Data))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{10, 10, 5}, sizes)

	boom := errors.New("sink down")
	n, err := PumpParts(context.Background(), strings.NewReader(strings.Repeat("y", 100)), 10, func(_ context.Context, p Part) error {
		if p.Index == 2 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
}

func TestHTTPMediaSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.mp4":
			_, _ = w.Write([]byte("media"))
		case "/broken.mp4":
			w.WriteHeader(http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	src := NewHTTPMediaSource(srv.Client())
	rc, size, err := src.Open(context.Background(), srv.URL+"/ok.mp4")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "media", string(b))
	assert.Equal(t, int64(5), size)

	_, _, err = src.Open(context.Background(), srv.URL+"/missing.mp4")
	assert.Equal(t, model.KindValidationRejected, model.KindOf(err))

	_, _, err = src.Open(context.Background(), srv.URL+"/broken.mp4")
	assert.True(t, model.IsTransient(err))
}

func TestCaption(t *testing.T) {
	assert.Equal(t, "Hello #go #cloudnative", Caption(" Hello ", []string{"go", "#cloud native", ""}))
	assert.Equal(t, "#one", Caption("", []string{"one"}))
}

type recordingAdapter struct {
	mu       sync.Mutex
	strategy model.UploadStrategy
	calls    []string
	failAt   string
	failWith error
}

var _ repository.IPlatformAdapter = (*recordingAdapter)(nil)

func (a *recordingAdapter) record(stage string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, stage)
	if stage == a.failAt {
		return a.failWith
	}
	return nil
}

func (a *recordingAdapter) Platform() string { return "fake" }
func (a *recordingAdapter) Strategy() model.UploadStrategy { return a.strategy }
func (a *recordingAdapter) Validate(model.PublishPayload) error { return nil }

func (a *recordingAdapter) InitUpload(context.Context, model.AuthCredential, model.PublishPayload) (*model.UploadHandle, error) {
	return &model.UploadHandle{UploadID: "u1"}, a.record(StageInit)
}

func (a *recordingAdapter) UploadParts(context.Context, model.AuthCredential, *model.UploadHandle, repository.IMediaSource) ([]model.PartResult, error) {
	return []model.PartResult{{Index: 1}, {Index: 2}}, a.record(StageParts)
}

func (a *recordingAdapter) CompleteUpload(_ context.Context, _ model.AuthCredential, _ *model.UploadHandle, partCount int) (string, error) {
	_ = a.record(StageComplete)
	a.mu.Lock()
	a.calls[len(a.calls)-1] += ":" + strconv.Itoa(partCount)
	a.mu.Unlock()
	if a.failAt == StageComplete {
		return "", a.failWith
	}
	return "media-1", nil
}

func (a *recordingAdapter) Publish(_ context.Context, _ model.AuthCredential, mediaID string, _ model.PublishPayload) (*model.PublishResult, error) {
	if err := a.record(StagePublish); err != nil {
		return nil, err
	}
	return &model.PublishResult{ProviderContentID: "content-" + mediaID}, nil
}

func TestDrive_SingleShotSkipsParts(t *testing.T) {
	a := &recordingAdapter{strategy: model.SingleShot()}
	res, err := Drive(context.Background(), a, model.AuthCredential{}, model.PublishPayload{TaskID: "t1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "content-media-1", res.ProviderContentID)
	assert.Equal(t, []string{StageInit, StageComplete + ":0", StagePublish}, a.calls)
}

func TestDrive_ChunkedRunsAllStages(t *testing.T) {
	a := &recordingAdapter{strategy: model.Chunked(4)}
	_, err := Drive(context.Background(), a, model.AuthCredential{}, model.PublishPayload{TaskID: "t1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{StageInit, StageParts, StageComplete + ":2", StagePublish}, a.calls)
}

func TestDrive_UntypedFailureBecomesTransient(t *testing.T) {
	a := &recordingAdapter{strategy: model.SessionBased(4), failAt: StageParts, failWith: errors.New("connection reset")}
	_, err := Drive(context.Background(), a, model.AuthCredential{}, model.PublishPayload{}, nil)
	require.Error(t, err)
	var pe *model.PublishError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, model.KindTransient, pe.Kind)
	assert.Equal(t, StageParts, pe.Stage)
	assert.NotContains(t, a.calls, StagePublish)
}

func TestDrive_TerminalFailureStops(t *testing.T) {
	a := &recordingAdapter{strategy: model.SingleShot(), failAt: StagePublish, failWith: model.ValidationRejected(StagePublish, "title too long")}
	_, err := Drive(context.Background(), a, model.AuthCredential{}, model.PublishPayload{}, nil)
	assert.Equal(t, model.KindValidationRejected, model.KindOf(err))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(&recordingAdapter{})
	a, err := r.Get("FAKE")
	require.NoError(t, err)
	assert.Equal(t, "fake", a.Platform())
	_, err = r.Get("myspace")
	assert.ErrorIs(t, err, model.ErrUnsupportedPlatform)
}

// stalledReader blocks until it is closed.
type stalledReader struct {
	once   sync.Once
	closed chan struct{}
}

func (s *stalledReader) Read(p []byte) (int, error) {
	<-s.closed
	return 0, io.ErrClosedPipe
}

func (s *stalledReader) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func TestPumpParts_CancelUnblocksStalledSource(t *testing.T) {
	src := &stalledReader{closed: make(chan struct{})}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := PumpParts(ctx, src, 10, func(context.Context, Part) error { return nil })
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pump still blocked on the source after cancellation")
	}
}
