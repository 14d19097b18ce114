package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-resize-pipeline/internal/resize"
)

type recordingServer struct {
	mu       sync.Mutex
	paths    []string
	types    []string
	bodies   map[string]string
	failPath string
}

func newRecordingServer(t *testing.T, failPath string) (*recordingServer, *httptest.Server) {
	t.Helper()
	rs := &recordingServer{bodies: make(map[string]string), failPath: failPath}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rs.mu.Lock()
		rs.paths = append(rs.paths, r.URL.Path)
		rs.types = append(rs.types, r.Header.Get("Content-Type"))
		rs.bodies[r.URL.Path] = string(body)
		rs.mu.Unlock()

		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if r.URL.Path == rs.failPath {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte("denied"))
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)
	return rs, srv
}

func outcome(width, height, quality int, payload string) resize.Outcome {
	return resize.Outcome{
		Resized: true,
		Width:   width,
		Height:  height,
		Quality: quality,
		Size:    len(payload),
		Payload: []byte(payload),
	}
}

func TestURL(t *testing.T) {
	got := URL("https://cdn.example.com/img/:width-:height-q:quality.jpg", 100, 50, 80)
	assert.Equal(t, "https://cdn.example.com/img/100-50-q80.jpg", got)

	got = URL("s3://bucket/thumbs/:widthx:height", 10, 20, 30)
	assert.Equal(t, "s3://bucket/thumbs/10x20", got)

	got = URL("/img/:widthx:heightq:quality.jpg", 100, 50, 80)
	assert.Equal(t, "/img/100x50q80.jpg", got)

	got = URL("https://cdn.example.com/:name/:width", 10, 20, 30)
	assert.Equal(t, "https://cdn.example.com/:name/10", got)
}

func TestURL_DistinctPerVariant(t *testing.T) {
	tmpl := "https://cdn.example.com/img/:widthx:heightq:quality.jpg"
	seen := map[string]bool{}
	for _, w := range []int{400, 200, 100} {
		seen[URL(tmpl, w, w/2, 80)] = true
	}
	assert.Len(t, seen, 3)
}

func TestHTTPTransport_Put(t *testing.T) {
	rs, srv := newRecordingServer(t, "/fail")
	tr := NewHTTPTransport(5 * time.Second)

	require.NoError(t, tr.Put(context.Background(), srv.URL+"/ok", "image/png", []byte("abc")))
	assert.Equal(t, "abc", rs.bodies["/ok"])
	assert.Equal(t, []string{"image/png"}, rs.types)

	err := tr.Put(context.Background(), srv.URL+"/fail", "image/png", []byte("abc"))
	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, http.StatusForbidden, uerr.StatusCode)
	assert.Equal(t, "denied", uerr.Body)
	assert.Contains(t, uerr.Error(), "403")
}

func TestHTTPTransport_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	err := NewHTTPTransport(time.Second).Put(context.Background(), addr+"/x", "", []byte("a"))
	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.Error(t, uerr.Err)
	assert.Zero(t, uerr.StatusCode)
}

func TestSession_UploadsEveryVariant(t *testing.T) {
	rs, srv := newRecordingServer(t, "")
	d := NewDispatcher(NewHTTPTransport(5*time.Second), WithConcurrency(2))

	s := d.Start(context.Background(), "run-1", srv.URL+"/:width/:height/:quality", "image/jpeg")
	s.Submit(outcome(300, 200, 80, "big"))
	s.Submit(outcome(150, 100, 80, "mid"))
	s.Submit(outcome(30, 20, 60, "small"))

	results, err := s.Wait()
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 300, results[0].Width)
	assert.Equal(t, 3, results[0].Size)
	assert.Equal(t, 30, results[2].Width)

	assert.ElementsMatch(t, []string{"/300/200/80", "/150/100/80", "/30/20/60"}, rs.paths)
	assert.Equal(t, "small", rs.bodies["/30/20/60"])
}

type countingObserver struct {
	mu       sync.Mutex
	ok, fail int
}

func (o *countingObserver) ObserveUpload(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.fail++
		return
	}
	o.ok++
}

func TestSession_PartialFailureIsReported(t *testing.T) {
	rs, srv := newRecordingServer(t, "/150")
	obs := &countingObserver{}
	d := NewDispatcher(NewHTTPTransport(5*time.Second), WithObserver(obs))

	s := d.Start(context.Background(), "run-2", srv.URL+"/:width", "image/jpeg")
	s.Submit(outcome(300, 200, 80, "a"))
	s.Submit(outcome(150, 100, 80, "b"))
	s.Submit(outcome(30, 20, 80, "c"))

	results, err := s.Wait()
	require.Error(t, err)
	assert.Len(t, results, 3)

	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.True(t, strings.HasSuffix(uerr.URL, "/150"))

	// the other uploads still went through
	assert.Len(t, rs.paths, 3)
	assert.Equal(t, 2, obs.ok)
	assert.Equal(t, 1, obs.fail)
}

func TestSession_EmptyWait(t *testing.T) {
	s := NewDispatcher(NewHTTPTransport(time.Second)).Start(context.Background(), "run-3", "http://unused/:width", "image/png")
	results, err := s.Wait()
	assert.NoError(t, err)
	assert.Empty(t, results)
}

type fakeS3 struct {
	mu     sync.Mutex
	inputs []*s3.PutObjectInput
	err    error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := ParseS3URL("s3://media/thumbs/100-50.jpg")
	require.NoError(t, err)
	assert.Equal(t, "media", bucket)
	assert.Equal(t, "thumbs/100-50.jpg", key)

	_, _, err = ParseS3URL("s3://media")
	assert.Error(t, err)
	_, _, err = ParseS3URL("https://media/key")
	assert.Error(t, err)
}

func TestS3Transport_Put(t *testing.T) {
	client := &fakeS3{}
	tr := NewS3Transport(client)

	require.NoError(t, tr.Put(context.Background(), "s3://media/a/b.png", "image/png", []byte("xyz")))
	require.Len(t, client.inputs, 1)
	in := client.inputs[0]
	assert.Equal(t, "media", aws.ToString(in.Bucket))
	assert.Equal(t, "a/b.png", aws.ToString(in.Key))
	assert.Equal(t, "image/png", aws.ToString(in.ContentType))
	assert.Equal(t, int64(3), aws.ToInt64(in.ContentLength))

	client.err = errors.New("access denied")
	err := tr.Put(context.Background(), "s3://media/a/c.png", "image/png", []byte("xyz"))
	var uerr *UploadError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "s3://media/a/c.png", uerr.URL)
}

func TestSchemeRouter(t *testing.T) {
	client := &fakeS3{}
	rs, srv := newRecordingServer(t, "")
	router := NewSchemeRouter().
		Handle(NewHTTPTransport(time.Second), "http", "https").
		Handle(NewS3Transport(client), "s3")

	assert.True(t, router.Supports("s3://b/k"))
	assert.True(t, router.Supports("https://x/y"))
	assert.False(t, router.Supports("ftp://x/y"))

	require.NoError(t, router.Put(context.Background(), "s3://b/k", "image/jpeg", []byte("1")))
	require.NoError(t, router.Put(context.Background(), srv.URL+"/h", "image/jpeg", []byte("2")))
	assert.Len(t, client.inputs, 1)
	assert.Equal(t, []string{"/h"}, rs.paths)

	err := router.Put(context.Background(), "ftp://x/y", "image/jpeg", nil)
	var uerr *UploadError
	assert.ErrorAs(t, err, &uerr)
}

func TestDispatcher_Supports(t *testing.T) {
	routed := NewDispatcher(NewSchemeRouter().Handle(NewHTTPTransport(time.Second), "http"))
	assert.True(t, routed.Supports("http://cdn.example.com/:width/:height.jpg"))
	assert.False(t, routed.Supports("s3://bucket/:width.jpg"))

	// a bare transport cannot tell and accepts everything
	assert.True(t, NewDispatcher(NewHTTPTransport(time.Second)).Supports("s3://bucket/:width.jpg"))
}
