package drive

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"docrelay/internal/domain"
)

type fakeDriveAPI struct {
	mu      sync.Mutex
	queries []string
	pages   []string
}

func (f *fakeDriveAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case r.URL.Path == "/files":
		w.Header().Set("Content-Type", "application/json")
		f.queries = append(f.queries, r.URL.Query().Get("q"))
		f.pages = append(f.pages, r.URL.Query().Get("pageToken"))
		if r.URL.Query().Get("pageToken") == "" {
			io.WriteString(w, `{"nextPageToken":"p2","files":[{"id":"a","name":"a.pdf","modifiedTime":"2024-05-01T10:00:00.000Z"}]}`)
			return
		}
		io.WriteString(w, `{"files":[{"id":"b","name":"b.pdf","modifiedTime":"bogus"}]}`)
	case r.URL.Path == "/files/a" && r.URL.Query().Get("alt") == "media":
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, "%PDF-a")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"code":404,"message":"File not found"}}`)
	}
}

func newTestDrive(t *testing.T) (*GDrive, *fakeDriveAPI) {
	t.Helper()
	api := &fakeDriveAPI{}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return NewGDrive(GDriveConfig{Service: svc, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}), api
}

func TestGDrive_ListFollowsPages(t *testing.T) {
	g, api := newTestDrive(t)
	refs, err := g.List(context.Background(), "folder1")
	require.NoError(t, err)

	require.Len(t, refs, 2)
	assert.Equal(t, domain.RemoteFileRef{
		RemoteID:   "a",
		Name:       "a.pdf",
		ModifiedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}, refs[0])
	assert.Equal(t, "b", refs[1].RemoteID)
	assert.True(t, refs[1].ModifiedAt.IsZero())

	assert.Equal(t, []string{"", "p2"}, api.pages)
	assert.Equal(t, "'folder1' in parents and mimeType='application/pdf' and trashed = false", api.queries[0])
}

func TestGDrive_Download(t *testing.T) {
	g, _ := newTestDrive(t)
	rc, err := g.Download(context.Background(), "a")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-a", string(data))

	_, err = g.Download(context.Background(), "missing")
	assert.Error(t, err)
}

func TestFolderQuery_EscapesQuotes(t *testing.T) {
	assert.Equal(t, `'it\'s' in parents and mimeType='application/pdf' and trashed = false`, folderQuery("it's"))
}

func TestGDrive_StalledAPITimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	svc, err := drive.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	g := NewGDrive(GDriveConfig{
		Service:         svc,
		Timeout:         100 * time.Millisecond,
		DownloadTimeout: 100 * time.Millisecond,
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	start := time.Now()
	_, err = g.List(context.Background(), "folder1")
	assert.Error(t, err)
	_, err = g.Download(context.Background(), "a")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)
}
