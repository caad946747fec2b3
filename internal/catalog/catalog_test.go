package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaki95/tunecache/internal/domain"
)

const watchPage = `<!DOCTYPE html>
<html>
<head>
<meta property="og:title" content="Song Title">
<meta property="og:image" content="https://i.ytimg.com/vi/abc123/hqdefault.jpg">
</head>
<body>
<div itemscope itemtype="http://schema.org/VideoObject">
  <meta itemprop="duration" content="PT3M20S">
  <span itemprop="author" itemscope itemtype="http://schema.org/Person">
    <link itemprop="url" href="http://www.youtube.com/@band">
    <link itemprop="name" content="The Band">
  </span>
</div>
</body>
</html>`

func TestPageCatalogMetadata(t *testing.T) {
	var gotID, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = r.URL.Query().Get("v")
		gotUA = r.UserAgent()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(watchPage))
	}))
	defer srv.Close()

	meta, err := NewPageCatalog(srv.URL+"/watch", Options{UserAgent: "tunecache-test"}).Metadata(context.Background(), "abc123")

	require.NoError(t, err)
	assert.Equal(t, "abc123", gotID)
	assert.Equal(t, "tunecache-test", gotUA)
	assert.Equal(t, domain.Metadata{
		Length:    200,
		Title:     "Song Title",
		Authors:   "The Band",
		Thumbnail: "https://i.ytimg.com/vi/abc123/hqdefault.jpg",
	}, meta)
}

func TestPageCatalogNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewPageCatalog(srv.URL+"/watch", Options{}).Metadata(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPageCatalogPageWithoutMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><head><title>unavailable</title></head><body></body></html>"))
	}))
	defer srv.Close()

	_, err := NewPageCatalog(srv.URL+"/watch", Options{}).Metadata(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPageCatalogServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewPageCatalog(srv.URL+"/watch", Options{}).Metadata(context.Background(), "abc123")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "PT3M20S", want: 200},
		{in: "PT20M", want: 1200},
		{in: "PT20M1S", want: 1201},
		{in: "PT45S", want: 45},
		{in: "PT1H2M3S", want: 3723},
		{in: "PT62M5S", want: 3725},
		{in: "PT", wantErr: true},
		{in: "3:20", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBumpThumbnail(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{
			in:   "https://lh3.googleusercontent.com/abc=w120-h120-l90-rj",
			want: "https://lh3.googleusercontent.com/abc=w544-h544-l90-rj",
		},
		{
			in:   "https://lh3.googleusercontent.com/abc=w120-h120-l90-rj-other",
			want: "https://lh3.googleusercontent.com/abc=w120-h120-l90-rj-other",
		},
		{
			in:   "https://lh3.googleusercontent.com/abc=w60-h60-l90-rj",
			want: "https://lh3.googleusercontent.com/abc=w60-h60-l90-rj",
		},
		{
			in:   "https://i.ytimg.com/vi/abc123/hqdefault.jpg",
			want: "https://i.ytimg.com/vi/abc123/hqdefault.jpg",
		},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BumpThumbnail(tt.in))
	}
}

type countingCatalog struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (c *countingCatalog) Metadata(ctx context.Context, id string) (domain.Metadata, error) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	if c.err != nil {
		return domain.Metadata{}, c.err
	}
	return domain.Metadata{Length: 200, Title: id}, nil
}

func TestCachedCollapsesConcurrentLookups(t *testing.T) {
	next := &countingCatalog{gate: make(chan struct{})}
	c := NewCached(next, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			meta, err := c.Metadata(context.Background(), "abc123")
			assert.NoError(t, err)
			assert.Equal(t, "abc123", meta.Title)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(next.gate)
	wg.Wait()

	_, err := c.Metadata(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestCachedExpires(t *testing.T) {
	next := &countingCatalog{}
	c := NewCached(next, time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	_, err := c.Metadata(context.Background(), "abc123")
	require.NoError(t, err)
	_, err = c.Metadata(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, int32(1), next.calls.Load())

	now = now.Add(2 * time.Minute)
	_, err = c.Metadata(context.Background(), "abc123")
	require.NoError(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	next := &countingCatalog{err: errors.New("boom")}
	c := NewCached(next, time.Minute)

	_, err := c.Metadata(context.Background(), "abc123")
	assert.Error(t, err)
	_, err = c.Metadata(context.Background(), "abc123")
	assert.Error(t, err)
	assert.Equal(t, int32(2), next.calls.Load())
}
