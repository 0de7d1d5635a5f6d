package tiger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/census-viz/internal/failure"
	"github.com/sells-group/census-viz/internal/model"
)

// boundaryServer serves the sample block groups as a zipped shapefile at
// every path and counts requests.
func boundaryServer(t *testing.T) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()
	dir := t.TempDir()
	writeShapefile(t, dir, "tl_2021_24_bg", "GEOID", sampleBGs())
	payload := zipDir(t, dir)

	var calls atomic.Int32
	var lastPath atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		lastPath.Store(r.URL.Path)
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &lastPath
}

func testClient(srv *httptest.Server, cacheDir string, res model.Resolution) *Client {
	return New(Options{
		BaseURL:    srv.URL,
		CacheDir:   cacheDir,
		Resolution: res,
		Retry:      fastPolicy(),
		HTTPClient: srv.Client(),
	})
}

func TestClient_URL(t *testing.T) {
	full := New(Options{})
	assert.Equal(t, "https://www2.census.gov/geo/tiger/TIGER2021/BG/tl_2021_24_bg.zip", full.URL("24", 2021))

	cb := New(Options{Resolution: model.Resolution500k})
	assert.Equal(t, "https://www2.census.gov/geo/tiger/GENZ2021/shp/cb_2021_24_bg_500k.zip", cb.URL("24", 2021))
	assert.Equal(t, "https://www2.census.gov/geo/tiger/GENZ2013/cb_2013_24_bg_500k.zip", cb.URL("24", 2013))

	mirror := New(Options{BaseURL: "http://mirror/", Resolution: model.Resolution500k})
	assert.Equal(t, "http://mirror/GENZ2020/shp/cb_2020_06_bg_500k.zip", mirror.URL("06", 2020))
}

func TestClient_FetchStreams(t *testing.T) {
	srv, calls, lastPath := boundaryServer(t)
	c := testClient(srv, t.TempDir(), model.ResolutionFull)

	var ids []string
	stats, err := c.Fetch(context.Background(), "24", 2021, func(r model.BoundaryRecord) error {
		ids = append(ids, r.ID.String())
		assert.NotNil(t, r.Geometry)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"240010001001", "240010001002", "240010002002"}, ids)
	assert.Equal(t, 3, stats.Records)
	assert.Equal(t, 2, stats.Skipped)
	assert.False(t, stats.Cached)
	assert.Equal(t, srv.URL+"/TIGER2021/BG/tl_2021_24_bg.zip", stats.URL)
	assert.Equal(t, "/TIGER2021/BG/tl_2021_24_bg.zip", lastPath.Load())
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_FetchAllUsesCache(t *testing.T) {
	srv, calls, _ := boundaryServer(t)
	c := testClient(srv, t.TempDir(), model.Resolution500k)

	first, stats, err := c.FetchAll(context.Background(), "24", 2021)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, model.Resolution500k, first[0].Resolution)
	assert.False(t, stats.Cached)

	second, stats, err := c.FetchAll(context.Background(), "24", 2021)
	require.NoError(t, err)
	assert.True(t, stats.Cached)
	assert.Equal(t, int32(1), calls.Load())
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Geometry.FlatCoords(), second[i].Geometry.FlatCoords())
	}
}

func TestClient_HandlerError(t *testing.T) {
	srv, _, _ := boundaryServer(t)
	c := testClient(srv, t.TempDir(), model.ResolutionFull)

	stop := errors.New("enough")
	stats, err := c.Fetch(context.Background(), "24", 2021, func(model.BoundaryRecord) error { return stop })
	assert.Equal(t, stop, err)
	require.NotNil(t, stats)
	assert.Zero(t, stats.Records)
}

func TestClient_Validation(t *testing.T) {
	srv, calls, _ := boundaryServer(t)
	c := testClient(srv, t.TempDir(), model.ResolutionFull)

	_, _, err := c.FetchAll(context.Background(), "99", 2021)
	assert.True(t, failure.Is(err, failure.InvalidState))

	_, _, err = c.FetchAll(context.Background(), "24", 2030)
	assert.True(t, failure.Is(err, failure.UnsupportedYear))

	cb := testClient(srv, t.TempDir(), model.Resolution500k)
	_, _, err = cb.FetchAll(context.Background(), "24", 2012)
	assert.True(t, failure.Is(err, failure.UnsupportedYear))

	bad := testClient(srv, t.TempDir(), model.Resolution("1m"))
	_, _, err = bad.FetchAll(context.Background(), "24", 2021)
	assert.Error(t, err)

	coarse := testClient(srv, t.TempDir(), model.Resolution("5m"))
	err = coarse.Validate("24", 2021)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resolution")

	assert.Zero(t, calls.Load())
}

func TestClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv, t.TempDir(), model.ResolutionFull)
	_, _, err := c.FetchAll(context.Background(), "24", 2021)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.GeometrySourceUnavailable))
	assert.Equal(t, failure.ExitNetwork, failure.ExitCode(err))
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(srv, t.TempDir(), model.ResolutionFull)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, _, err := c.FetchAll(ctx, "24", 2021)
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.FetchTimeout))
}
