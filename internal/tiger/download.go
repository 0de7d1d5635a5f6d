package tiger

import (
	"archive/zip"
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/census-viz/internal/failure"
	"github.com/sells-group/census-viz/internal/resilience"
)

// Download fetches a boundary ZIP into destDir and extracts it. A non-empty
// ZIP already in destDir is reused. Returns the path to the extracted .shp
// file and whether the cached copy was used.
func Download(ctx context.Context, hc *http.Client, policy resilience.Policy, url, destDir string) (string, bool, error) {
	log := zap.L().With(
		zap.String("component", "tiger.download"),
		zap.String("url", url),
	)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", false, eris.Wrap(err, "tiger: create dest dir")
	}

	zipName := path.Base(url)
	zipPath := filepath.Join(destDir, zipName)

	cached := false
	if info, err := os.Stat(zipPath); err == nil && info.Size() > 0 {
		log.Debug("zip already cached, skipping download", zap.String("path", zipPath))
		cached = true
	} else {
		log.Info("downloading boundary shapefile")
		err := resilience.Do(ctx, policy, func(ctx context.Context) error {
			return downloadFile(ctx, hc, url, zipPath)
		})
		if err != nil {
			return "", false, err
		}
	}

	extractDir := filepath.Join(destDir, strings.TrimSuffix(zipName, ".zip"))
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", cached, eris.Wrap(err, "tiger: create extract dir")
	}

	if err := extractZIP(zipPath, extractDir); err != nil {
		// Drop the archive so the next run downloads a fresh copy.
		_ = os.Remove(zipPath)
		return "", cached, failure.Wrap(failure.GeometrySourceUnavailable, err, "corrupt boundary archive %s", zipName)
	}

	shpPath, err := findFileByExt(extractDir, ".shp")
	if err != nil {
		return "", cached, failure.Wrap(failure.GeometrySourceUnavailable, err, "boundary archive %s has no shapefile", zipName)
	}
	return shpPath, cached, nil
}

// downloadFile streams url to dest through a temp file, so a partial body
// never looks like a cached archive.
func downloadFile(ctx context.Context, hc *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return eris.Wrap(err, "tiger: build request")
	}
	req.Header.Set("User-Agent", "census-viz/1.0")

	resp, err := hc.Do(req)
	if err != nil {
		return eris.Wrap(err, "tiger: download")
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusGone:
		return &failure.Error{
			Kind:       failure.GeometrySourceUnavailable,
			Msg:        "boundary file not published: " + url,
			StatusCode: resp.StatusCode,
		}
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.FromResponse(resp, eris.Errorf("tiger: download returned status %d", resp.StatusCode))
	default:
		return eris.Errorf("tiger: download returned status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return eris.Wrap(err, "tiger: create temp file")
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		_ = tmp.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return resilience.NewTransientError(eris.Wrap(err, "tiger: write file"), 0)
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "tiger: close temp file")
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return eris.Wrap(err, "tiger: move download into cache")
	}
	return nil
}

// extractZIP extracts a ZIP archive into destDir, flattening any paths.
func extractZIP(zipPath, destDir string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "tiger: open zip")
	}
	defer r.Close() //nolint:errcheck

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(f.Name)
		if err := extractEntry(f, filepath.Join(destDir, name)); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(f *zip.File, destPath string) error {
	rc, err := f.Open()
	if err != nil {
		return eris.Wrapf(err, "tiger: open zip entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return eris.Wrapf(err, "tiger: create %s", destPath)
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return eris.Wrapf(err, "tiger: extract %s", f.Name)
	}
	return out.Close()
}

// findFileByExt finds the first file with the given extension in a directory.
func findFileByExt(dir, ext string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", eris.Wrap(err, "tiger: read directory")
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ext) {
			return filepath.Join(dir, e.Name()), nil
		}
	}
	return "", eris.Errorf("tiger: no %s file found in %s", ext, dir)
}
