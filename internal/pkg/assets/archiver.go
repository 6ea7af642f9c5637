package assets

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	downloadTimeout = 60 * time.Second
	maxAssetSize    = 200 << 20 // 200 MiB
)

// Store is the blob storage the archiver writes to.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	PublicURL(key string) string
}

// Archiver copies vendor-hosted generation assets into our own bucket.
// Vendor URLs expire after a few days; archived copies do not.
type Archiver struct {
	store Store
	http  *http.Client
}

// NewArchiver creates an archiver backed by the given store.
func NewArchiver(store Store) *Archiver {
	return &Archiver{
		store: store,
		http:  &http.Client{Timeout: downloadTimeout},
	}
}

// Archive copies the job's assets into the bucket and returns the durable
// URLs. Archiving is best effort: any asset that cannot be copied keeps its
// original vendor URL. When the vendor returned no thumbnail, a preview is
// rendered from the source image.
func (a *Archiver) Archive(ctx context.Context, jobID, modelURL, videoURL, thumbnailURL, sourceImageURL string) (model, video, thumbnail string) {
	model = a.copyAsset(ctx, jobID, "model", modelURL)
	video = a.copyAsset(ctx, jobID, "preview", videoURL)
	thumbnail = a.copyAsset(ctx, jobID, "thumbnail", thumbnailURL)

	if thumbnail == "" && sourceImageURL != "" {
		thumbnail = a.renderThumbnail(ctx, jobID, sourceImageURL)
	}

	return model, video, thumbnail
}

func (a *Archiver) copyAsset(ctx context.Context, jobID, name, srcURL string) string {
	if srcURL == "" {
		return ""
	}

	data, contentType, err := a.download(ctx, srcURL)
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Str("asset", name).Msg("Asset download failed, keeping vendor URL")
		return srcURL
	}

	key := fmt.Sprintf("generations/%s/%s%s", jobID, name, extensionFor(srcURL, contentType))
	if err := a.store.Put(ctx, key, data, contentType); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Str("asset", name).Msg("Asset upload failed, keeping vendor URL")
		return srcURL
	}

	return a.store.PublicURL(key)
}

func (a *Archiver) renderThumbnail(ctx context.Context, jobID, sourceImageURL string) string {
	data, _, err := a.download(ctx, sourceImageURL)
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("Source image download failed, no thumbnail")
		return ""
	}

	thumb, err := Thumbnail(data)
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("Thumbnail render failed")
		return ""
	}

	key := fmt.Sprintf("generations/%s/thumbnail.jpg", jobID)
	if err := a.store.Put(ctx, key, thumb, "image/jpeg"); err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("Thumbnail upload failed")
		return ""
	}

	return a.store.PublicURL(key)
}

func (a *Archiver) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("asset download failed: status=%d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read asset body: %w", err)
	}
	if len(data) > maxAssetSize {
		return nil, "", fmt.Errorf("asset exceeds %d bytes", maxAssetSize)
	}

	return data, resp.Header.Get("Content-Type"), nil
}

func extensionFor(srcURL, contentType string) string {
	// Prefer the URL's own extension; vendor CDNs often serve octet-stream.
	if u := strings.SplitN(srcURL, "?", 2)[0]; path.Ext(u) != "" {
		return path.Ext(u)
	}

	switch {
	case strings.Contains(contentType, "gltf-binary"), strings.Contains(contentType, "glb"):
		return ".glb"
	case strings.Contains(contentType, "mp4"):
		return ".mp4"
	case strings.Contains(contentType, "jpeg"):
		return ".jpg"
	case strings.Contains(contentType, "png"):
		return ".png"
	default:
		return ""
	}
}
