package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/stellarlinkco/clawgate/internal/config"
)

// ensureArtifact resolves the model file on disk, downloading it when
// absent. Returns the expanded path to a verified artifact.
func ensureArtifact(ctx context.Context, cfg *config.ModelConfig) (string, error) {
	path := expandPath(cfg.Path)
	if path == "" {
		return "", fmt.Errorf("model path not configured")
	}

	if info, err := os.Stat(path); err == nil {
		sizeMB := info.Size() / (1024 * 1024)
		if cfg.SizeMB > 0 && sizeMB < int64(cfg.SizeMB)/2 {
			log.Printf("[model] warning: %s is %dMB, expected ~%dMB", path, sizeMB, cfg.SizeMB)
		}
		return path, nil
	}

	if cfg.URL == "" {
		return "", fmt.Errorf("model file %s missing and no download url configured", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create model dir: %w", err)
	}

	log.Printf("[model] downloading %s (~%dMB) to %s", cfg.URL, cfg.SizeMB, path)
	err := downloadTo(ctx, cfg.URL, path, cfg.Checksum)
	if err != nil && cfg.FallbackURL != "" && ctx.Err() == nil {
		log.Printf("[model] primary download failed (%v), trying fallback %s", err, cfg.FallbackURL)
		// The fallback is a different artifact; the configured checksum
		// does not apply to it.
		err = downloadTo(ctx, cfg.FallbackURL, path, "")
	}
	if err != nil {
		return "", fmt.Errorf("download model: %w", err)
	}
	return path, nil
}

func downloadTo(ctx context.Context, url, path, checksum string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("download http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(f, hasher), resp.Body)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if checksum != "" && !strings.EqualFold(sum, checksum) {
		os.Remove(tmp)
		return fmt.Errorf("checksum mismatch for %s: got %s, want %s", url, sum, checksum)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("move model into place: %w", err)
	}

	log.Printf("[model] downloaded %dMB, sha256 %s", written/(1024*1024), sum)
	return nil
}

// expandPath resolves a leading ~ against the home directory.
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home := os.Getenv("HOME")
		if home == "" {
			home, _ = os.UserHomeDir()
		}
		if home != "" {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
