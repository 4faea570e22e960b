package browser

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"profile-launcher/internal/core"
)

const maxFilenameLength = 200

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
	"COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
	"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

// SanitizeFilename strips characters that are illegal in file names on any
// supported OS. An empty result becomes "download".
func SanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsControl(r) || strings.ContainsRune(`<>:"/\|?*`, r) {
			continue
		}
		b.WriteRune(r)
	}

	clean := strings.TrimSpace(b.String())
	clean = strings.TrimRight(clean, ". ")
	clean = strings.TrimLeft(clean, ".")

	if clean == "" {
		return "download"
	}

	base := strings.ToUpper(strings.TrimSuffix(clean, filepath.Ext(clean)))
	if reservedNames[base] {
		clean = "_" + clean
	}

	if r := []rune(clean); len(r) > maxFilenameLength {
		ext := []rune(filepath.Ext(clean))
		if len(ext) >= maxFilenameLength {
			ext = nil
		}
		clean = string(r[:maxFilenameLength-len(ext)]) + string(ext)
	}
	return clean
}

// InferExtension returns an extension for a download the engine left
// unnamed, taken from the URL path first and the content type second
func InferExtension(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if ext := path.Ext(u.Path); len(ext) > 1 && len(ext) <= 8 {
			return strings.ToLower(ext)
		}
	}
	if contentType != "" {
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err == nil {
			if ext, ok := preferredExtensions[mediaType]; ok {
				return ext
			}
			if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
				return exts[0]
			}
		}
	}
	return ""
}

var preferredExtensions = map[string]string{
	"application/pdf":  ".pdf",
	"application/zip":  ".zip",
	"application/json": ".json",
	"text/plain":       ".txt",
	"text/html":        ".html",
	"text/csv":         ".csv",
	"image/jpeg":       ".jpg",
	"image/png":        ".png",
	"image/gif":        ".gif",
	"image/webp":       ".webp",
}

// sniffContentType reads the head of a file to guess its MIME type
func sniffContentType(file string) string {
	f, err := os.Open(file)
	if err != nil {
		return ""
	}
	defer f.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	if n == 0 {
		return ""
	}
	return http.DetectContentType(head[:n])
}

// UniquePath returns dir/name, or dir/name(n).ext for the smallest n that
// does not exist yet
func UniquePath(dir, name string) string {
	candidate := filepath.Join(dir, name)
	if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
		return candidate
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for i := 1; ; i++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s(%d)%s", stem, i, ext))
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

// moveFile renames src to dst, copying across devices when rename fails
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open download: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create target: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy download: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to flush target: %w", err)
	}
	in.Close()
	return os.Remove(src)
}

// Downloads places finished engine downloads into a profile's download
// directory under sanitized, collision-free names
type Downloads struct {
	dir    string
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]pendingDownload
	saved   []string
}

type pendingDownload struct {
	url       string
	suggested string
}

// NewDownloads creates a tracker rooted at dir
func NewDownloads(dir string, logger *zap.Logger) *Downloads {
	return &Downloads{
		dir:     dir,
		logger:  logger,
		pending: make(map[string]pendingDownload),
	}
}

// Dir returns the target directory
func (d *Downloads) Dir() string {
	return d.dir
}

// Begin records a download the engine announced under id
func (d *Downloads) Begin(id, rawURL, suggested string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[id] = pendingDownload{url: rawURL, suggested: suggested}
}

// Cancel forgets a download that did not complete
func (d *Downloads) Cancel(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, id)
}

// Complete moves the finished file at src into the download directory
// under its sanitized suggested name and returns the final path
func (d *Downloads) Complete(id, src string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[id]
	if !ok {
		p = pendingDownload{suggested: filepath.Base(src)}
	}
	delete(d.pending, id)

	name := SanitizeFilename(p.suggested)
	if filepath.Ext(name) == "" {
		name += InferExtension(p.url, sniffContentType(src))
	}

	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}
	dst := UniquePath(d.dir, name)
	if err := moveFile(src, dst); err != nil {
		return "", err
	}

	d.saved = append(d.saved, dst)
	d.logger.Info("download saved",
		zap.String("url", p.url),
		zap.String("path", dst))
	return dst, nil
}

// Saved lists the files placed so far
func (d *Downloads) Saved() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.saved...)
}

// DownloadDir returns the per-profile download directory under root
func DownloadDir(root, profileID string) string {
	return filepath.Join(root, profileID)
}

// OpenFolder acknowledges an "open containing folder" request for a
// profile's download directory, creating it when needed
func OpenFolder(root, profileID string) (core.FolderOpened, error) {
	dir := DownloadDir(root, profileID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.FolderOpened{}, fmt.Errorf("failed to create download directory: %w", err)
	}
	return core.FolderOpened{ProfileID: profileID, Path: dir}, nil
}
