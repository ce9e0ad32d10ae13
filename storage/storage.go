// Package storage defines owned object storage for generated artifacts.
package storage

import (
	"context"
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/teranos/reel/job"
)

// Storage stores artifacts and serves them from a public URL
type Storage interface {
	// Upload writes data at path and returns its public URL. It never
	// overwrites an existing object.
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	// Remove deletes the object at path
	Remove(ctx context.Context, path string) error
}

const anonymousUser = "anonymous"

// ObjectPath returns a unique object path for one artifact of a job:
// {kind}s/{user}/{job}-{suffix}{ext}. Every call yields a new path.
func ObjectPath(kind job.Kind, userID, jobID, ext string) string {
	user := sanitizeSegment(userID)
	if user == "" {
		user = anonymousUser
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return path.Join(string(kind)+"s", user, sanitizeSegment(jobID)+"-"+suffix+ext)
}

// sanitizeSegment keeps a path segment to [A-Za-z0-9_-]
func sanitizeSegment(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

var knownExtensions = map[string]string{
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/webp":      ".webp",
	"image/gif":       ".gif",
}

// ExtensionFor picks a file extension from the content type, falling back
// to the extension of the source URL, then to a default for the kind.
func ExtensionFor(kind job.Kind, contentType, sourceURL string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if ext, ok := knownExtensions[mt]; ok {
			return ext
		}
	}
	if u, err := url.Parse(sourceURL); err == nil {
		ext := strings.ToLower(path.Ext(u.Path))
		for _, known := range knownExtensions {
			if ext == known {
				return ext
			}
		}
		if ext == ".jpeg" {
			return ".jpg"
		}
	}
	if kind == job.KindImage {
		return ".png"
	}
	return ".mp4"
}

// ContentTypeFor returns the content type to store an artifact under
func ContentTypeFor(kind job.Kind, contentType, ext string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if _, ok := knownExtensions[mt]; ok {
			return mt
		}
	}
	for mt, known := range knownExtensions {
		if known == ext {
			return mt
		}
	}
	if kind == job.KindImage {
		return "image/png"
	}
	return "video/mp4"
}
