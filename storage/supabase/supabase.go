// Package supabase stores artifacts in a Supabase Storage bucket through
// its REST API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/reel/errors"
	"github.com/teranos/reel/internal/httpclient"
)

// Config configures the Supabase backend
type Config struct {
	URL        string // project URL, e.g. https://abc.supabase.co
	ServiceKey string
	Bucket     string
	Timeout    time.Duration // per upload
	HTTPClient *httpclient.SaferClient
	Logger     *zap.SugaredLogger
}

// Store implements storage.Storage
type Store struct {
	baseURL    string
	serviceKey string
	bucket     string
	timeout    time.Duration
	client     *httpclient.SaferClient
	logger     *zap.SugaredLogger
}

// New creates a Supabase Storage backend
func New(cfg Config) (*Store, error) {
	if cfg.URL == "" || cfg.ServiceKey == "" || cfg.Bucket == "" {
		return nil, errors.WithHint(
			errors.New("supabase storage needs url, service key and bucket"),
			"set SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpclient.NewSaferClient(0)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	return &Store{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		serviceKey: cfg.ServiceKey,
		bucket:     cfg.Bucket,
		timeout:    cfg.Timeout,
		client:     cfg.HTTPClient,
		logger:     cfg.Logger.Named("supabase"),
	}, nil
}

func (s *Store) objectURL(p string) string {
	return s.baseURL + "/storage/v1/object/" + url.PathEscape(s.bucket) + "/" + escapePath(p)
}

// PublicURL is the public download URL of an object
func (s *Store) PublicURL(p string) string {
	return s.baseURL + "/storage/v1/object/public/" + url.PathEscape(s.bucket) + "/" + escapePath(p)
}

func escapePath(p string) string {
	parts := strings.Split(strings.TrimLeft(p, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// Upload writes data at p without overwriting
func (s *Store) Upload(ctx context.Context, p string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(p), bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "failed to create upload request")
	}
	s.authorize(req)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "false")
	req.Header.Set("Cache-Control", "3600")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "upload %s", p)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.Newf("upload %s: supabase returned %d: %s", p, resp.StatusCode, readError(resp.Body))
	}

	s.logger.Debugw("Object uploaded", "path", p, "size", len(data))
	return s.PublicURL(p), nil
}

// Remove deletes the object at p
func (s *Store) Remove(ctx context.Context, p string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	body, err := json.Marshal(map[string][]string{"prefixes": {p}})
	if err != nil {
		return errors.Wrap(err, "failed to marshal remove request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		s.baseURL+"/storage/v1/object/"+url.PathEscape(s.bucket), bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create remove request")
	}
	s.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "remove %s", p)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Newf("remove %s: supabase returned %d: %s", p, resp.StatusCode, readError(resp.Body))
	}
	return nil
}

func (s *Store) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("apikey", s.serviceKey)
}

func readError(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return strings.TrimSpace(string(raw))
}
