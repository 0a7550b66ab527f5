/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_playback/internal/config"
)

// Service opens resources by URI: local paths, file://, http(s):// and s3://.
type Service struct {
	mediaRoot  string
	s3cfg      S3Config
	httpClient *http.Client
	logger     zerolog.Logger

	mu       sync.Mutex
	s3client S3API
}

// NewService creates a resource service from process configuration.
func NewService(cfg *config.Config, logger zerolog.Logger) *Service {
	return &Service{
		mediaRoot: cfg.MediaRoot,
		s3cfg: S3Config{
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
		},
		httpClient: &http.Client{Timeout: cfg.HTTPFetchTimeout},
		logger:     logger.With().Str("component", "media").Logger(),
	}
}

// SetS3Client overrides the lazily built S3 client.
func (s *Service) SetS3Client(client S3API) {
	s.mu.Lock()
	s.s3client = client
	s.mu.Unlock()
}

// Open resolves uri to a Resource.
func (s *Service) Open(ctx context.Context, uri string) (Resource, error) {
	if strings.TrimSpace(uri) == "" {
		return nil, fmt.Errorf("open resource: empty uri")
	}

	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// Bare paths (and Windows drive letters) are local files.
		return s.openFile(uri)
	}

	switch u.Scheme {
	case "file":
		return s.openFile(u.Path)
	case "http", "https":
		return OpenHTTP(ctx, uri, s.httpClient, s.logger)
	case "s3":
		client, err := s.s3(ctx)
		if err != nil {
			return nil, err
		}
		return OpenS3(ctx, client, uri, s.logger)
	default:
		return nil, fmt.Errorf("open resource: unsupported scheme %q", u.Scheme)
	}
}

func (s *Service) openFile(p string) (Resource, error) {
	f, err := OpenFile(s.resolvePath(p), s.logger)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Service) resolvePath(p string) string {
	if filepath.IsAbs(p) || s.mediaRoot == "" {
		return p
	}
	return filepath.Join(s.mediaRoot, p)
}

func (s *Service) s3(ctx context.Context) (S3API, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s3client != nil {
		return s.s3client, nil
	}

	if s.s3cfg.AccessKeyID == "" || s.s3cfg.SecretAccessKey == "" {
		s.logger.Warn().Msg("S3 credentials not configured, falling back to default credential chain")
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := NewS3Client(initCtx, s.s3cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize s3 client: %w", err)
	}
	s.s3client = client
	return client, nil
}
