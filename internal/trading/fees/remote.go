package fees

import (
	"context"
	"encoding/json"
	"exec_optimizer/internal/core"
	httpclient "exec_optimizer/pkg/http"
	"fmt"
	"time"
)

// RemoteSource fetches fee tables as JSON from an HTTP service
type RemoteSource struct {
	client *httpclient.Client
	path   string
	logger core.ILogger
}

// NewRemoteSource creates a source for baseURL+path; apiKey is sent as X-API-Key when set
func NewRemoteSource(baseURL, path, apiKey string, timeout time.Duration, logger core.ILogger) *RemoteSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	signer := httpclient.HeaderSigner{Header: "X-API-Key", Value: apiKey}
	return &RemoteSource{
		client: httpclient.NewClient(baseURL, timeout, signer),
		path:   path,
		logger: logger,
	}
}

func (s *RemoteSource) Name() string { return "remote" }

func (s *RemoteSource) Load(ctx context.Context) (*Directory, error) {
	body, err := s.client.Get(ctx, s.path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fee table: %w", err)
	}

	var doc tableFile
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode fee table: %w", err)
	}
	return doc.directory(s.logger)
}
