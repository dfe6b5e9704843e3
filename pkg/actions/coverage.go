package actions

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/systemstart/gridrun/pkg/api"
)

// coverageAction posts a coverage report from the instance workspace to the
// configured aggregation service. The instance it reports for is identified
// through request headers, so the service can attribute the upload.
type coverageAction struct{}

func (a *coverageAction) Name() string {
	return api.ActionCoverageUpload
}

func (a *coverageAction) Run(ctx context.Context, actx *Context) error {
	endpoint := actx.Mapping.CoverageEndpoint()

	url := actx.With["url"]
	if url == "" {
		url = endpoint.URL
	}
	if url == "" {
		return fmt.Errorf("no coverage endpoint configured")
	}

	token := actx.With["token"]
	if token == "" {
		token = endpoint.Token
	}

	file := filepath.Join(actx.WorkDir, actx.With["file"])
	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading coverage report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Gridrun-Run", actx.Meta.Run)
	req.Header.Set("X-Gridrun-Workflow", actx.Meta.Workflow)
	req.Header.Set("X-Gridrun-Job", actx.Meta.Job)
	req.Header.Set("X-Gridrun-Combination", actx.Meta.Combo.String())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := actx.client().Do(req)
	if err != nil {
		return fmt.Errorf("uploading coverage report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("coverage service returned %s", resp.Status)
	}

	slog.Debug("coverage report uploaded", "file", actx.With["file"], "status", resp.StatusCode)

	return nil
}
