package app

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"backoffkit/internal/classify"
	"backoffkit/internal/platform/httpclient"
	"backoffkit/internal/shared"
)

// Probe issues one request to the target. Retrying is left to the caller so each failed
// probe shows up as one attempt in the journal and metrics.
type Probe struct {
	client *httpclient.Client
	method string
	url    string
}

// NewProbe returns a probe of url using client. An empty method means GET.
func NewProbe(client *httpclient.Client, method, url string) *Probe {
	if method == "" {
		method = http.MethodGet
	}
	return &Probe{client: client, method: method, url: url}
}

// Check fails on transport errors and on any status >= 400. The error carries the shared
// kind of the status so classify.Default can decide whether to retry it.
func (p *Probe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, p.method, p.url, nil)
	if err != nil {
		return shared.MarkKind(fmt.Errorf("probe request: %w", err), shared.KindValidation)
	}
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= http.StatusBadRequest {
		return shared.MarkKind(
			fmt.Errorf("probe %s %s: status %d", p.method, p.url, resp.StatusCode),
			classify.StatusKind(resp.StatusCode),
		)
	}
	return nil
}
