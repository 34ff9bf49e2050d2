package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"marcus/internal/logging"
	"marcus/internal/types"
)

// restClient is the shared HTTP plumbing for the hosted backends. Each
// backend maps its endpoints onto it; transient transport and 5xx
// failures surface as ProviderUnavailable so the retry layer can act.
type restClient struct {
	base    string
	token   string
	client  *http.Client
	backend string
	headers map[string]string
}

func newRESTClient(backend, base, token string, timeout time.Duration) *restClient {
	return &restClient{
		base:    base,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		backend: backend,
	}
}

// do issues a JSON request. in may be nil; out may be nil to discard the
// body. Idempotency keys travel in a header.
func (rc *restClient) do(ctx context.Context, method, path string, in, out interface{}, idemKey string) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", rc.backend, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, rc.base+path, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", rc.backend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if rc.token != "" {
		req.Header.Set("Authorization", "Bearer "+rc.token)
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	for k, v := range rc.headers {
		req.Header.Set(k, v)
	}

	resp, err := rc.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.E(types.KindTimeout, "%s: %s %s: %v", rc.backend, method, path, err)
		}
		return types.E(types.KindProviderUnavailable, "%s: %s %s: %v", rc.backend, method, path, err)
	}
	defer resp.Body.Close()

	logging.ProviderDebug("%s %s %s -> %d", rc.backend, method, path, resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return types.E(types.KindUnknownTask, "%s: %s not found", rc.backend, path)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return types.E(types.KindProviderUnavailable, "%s: %s %s returned %d", rc.backend, method, path, resp.StatusCode)
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return types.E(types.KindPersistenceFailure, "%s: %s %s returned %d: %s", rc.backend, method, path, resp.StatusCode, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", rc.backend, err)
	}
	return nil
}
