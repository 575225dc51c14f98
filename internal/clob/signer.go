package clob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OrderSigner turns order arguments into the signed order object the
// exchange expects. Key custody lives behind this interface.
type OrderSigner interface {
	SignOrder(ctx context.Context, args OrderArgs) (json.RawMessage, error)
}

// RemoteSigner delegates signing to a sidecar over HTTP. The sidecar answers
// POST {args} with the signed order JSON.
type RemoteSigner struct {
	url    string
	client *http.Client
}

func NewRemoteSigner(url string) *RemoteSigner {
	return &RemoteSigner{url: url, client: &http.Client{Timeout: 2 * time.Second}}
}

func (s *RemoteSigner) SignOrder(ctx context.Context, args OrderArgs) (json.RawMessage, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("signer: %d %s", resp.StatusCode, bytes.TrimSpace(b))
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("signer: invalid json response")
	}
	return json.RawMessage(b), nil
}
