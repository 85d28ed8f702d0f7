// Package transcribe calls the transcription vendor for fetched media.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BashkirovN/MiniStateAffairs/internal/retry"
)

// Result is the provider output persisted as a transcript.
type Result struct {
	Text     string
	Language string
	Raw      json.RawMessage
}

// Provider transcribes a publicly reachable media URL.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, mediaURL string) (Result, error)
	Ready(ctx context.Context) error
}

// HTTPProvider posts media URLs to a vendor endpoint.
type HTTPProvider struct {
	Endpoint     string
	APIKey       string
	ProviderName string
	Client       *http.Client
	Retry        retry.Options
	Timeout      time.Duration
}

func (p *HTTPProvider) Name() string {
	if p.ProviderName != "" {
		return p.ProviderName
	}
	return "http"
}

type transcribeRequest struct {
	MediaURL string `json:"media_url"`
}

type transcribeResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// Transcribe submits the media URL and decodes the vendor payload. The raw
// body is preserved verbatim alongside the decoded fields.
func (p *HTTPProvider) Transcribe(ctx context.Context, mediaURL string) (Result, error) {
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(transcribeRequest{MediaURL: mediaURL})
	if err != nil {
		return Result{}, fmt.Errorf("marshal transcription request: %w", err)
	}

	resp, err := retry.Fetch(ctx, p.Client, nil, p.Retry, func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, p.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
		return req, nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32*1024*1024))
	if err != nil {
		return Result{}, fmt.Errorf("read transcription response: %w", err)
	}
	var decoded transcribeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("decode transcription response: %w", err)
	}
	if decoded.Text == "" {
		return Result{}, fmt.Errorf("transcription response for %s contained no text", mediaURL)
	}
	return Result{Text: decoded.Text, Language: decoded.Language, Raw: raw}, nil
}

// Ready probes the vendor endpoint. Failure degrades the run rather than
// aborting it; transfers still proceed.
func (p *HTTPProvider) Ready(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.Endpoint, nil)
	if err != nil {
		return err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("transcription provider unreachable: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusInternalServerError {
		return &retry.HTTPError{StatusCode: resp.StatusCode, URL: p.Endpoint}
	}
	return nil
}
