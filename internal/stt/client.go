// Package stt transcribes uploaded audio through an external proxy
// service exposing the /transcribe_audio contract.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

const (
	// defaultTimeoutSeconds is the default timeout for proxy requests.
	defaultTimeoutSeconds = 30

	// transcribeEndpoint is the path appended to the proxy base URL.
	transcribeEndpoint = "/transcribe_audio"
)

// response is the expected JSON from the proxy.
type response struct {
	Transcript string `json:"transcript"`
}

// Client calls the STT proxy. A zero-value ProxyURL disables it.
type Client struct {
	proxyURL string
	apiKey   string
	timeout  time.Duration
	http     *http.Client
}

// NewClient builds an STT client. timeoutSec <= 0 selects the default.
func NewClient(proxyURL, apiKey string, timeoutSec int) *Client {
	if timeoutSec <= 0 {
		timeoutSec = defaultTimeoutSeconds
	}
	return &Client{
		proxyURL: proxyURL,
		apiKey:   apiKey,
		timeout:  time.Duration(timeoutSec) * time.Second,
		http:     &http.Client{},
	}
}

// Enabled reports whether a proxy URL is configured.
func (c *Client) Enabled() bool { return c.proxyURL != "" }

// Transcribe sends audio bytes to the proxy and returns the transcript.
// Returns ("", nil) silently when STT is not configured or the audio is
// empty, so callers fall back to text input without special-casing.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	if c.proxyURL == "" {
		return "", nil
	}
	if len(audio) == 0 {
		return "", nil
	}
	if filename == "" {
		filename = "audio.webm"
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("stt: create form file field: %w", err)
	}
	if _, err := fw.Write(audio); err != nil {
		return "", fmt.Errorf("stt: write audio bytes to form: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("stt: close multipart writer: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	url := c.proxyURL + transcribeEndpoint
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, &body)
	if err != nil {
		return "", fmt.Errorf("stt: build request to %q: %w", url, err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	slog.Debug("calling STT proxy", "url", url, "bytes", len(audio))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("stt: request to %q failed: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB cap
	if err != nil {
		return "", fmt.Errorf("stt: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("stt: upstream returned %d: %s", resp.StatusCode, string(respBody))
	}

	var result response
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("stt: parse response JSON: %w", err)
	}
	return result.Transcript, nil
}
