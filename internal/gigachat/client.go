package gigachat

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Config holds everything the client needs to reach the GigaChat API.
// Exactly one of {AuthKey, ClientCert} must be set; both may be set, in
// which case requests go cert-first with a bearer fallback on 401/403.
type Config struct {
	OAuthURL       string
	CompletionsURL string
	FilesURL       string

	AuthKey string
	Scope   string

	ClientCert     string
	ClientKey      string
	CABundle       string
	TLSVerify      bool
	ForceTokenAuth bool

	TextModel         string
	VisionModel       string
	TextTemperature   float64
	VisionTemperature float64
}

// CallOptions override the configured model parameters for one call.
type CallOptions struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

// VisionResult is the outcome of an image completion. When the API rejects
// the request with 413 or 400, Text carries a descriptive message and
// Degraded is set instead of returning an error, so one oversized page does
// not abort the batch.
type VisionResult struct {
	Text     string
	Degraded bool
}

// Client issues text and vision completions against the GigaChat REST API
// and feeds every usage block into the injected ledger.
type Client struct {
	cfg        Config
	httpClient *http.Client
	usage      *UsageLedger
	stats      *CallStats

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

func NewClient(cfg Config, usage *UsageLedger) (*Client, error) {
	if usage == nil {
		usage = NewUsageLedger()
	}

	tlsCfg := &tls.Config{}
	if cfg.ClientCert != "" {
		keyFile := cfg.ClientKey
		if keyFile == "" {
			// Combined PEM: cert and key in one file.
			keyFile = cfg.ClientCert
		}
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	}
	if cfg.CABundle != "" {
		pem, err := os.ReadFile(cfg.CABundle)
		if err != nil {
			return nil, fmt.Errorf("read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle %s: no certificates found", cfg.CABundle)
		}
		tlsCfg.RootCAs = pool
	} else if !cfg.TLSVerify {
		tlsCfg.InsecureSkipVerify = true
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   120 * time.Second,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
		usage: usage,
		stats: NewCallStats(time.Hour),
	}, nil
}

// Usage returns the ledger shared by all calls through this client.
func (c *Client) Usage() *UsageLedger { return c.usage }

// Stats returns the rolling latency window.
func (c *Client) Stats() *CallStats { return c.stats }

func (c *Client) hasCert() bool { return c.cfg.ClientCert != "" }

type oauthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresAt   int64  `json:"expires_at"` // unix millis
	Code        int    `json:"code"`
	Message     string `json:"message"`
}

// accessToken returns a cached or freshly acquired bearer token. In
// cert-only deployments it returns "" with no error: requests then rely on
// the client certificate alone.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.cfg.AuthKey == "" {
		if c.hasCert() {
			return "", nil
		}
		return "", ErrNoCredentials
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && time.Now().Before(c.tokenExp.Add(-time.Minute)) {
		return c.token, nil
	}

	form := url.Values{"scope": {c.cfg.Scope}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.OAuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create oauth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("RqUID", uuid.NewString())
	req.Header.Set("Authorization", "Bearer "+c.cfg.AuthKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("oauth: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read oauth response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var tok oauthResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", fmt.Errorf("decode oauth response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("oauth: no access_token in response (code %d: %s)", tok.Code, tok.Message)
	}

	c.token = tok.AccessToken
	if tok.ExpiresAt > 0 {
		c.tokenExp = time.UnixMilli(tok.ExpiresAt)
	} else {
		c.tokenExp = time.Now().Add(25 * time.Minute)
	}
	return c.token, nil
}

// postWithAuth applies the auth priority rules: with a client certificate
// (and force-token off) the first attempt carries no Authorization header;
// a 401/403 answer is retried once with a bearer token if one is
// obtainable. Without a certificate the bearer token is mandatory.
func (c *Client) postWithAuth(ctx context.Context, endpoint, contentType string, body []byte) (*http.Response, error) {
	if !c.hasCert() && c.cfg.AuthKey == "" {
		return nil, ErrNoCredentials
	}

	do := func(bearer string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		return c.httpClient.Do(req)
	}

	if c.hasCert() && !c.cfg.ForceTokenAuth {
		resp, err := do("")
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			token, tokErr := c.accessToken(ctx)
			if tokErr == nil && token != "" {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				return do(token)
			}
		}
		return resp, nil
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	return do(token)
}

type chatMessage struct {
	Role        string   `json:"role"`
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// chat posts one completion request and returns the answer text. Usage
// blocks feed the ledger; absent or malformed usage is skipped silently.
func (c *Client) chat(ctx context.Context, op string, creq chatRequest) (string, error) {
	payload, err := json.Marshal(creq)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	start := time.Now()
	resp, err := c.postWithAuth(ctx, c.cfg.CompletionsURL, "application/json", payload)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	c.stats.Record(op, time.Since(start).Milliseconds())

	var cresp chatResponse
	if err := json.Unmarshal(body, &cresp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if cresp.Usage != nil {
		c.usage.Record(*cresp.Usage)
	}
	if len(cresp.Choices) == 0 {
		return "", fmt.Errorf("empty choices in completion response")
	}
	return decodeContent(cresp.Choices[0].Message.Content), nil
}

// decodeContent accepts both content shapes the API produces: a plain
// string, or an array of typed blocks (multimodal answers).
func decodeContent(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var texts []string
		for _, b := range blocks {
			if b.Type == "output_text" || b.Type == "text" {
				texts = append(texts, b.Text)
			}
		}
		if len(texts) > 0 {
			return strings.Join(texts, "\n")
		}
	}
	return string(raw)
}

// Complete issues a plain text completion.
func (c *Client) Complete(ctx context.Context, system, user string, opts CallOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.cfg.TextModel
	}
	temperature := c.cfg.TextTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	var messages []chatMessage
	if system != "" {
		messages = append(messages, chatMessage{Role: "system", Content: system})
	}
	messages = append(messages, chatMessage{Role: "user", Content: user})

	return c.chat(ctx, "text", chatRequest{
		Model:       model,
		Temperature: temperature,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
	})
}

// CompleteWithImage uploads the image and issues a completion with the
// returned file id attached to the user message. HTTP 413 and 400 answers
// on the completion are converted into a degraded result rather than an
// error; everything else propagates.
func (c *Client) CompleteWithImage(ctx context.Context, system, user, imagePath string, opts CallOptions) (VisionResult, error) {
	fileID, err := c.uploadImage(ctx, imagePath)
	if err != nil {
		return VisionResult{}, err
	}

	model := opts.Model
	if model == "" {
		model = c.cfg.VisionModel
	}
	temperature := c.cfg.VisionTemperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	messages := []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user, Attachments: []string{fileID}},
	}

	text, err := c.chat(ctx, "vision", chatRequest{
		Model:       model,
		Temperature: temperature,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			switch se.StatusCode {
			case http.StatusRequestEntityTooLarge:
				return VisionResult{
					Text:     "GigaChat error: HTTP 413 Request Entity Too Large. The image or request is too big; reduce the file size or resolution and retry.",
					Degraded: true,
				}, nil
			case http.StatusBadRequest:
				return VisionResult{
					Text:     "GigaChat error: HTTP 400 Bad Request. Check the model name and request format. Server response:\n" + truncate(se.Body, 2000),
					Degraded: true,
				}, nil
			}
		}
		return VisionResult{}, err
	}
	return VisionResult{Text: text}, nil
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
