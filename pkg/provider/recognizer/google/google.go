// Package google provides a recognizer.Provider backed by the Google Cloud
// Speech-to-Text v1 REST API.
//
// Authentication uses Application Default Credentials through
// golang.org/x/oauth2/google unless an HTTP client is injected with
// [WithHTTPClient].
//
// Usage:
//
//	p, err := google.New(ctx)
//	handle, err := p.Submit(ctx, recognizer.Request{URI: "gs://bucket/audio.wav", Config: recognizer.DefaultConfig()})
//	res, err := p.Poll(ctx, handle)
package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	googleauth "golang.org/x/oauth2/google"

	"github.com/MrWong99/meetscribe/pkg/provider/recognizer"
)

const (
	// DefaultEndpoint is the Speech-to-Text v1 REST base URL.
	DefaultEndpoint = "https://speech.googleapis.com/v1"

	// cloudPlatformScope is the OAuth2 scope required by the Speech API.
	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

	defaultPollInterval = 5 * time.Second
	defaultTimeout      = 60 * time.Second
)

var _ recognizer.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithEndpoint overrides the REST base URL. Useful for tests and regional
// endpoints.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// WithHTTPClient sets the HTTP client used for all requests. The client is
// expected to authenticate requests itself. Setting it skips the Application
// Default Credentials lookup in [New].
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// WithTokenSource authenticates requests with ts instead of Application
// Default Credentials.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(p *Provider) {
		p.tokenSource = ts
	}
}

// WithPollInterval sets how often [Provider.Recognize] polls the operation it
// started. Defaults to 5 s.
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		p.pollInterval = d
	}
}

// Provider implements recognizer.Provider against the Speech REST API.
type Provider struct {
	endpoint     string
	httpClient   *http.Client
	tokenSource  oauth2.TokenSource
	pollInterval time.Duration
}

// New creates a Provider. Without [WithHTTPClient] or [WithTokenSource] it
// resolves Application Default Credentials, which fails when no credentials
// are configured in the environment.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	p := &Provider{
		endpoint:     DefaultEndpoint,
		pollInterval: defaultPollInterval,
	}
	for _, o := range opts {
		o(p)
	}
	if p.pollInterval <= 0 {
		return nil, fmt.Errorf("google: poll interval must be positive, got %s", p.pollInterval)
	}
	if p.httpClient != nil {
		return p, nil
	}
	if p.tokenSource == nil {
		ts, err := googleauth.DefaultTokenSource(ctx, cloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("google: resolve default credentials: %w", err)
		}
		p.tokenSource = ts
	}
	p.httpClient = oauth2.NewClient(ctx, p.tokenSource)
	p.httpClient.Timeout = defaultTimeout
	return p, nil
}

// ---- wire types -------------------------------------------------------------

type diarizationConfig struct {
	EnableSpeakerDiarization bool `json:"enableSpeakerDiarization"`
	MinSpeakerCount          int  `json:"minSpeakerCount,omitempty"`
	MaxSpeakerCount          int  `json:"maxSpeakerCount,omitempty"`
}

type recognitionConfig struct {
	Encoding                   string             `json:"encoding,omitempty"`
	SampleRateHertz            int                `json:"sampleRateHertz,omitempty"`
	LanguageCode               string             `json:"languageCode"`
	EnableAutomaticPunctuation bool               `json:"enableAutomaticPunctuation,omitempty"`
	EnableWordTimeOffsets      bool               `json:"enableWordTimeOffsets,omitempty"`
	DiarizationConfig          *diarizationConfig `json:"diarizationConfig,omitempty"`
}

type recognitionAudio struct {
	URI     string `json:"uri,omitempty"`
	Content string `json:"content,omitempty"`
}

type longRunningRequest struct {
	Config recognitionConfig `json:"config"`
	Audio  recognitionAudio  `json:"audio"`
}

type operationStatus struct {
	Name  string                     `json:"name"`
	Done  bool                       `json:"done"`
	Error *recognizer.OperationError `json:"error"`
}

func buildRequest(req recognizer.Request) (longRunningRequest, error) {
	cfg := req.Config
	body := longRunningRequest{
		Config: recognitionConfig{
			Encoding:                   string(cfg.Encoding),
			SampleRateHertz:            cfg.SampleRateHertz,
			LanguageCode:               cfg.LanguageCode,
			EnableAutomaticPunctuation: cfg.EnableAutomaticPunctuation,
			EnableWordTimeOffsets:      cfg.EnableWordTimeOffsets,
		},
	}
	if body.Config.LanguageCode == "" {
		body.Config.LanguageCode = "en-US"
	}
	if cfg.EnableSpeakerDiarization {
		body.Config.DiarizationConfig = &diarizationConfig{
			EnableSpeakerDiarization: true,
			MinSpeakerCount:          cfg.MinSpeakerCount,
			MaxSpeakerCount:          cfg.MaxSpeakerCount,
		}
	}

	// Only Cloud Storage references can be read by the service directly.
	switch {
	case strings.HasPrefix(req.URI, "gs://"):
		body.Audio.URI = req.URI
	case len(req.Content) > 0:
		body.Audio.Content = base64.StdEncoding.EncodeToString(req.Content)
	default:
		return body, errors.New("google: request has neither a gs:// URI nor inline content")
	}
	return body, nil
}

// ---- operations -------------------------------------------------------------

// Submit starts a long-running recognition and returns the operation name.
func (p *Provider) Submit(ctx context.Context, req recognizer.Request) (string, error) {
	body, err := buildRequest(req)
	if err != nil {
		return "", err
	}
	data, err := p.do(ctx, http.MethodPost, "/speech:longrunningrecognize", body)
	if err != nil {
		return "", fmt.Errorf("google: submit: %w", err)
	}
	var op operationStatus
	if err := json.Unmarshal(data, &op); err != nil {
		return "", fmt.Errorf("google: submit: decode operation: %w", err)
	}
	if op.Name == "" {
		return "", errors.New("google: submit: response carries no operation name")
	}
	return op.Name, nil
}

// Poll fetches the operation and parses its result once done.
func (p *Provider) Poll(ctx context.Context, handle string) (*recognizer.PollResult, error) {
	if handle == "" {
		return nil, errors.New("google: poll: empty operation handle")
	}
	data, err := p.do(ctx, http.MethodGet, "/operations/"+handle, nil)
	if err != nil {
		return nil, fmt.Errorf("google: poll %s: %w", handle, err)
	}
	var op operationStatus
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, fmt.Errorf("google: poll %s: decode operation: %w", handle, err)
	}
	if !op.Done {
		return &recognizer.PollResult{}, nil
	}
	if op.Error != nil {
		return nil, fmt.Errorf("google: poll %s: %w: %s", handle, recognizer.ErrOperationFailed, op.Error)
	}
	res, _, err := recognizer.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("google: poll %s: %w", handle, err)
	}
	return &recognizer.PollResult{Done: true, Result: res}, nil
}

// Recognize submits inline audio and polls until the operation completes.
func (p *Provider) Recognize(ctx context.Context, req recognizer.Request) (*recognizer.Result, error) {
	req.URI = ""
	handle, err := p.Submit(ctx, req)
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		res, err := p.Poll(ctx, handle)
		if err != nil {
			return nil, err
		}
		if res.Done {
			return res.Result, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("google: recognize %s: %w", handle, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (p *Provider) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.endpoint+path, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return nil, fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, msg)
	}
	return data, nil
}
