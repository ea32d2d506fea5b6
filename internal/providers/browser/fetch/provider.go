package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/GriffinCanCode/webmodder/internal/providers/http/client"
	"github.com/bytedance/sonic"
)

// Provider is one strategy for obtaining a page's raw HTML.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, target string) (string, error)
}

// Kind selects a built-in provider implementation.
type Kind string

const (
	// KindJSON is a relay that wraps the page in a JSON envelope ({"contents": "..."}).
	KindJSON Kind = "json"
	// KindRaw is a relay that passes the page body through unchanged.
	KindRaw Kind = "raw"
	// KindDirect fetches the origin itself.
	KindDirect Kind = "direct"
)

// relayEndpoint expands an endpoint template. {url} is replaced by the
// query-escaped target; without a placeholder the escaped target is appended.
func relayEndpoint(template, target string) string {
	escaped := url.QueryEscape(target)
	if strings.Contains(template, "{url}") {
		return strings.ReplaceAll(template, "{url}", escaped)
	}
	return template + escaped
}

// JSONRelay fetches through a relay answering with a JSON envelope.
type JSONRelay struct {
	name     string
	endpoint string
	client   *client.Client
}

// NewJSONRelay creates a JSON envelope relay provider.
func NewJSONRelay(name, endpoint string, c *client.Client) *JSONRelay {
	return &JSONRelay{name: name, endpoint: endpoint, client: c}
}

func (p *JSONRelay) Name() string { return p.name }

type envelope struct {
	Contents *string `json:"contents"`
	Status   struct {
		HTTPCode int    `json:"http_code"`
		Error    string `json:"error"`
	} `json:"status"`
}

// Fetch implements Provider.
func (p *JSONRelay) Fetch(ctx context.Context, target string) (string, error) {
	resp, err := get(ctx, p.client, relayEndpoint(p.endpoint, target))
	if err != nil {
		return "", err
	}

	var env envelope
	if err := sonic.Unmarshal(resp.Body, &env); err != nil {
		return "", fmt.Errorf("%w: malformed relay envelope: %v", ErrNetwork, err)
	}
	if code := env.Status.HTTPCode; code != 0 && (code < 200 || code >= 300) {
		return "", fmt.Errorf("%w: origin answered HTTP %d via relay", ErrNetwork, code)
	}
	if env.Status.Error != "" {
		return "", fmt.Errorf("%w: relay error: %s", ErrNetwork, env.Status.Error)
	}
	if env.Contents == nil || strings.TrimSpace(*env.Contents) == "" {
		return "", fmt.Errorf("%w: relay envelope has no contents", ErrEmptyContent)
	}
	return *env.Contents, nil
}

// RawRelay fetches through a relay that returns the page body as-is.
type RawRelay struct {
	name     string
	endpoint string
	client   *client.Client
}

// NewRawRelay creates a passthrough relay provider.
func NewRawRelay(name, endpoint string, c *client.Client) *RawRelay {
	return &RawRelay{name: name, endpoint: endpoint, client: c}
}

func (p *RawRelay) Name() string { return p.name }

// Fetch implements Provider.
func (p *RawRelay) Fetch(ctx context.Context, target string) (string, error) {
	resp, err := get(ctx, p.client, relayEndpoint(p.endpoint, target))
	if err != nil {
		return "", err
	}
	return DecodeBody(resp.Body, resp.ContentType)
}

// Direct fetches the origin without a relay.
type Direct struct {
	name   string
	client *client.Client
}

// NewDirect creates a provider that requests the target itself.
func NewDirect(name string, c *client.Client) *Direct {
	return &Direct{name: name, client: c}
}

func (p *Direct) Name() string { return p.name }

// Fetch implements Provider.
func (p *Direct) Fetch(ctx context.Context, target string) (string, error) {
	resp, err := get(ctx, p.client, target)
	if err != nil {
		return "", err
	}
	return DecodeBody(resp.Body, resp.ContentType)
}

// get performs the request and folds transport errors and bad statuses into ErrNetwork.
func get(ctx context.Context, c *client.Client, endpoint string) (*client.Response, error) {
	resp, err := c.Get(ctx, endpoint)
	if err != nil {
		if isCancellation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("%w: HTTP %d", ErrNetwork, resp.StatusCode)
	}
	if len(resp.Body) == 0 {
		return nil, fmt.Errorf("%w: empty response body", ErrEmptyContent)
	}
	return resp, nil
}
