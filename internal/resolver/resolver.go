// Package resolver turns agent metadata URIs into parsed documents. It
// handles inline data: URIs, plain http(s) URLs, and ipfs:// locators
// resolved through a set of interchangeable mirror gateways.
package resolver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/registry-mirror/internal/config"
	"github.com/registry-mirror/internal/logging"
)

// maxDocumentSize caps metadata responses; anything larger is not a
// plausible agent document.
const maxDocumentSize = 1 << 20

// Resolver fetches and parses metadata documents. It never returns an error
// past its boundary: any failure yields an empty document, and the fetcher
// applies field-level fallbacks.
type Resolver struct {
	httpClient     *http.Client
	gateways       []string
	gatewayTimeout time.Duration
	log            *logging.Logger
}

// NewResolver creates a resolver from configuration
func NewResolver(cfg *config.ResolverConfig, log *logging.Logger) *Resolver {
	if log == nil {
		log = logging.GetGlobalLogger()
	}

	httpTimeout := cfg.HTTPTimeout
	if httpTimeout == 0 {
		httpTimeout = 10 * time.Second
	}
	gatewayTimeout := cfg.GatewayTimeout
	if gatewayTimeout == 0 {
		gatewayTimeout = 15 * time.Second
	}

	return &Resolver{
		httpClient:     &http.Client{Timeout: httpTimeout},
		gateways:       cfg.IPFSGateways,
		gatewayTimeout: gatewayTimeout,
		log:            log,
	}
}

// Resolve dispatches on the URI scheme and returns the parsed document, or
// an empty document on any failure.
func (r *Resolver) Resolve(ctx context.Context, uri string) map[string]interface{} {
	uri = strings.TrimSpace(uri)

	var doc map[string]interface{}
	var err error

	switch {
	case uri == "":
		return map[string]interface{}{}
	case strings.HasPrefix(uri, "data:"):
		doc, err = decodeDataURI(uri)
	case strings.HasPrefix(uri, "ipfs://"):
		doc, err = r.resolveIPFS(ctx, strings.TrimPrefix(uri, "ipfs://"))
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		doc, err = r.fetchJSON(ctx, r.httpClient, uri)
	default:
		err = fmt.Errorf("unsupported URI scheme")
	}

	if err != nil {
		r.log.Warnf("[Resolver] Failed to resolve %q: %v", truncate(uri, 120), err)
		return map[string]interface{}{}
	}
	return doc
}

// decodeDataURI decodes an inline-embedded JSON document. Both base64 and
// percent-encoded payloads occur in the wild.
func decodeDataURI(uri string) (map[string]interface{}, error) {
	comma := strings.Index(uri, ",")
	if comma < 0 {
		return nil, fmt.Errorf("malformed data URI")
	}
	meta, payload := uri[len("data:"):comma], uri[comma+1:]

	var raw []byte
	if strings.Contains(meta, "base64") {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			// Some encoders emit unpadded base64
			decoded, err = base64.RawStdEncoding.DecodeString(payload)
			if err != nil {
				return nil, fmt.Errorf("invalid base64 payload: %w", err)
			}
		}
		raw = decoded
	} else {
		decoded, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid percent-encoded payload: %w", err)
		}
		raw = []byte(decoded)
	}

	return parseDocument(raw)
}

// resolveIPFS races all configured gateways and takes the first success.
// Racing, not sequential fallback, bounds worst-case latency to one gateway
// timeout regardless of gateway count.
func (r *Resolver) resolveIPFS(ctx context.Context, cid string) (map[string]interface{}, error) {
	if len(r.gateways) == 0 {
		return nil, fmt.Errorf("no IPFS gateways configured")
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		doc map[string]interface{}
		err error
	}
	results := make(chan result, len(r.gateways))

	client := &http.Client{Timeout: r.gatewayTimeout}
	for _, gateway := range r.gateways {
		go func(gateway string) {
			doc, err := r.fetchJSON(raceCtx, client, gatewayURL(gateway, cid))
			results <- result{doc: doc, err: err}
		}(gateway)
	}

	var lastErr error
	for i := 0; i < len(r.gateways); i++ {
		res := <-results
		if res.err == nil {
			return res.doc, nil
		}
		lastErr = res.err
	}

	return nil, fmt.Errorf("all %d gateways failed: %w", len(r.gateways), lastErr)
}

// fetchJSON performs a single bounded fetch and parses the body
func (r *Resolver) fetchJSON(ctx context.Context, client *http.Client, target string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, err
	}

	return parseDocument(raw)
}

func parseDocument(raw []byte) (map[string]interface{}, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("invalid JSON document: %w", err)
	}
	return doc, nil
}

func gatewayURL(gateway, cid string) string {
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return gateway + cid
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
