package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/CodeMonkeyCybersecurity/attackmap/internal/cache"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/config"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/core"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/logger"
	"github.com/CodeMonkeyCybersecurity/attackmap/internal/ratelimit"
	"github.com/CodeMonkeyCybersecurity/attackmap/pkg/attack"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	d3fendNamespace   = "d3fend"
	d3fendConcurrency = 4
)

// D3FENDClient looks up the defensive techniques D3FEND maps to an ATT&CK technique.
// Results are memoized per client instance.
type D3FENDClient struct {
	baseURL string
	client  *http.Client
	limiter *ratelimit.Limiter
	cache   core.Cache
	logger  *logger.Logger

	mu     sync.RWMutex
	memo   map[string][]attack.D3FENDTechnique
	flight singleflight.Group
}

// NewD3FENDClient builds a client; c may be nil
func NewD3FENDClient(cfg config.D3FENDConfig, client *http.Client, limiter *ratelimit.Limiter, c core.Cache, log *logger.Logger) *D3FENDClient {
	if log == nil {
		log = logger.NewNop()
	}
	base := cfg.BaseURL
	if base == "" {
		base = config.DefaultD3FENDBaseURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	if client == nil {
		clientCfg := httpclient.DefaultConfig()
		if cfg.Timeout > 0 {
			clientCfg.Timeout = cfg.Timeout
		}
		client = httpclient.NewClient(clientCfg)
	}
	if limiter == nil {
		limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	}

	return &D3FENDClient{
		baseURL: base,
		client:  client,
		limiter: limiter,
		cache:   c,
		logger:  log.WithComponent("d3fend"),
		memo:    make(map[string][]attack.D3FENDTechnique),
	}
}

type d3fendBinding struct {
	DefTech      d3fendValue `json:"def_tech"`
	DefTechLabel d3fendValue `json:"def_tech_label"`
	DefTactic    d3fendValue `json:"def_tactic_label"`
}

type d3fendValue struct {
	Value string `json:"value"`
}

type d3fendResponse struct {
	OffToDef struct {
		Results struct {
			Bindings []d3fendBinding `json:"bindings"`
		} `json:"results"`
	} `json:"off_to_def"`
}

// URL returns the mapping endpoint for techniqueID
func (c *D3FENDClient) URL(techniqueID string) string {
	return c.baseURL + techniqueID + ".json"
}

// Lookup returns the countermeasures for techniqueID. Unknown techniques yield an
// empty result, not an error.
func (c *D3FENDClient) Lookup(ctx context.Context, techniqueID string) ([]attack.D3FENDTechnique, error) {
	if techniqueID == "" {
		return nil, nil
	}

	c.mu.RLock()
	cached, ok := c.memo[techniqueID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	v, err, _ := c.flight.Do(techniqueID, func() (interface{}, error) {
		c.mu.RLock()
		cached, ok := c.memo[techniqueID]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		defs, err := c.fetch(ctx, techniqueID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.memo[techniqueID] = defs
		c.mu.Unlock()
		return defs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]attack.D3FENDTechnique), nil
}

// Memoized reports how many techniques have been resolved by this client
func (c *D3FENDClient) Memoized() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.memo)
}

func (c *D3FENDClient) fetch(ctx context.Context, techniqueID string) ([]attack.D3FENDTechnique, error) {
	u := c.URL(techniqueID)
	key := cache.KeyFor(d3fendNamespace, u)

	if c.cache != nil {
		if data, err := c.cache.Get(ctx, key); err == nil {
			return parseD3FEND(data)
		}
	}

	if err := c.limiter.WaitForURL(ctx, u); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	data, err := httpclient.Get(ctx, c.client, u, map[string]string{"Accept": "application/json"})
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		c.logger.Debugw("No D3FEND mapping", "technique_id", techniqueID)
		return []attack.D3FENDTechnique{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("d3fend lookup for %s: %w", techniqueID, err)
	}

	defs, err := parseD3FEND(data)
	if err != nil {
		return nil, fmt.Errorf("d3fend lookup for %s: %w", techniqueID, err)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, data, 0); err != nil {
			c.logger.Warnw("Failed to cache D3FEND response", "technique_id", techniqueID, "error", err)
		}
	}
	return defs, nil
}

// parseD3FEND flattens the SPARQL bindings, one entry per distinct defensive technique
func parseD3FEND(data []byte) ([]attack.D3FENDTechnique, error) {
	var resp d3fendResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode D3FEND response: %w", err)
	}

	seen := make(map[string]struct{})
	defs := make([]attack.D3FENDTechnique, 0, len(resp.OffToDef.Results.Bindings))
	for _, b := range resp.OffToDef.Results.Bindings {
		uri := b.DefTech.Value
		if uri == "" {
			continue
		}
		id := uri
		if i := strings.LastIndexByte(uri, '#'); i >= 0 && i < len(uri)-1 {
			id = uri[i+1:]
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		defs = append(defs, attack.D3FENDTechnique{
			ID:     id,
			Label:  b.DefTechLabel.Value,
			Tactic: b.DefTactic.Value,
			URI:    uri,
		})
	}
	return defs, nil
}

// Enrich attaches D3FEND countermeasures to every technique with an identifier.
// Failed lookups are logged and leave that technique unenriched.
func (c *D3FENDClient) Enrich(ctx context.Context, techniques []attack.Technique) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d3fendConcurrency)

	var failed int
	var failedMu sync.Mutex

	for i := range techniques {
		t := &techniques[i]
		if t.TechniqueID == "" {
			continue
		}
		g.Go(func() error {
			defs, err := c.Lookup(gctx, t.TechniqueID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				c.logger.Warnw("D3FEND lookup failed", "technique_id", t.TechniqueID, "error", err)
				failedMu.Lock()
				failed++
				failedMu.Unlock()
				return nil
			}
			t.D3FEND = defs
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	c.logger.Infow("D3FEND enrichment complete",
		"techniques", len(techniques),
		"resolved", c.Memoized(),
		"failed", failed,
	)
	return nil
}
