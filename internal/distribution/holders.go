package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"

	"github.com/songzhibin97/quantaguard/internal/utils/request"
)

// Holder 代币持有人
type Holder struct {
	Wallet  string  `json:"wallet"`
	Balance float64 `json:"balance"`
}

// HolderSource lists current token holders.
type HolderSource interface {
	Holders(ctx context.Context) ([]Holder, error)
}

// HTTPHolderSource reads holders from an indexer endpoint returning
// {"holders":[{"wallet":"0x..","balance":12.5}]}.
type HTTPHolderSource struct {
	url        string
	httpClient *resty.Client
}

func NewHTTPHolderSource(url string) *HTTPHolderSource {
	return &HTTPHolderSource{
		url:        url,
		httpClient: request.Request,
	}
}

type holdersResponse struct {
	Holders []Holder `json:"holders"`
}

func (s *HTTPHolderSource) Holders(ctx context.Context) ([]Holder, error) {
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(s.url)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode())
	}

	var out holdersResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("failed to decode holders: %w", err)
	}
	return out.Holders, nil
}
