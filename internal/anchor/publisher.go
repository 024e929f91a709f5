package anchor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	dErrors "khural/pkg/domain-errors"
	"khural/pkg/platform/circuit"
)

// Publisher submits a Merkle root to the external ledger and returns the
// transaction reference the ledger assigned.
type Publisher interface {
	Publish(ctx context.Context, root string, category Category, description string) (string, error)
}

// HTTPPublisher talks to the anchor gateway, the HTTP facade in front of the
// external ledger's anchor contract. A circuit breaker sheds concurrent
// publishes while the gateway is down; an open circuit still admits one
// trial at a time, so the next scheduled run reaches the gateway and closes
// the circuit again once it recovers.
type HTTPPublisher struct {
	client   *http.Client
	endpoint string
	contract string
	breaker  *circuit.Breaker
}

type PublisherOption func(*HTTPPublisher)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(client *http.Client) PublisherOption {
	return func(p *HTTPPublisher) {
		if client != nil {
			p.client = client
		}
	}
}

// WithBreaker overrides the default circuit breaker.
func WithBreaker(breaker *circuit.Breaker) PublisherOption {
	return func(p *HTTPPublisher) {
		if breaker != nil {
			p.breaker = breaker
		}
	}
}

// NewHTTPPublisher builds a publisher against the given gateway endpoint and
// anchor contract address. Both are required; deployments without them leave
// the publisher out entirely and the service records skipped anchors.
func NewHTTPPublisher(endpoint, contract string, opts ...PublisherOption) (*HTTPPublisher, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("anchor gateway endpoint is required")
	}
	if contract == "" {
		return nil, fmt.Errorf("anchor contract address is required")
	}

	p := &HTTPPublisher{
		client:   &http.Client{Timeout: 30 * time.Second},
		endpoint: endpoint,
		contract: contract,
		breaker:  circuit.New("anchor-gateway"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

type publishRequest struct {
	ContractAddress string `json:"contract_address"`
	AnchorType      int    `json:"anchor_type"`
	MerkleRoot      string `json:"merkle_root"`
	Description     string `json:"description"`
}

type publishResponse struct {
	TxHash string `json:"tx_hash"`
}

func (p *HTTPPublisher) Publish(ctx context.Context, root string, category Category, description string) (string, error) {
	body, err := json.Marshal(publishRequest{
		ContractAddress: p.contract,
		AnchorType:      int(category),
		MerkleRoot:      root,
		Description:     description,
	})
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to encode anchor request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/anchors", bytes.NewReader(body))
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to build anchor request")
	}
	req.Header.Set("Content-Type", "application/json")

	// The gate sits directly in front of the network call: every code path
	// past Allow records an outcome, so the trial slot is always released.
	if !p.breaker.Allow() {
		return "", dErrors.New(dErrors.CodeExternalLedger, "anchor gateway circuit open")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		p.breaker.RecordFailure()
		return "", dErrors.Wrap(err, dErrors.CodeExternalLedger, "anchor gateway unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.breaker.RecordFailure()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", dErrors.Newf(dErrors.CodeExternalLedger,
			"anchor gateway returned %d: %s", resp.StatusCode, string(detail))
	}

	var out publishResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		p.breaker.RecordFailure()
		return "", dErrors.Wrap(err, dErrors.CodeExternalLedger, "failed to decode anchor response")
	}
	if out.TxHash == "" {
		p.breaker.RecordFailure()
		return "", dErrors.New(dErrors.CodeExternalLedger, "anchor gateway returned no transaction hash")
	}

	p.breaker.RecordSuccess()
	return out.TxHash, nil
}
