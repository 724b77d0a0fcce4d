// Package gateway talks to a blockchain anchor gateway over HTTP JSON.
// The gateway fronts the actual chain node; this client treats it purely as
// an append-only fingerprint ledger.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	domain "github.com/bryanwahyu/certimed/internal/domain/certificates"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

func New(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type anchorResponse struct {
	TxID        string `json:"tx_id"`
	Fingerprint string `json:"fingerprint"`
	AnchoredAt  string `json:"anchored_at,omitempty"`
}

// Anchor submits a fingerprint: POST /anchors {"fingerprint": "..."}.
func (c *Client) Anchor(ctx context.Context, fp domain.Fingerprint) (domain.TxID, error) {
	body, _ := json.Marshal(map[string]string{"fingerprint": string(fp)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/anchors", bytes.NewReader(body))
	if err != nil {
		return "", domain.NewAnchoringError(domain.AnchoringNetworkFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", domain.NewAnchoringError(timeoutOrNetwork(ctx, err), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return "", domain.NewAnchoringError(domain.AnchoringRejected,
			fmt.Errorf("gateway rejected anchor (status=%d)", resp.StatusCode))
	default:
		return "", domain.NewAnchoringError(domain.AnchoringNetworkFailure,
			fmt.Errorf("gateway status %d", resp.StatusCode))
	}

	var out anchorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", domain.NewAnchoringError(domain.AnchoringNetworkFailure, err)
	}
	if out.TxID == "" {
		return "", domain.NewAnchoringError(domain.AnchoringRejected, fmt.Errorf("gateway returned empty tx_id"))
	}
	c.logger.Info("chain.anchor.ok", "fingerprint", fp, "tx_id", out.TxID)
	return domain.TxID(out.TxID), nil
}

// FingerprintAt queries GET /anchors/{txID}.
func (c *Client) FingerprintAt(ctx context.Context, tx domain.TxID) (domain.Fingerprint, error) {
	out, err := c.get(ctx, c.baseURL+"/anchors/"+url.PathEscape(string(tx)), domain.ErrTxNotFound)
	if err != nil {
		return "", err
	}
	// An empty fingerprint is a broken gateway reply, not a mismatch;
	// letting it through would read as a tampering signal to verifiers.
	if out.Fingerprint == "" {
		return "", domain.NewAnchoringError(domain.AnchoringRejected,
			fmt.Errorf("gateway returned empty fingerprint for tx %s", tx))
	}
	return domain.Fingerprint(out.Fingerprint), nil
}

// TxForFingerprint queries GET /anchors?fingerprint={fp}.
func (c *Client) TxForFingerprint(ctx context.Context, fp domain.Fingerprint) (domain.TxID, error) {
	u := c.baseURL + "/anchors?fingerprint=" + url.QueryEscape(string(fp))
	out, err := c.get(ctx, u, domain.ErrFingerprintNotAnchored)
	if err != nil {
		return "", err
	}
	if out.TxID == "" {
		return "", domain.NewAnchoringError(domain.AnchoringRejected,
			fmt.Errorf("gateway returned empty tx_id for fingerprint %s", fp))
	}
	return domain.TxID(out.TxID), nil
}

func (c *Client) get(ctx context.Context, u string, notFound error) (*anchorResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, domain.NewAnchoringError(domain.AnchoringNetworkFailure, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, domain.NewAnchoringError(timeoutOrNetwork(ctx, err), err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, notFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, domain.NewAnchoringError(domain.AnchoringNetworkFailure,
			fmt.Errorf("gateway status %d", resp.StatusCode))
	}

	var out anchorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, domain.NewAnchoringError(domain.AnchoringNetworkFailure, err)
	}
	return &out, nil
}

func timeoutOrNetwork(ctx context.Context, err error) domain.AnchoringReason {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return domain.AnchoringTimeout
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return domain.AnchoringTimeout
	}
	return domain.AnchoringNetworkFailure
}
