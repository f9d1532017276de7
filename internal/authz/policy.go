package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DefaultPolicyTimeout bounds one external policy evaluation.
const DefaultPolicyTimeout = 100 * time.Millisecond

// PolicyConfig holds external policy evaluator settings.
type PolicyConfig struct {
	// URL is the evaluator base URL, e.g. http://localhost:8181.
	URL string `koanf:"url"`

	// Package is the policy package, e.g. "aetheros.authz".
	Package string `koanf:"package"`

	// Timeout bounds one evaluation round-trip.
	Timeout time.Duration `koanf:"timeout"`
}

// PolicyClient evaluates decisions against an OPA-style HTTP endpoint:
// POST /v1/data/<pkg>/allow with {"input": {...}}, response {"result": bool}.
type PolicyClient struct {
	url    string
	client *http.Client
}

// NewPolicyClient creates a client for the configured evaluator.
func NewPolicyClient(cfg PolicyConfig) *PolicyClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultPolicyTimeout
	}
	pkg := strings.ReplaceAll(cfg.Package, ".", "/")
	return &PolicyClient{
		url:    strings.TrimRight(cfg.URL, "/") + "/v1/data/" + pkg + "/allow",
		client: &http.Client{Timeout: timeout},
	}
}

type policyInput struct {
	Agent    string `json:"agent"`
	Action   string `json:"action"`
	ATOCycle string `json:"ato_cycle"`
}

type policyRequest struct {
	Input policyInput `json:"input"`
}

type policyResponse struct {
	Result bool `json:"result"`
}

// Evaluate asks the external evaluator for a decision.
func (c *PolicyClient) Evaluate(ctx context.Context, agent, action, cycleID string) (bool, error) {
	body, err := json.Marshal(policyRequest{Input: policyInput{
		Agent:    agent,
		Action:   action,
		ATOCycle: cycleID,
	}})
	if err != nil {
		return false, fmt.Errorf("encode policy input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build policy request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("policy evaluator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("policy evaluator returned %d", resp.StatusCode)
	}

	var decoded policyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false, fmt.Errorf("decode policy response: %w", err)
	}
	return decoded.Result, nil
}
