package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/buildwithtrace/trace-agent/internal/logging"
)

// SubmitToolResult posts a tool outcome back to the backend so the model
// can continue the turn.
func (c *Client) SubmitToolResult(ctx context.Context, sessionID, toolCallID, result, authToken string) error {
	payload := map[string]string{
		"session_id":   sessionID,
		"tool_call_id": toolCallID,
		"result":       result,
	}
	_, err := c.postJSON(ctx, c.apiClient, "/tools/result", payload, authToken)
	return err
}

// SaveVersion uploads a design snapshot and returns its version id.
// Content is read from filePath when not supplied.
func (c *Client) SaveVersion(ctx context.Context, filePath, description, conversationID, authToken, content string) (string, error) {
	if authToken == "" {
		return "", fmt.Errorf("version save requires authentication")
	}
	if content == "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("reading %s: %w", filePath, err)
		}
		content = string(data)
	}
	if content == "" {
		return "", fmt.Errorf("nothing to save for %s", filePath)
	}

	payload := map[string]any{
		"project_file_path": filePath,
		"schematic_content": content,
		"description":       description,
	}
	if conversationID != "" {
		payload["conversation_id"] = conversationID
	}

	body, err := c.postJSON(ctx, c.apiClient, "/schematic/version", payload, authToken)
	if err != nil {
		return "", err
	}
	var resp struct {
		VersionID string `json:"version_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decoding version response: %w", err)
	}
	return resp.VersionID, nil
}

// ListVersions fetches saved versions for a project file.
func (c *Client) ListVersions(ctx context.Context, filePath, authToken string, limit int) (json.RawMessage, error) {
	if authToken == "" {
		return json.RawMessage("[]"), nil
	}
	payload := map[string]any{
		"project_file_path": filePath,
		"limit":             limit,
	}
	body, err := c.postJSON(ctx, c.apiClient, "/schematic/versions", payload, authToken)
	if err != nil {
		return nil, err
	}
	var resp struct {
		Versions json.RawMessage `json:"versions"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding versions response: %w", err)
	}
	if len(resp.Versions) == 0 {
		return json.RawMessage("[]"), nil
	}
	return resp.Versions, nil
}

// RestoreVersion downloads a saved version and writes it over filePath.
func (c *Client) RestoreVersion(ctx context.Context, versionID, filePath, authToken string) error {
	if authToken == "" {
		return fmt.Errorf("version restore requires authentication")
	}
	body, err := c.postJSON(ctx, c.apiClient, "/schematic/restore/"+versionID, map[string]any{}, authToken)
	if err != nil {
		return err
	}
	var resp struct {
		SchematicContent string `json:"schematic_content"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decoding restore response: %w", err)
	}
	if resp.SchematicContent == "" {
		return fmt.Errorf("version %s has no content", versionID)
	}
	if err := os.WriteFile(filePath, []byte(resp.SchematicContent), 0o644); err != nil {
		return fmt.Errorf("writing restored content: %w", err)
	}
	logging.Stream("restored version %s into %s", versionID, filePath)
	return nil
}

// QuotaInfo mirrors the /user/quota response.
type QuotaInfo struct {
	Success          bool     `json:"success"`
	Allowed          bool     `json:"allowed"`
	Plan             string   `json:"plan"`
	Code             string   `json:"code"`
	Reason           string   `json:"reason"`
	DailyCostUsed    *float64 `json:"daily_cost_used,omitempty"`
	DailyCostCap     *float64 `json:"daily_cost_cap,omitempty"`
	MonthlyCostUsed  *float64 `json:"monthly_cost_used,omitempty"`
	MonthlyCostCap   *float64 `json:"monthly_cost_cap,omitempty"`
	CreditsRemaining *int     `json:"credits_remaining,omitempty"`
	TrialHoursLeft   *int     `json:"trial_hours_left,omitempty"`
	IsTrial          bool     `json:"is_trial"`
}

// GetUserQuota fetches the caller's plan standing.
func (c *Client) GetUserQuota(ctx context.Context, authToken string) (QuotaInfo, error) {
	var info QuotaInfo
	if authToken == "" {
		return info, fmt.Errorf("quota check requires authentication")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/user/quota", nil)
	if err != nil {
		return info, err
	}
	req.Header.Set("Authorization", "Bearer "+authToken)

	resp, err := c.quotaClient.Do(req)
	if err != nil {
		return info, fmt.Errorf("quota request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return info, err
	}
	if resp.StatusCode >= 400 {
		return info, fmt.Errorf("quota request failed: HTTP %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return info, fmt.Errorf("decoding quota response: %w", err)
	}
	return info, nil
}

// postJSON performs a JSON POST and returns the response body, failing
// on any non-2xx status.
func (c *Client) postJSON(ctx context.Context, client *http.Client, path string, payload any, authToken string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("POST %s failed: HTTP %d", path, resp.StatusCode)
	}
	return respBody, nil
}
