// Package sheets implements the grid port against the Google Sheets REST
// API. Restoring a cell's formula after clearing it forces the host to
// re-evaluate the custom function in that cell, which is how queued tasks
// get their second chance.
package sheets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/config"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/domain/task"
	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/port/auth"
)

const defaultEndpoint = "https://sheets.googleapis.com"

// Client talks to the Sheets values API for a single spreadsheet and sheet.
type Client struct {
	endpoint      string
	spreadsheetID string
	sheetName     string
	httpClient    *http.Client
	tokens        auth.TokenSource
}

// New creates a Sheets client for the configured spreadsheet.
func New(cfg config.Sheets, tokens auth.TokenSource) *Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint:      endpoint,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		httpClient:    &http.Client{Timeout: timeout},
		tokens:        tokens,
	}
}

// Formula returns the formula text of cell, rendered as the user entered it.
// An empty cell yields "".
func (c *Client) Formula(ctx context.Context, cell task.Key) (string, error) {
	u := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s?valueRenderOption=FORMULA",
		c.endpoint, c.spreadsheetID, url.PathEscape(c.rangeFor(cell)))

	data, err := c.doRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("read formula %s: %w", cell.ID(), err)
	}

	var out struct {
		Values [][]any `json:"values"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("parse values: %w", err)
	}
	if len(out.Values) == 0 || len(out.Values[0]) == 0 {
		return "", nil
	}
	if s, ok := out.Values[0][0].(string); ok {
		return s, nil
	}
	return fmt.Sprint(out.Values[0][0]), nil
}

// Recompute clears cell and writes its formula back, making the host
// re-evaluate it. A cell that is empty by the time we look is left alone.
func (c *Client) Recompute(ctx context.Context, cell task.Key) error {
	formula, err := c.Formula(ctx, cell)
	if err != nil {
		return err
	}
	if formula == "" {
		return nil
	}

	escaped := url.PathEscape(c.rangeFor(cell))

	clearURL := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s:clear", c.endpoint, c.spreadsheetID, escaped)
	if _, err := c.doRequest(ctx, http.MethodPost, clearURL, []byte("{}")); err != nil {
		return fmt.Errorf("clear %s: %w", cell.ID(), err)
	}

	body, err := json.Marshal(map[string]any{"values": [][]string{{formula}}})
	if err != nil {
		return fmt.Errorf("encode restore: %w", err)
	}
	restoreURL := fmt.Sprintf("%s/v4/spreadsheets/%s/values/%s?valueInputOption=USER_ENTERED",
		c.endpoint, c.spreadsheetID, escaped)
	if _, err := c.doRequest(ctx, http.MethodPut, restoreURL, body); err != nil {
		return fmt.Errorf("restore %s: %w", cell.ID(), err)
	}
	return nil
}

func (c *Client) rangeFor(cell task.Key) string {
	return fmt.Sprintf("'%s'!%s", c.sheetName, a1Notation(cell))
}

// a1Notation converts a 1-based (row, col) pair to A1 notation, e.g.
// (3, 2) -> "B3" and (10, 27) -> "AA10".
func a1Notation(cell task.Key) string {
	var col []byte
	for n := cell.Col; n > 0; {
		n--
		col = append([]byte{byte('A' + n%26)}, col...)
		n /= 26
	}
	return fmt.Sprintf("%s%d", col, cell.Row)
}

func (c *Client) doRequest(ctx context.Context, method, u string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("sheets API error %d: %s", resp.StatusCode, string(data[:min(500, len(data))]))
	}
	return data, nil
}
