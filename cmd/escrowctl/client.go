package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"poolescrow/rpc"
)

type client struct {
	endpoint string
	token    string
	http     *http.Client
}

// apiError is a non-2xx answer from escrowd.
type apiError struct {
	Status  int
	Message string
	Code    string
}

func (e *apiError) Error() string {
	if e.Code != "" && e.Code != "ERR_UNKNOWN" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func (c *client) url(path string) string {
	return strings.TrimRight(c.endpoint, "/") + path
}

func (c *client) get(path string) (json.RawMessage, error) {
	resp, err := c.http.Get(c.url(path))
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	return readResponse(resp)
}

func (c *client) call(req rpc.CallRequest) (json.RawMessage, error) {
	if c.token == "" {
		return nil, fmt.Errorf("calls require a token; set %s or pass --token", envRPCToken)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequest(http.MethodPost, c.url("/escrow/calls"), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("POST /escrow/calls: %w", err)
	}
	raw, err := readResponse(resp)
	if err != nil {
		return nil, err
	}
	var out rpc.CallResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode call response: %w", err)
	}
	return out.Result, nil
}

func readResponse(resp *http.Response) (json.RawMessage, error) {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode/100 == 2 {
		return raw, nil
	}
	var body rpc.CallError
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}
	return nil, &apiError{Status: resp.StatusCode, Message: body.Error, Code: body.Code}
}
