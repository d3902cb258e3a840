package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	ferrors "git.home.luguber.info/inful/bootstrapd/internal/foundation/errors"
	"git.home.luguber.info/inful/bootstrapd/internal/sidecarapi"
)

// client speaks the sidecar HTTP contract with the bearer token from the
// status record.
type client struct {
	base  string
	token string
	http  *http.Client
}

func newClient(info ConnectionInfo, hc *http.Client) *client {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &client{base: info.URL, token: info.Token, http: hc}
}

// do issues the request and returns the status code. Transport failures and
// undecodable 2xx bodies are errors; non-2xx codes are not.
func (c *client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode/100 == 2 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
		return resp.StatusCode, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func unexpectedStatus(op string, code int) error {
	return ferrors.SidecarError("unexpected sidecar response").
		WithContext("operation", op).
		WithContext("status", code).
		Build()
}

// health performs one readiness probe under its own timeout.
func (c *client) health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	code, err := c.do(ctx, http.MethodGet, sidecarapi.PathHealth, nil, nil)
	switch {
	case err != nil:
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "health check failed").Retryable().Build()
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrSidecarUnauthorized.WithContext("status", code)
	case code/100 == 2:
		return nil
	default:
		return unexpectedStatus("health", code)
	}
}

func (c *client) createLease(ctx context.Context, interval time.Duration) (string, error) {
	var resp sidecarapi.LifetimeResponse
	code, err := c.do(ctx, http.MethodPost, sidecarapi.PathLifetime, sidecarapi.NewLifetimeRequest(interval), &resp)
	if err != nil {
		return "", ferrors.WrapError(err, ferrors.CategoryNetwork, "lease registration failed").Build()
	}
	if code/100 != 2 || resp.ID == "" {
		return "", unexpectedStatus("create lease", code)
	}
	return resp.ID, nil
}

func (c *client) renewLease(ctx context.Context, id string) error {
	code, err := c.do(ctx, http.MethodPut, sidecarapi.PathLifetime+"/"+id, nil, nil)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "lease renewal failed").Build()
	}
	if code/100 != 2 {
		return unexpectedStatus("renew lease", code)
	}
	return nil
}

func (c *client) deleteLease(ctx context.Context, id string) error {
	code, err := c.do(ctx, http.MethodDelete, sidecarapi.PathLifetime+"/"+id, nil, nil)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "lease deletion failed").Build()
	}
	if code/100 != 2 {
		return unexpectedStatus("delete lease", code)
	}
	return nil
}

// initialize returns false when the sidecar answers 409 Conflict.
func (c *client) initialize(ctx context.Context, dbPath string) (bool, error) {
	code, err := c.do(ctx, http.MethodPost, sidecarapi.PathInit, sidecarapi.InitRequest{DBPath: dbPath}, nil)
	switch {
	case err != nil:
		return false, ferrors.WrapError(err, ferrors.CategoryNetwork, "storage initialization failed").Build()
	case code == http.StatusConflict:
		return false, nil
	case code/100 == 2:
		return true, nil
	default:
		return false, unexpectedStatus("initialize", code)
	}
}
