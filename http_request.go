package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-ID"
	AuthScheme          = "Bearer"
)

// maxErrorBody bounds how much of an error response is read for its message.
const maxErrorBody = 64 << 10

// apiRequest describes a single logical call. The retry counter lives in
// the send loop, never on the request, so concurrent calls each get their
// own single retry.
type apiRequest struct {
	method string
	path   string
	body   any
	out    any
}

// send performs an authenticated call: refresh before sending when the
// stored token is locally expired, attach the bearer token, and on a 401
// refresh and retry exactly once.
func (c *APIClient) send(ctx context.Context, req apiRequest) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}

	for attempt := 0; ; attempt++ {
		status, err := c.roundTrip(ctx, req, token)
		if status != http.StatusUnauthorized {
			return err
		}

		if attempt > 0 {
			return c.fail(ctx, newError(ErrUnauthorized, nil, map[string]any{
				"status": status,
				"path":   req.path,
			}))
		}

		c.observer.RequestRetried()
		c.logger.Debug("APIClient request unauthorized, refreshing", "path", req.path)

		if token, err = c.retryToken(ctx, token); err != nil {
			return c.fail(ctx, err)
		}
	}
}

// BearerToken returns a token fit to send, refreshing a locally expired
// one first. Unrecoverable refresh failures reach the unrecoverable
// handler like any other call.
func (c *APIClient) BearerToken(ctx context.Context) (string, error) {
	token, err := c.bearer(ctx)
	if err != nil {
		return "", c.fail(ctx, err)
	}
	return token, nil
}

// bearer returns the token to send, refreshing first when it is locally
// expired and a refresh token is available.
func (c *APIClient) bearer(ctx context.Context) (string, error) {
	creds, err := c.store.Credentials(ctx)
	if err != nil {
		return "", err
	}

	if creds.AccessToken != "" && IsUsable(creds.AccessToken, c.now(), c.skew) {
		return creds.AccessToken, nil
	}

	if creds.RefreshToken == "" {
		// nothing to refresh with; let the server decide
		return creds.AccessToken, nil
	}

	return c.refreshStored(ctx, creds.RefreshToken)
}

// retryToken picks the token for the single retry. If another call already
// rotated the stored token, that one is used without a second refresh.
func (c *APIClient) retryToken(ctx context.Context, rejected string) (string, error) {
	creds, err := c.store.Credentials(ctx)
	if err != nil {
		return "", err
	}

	if creds.AccessToken != "" && creds.AccessToken != rejected && IsUsable(creds.AccessToken, c.now(), c.skew) {
		return creds.AccessToken, nil
	}

	if creds.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}

	return c.refreshStored(ctx, creds.RefreshToken)
}

func (c *APIClient) fail(ctx context.Context, err error) error {
	if IsUnrecoverable(err) {
		c.logger.Warn("APIClient unrecoverable auth failure", "error", err)
		if handler := c.unrecoverableHandler(); handler != nil {
			handler(ctx, err)
		}
	}
	return err
}

// roundTrip performs one HTTP exchange. It returns the status code (0 when
// no response arrived) and an error for anything other than 2xx.
func (c *APIClient) roundTrip(ctx context.Context, req apiRequest, token string) (int, error) {
	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return 0, newError(ErrRequestFailed, err, map[string]any{"path": req.path})
		}
		body = bytes.NewReader(raw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.url(req.path), body)
	if err != nil {
		return 0, newError(ErrRequestFailed, err, map[string]any{"path": req.path})
	}

	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set(HeaderRequestID, uuid.NewString())
	if token != "" {
		httpReq.Header.Set(HeaderAuthorization, AuthScheme+" "+token)
	}

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, newError(ErrNetwork, err, map[string]any{"path": req.path})
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return res.StatusCode, c.statusError(req.path, res)
	}

	if req.out == nil {
		_, _ = io.Copy(io.Discard, res.Body)
		return res.StatusCode, nil
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, newError(ErrNetwork, err, map[string]any{"path": req.path})
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return res.StatusCode, nil
	}

	if err := json.Unmarshal(raw, req.out); err != nil {
		return res.StatusCode, newError(ErrRequestFailed, err, map[string]any{
			"path":   req.path,
			"status": res.StatusCode,
		})
	}

	if c.debugPayloads {
		c.logger.Debug("APIClient response", "path", req.path, "body", print.MaybePrettyJSON(req.out))
	}

	return res.StatusCode, nil
}

func (c *APIClient) statusError(path string, res *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))

	var payload errorResponse
	message := ""
	if err := json.Unmarshal(raw, &payload); err == nil {
		message = payload.text()
	}
	if message == "" {
		message = strings.TrimSpace(string(raw))
	}

	sentinel := ErrRequestFailed
	if res.StatusCode == http.StatusUnauthorized {
		sentinel = ErrUnauthorized
	}

	return newError(sentinel, nil, map[string]any{
		"path":    path,
		"status":  res.StatusCode,
		"message": message,
	})
}

func (c *APIClient) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(c.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}
