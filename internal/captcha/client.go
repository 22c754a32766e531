// Package captcha talks to a 2captcha-compatible solving service: it submits a
// reCAPTCHA challenge and polls until a response token is ready.
package captcha

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrSubmitRejected means the service did not accept the challenge.
	ErrSubmitRejected = errors.New("captcha submission rejected")
	// ErrSolver means a poll returned an ERROR_ code.
	ErrSolver = errors.New("captcha solver error")
	// ErrTimeout means the poll budget ran out without a token or an error.
	ErrTimeout = errors.New("timed out waiting for captcha solution")
	// ErrUnavailable means the service could not be reached or answered garbage.
	ErrUnavailable = errors.New("captcha service unavailable")
)

const (
	errorPrefix = "ERROR_"
	statusOK    = 1
)

type Config struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	MaxPolls     int
}

// Client solves reCAPTCHA v2 challenges. It is safe for concurrent use.
type Client struct {
	http   *resty.Client
	config Config
}

type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

func NewClient(config Config) *Client {
	http := resty.New().
		SetBaseURL(strings.TrimRight(config.BaseURL, "/")).
		SetTimeout(30 * time.Second)
	return &Client{http: http, config: config}
}

// Solve submits the challenge for siteKey on siteURL and waits for a token,
// sleeping PollInterval before each of at most MaxPolls polls.
func (c *Client) Solve(ctx context.Context, siteURL, siteKey string) (string, error) {
	logCtx := slog.With("pageUrl", siteURL)

	ticket, err := c.submit(ctx, siteURL, siteKey)
	if err != nil {
		logCtx.Error("Captcha submission failed.", "error", err)
		return "", err
	}
	logCtx = logCtx.With("captchaId", ticket)
	logCtx.Info("Captcha submitted, polling for solution.", "maxPolls", c.config.MaxPolls, "interval", c.config.PollInterval.String())

	for attempt := 1; attempt <= c.config.MaxPolls; attempt++ {
		select {
		case <-time.After(c.config.PollInterval):
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
		}

		res, err := c.call(ctx, c.http.R().
			SetQueryParams(map[string]string{
				"key":    c.config.APIKey,
				"action": "get",
				"id":     ticket,
				"json":   "1",
			}), resty.MethodGet, "/res.php")
		if err != nil {
			logCtx.Error("Captcha poll failed.", "attempt", attempt, "error", err)
			return "", err
		}
		if res.Status == statusOK {
			logCtx.Info("Captcha solved.", "attempt", attempt)
			return res.Request, nil
		}
		if strings.HasPrefix(res.Request, errorPrefix) {
			logCtx.Error("Captcha solver returned an error.", "attempt", attempt, "code", res.Request)
			return "", fmt.Errorf("%w: %s", ErrSolver, res.Request)
		}
		logCtx.Debug("Captcha not ready.", "attempt", attempt, "state", res.Request)
	}

	logCtx.Warn("Captcha poll budget exhausted.", "maxPolls", c.config.MaxPolls)
	return "", ErrTimeout
}

func (c *Client) submit(ctx context.Context, siteURL, siteKey string) (string, error) {
	res, err := c.call(ctx, c.http.R().
		SetFormData(map[string]string{
			"key":       c.config.APIKey,
			"method":    "userrecaptcha",
			"googlekey": siteKey,
			"pageurl":   siteURL,
			"json":      "1",
		}), resty.MethodPost, "/in.php")
	if err != nil {
		return "", err
	}
	if res.Status != statusOK {
		return "", fmt.Errorf("%w: %s", ErrSubmitRejected, res.Request)
	}
	return res.Request, nil
}

func (c *Client) call(ctx context.Context, req *resty.Request, method, path string) (*apiResponse, error) {
	var out apiResponse
	resp, err := req.
		SetContext(ctx).
		SetResult(&out).
		ForceContentType("application/json").
		Execute(method, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s %s returned %s", ErrUnavailable, method, path, resp.Status())
	}
	return &out, nil
}
