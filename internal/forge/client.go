// Package forge is the hosting-provider REST client. Only two endpoints
// are used: create-pull-request and add-labels. Rate limits and transient
// server errors are retried with backoff, honoring Retry-After.
package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/fixbot/internal/config"
	apperrors "git.home.luguber.info/inful/fixbot/internal/errors"
	"git.home.luguber.info/inful/fixbot/internal/logfields"
	"git.home.luguber.info/inful/fixbot/internal/retry"
)

const (
	connectTimeout   = 30 * time.Second
	requestTimeout   = 60 * time.Second
	maxRetryAttempts = 3
)

// Client talks to the provider API.
type Client struct {
	httpClient *http.Client
	apiURL     string
	token      string
	policy     retry.Policy

	// sleep is swapped in tests.
	sleep func(time.Duration)
}

// New builds a Client from the forge configuration.
func New(cfg config.ForgeConfig) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
			},
		},
		apiURL: strings.TrimSuffix(cfg.APIBaseURL, "/"),
		token:  cfg.Token,
		policy: retry.DefaultPolicy(),
		sleep:  time.Sleep,
	}
}

// ParseRepoURL splits a clone URL into (owner, name). Both https and
// scp-style ssh forms are accepted. Anything else is a terminal error.
func ParseRepoURL(repoURL string) (owner, name string, err error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(repoURL), ".git")

	var p string
	switch {
	case strings.HasPrefix(trimmed, "http://"), strings.HasPrefix(trimmed, "https://"):
		u, uerr := url.Parse(trimmed)
		if uerr != nil {
			return "", "", apperrors.Wrap(uerr, apperrors.CategoryForge, apperrors.SeverityError, "parse repository URL")
		}
		p = strings.Trim(u.Path, "/")
	case strings.Contains(trimmed, "@") && strings.Contains(trimmed, ":"):
		p = strings.Trim(trimmed[strings.Index(trimmed, ":")+1:], "/")
	default:
		return "", "", apperrors.New(apperrors.CategoryForge, apperrors.SeverityError,
			fmt.Sprintf("unsupported repository URL: %s", repoURL))
	}

	parts := strings.Split(p, "/")
	if len(parts) < 2 || parts[len(parts)-2] == "" || parts[len(parts)-1] == "" {
		return "", "", apperrors.New(apperrors.CategoryForge, apperrors.SeverityError,
			fmt.Sprintf("repository URL has no owner/name: %s", repoURL))
	}
	return parts[len(parts)-2], parts[len(parts)-1], nil
}

// PullRequest is the provider's created-PR response subset we keep.
type PullRequest struct {
	Number int    `json:"number"`
	URL    string `json:"html_url"`
}

type createPRRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
}

// CreatePullRequest opens a PR from head onto base.
func (c *Client) CreatePullRequest(ctx context.Context, owner, repo, title, body, head, base string) (*PullRequest, error) {
	var pr PullRequest
	endpoint := fmt.Sprintf("/repos/%s/%s/pulls", owner, repo)
	err := c.doJSON(ctx, http.MethodPost, endpoint, createPRRequest{
		Title: title, Body: body, Head: head, Base: base,
	}, &pr)
	if err != nil {
		return nil, err
	}
	slog.Info("Pull request created",
		logfields.Repository(owner+"/"+repo),
		slog.Int("pr_number", pr.Number),
		logfields.URL(pr.URL))
	return &pr, nil
}

// AddLabels attaches labels to the PR. Callers treat failures as
// non-fatal.
func (c *Client) AddLabels(ctx context.Context, owner, repo string, number int, labels []string) error {
	endpoint := fmt.Sprintf("/repos/%s/%s/issues/%d/labels", owner, repo, number)
	return c.doJSON(ctx, http.MethodPost, endpoint, map[string][]string{"labels": labels}, nil)
}

// doJSON executes one API call with retries on 429 and 5xx responses.
func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, result any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CategoryInternal, apperrors.SeverityError, "marshal forge request")
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		req, err := c.newRequest(ctx, method, endpoint, payload)
		if err != nil {
			return err
		}

		retryAfter, err := c.doRequest(req, result)
		if err == nil {
			return nil
		}
		lastErr = err
		if !apperrors.IsRetryable(err) || attempt == maxRetryAttempts {
			return err
		}

		delay := c.policy.Delay(attempt)
		if retryAfter > 0 {
			delay = retryAfter
		}
		slog.Warn("Retrying forge request",
			logfields.URL(endpoint),
			logfields.Attempt(attempt),
			logfields.DurationMS(delay),
			logfields.Error(err))
		c.sleep(delay)
	}
	return lastErr
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, payload []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.apiURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CategoryInternal, apperrors.SeverityError, "build forge request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", "fixbot/1.0")
	return req, nil
}

// doRequest executes the request and decodes the response. On a rate-limit
// response the parsed Retry-After duration is returned alongside the error.
func (c *Client) doRequest(req *http.Request, result any) (time.Duration, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, apperrors.WrapRetryable(err, apperrors.CategoryNetwork, apperrors.SeverityWarning, "execute forge request")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := fmt.Sprintf("forge API error: %s: %s",
			resp.Status, strings.ReplaceAll(string(limited), "\n", " "))

		var retryAfter time.Duration
		if resp.StatusCode == http.StatusTooManyRequests {
			if secs, aerr := strconv.Atoi(resp.Header.Get("Retry-After")); aerr == nil && secs >= 0 {
				retryAfter = time.Duration(secs) * time.Second
			}
		}
		return retryAfter, apperrors.FromHTTPStatus(resp.StatusCode, nil, msg)
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return 0, apperrors.Wrap(err, apperrors.CategoryForge, apperrors.SeverityError, "decode forge response")
		}
	}
	return 0, nil
}
