package apify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	errs "xdigest/pkg/errors"
	"xdigest/pkg/logger"
	"xdigest/pkg/ratelimit"
	"xdigest/pkg/retry"
)

// maxWaitForFinish is the longest waitForFinish the API honours
const maxWaitForFinish = 60 * time.Second

// Options configures a Client
type Options struct {
	BaseURL string
	Token   string
	// RequestTimeout bounds each HTTP round trip; it must exceed WaitForFinish
	RequestTimeout time.Duration
	// WaitForFinish is how long the server may hold a run poll open
	WaitForFinish time.Duration
	// PollInterval is slept between polls of a run that is still going
	PollInterval time.Duration
	// RunTimeout bounds a whole RunActor call, zero means no bound
	RunTimeout time.Duration
	Limiter      ratelimit.Limiter
	Retry        *retry.Config
	HTTPClient   *http.Client
	Logger       logger.Logger
}

// Client talks to the Apify v2 REST API
type Client struct {
	httpClient    *http.Client
	baseURL       string
	token         string
	waitForFinish time.Duration
	pollInterval  time.Duration
	runTimeout    time.Duration
	limiter       ratelimit.Limiter
	retry         *retry.Config
	logger        logger.Logger
}

// NewClient creates a new Apify API client
func NewClient(opts Options) *Client {
	log := logger.OrGlobal(opts.Logger).WithField("component", "apify")

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	wait := opts.WaitForFinish
	if wait > maxWaitForFinish {
		wait = maxWaitForFinish
	}

	limiter := opts.Limiter
	if limiter == nil {
		limiter = ratelimit.NewUnlimited()
	}

	retryCfg := opts.Retry
	if retryCfg == nil {
		retryCfg = retry.DefaultConfig()
	}
	if retryCfg.Logger == nil {
		cfgCopy := *retryCfg
		cfgCopy.Logger = log
		retryCfg = &cfgCopy
	}

	return &Client{
		httpClient:    httpClient,
		baseURL:       baseURL,
		token:         opts.Token,
		waitForFinish: wait,
		pollInterval:  opts.PollInterval,
		runTimeout:    opts.RunTimeout,
		limiter:       limiter,
		retry:         retryCfg,
		logger:        log,
	}
}

// RunActor starts actorID with input, waits for it to finish and returns the
// items of its default dataset.
func (c *Client) RunActor(ctx context.Context, actorID string, input any) ([]json.RawMessage, error) {
	if c.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.runTimeout)
		defer cancel()
	}

	run, err := c.StartRun(ctx, actorID, input)
	if err != nil {
		return nil, err
	}

	run, err = c.WaitForRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	if run.Status != StatusSucceeded {
		return nil, &errs.Error{
			Type:    errs.ErrorTypeRunFailed,
			Message: fmt.Sprintf("actor %s run %s finished with status %s", actorID, run.ID, run.Status),
		}
	}

	return c.DatasetItems(ctx, run.DefaultDatasetID)
}

// StartRun starts an actor run without waiting for it
func (c *Client) StartRun(ctx context.Context, actorID string, input any) (*Run, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, errs.New(errs.ErrorTypeParsing, "encode actor input", err)
	}

	var resp envelope[Run]
	if err := c.call(ctx, http.MethodPost, runsPath(actorID), nil, body, &resp); err != nil {
		return nil, fmt.Errorf("start %s: %w", actorID, err)
	}

	c.logger.DebugWithFields("actor run started", map[string]interface{}{
		"actor":  actorID,
		"run_id": resp.Data.ID,
		"status": resp.Data.Status,
	})
	return &resp.Data, nil
}

// GetRun fetches a run, letting the server block up to waitForFinish
func (c *Client) GetRun(ctx context.Context, runID string) (*Run, error) {
	query := url.Values{}
	query.Set("waitForFinish", strconv.Itoa(int(c.waitForFinish/time.Second)))

	var resp envelope[Run]
	if err := c.call(ctx, http.MethodGet, runPath(runID), query, nil, &resp); err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &resp.Data, nil
}

// WaitForRun polls until the run reaches a terminal status or ctx is done
func (c *Client) WaitForRun(ctx context.Context, runID string) (*Run, error) {
	for {
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Terminal() {
			return run, nil
		}
		if err := retry.Wait(ctx, c.pollInterval); err != nil {
			return nil, fmt.Errorf("waiting for run %s: %w", runID, err)
		}
	}
}

// DatasetItems returns all clean items of a dataset
func (c *Client) DatasetItems(ctx context.Context, datasetID string) ([]json.RawMessage, error) {
	if datasetID == "" {
		return nil, errs.New(errs.ErrorTypeNotFound, "run has no default dataset", nil)
	}

	query := url.Values{}
	query.Set("format", "json")
	query.Set("clean", "true")

	var items []json.RawMessage
	if err := c.call(ctx, http.MethodGet, datasetItemsPath(datasetID), query, nil, &items); err != nil {
		return nil, fmt.Errorf("dataset %s items: %w", datasetID, err)
	}
	return items, nil
}

// call performs one API request with pacing and retries and decodes the body into target
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body []byte, target any) error {
	return retry.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		return c.doRequest(ctx, method, path, query, body, target)
	}, c.retry)
}

func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body []byte, target any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errs.New(errs.ErrorTypeUnknown, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.WarnWithFields("HTTP request failed", map[string]interface{}{
			"method":   method,
			"path":     path,
			"error":    err.Error(),
			"duration": duration,
		})
		return errs.New(errs.ErrorTypeNetwork, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": duration,
	})

	if err := checkResponseStatus(resp); err != nil {
		return err
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return errs.New(errs.ErrorTypeParsing, fmt.Sprintf("decode %s response", path), err)
	}
	return nil
}

func checkResponseStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	message := http.StatusText(resp.StatusCode)
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var apiErr apiError
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
		message = apiErr.Error.Message
	}
	return errs.FromStatusCode(resp.StatusCode, message)
}
