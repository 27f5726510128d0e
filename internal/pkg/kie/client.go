package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBaseURL       = "https://api.kie.ai"
	defaultCreateTimeout = 20 * time.Second
	defaultStatusTimeout = 10 * time.Second

	// Bodies logged on errors are capped so a misrouted HTML page does not
	// flood the logs.
	maxBodySnippet = 400
)

// Client talks to the KIE.ai generation API.
type Client struct {
	baseURL       string
	apiKey        string
	createTimeout time.Duration
	statusTimeout time.Duration
	http          *http.Client
	log           zerolog.Logger
}

// Config holds client construction parameters.
type Config struct {
	BaseURL       string
	APIKey        string
	CreateTimeout time.Duration
	StatusTimeout time.Duration
}

// CreateResult is the outcome of task creation.
type CreateResult struct {
	TaskID string
	Status TaskStatus
}

// StatusResult is the outcome of a status poll.
type StatusResult struct {
	Status    TaskStatus
	Progress  float64
	OutputURL string
	Error     string
	Raw       json.RawMessage
}

// NewClient creates a KIE.ai client.
func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("kie: api key is required")
	}

	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = defaultCreateTimeout
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = defaultStatusTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL:       SanitizeBaseURL(cfg.BaseURL),
		apiKey:        cfg.APIKey,
		createTimeout: cfg.CreateTimeout,
		statusTimeout: cfg.StatusTimeout,
		http:          &http.Client{Transport: transport},
		log:           log.With().Str("component", "kie").Logger(),
	}, nil
}

var schemeHostRe = regexp.MustCompile(`^(https?://[^/]+)`)

// SanitizeBaseURL reduces a configured base URL to scheme+host. Operators
// keep pasting documentation or dashboard URLs into KIE_BASE_URL; anything
// that is not the API host falls back to the default.
func SanitizeBaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return defaultBaseURL
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Hostname() == "" {
		if m := schemeHostRe.FindString(strings.TrimRight(raw, "/")); m != "" {
			return m
		}
		return defaultBaseURL
	}

	host := parsed.Hostname()
	if strings.Contains(host, "kie.ai") && !strings.Contains(host, "api.kie.ai") {
		return defaultBaseURL
	}
	for _, bad := range []string{"/api-key", "/docs", "/market"} {
		if strings.Contains(parsed.Path, bad) {
			return defaultBaseURL
		}
	}

	return parsed.Scheme + "://" + parsed.Host
}

// CreateTask submits a generation task. The request body follows the Market
// API shape: model at the top level, everything else under input.
func (c *Client) CreateTask(ctx context.Context, model string, payload map[string]interface{}, createPath string) (*CreateResult, error) {
	if strings.TrimSpace(model) == "" {
		return nil, newPermanent(0, "model name is required")
	}
	if createPath == "" {
		createPath = EndpointsFor(FamilyMarket).CreatePath
	}

	input := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		input[k] = v
	}
	body := map[string]interface{}{
		"model": model,
		"input": input,
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, newPermanent(0, "encode request: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.createTimeout)
	defer cancel()

	reqURL := c.baseURL + createPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(encoded))
	if err != nil {
		return nil, newPermanent(0, "build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug().Str("model", model).Str("url", reqURL).Msg("creating provider task")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classifyTransport(ctx, err, "create task")
	}
	defer resp.Body.Close()

	data, rawBody, err := c.decodeBody(resp)
	if err != nil {
		return nil, err
	}

	if err := c.checkSoftError(data); err != nil {
		c.log.Warn().Int("status", resp.StatusCode).Str("model", model).Err(err).Msg("provider rejected task")
		return nil, err
	}
	if err := c.checkHTTPStatus(resp.StatusCode, rawBody); err != nil {
		return nil, err
	}

	taskID := ExtractTaskID(data)
	if taskID == "" {
		c.log.Error().Str("body", snippet(rawBody)).Msg("no task id in provider response")
		return nil, newPermanent(0, "no task id in provider response")
	}

	status := firstString(data, "status")
	if status == "" {
		status = nestedString(data, "task", "status")
	}
	if status == "" {
		status = nestedString(data, "result", "status")
	}
	if status == "" {
		status = "queued"
	}

	c.log.Info().Str("task_id", taskID).Str("status", status).Msg("provider task created")

	return &CreateResult{TaskID: taskID, Status: MapStatus(status)}, nil
}

// GetTaskStatus polls the provider for task state.
func (c *Client) GetTaskStatus(ctx context.Context, taskID string, statusPath string) (*StatusResult, error) {
	if statusPath == "" {
		statusPath = EndpointsFor(FamilyMarket).StatusPath
	}

	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s%s?taskId=%s", c.baseURL, statusPath, url.QueryEscape(taskID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, newPermanent(0, "build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, c.classifyTransport(ctx, err, "status poll")
	}
	defer resp.Body.Close()

	data, rawBody, err := c.decodeBody(resp)
	if err != nil {
		return nil, err
	}
	if err := c.checkHTTPStatus(resp.StatusCode, rawBody); err != nil {
		return nil, err
	}

	// Market API wraps the record in data; other families return it flat.
	taskData := data
	if inner, ok := data["data"].(map[string]interface{}); ok {
		taskData = inner
	}

	state := firstString(taskData, "state", "status")
	status := MapStatus(state)

	outputURL := ExtractOutputURL(taskData)
	if outputURL == "" {
		outputURL = firstString(data, "output_url", "outputUrl", "result_url", "resultUrl")
	}

	errMsg := firstString(taskData, "failMsg", "failCode")
	if errMsg == "" {
		errMsg = firstString(data, "error", "error_message")
	}

	progress := firstNumber(taskData, "progress", "percent_complete")
	if progress == 0 {
		progress = firstNumber(data, "progress", "percent_complete")
	}

	return &StatusResult{
		Status:    status,
		Progress:  progress,
		OutputURL: outputURL,
		Error:     errMsg,
		Raw:       json.RawMessage(rawBody),
	}, nil
}

// GetDownloadURL fetches the result URL for a finished task.
func (c *Client) GetDownloadURL(ctx context.Context, taskID string) (string, error) {
	res, err := c.GetTaskStatus(ctx, taskID, "")
	if err != nil {
		return "", err
	}
	if res.OutputURL == "" {
		return "", newPermanent(0, "no download url for task %s", taskID)
	}
	return res.OutputURL, nil
}

// CheckAccess verifies the API key and returns the remaining provider
// credit balance. Used by health tooling.
func (c *Client) CheckAccess(ctx context.Context) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/user/credits", nil)
	if err != nil {
		return 0, newPermanent(0, "build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, c.classifyTransport(ctx, err, "access check")
	}
	defer resp.Body.Close()

	data, rawBody, err := c.decodeBody(resp)
	if err != nil {
		return 0, err
	}
	if err := c.checkHTTPStatus(resp.StatusCode, rawBody); err != nil {
		return 0, err
	}

	if inner, ok := data["data"].(map[string]interface{}); ok {
		return firstNumber(inner, "credits"), nil
	}
	return firstNumber(data, "credits"), nil
}

func (c *Client) decodeBody(resp *http.Response) (map[string]interface{}, []byte, error) {
	rawBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, newTransient("read response body: %v", err)
	}

	trimmed := strings.TrimSpace(string(rawBody))
	if strings.HasPrefix(trimmed, "<!DOCTYPE") || strings.HasPrefix(trimmed, "<html") {
		return nil, nil, newPermanent(resp.StatusCode, "provider returned HTML, check base URL and endpoint paths")
	}

	var data map[string]interface{}
	if err := json.Unmarshal(rawBody, &data); err != nil {
		if resp.StatusCode >= 500 {
			return nil, nil, newTransient("invalid JSON with status %d", resp.StatusCode)
		}
		return nil, nil, newPermanent(resp.StatusCode, "invalid JSON response: %s", snippet(rawBody))
	}

	return data, rawBody, nil
}

// checkSoftError detects the provider's in-band failure convention: HTTP 200
// with a non-success code in the body means the model refused the task.
func (c *Client) checkSoftError(data map[string]interface{}) error {
	code, ok := data["code"].(float64)
	if !ok || code == 200 || code == 0 {
		return nil
	}

	msg := firstString(data, "msg", "message")
	if msg == "" {
		msg = "unknown provider error"
	}

	return &ProviderError{Kind: KindModelRejected, Code: int(code), Message: msg}
}

func (c *Client) checkHTTPStatus(status int, rawBody []byte) error {
	switch {
	case status < 400:
		return nil
	case status == http.StatusTooManyRequests || status >= 500:
		return newTransient("provider returned %d: %s", status, snippet(rawBody))
	default:
		return newPermanent(status, "provider returned %d: %s", status, snippet(rawBody))
	}
}

func (c *Client) classifyTransport(ctx context.Context, err error, op string) error {
	if isTimeoutError(ctx, err) {
		c.log.Warn().Err(err).Str("op", op).Msg("provider request timed out")
		return newTransient("%s timed out: %v", op, err)
	}
	if isNetworkError(err) {
		c.log.Warn().Err(err).Str("op", op).Msg("provider network error")
		return newTransient("%s network error: %v", op, err)
	}
	return newTransient("%s request error: %v", op, err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// taskIDKeys is the extraction priority for task creation responses. The
// provider is inconsistent about field naming across API families.
var taskIDKeys = []string{"id", "task_id", "taskId", "job_id", "jobId", "recordId"}

func ExtractTaskID(data map[string]interface{}) string {
	if id := firstString(data, taskIDKeys...); id != "" {
		return id
	}
	for _, nested := range []string{"task", "job", "result", "data"} {
		if inner, ok := data[nested].(map[string]interface{}); ok {
			if id := firstString(inner, taskIDKeys...); id != "" {
				return id
			}
		}
	}
	return ""
}

// ExtractOutputURL pulls the result URL out of the record. The Market API
// packs outputs into a resultJson string; other families use direct fields.
func ExtractOutputURL(taskData map[string]interface{}) string {
	if rawResult, ok := taskData["resultJson"].(string); ok && rawResult != "" {
		var result map[string]interface{}
		if err := json.Unmarshal([]byte(rawResult), &result); err == nil {
			if urls, ok := result["resultUrls"].([]interface{}); ok && len(urls) > 0 {
				if u, ok := urls[0].(string); ok && u != "" {
					return u
				}
			}
			if u := firstString(result, "url", "output_url", "download_url"); u != "" {
				return u
			}
		}
	}

	return firstString(taskData,
		"output_url", "outputUrl", "result_url", "resultUrl",
		"download_url", "downloadUrl", "url")
}

func firstString(data map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		switch v := data[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			// Numeric ids come back as JSON numbers for some families.
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func nestedString(data map[string]interface{}, outer, key string) string {
	if inner, ok := data[outer].(map[string]interface{}); ok {
		return firstString(inner, key)
	}
	return ""
}

func firstNumber(data map[string]interface{}, keys ...string) float64 {
	for _, key := range keys {
		if v, ok := data[key].(float64); ok {
			return v
		}
	}
	return 0
}

func snippet(body []byte) string {
	if len(body) > maxBodySnippet {
		return string(body[:maxBodySnippet])
	}
	return string(body)
}
