package loki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/remedy"
)

const (
	queryRangePath = "/loki/api/v1/query_range"

	// errorPattern matches the log lines surfaced by error search. Case
	// insensitive so ERROR, Error and error all count.
	errorPattern = `(?i)(error|exception|fatal|panic)`
)

// Client queries a Loki instance over its HTTP range-query API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	now        func() time.Time
}

type Option func(*Client)

// WithHTTPClient replaces the HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, goerr.New("loki base URL is required")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Entry is one log line returned by a query, with its stream labels.
type Entry struct {
	Timestamp time.Time
	Labels    map[string]string
	Line      string
}

// Selector narrows a log query to a namespace and optionally one pod,
// with an optional line filter.
type Selector struct {
	Namespace string
	Pod       string
	Filter    string
}

// logQL renders the selector as a LogQL expression. A raw LogQL filter
// (starting with a pipe) is appended verbatim; anything else becomes a
// substring line filter.
func (x Selector) logQL() string {
	labels := []string{fmt.Sprintf(`namespace=%q`, x.Namespace)}
	if x.Pod != "" {
		labels = append(labels, fmt.Sprintf(`pod=%q`, x.Pod))
	}
	q := "{" + strings.Join(labels, ", ") + "}"

	switch {
	case x.Filter == "":
	case strings.HasPrefix(x.Filter, "|"):
		q += " " + x.Filter
	default:
		q += fmt.Sprintf(" |= %q", x.Filter)
	}
	return q
}

// QueryLogs fetches log lines matching the selector over the trailing
// window, oldest first.
func (c *Client) QueryLogs(ctx context.Context, sel Selector, since time.Duration, limit int) ([]Entry, error) {
	return c.queryRange(ctx, sel.logQL(), since, limit)
}

// SearchErrors fetches lines that look like errors: anything matching
// error, exception, fatal or panic, case insensitive.
func (c *Client) SearchErrors(ctx context.Context, namespace, pod string, since time.Duration, limit int) ([]Entry, error) {
	sel := Selector{
		Namespace: namespace,
		Pod:       pod,
		Filter:    fmt.Sprintf("|~ %q", errorPattern),
	}
	return c.queryRange(ctx, sel.logQL(), since, limit)
}

type rangeResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Stream map[string]string `json:"stream"`
			Values [][2]string       `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

func (c *Client) queryRange(ctx context.Context, logQL string, since time.Duration, limit int) ([]Entry, error) {
	end := c.now()
	start := end.Add(-since)

	params := url.Values{}
	params.Set("query", logQL)
	params.Set("start", strconv.FormatInt(start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(end.UnixNano(), 10))
	params.Set("direction", "backward")
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	reqURL := c.baseURL + queryRangePath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to build loki request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "loki query failed",
			goerr.V("query", logQL), goerr.Tag(remedy.TagTransient))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read loki response", goerr.Tag(remedy.TagTransient))
	}

	if resp.StatusCode != http.StatusOK {
		opts := []goerr.Option{
			goerr.V("status", resp.StatusCode),
			goerr.V("body", truncateBody(body)),
			goerr.V("query", logQL),
		}
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			opts = append(opts, goerr.Tag(remedy.TagPermissionDenied))
		case resp.StatusCode == http.StatusNotFound:
			opts = append(opts, goerr.Tag(remedy.TagNotFound))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			opts = append(opts, goerr.Tag(remedy.TagTransient))
		}
		return nil, goerr.New("loki returned an error status", opts...)
	}

	var parsed rangeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, goerr.Wrap(err, "failed to decode loki response", goerr.V("body", truncateBody(body)))
	}
	if parsed.Status != "success" {
		return nil, goerr.New("loki query was not successful", goerr.V("status", parsed.Status))
	}

	var entries []Entry
	for _, stream := range parsed.Data.Result {
		for _, value := range stream.Values {
			ns, err := strconv.ParseInt(value[0], 10, 64)
			if err != nil {
				continue
			}
			entries = append(entries, Entry{
				Timestamp: time.Unix(0, ns),
				Labels:    stream.Stream,
				Line:      value[1],
			})
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

// Render formats entries for the model: timestamp, pod label when
// present, then the line.
func Render(entries []Entry) string {
	if len(entries) == 0 {
		return "No log entries found."
	}

	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Timestamp.UTC().Format(time.RFC3339))
		if pod := e.Labels["pod"]; pod != "" {
			sb.WriteString(" [" + pod + "]")
		}
		sb.WriteString(" " + e.Line + "\n")
	}
	return sb.String()
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
