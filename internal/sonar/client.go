// Package sonar reads quality profiles and their active rules from a
// SonarQube (or SonarCloud) server through its Web API.
package sonar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	"github.com/qualimetry/ansible-analyzer/internal/logging"
)

// Language is the SonarQube language key of Ansible profiles.
const Language = "ansible"

const (
	pageSize        = 500
	maxErrorBody    = 512
	defaultTimeout  = 30 * time.Second
	defaultAttempts = 3
)

// ErrInvalidResponse indicates a response body that is not the expected JSON.
var ErrInvalidResponse = errors.New("sonar: invalid response")

// HTTPError is returned for a non-2xx response.
type HTTPError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("HTTP %d from %s", e.StatusCode, e.URL)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Temporary reports whether retrying may succeed.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Config identifies the server and credentials of one import.
type Config struct {
	ServerURL string
	// Token is optional; it is sent as the basic-auth user name.
	Token string
}

// Profile is a quality profile.
type Profile struct {
	Key  string
	Name string
}

// Client talks to the SonarQube Web API.
type Client struct {
	http        *http.Client
	attempts    uint64
	initialWait time.Duration
	log         *logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRetry sets the maximum number of attempts per request and the first
// wait between them.
func WithRetry(attempts int, initial time.Duration) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = uint64(attempts)
		}
		c.initialWait = initial
	}
}

// WithLogger sets the logger for retry diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// New creates a client.
func New(opts ...Option) *Client {
	c := &Client{
		http:        &http.Client{Timeout: defaultTimeout},
		attempts:    defaultAttempts,
		initialWait: 500 * time.Millisecond,
		log:         logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchProfiles lists the server's Ansible quality profiles.
func (c *Client) FetchProfiles(ctx context.Context, cfg Config) ([]Profile, error) {
	q := url.Values{}
	q.Set("language", Language)

	body, err := c.get(ctx, cfg, "/api/qualityprofiles/search", q)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: quality profiles", ErrInvalidResponse)
	}

	var profiles []Profile
	gjson.GetBytes(body, "profiles").ForEach(func(_, p gjson.Result) bool {
		if p.Get("language").Exists() && p.Get("language").String() != Language {
			return true
		}
		profiles = append(profiles, Profile{
			Key:  p.Get("key").String(),
			Name: p.Get("name").String(),
		})
		return true
	})
	return profiles, nil
}

// FetchRules returns the rules active in a profile keyed by rule key, with
// the repository prefix removed. Each value is a rule entry of the form
// {enabled, severity[, params]}.
func (c *Client) FetchRules(ctx context.Context, cfg Config, profileKey string) (map[string]any, error) {
	rules := make(map[string]any)

	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("qprofile", profileKey)
		q.Set("activation", "true")
		q.Set("f", "actives,params,severity")
		q.Set("ps", strconv.Itoa(pageSize))
		q.Set("p", strconv.Itoa(page))

		body, err := c.get(ctx, cfg, "/api/rules/search", q)
		if err != nil {
			return nil, err
		}
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("%w: rules page %d", ErrInvalidResponse, page)
		}

		doc := gjson.ParseBytes(body)
		items := doc.Get("rules").Array()
		for _, r := range items {
			fullKey := r.Get("key").String()
			if fullKey == "" {
				continue
			}
			rules[ruleID(fullKey)] = ruleEntry(r, activeFor(doc, fullKey, profileKey))
		}

		total := doc.Get("total").Int()
		if len(items) == 0 || int64(page*pageSize) >= total {
			break
		}
	}
	return rules, nil
}

// activeFor returns the activation of a rule in the profile, if the
// response carries one.
func activeFor(doc gjson.Result, ruleKey, profileKey string) gjson.Result {
	var found gjson.Result
	doc.Get("actives").Get(gjson.Escape(ruleKey)).ForEach(func(_, a gjson.Result) bool {
		if qp := a.Get("qProfile").String(); qp == "" || qp == profileKey {
			found = a
			return false
		}
		return true
	})
	return found
}

func ruleEntry(rule, active gjson.Result) map[string]any {
	entry := map[string]any{"enabled": true}

	severity := active.Get("severity").String()
	if severity == "" {
		severity = rule.Get("severity").String()
	}
	if severity != "" {
		entry["severity"] = severity
	}

	params := make(map[string]any)
	active.Get("params").ForEach(func(_, p gjson.Result) bool {
		if k := p.Get("key").String(); k != "" {
			params[k] = p.Get("value").String()
		}
		return true
	})
	if len(params) > 0 {
		entry["params"] = params
	}
	return entry
}

// ruleID strips the repository prefix from "repo:key".
func ruleID(fullKey string) string {
	if i := strings.IndexByte(fullKey, ':'); i >= 0 {
		return fullKey[i+1:]
	}
	return fullKey
}

func (c *Client) get(ctx context.Context, cfg Config, path string, query url.Values) ([]byte, error) {
	endpoint := NormalizeURL(cfg.ServerURL) + path + "?" + query.Encode()

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if cfg.Token != "" {
			req.SetBasicAuth(cfg.Token, "")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			herr := &HTTPError{StatusCode: resp.StatusCode, URL: NormalizeURL(cfg.ServerURL) + path, Body: truncate(strings.TrimSpace(string(data)), maxErrorBody)}
			if herr.Temporary() {
				return herr
			}
			return backoff.Permanent(herr)
		}
		body = data
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialWait
	policy := backoff.WithContext(backoff.WithMaxRetries(b, c.attempts-1), ctx)

	notify := func(err error, wait time.Duration) {
		c.log.Warn("GET %s failed, retrying in %s: %v", path, wait.Round(time.Millisecond), err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

// NormalizeURL trims whitespace and trailing slashes and adds https:// to a
// bare host name.
func NormalizeURL(raw string) string {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		s = "https://" + s
	}
	return strings.TrimRight(s, "/")
}

// ResolveProfileKey finds a profile by exact key, then by case-insensitive
// name. Blank input matches nothing.
func ResolveProfileKey(profiles []Profile, nameOrKey string) (string, bool) {
	v := strings.TrimSpace(nameOrKey)
	if v == "" {
		return "", false
	}
	for _, p := range profiles {
		if p.Key == v {
			return p.Key, true
		}
	}
	for _, p := range profiles {
		if strings.EqualFold(p.Name, v) {
			return p.Key, true
		}
	}
	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
