package falcon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultBaseURL  = "https://api.crowdstrike.com"
	defaultPageSize = 500
	hostPageSize    = 5000
	entityBatchSize = 100
)

var policyEndpoints = map[domain.PolicyType]string{
	domain.PolicyTypePrevention:    "/policy/combined/prevention/v1",
	domain.PolicyTypeSensorUpdate:  "/policy/combined/sensor-update/v2",
	domain.PolicyTypeContentUpdate: "/policy/combined/content-update/v1",
	domain.PolicyTypeFirewall:      "/policy/combined/firewall/v1",
	domain.PolicyTypeDeviceControl: "/policy/combined/device-control/v1",
	domain.PolicyTypeITAutomation:  "/it-automation/combined/policies/v1",
}

type Credentials struct {
	ClientID     string
	ClientSecret string
	BaseURL      string
	MemberCID    string
}

type HTTPSettings struct {
	Timeout  time.Duration
	PageSize int
}

type HTTPClient struct {
	baseURL  string
	http     *http.Client
	pageSize int
}

// NewHTTPClient authenticates with the OAuth2 client credentials flow. ctx
// scopes token refreshes.
func NewHTTPClient(ctx context.Context, creds Credentials, settings HTTPSettings) (*HTTPClient, error) {
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, errors.New("falcon client id and secret are required")
	}
	base := strings.TrimRight(creds.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 60 * time.Second
	}
	if settings.PageSize <= 0 {
		settings.PageSize = defaultPageSize
	}

	oauth := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     base + "/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if creds.MemberCID != "" {
		oauth.EndpointParams = url.Values{"member_cid": {creds.MemberCID}}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: settings.Timeout})
	client := oauth.Client(ctx)
	client.Timeout = settings.Timeout

	return &HTTPClient{
		baseURL:  base,
		http:     client,
		pageSize: settings.PageSize,
	}, nil
}

type envelope struct {
	Meta struct {
		Pagination struct {
			Offset any `json:"offset"`
			Limit  int `json:"limit"`
			Total  int `json:"total"`
		} `json:"pagination"`
	} `json:"meta"`
	Resources []json.RawMessage `json:"resources"`
	Errors    []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// ListPolicies uses offset pagination; the cursor is the next offset.
func (c *HTTPClient) ListPolicies(ctx context.Context, policyType domain.PolicyType, cursor string) (Page[domain.PolicyRecord], error) {
	endpoint, ok := policyEndpoints[policyType]
	if !ok {
		return Page[domain.PolicyRecord]{}, fmt.Errorf("unsupported policy type %q", policyType)
	}

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return Page[domain.PolicyRecord]{}, fmt.Errorf("invalid policy cursor %q", cursor)
		}
		offset = n
	}

	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageSize))
	q.Set("offset", strconv.Itoa(offset))

	var env envelope
	if err := c.do(ctx, http.MethodGet, endpoint, q, nil, &env); err != nil {
		return Page[domain.PolicyRecord]{}, err
	}

	page := Page[domain.PolicyRecord]{Total: env.Meta.Pagination.Total}
	for _, r := range env.Resources {
		var raw map[string]any
		if err := json.Unmarshal(r, &raw); err != nil {
			return Page[domain.PolicyRecord]{}, fmt.Errorf("failed to decode %s policy: %w", policyType, err)
		}
		page.Items = append(page.Items, flattenPolicy(policyType, raw))
	}

	if next := offset + len(env.Resources); len(env.Resources) > 0 && next < page.Total {
		page.Next = strconv.Itoa(next)
	}
	return page, nil
}

// ListHosts uses scroll pagination. Each page is an id query followed by a
// details lookup for those ids.
func (c *HTTPClient) ListHosts(ctx context.Context, filter HostFilter, cursor string) (Page[domain.HostRecord], error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(hostPageSize))
	q.Set("sort", "device_id.desc")
	if fql := filter.FQL(); fql != "" {
		q.Set("filter", fql)
	}
	if cursor != "" {
		q.Set("offset", cursor)
	}

	var ids envelope
	if err := c.do(ctx, http.MethodGet, "/devices/queries/devices-scroll/v1", q, nil, &ids); err != nil {
		return Page[domain.HostRecord]{}, err
	}

	page := Page[domain.HostRecord]{Total: ids.Meta.Pagination.Total}
	if len(ids.Resources) == 0 {
		return page, nil
	}

	deviceIDs := make([]string, 0, len(ids.Resources))
	for _, r := range ids.Resources {
		var id string
		if err := json.Unmarshal(r, &id); err != nil {
			return Page[domain.HostRecord]{}, fmt.Errorf("failed to decode device id: %w", err)
		}
		deviceIDs = append(deviceIDs, id)
	}

	var details envelope
	body := map[string]any{"ids": deviceIDs}
	if err := c.do(ctx, http.MethodPost, "/devices/entities/devices/v2", nil, body, &details); err != nil {
		return Page[domain.HostRecord]{}, err
	}
	for _, r := range details.Resources {
		var raw map[string]any
		if err := json.Unmarshal(r, &raw); err != nil {
			return Page[domain.HostRecord]{}, fmt.Errorf("failed to decode device: %w", err)
		}
		page.Items = append(page.Items, flattenHost(raw))
	}

	if token, ok := ids.Meta.Pagination.Offset.(string); ok && token != "" {
		page.Next = token
	}
	return page, nil
}

// ListPolicyContainers looks up firewall policy containers entityBatchSize
// ids at a time.
func (c *HTTPClient) ListPolicyContainers(ctx context.Context, policyIDs []string, cursor string) (Page[domain.PolicyContainer], error) {
	return getByIDs(ctx, c, "/fwmgr/entities/policies/v1", policyIDs, cursor, false, func(raw map[string]any) (domain.PolicyContainer, bool) {
		return flattenContainer(raw), true
	})
}

// ListZeroTrustAssessments looks up assessments entityBatchSize device ids at
// a time. Devices without an assessment are left out; a batch where none has
// one answers 404 and yields an empty page.
func (c *HTTPClient) ListZeroTrustAssessments(ctx context.Context, deviceIDs []string, cursor string) (Page[domain.ZeroTrustAssessment], error) {
	return getByIDs(ctx, c, "/zero-trust-assessment/entities/assessments/v1", deviceIDs, cursor, true, func(raw map[string]any) (domain.ZeroTrustAssessment, bool) {
		a := flattenAssessment(raw)
		return a, a.DeviceID != ""
	})
}

// getByIDs pages through an entities endpoint that takes repeated ids
// parameters. The cursor is an offset into ids.
func getByIDs[T any](ctx context.Context, c *HTTPClient, path string, ids []string, cursor string, allowMissing bool, convert func(map[string]any) (T, bool)) (Page[T], error) {
	offset, err := batchOffset(cursor, len(ids))
	if err != nil {
		return Page[T]{}, err
	}
	page := Page[T]{Total: len(ids)}
	if offset == len(ids) {
		return page, nil
	}

	end := min(offset+entityBatchSize, len(ids))
	q := url.Values{"ids": ids[offset:end]}

	var env envelope
	if err := c.do(ctx, http.MethodGet, path, q, nil, &env); err != nil {
		var terr *TransportError
		if !allowMissing || !errors.As(err, &terr) || terr.StatusCode != http.StatusNotFound {
			return Page[T]{}, err
		}
	}
	for _, r := range env.Resources {
		var raw map[string]any
		if err := json.Unmarshal(r, &raw); err != nil {
			return Page[T]{}, fmt.Errorf("GET %s: failed to decode resource: %w", path, err)
		}
		if item, ok := convert(raw); ok {
			page.Items = append(page.Items, item)
		}
	}

	if end < len(ids) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

func batchOffset(cursor string, total int) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(cursor)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid batch cursor %q", cursor)
	}
	return min(n, total), nil
}

// FQL renders the filter in the API query language.
func (f HostFilter) FQL() string {
	var clauses []string
	if len(f.ProductTypes) > 0 {
		clauses = append(clauses, fmt.Sprintf("product_type_desc:[%s]", quoteAll(f.ProductTypes)))
	}
	if len(f.Platforms) > 0 {
		clauses = append(clauses, fmt.Sprintf("platform_name:[%s]", quoteAll(f.Platforms)))
	}
	return strings.Join(clauses, "+")
}

func quoteAll(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = "'" + strings.ReplaceAll(v, "'", "") + "'"
	}
	return strings.Join(quoted, ",")
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body any, out *envelope) error {
	op := method + " " + path

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			return &TransportError{StatusCode: retrieveErr.Response.StatusCode, Op: "oauth2 token", Err: err}
		}
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{Wait: retryAfter(resp.Header, time.Now())}
	}

	if err := json.Unmarshal(data, out); err != nil && resp.StatusCode < 300 {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}

	if resp.StatusCode >= 300 {
		msg := http.StatusText(resp.StatusCode)
		if len(out.Errors) > 0 {
			msg = out.Errors[0].Message
		}
		return &TransportError{StatusCode: resp.StatusCode, Op: op, Err: errors.New(msg)}
	}
	return nil
}

// retryAfter reads X-Ratelimit-Retryafter (unix seconds) or Retry-After
// (delta seconds).
func retryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("X-Ratelimit-Retryafter"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
