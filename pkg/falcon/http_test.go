package falcon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t      *testing.T
	mux    *http.ServeMux
	server *httptest.Server
	client *HTTPClient
	tokens atomic.Int32
}

func setupFixture(t *testing.T) *fixture {
	f := &fixture{t: t, mux: http.NewServeMux()}
	f.mux.HandleFunc("POST /oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		f.tokens.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":1799}`))
	})
	f.server = httptest.NewServer(f.mux)
	t.Cleanup(f.server.Close)

	client, err := NewHTTPClient(context.Background(), Credentials{
		ClientID:     "id",
		ClientSecret: "secret",
		BaseURL:      f.server.URL,
	}, HTTPSettings{PageSize: 2, Timeout: 5 * time.Second})
	require.NoError(t, err)
	f.client = client
	return f
}

func (f *fixture) handle(pattern string, fn func(w http.ResponseWriter, r *http.Request)) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(f.t, "Bearer tok", r.Header.Get("Authorization"))
		fn(w, r)
	})
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func resources(total int, offset any, items ...any) map[string]any {
	return map[string]any{
		"meta": map[string]any{
			"pagination": map[string]any{"total": total, "offset": offset},
		},
		"resources": items,
		"errors":    []any{},
	}
}

func TestNewHTTPClient_RequiresCredentials(t *testing.T) {
	_, err := NewHTTPClient(context.Background(), Credentials{ClientID: "id"}, HTTPSettings{})
	assert.Error(t, err)
}

func TestListPolicies_OffsetPaging(t *testing.T) {
	f := setupFixture(t)
	f.handle("GET /policy/combined/prevention/v1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		all := []any{
			map[string]any{"id": "p1", "name": "Default", "platform_name": "Windows", "enabled": true},
			map[string]any{"id": "p2", "name": "Servers", "platform_name": "Linux", "enabled": false},
			map[string]any{"id": "p3", "name": "Laptops", "platform_name": "Mac", "enabled": true},
		}
		end := min(offset+2, len(all))
		writeJSON(t, w, http.StatusOK, resources(len(all), offset, all[offset:end]...))
	})

	policies, err := CollectPolicies(context.Background(), f.client, domain.PolicyTypePrevention)

	require.NoError(t, err)
	require.Len(t, policies, 3)
	assert.Equal(t, "p3", policies[2].ID)
	assert.Equal(t, domain.PolicyTypePrevention, policies[1].Type)
	assert.Equal(t, false, policies[1].Settings["enabled"])
	assert.EqualValues(t, 1, f.tokens.Load())
}

func TestListHosts_ScrollThenDetails(t *testing.T) {
	f := setupFixture(t)
	f.handle("GET /devices/queries/devices-scroll/v1", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "device_id.desc", q.Get("sort"))
		assert.Equal(t, "product_type_desc:['Workstation']+platform_name:['Windows']", q.Get("filter"))
		if q.Get("offset") == "" {
			writeJSON(t, w, http.StatusOK, resources(2, "scroll-2", "h1"))
			return
		}
		assert.Equal(t, "scroll-2", q.Get("offset"))
		writeJSON(t, w, http.StatusOK, resources(2, "", "h2"))
	})
	f.handle("POST /devices/entities/devices/v2", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			IDs []string `json:"ids"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.IDs, 1)
		writeJSON(t, w, http.StatusOK, resources(1, nil, map[string]any{
			"device_id":         body.IDs[0],
			"hostname":          "host-" + body.IDs[0],
			"platform_name":     "Windows",
			"product_type_desc": "Workstation",
			"device_policies": map[string]any{
				"prevention":    map[string]any{"policy_id": "p1"},
				"sensor_update": map[string]any{"policy_id": "s1"},
			},
		}))
	})

	hosts, err := CollectHosts(context.Background(), f.client, HostFilter{
		ProductTypes: []string{"Workstation"},
		Platforms:    []string{"Windows"},
	})

	require.NoError(t, err)
	require.Len(t, hosts, 2)
	assert.Equal(t, "host-h2", hosts[1].Hostname)
	assert.Equal(t, "p1", hosts[0].Policies[domain.PolicyTypePrevention])
	assert.Equal(t, "s1", hosts[0].Policies[domain.PolicyTypeSensorUpdate])
}

func TestListPolicyContainers_Batches(t *testing.T) {
	f := setupFixture(t)
	var batches []int
	f.handle("GET /fwmgr/entities/policies/v1", func(w http.ResponseWriter, r *http.Request) {
		ids := r.URL.Query()["ids"]
		batches = append(batches, len(ids))
		items := make([]any, 0, len(ids))
		for _, id := range ids {
			items = append(items, map[string]any{
				"policy_id":       id,
				"enforce":         true,
				"test_mode":       false,
				"default_inbound": "DENY",
				"tracking":        "trk-" + id,
				"modified_on":     "2025-05-30T12:00:00Z",
			})
		}
		writeJSON(t, w, http.StatusOK, resources(len(items), nil, items...))
	})

	ids := make([]string, 150)
	for i := range ids {
		ids[i] = "fw-" + strconv.Itoa(i)
	}

	var containers []domain.PolicyContainer
	cursor := ""
	for {
		page, err := f.client.ListPolicyContainers(context.Background(), ids, cursor)
		require.NoError(t, err)
		assert.Equal(t, 150, page.Total)
		containers = append(containers, page.Items...)
		if page.Next == "" {
			break
		}
		cursor = page.Next
	}

	assert.Equal(t, []int{100, 50}, batches)
	require.Len(t, containers, 150)
	assert.Equal(t, "fw-149", containers[149].PolicyID)
	assert.Equal(t, map[string]any{"enforce": true, "test_mode": false, "default_inbound": "DENY"}, containers[0].Settings)

	policy := domain.PolicyRecord{ID: "fw-0", Settings: map[string]any{"enabled": true, "enforce": false}}.WithContainer(containers[0])
	assert.Equal(t, true, policy.Settings["enforce"])
	assert.Equal(t, "DENY", policy.Settings["default_inbound"])
	assert.Equal(t, true, policy.Settings["enabled"])
}

func TestListPolicyContainers_NoIDs(t *testing.T) {
	f := setupFixture(t)

	page, err := f.client.ListPolicyContainers(context.Background(), nil, "")

	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Empty(t, page.Next)
}

func TestListZeroTrustAssessments(t *testing.T) {
	f := setupFixture(t)
	f.handle("GET /zero-trust-assessment/entities/assessments/v1", func(w http.ResponseWriter, r *http.Request) {
		ids := r.URL.Query()["ids"]
		if ids[0] == "h100" {
			writeJSON(t, w, http.StatusNotFound, map[string]any{
				"resources": []any{},
				"errors":    []any{map[string]any{"code": 404, "message": "no assessments found"}},
			})
			return
		}
		writeJSON(t, w, http.StatusOK, resources(1, nil, map[string]any{
			"aid": "h0",
			"cid": "cid-1",
			"assessment": map[string]any{
				"sensor_config": 90,
				"os":            60,
				"overall":       78,
				"version":       "3.4.0",
			},
			"modified_time": "2025-06-01T08:30:00Z",
		}))
	})

	ids := make([]string, 101)
	for i := range ids {
		ids[i] = "h" + strconv.Itoa(i)
	}

	first, err := f.client.ListZeroTrustAssessments(context.Background(), ids, "")
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	assert.Equal(t, domain.ZeroTrustAssessment{
		DeviceID:     "h0",
		SensorConfig: 90,
		OS:           60,
		Overall:      78,
		Version:      "3.4.0",
		ModifiedTime: time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC),
	}, first.Items[0])
	assert.Equal(t, "100", first.Next)

	second, err := f.client.ListZeroTrustAssessments(context.Background(), ids, first.Next)
	require.NoError(t, err)
	assert.Empty(t, second.Items)
	assert.Empty(t, second.Next)
}

func TestListPolicyContainers_NotFoundIsAnError(t *testing.T) {
	f := setupFixture(t)
	f.handle("GET /fwmgr/entities/policies/v1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, map[string]any{"errors": []any{map[string]any{"code": 404, "message": "not found"}}})
	})

	_, err := f.client.ListPolicyContainers(context.Background(), []string{"fw-1"}, "")

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusNotFound, terr.StatusCode)
}

func TestHTTPClient_RateLimited(t *testing.T) {
	f := setupFixture(t)
	f.handle("GET /policy/combined/firewall/v1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "45")
		writeJSON(t, w, http.StatusTooManyRequests, map[string]any{"errors": []any{map[string]any{"code": 429, "message": "slow down"}}})
	})

	_, err := f.client.ListPolicies(context.Background(), domain.PolicyTypeFirewall, "")

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 45*time.Second, rl.RetryAfter())
	assert.True(t, ratelimit.IsRetryable(err))
}

func TestHTTPClient_TransportErrors(t *testing.T) {
	f := setupFixture(t)
	f.handle("GET /policy/combined/firewall/v1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusForbidden, map[string]any{"errors": []any{map[string]any{"code": 403, "message": "access denied"}}})
	})
	f.handle("GET /policy/combined/device-control/v1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadGateway, map[string]any{})
	})

	_, err := f.client.ListPolicies(context.Background(), domain.PolicyTypeFirewall, "")
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusForbidden, te.StatusCode)
	assert.ErrorContains(t, err, "access denied")
	assert.False(t, ratelimit.IsRetryable(err))

	_, err = f.client.ListPolicies(context.Background(), domain.PolicyTypeDeviceControl, "")
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.True(t, ratelimit.IsRetryable(err))
}

func TestRetryAfter(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	h := http.Header{}
	h.Set("X-Ratelimit-Retryafter", strconv.FormatInt(now.Add(30*time.Second).Unix(), 10))
	assert.Equal(t, 30*time.Second, retryAfter(h, now))

	h = http.Header{}
	h.Set("Retry-After", "12")
	assert.Equal(t, 12*time.Second, retryAfter(h, now))

	assert.Zero(t, retryAfter(http.Header{}, now))
}
