package falcon

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
)

// Page is one unit of a paged listing. Next is empty on the last page.
type Page[T any] struct {
	Items []T
	Next  string
	Total int
}

type HostFilter struct {
	ProductTypes []string
	Platforms    []string
}

// Client is the boundary to the management API. Policies arrive with
// settings flattened; hosts arrive with fully inherited policy ids.
type Client interface {
	ListPolicies(ctx context.Context, policyType domain.PolicyType, cursor string) (Page[domain.PolicyRecord], error)
	ListHosts(ctx context.Context, filter HostFilter, cursor string) (Page[domain.HostRecord], error)
	// ListPolicyContainers pages through the firewall containers of
	// policyIDs. The cursor is an offset into policyIDs.
	ListPolicyContainers(ctx context.Context, policyIDs []string, cursor string) (Page[domain.PolicyContainer], error)
	// ListZeroTrustAssessments pages through the assessments of deviceIDs
	// the same way. Devices never assessed are absent.
	ListZeroTrustAssessments(ctx context.Context, deviceIDs []string, cursor string) (Page[domain.ZeroTrustAssessment], error)
}

// RateLimitError is returned when the API answers 429.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	if e.Wait > 0 {
		return fmt.Sprintf("api rate limit exceeded, retry after %s", e.Wait)
	}
	return "api rate limit exceeded"
}

func (e *RateLimitError) Retryable() bool           { return true }
func (e *RateLimitError) RetryAfter() time.Duration { return e.Wait }

// TransportError covers network failures (StatusCode 0) and non-2xx answers.
type TransportError struct {
	StatusCode int
	Op         string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable holds for network failures, timeouts and 5xx answers.
func (e *TransportError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusRequestTimeout:
		return true
	case e.StatusCode >= 500:
		return true
	}
	return false
}

// CollectPolicies pages through every policy of a type. Callers that need
// to stop between pages drive ListPolicies themselves.
func CollectPolicies(ctx context.Context, c Client, policyType domain.PolicyType) ([]domain.PolicyRecord, error) {
	var all []domain.PolicyRecord
	cursor := ""
	for {
		page, err := c.ListPolicies(ctx, policyType, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.Next == "" {
			return all, nil
		}
		cursor = page.Next
	}
}

func CollectHosts(ctx context.Context, c Client, filter HostFilter) ([]domain.HostRecord, error) {
	var all []domain.HostRecord
	cursor := ""
	for {
		page, err := c.ListHosts(ctx, filter, cursor)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.Next == "" {
			return all, nil
		}
		cursor = page.Next
	}
}
