package falcon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
)

// FixtureClient serves records from a directory laid out as
//
//	hosts.json               []HostRecord
//	policies/<type>.json     []PolicyRecord
//	containers/firewall.json []PolicyContainer
//	zero_trust.json          []ZeroTrustAssessment
//
// It is used for offline runs and tests.
type FixtureClient struct {
	dir      string
	pageSize int
}

func NewFixtureClient(dir string, pageSize int) (*FixtureClient, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("fixture directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fixture path %s is not a directory", dir)
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &FixtureClient{dir: dir, pageSize: pageSize}, nil
}

func (c *FixtureClient) ListPolicies(ctx context.Context, policyType domain.PolicyType, cursor string) (Page[domain.PolicyRecord], error) {
	var records []domain.PolicyRecord
	err := c.load(ctx, filepath.Join("policies", string(policyType)+".json"), &records)
	if errors.Is(err, os.ErrNotExist) {
		return Page[domain.PolicyRecord]{}, nil
	}
	if err != nil {
		return Page[domain.PolicyRecord]{}, err
	}
	for i := range records {
		records[i].Type = policyType
	}
	return paginate(records, cursor, c.pageSize)
}

func (c *FixtureClient) ListHosts(ctx context.Context, filter HostFilter, cursor string) (Page[domain.HostRecord], error) {
	var records []domain.HostRecord
	if err := c.load(ctx, "hosts.json", &records); err != nil {
		return Page[domain.HostRecord]{}, err
	}

	filtered := records[:0]
	for _, h := range records {
		if matches(filter.ProductTypes, h.ProductType) && matches(filter.Platforms, h.Platform) {
			filtered = append(filtered, h)
		}
	}
	return paginate(filtered, cursor, c.pageSize)
}

func (c *FixtureClient) ListPolicyContainers(ctx context.Context, policyIDs []string, cursor string) (Page[domain.PolicyContainer], error) {
	var records []domain.PolicyContainer
	err := c.load(ctx, filepath.Join("containers", "firewall.json"), &records)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Page[domain.PolicyContainer]{}, err
	}

	filtered := records[:0]
	for _, r := range records {
		if slices.Contains(policyIDs, r.PolicyID) {
			filtered = append(filtered, r)
		}
	}
	return paginate(filtered, cursor, c.pageSize)
}

func (c *FixtureClient) ListZeroTrustAssessments(ctx context.Context, deviceIDs []string, cursor string) (Page[domain.ZeroTrustAssessment], error) {
	var records []domain.ZeroTrustAssessment
	err := c.load(ctx, "zero_trust.json", &records)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Page[domain.ZeroTrustAssessment]{}, err
	}

	filtered := records[:0]
	for _, r := range records {
		if slices.Contains(deviceIDs, r.DeviceID) {
			filtered = append(filtered, r)
		}
	}
	return paginate(filtered, cursor, c.pageSize)
}

func (c *FixtureClient) load(ctx context.Context, name string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(filepath.Join(c.dir, name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode fixture %s: %w", name, err)
	}
	return nil
}

func matches(allowed []string, value string) bool {
	return len(allowed) == 0 || slices.ContainsFunc(allowed, func(a string) bool {
		return strings.EqualFold(a, value)
	})
}

func paginate[T any](items []T, cursor string, size int) (Page[T], error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil || n < 0 {
			return Page[T]{}, fmt.Errorf("invalid cursor %q", cursor)
		}
		offset = n
	}
	if offset > len(items) {
		offset = len(items)
	}

	end := min(offset+size, len(items))
	page := Page[T]{Items: items[offset:end], Total: len(items)}
	if end < len(items) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}
