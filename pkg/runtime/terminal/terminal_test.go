package terminal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/runtime/terminal/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	dir        string
	configPath string
}

func setupFixture(t *testing.T) *fixture {
	dir := t.TempDir()
	f := &fixture{dir: dir, configPath: filepath.Join(dir, "config.yaml")}

	write(t, filepath.Join(dir, "grading", "firewall.yaml"), `
policy_type: firewall
rules:
  - setting_id: enforce
    comparison: boolean_equals
    required: true
`)
	writeJSON(t, filepath.Join(dir, "api", "hosts.json"), []domain.HostRecord{
		{DeviceID: "h1", Hostname: "web-01", Platform: "Windows", Policies: map[domain.PolicyType]string{domain.PolicyTypeFirewall: "fw-1"}},
		{DeviceID: "h2", Hostname: "db-01", Platform: "Windows", Policies: map[domain.PolicyType]string{domain.PolicyTypeFirewall: "fw-2"}},
	})
	writeJSON(t, filepath.Join(dir, "api", "policies", "firewall.json"), []domain.PolicyRecord{
		{ID: "fw-1", Name: "Servers", Platform: "Windows", Settings: map[string]any{"enforce": true}},
		{ID: "fw-2", Name: "Databases", Platform: "Windows", Settings: map[string]any{"enforce": false}},
	})
	write(t, f.configPath, fmt.Sprintf(`
tenant: cid-1
db:
  type: sqlite
sqlite:
  path: %s
falcon_credentials:
  fixture_dir: %s
grading:
  dir: %s
daemon:
  policy_types: [firewall]
  output:
    dir: %s
`, filepath.Join(dir, "data", "cache.sqlite"), filepath.Join(dir, "api"), filepath.Join(dir, "grading"), filepath.Join(dir, "output")))
	return f
}

func write(t *testing.T, path, content string) {
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writeJSON(t *testing.T, path string, v any) {
	data, err := json.Marshal(v)
	require.NoError(t, err)
	write(t, path, string(data))
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	cli := NewCLI(Options{Version: "1.0.0", Output: &out, LogOutput: io.Discard})
	cli.rootCmd.SetArgs(append([]string{"--config", f.configPath}, args...))
	cli.rootCmd.SetErr(io.Discard)
	err := cli.Execute()
	return out.String(), err
}

func TestCLI_Version(t *testing.T) {
	f := setupFixture(t)

	out, err := f.run(t, "version")

	require.NoError(t, err)
	assert.Equal(t, "policy-audit 1.0.0\n", out)
}

func TestCLI_FetchThenInspect(t *testing.T) {
	f := setupFixture(t)

	out, err := f.run(t, "fetch")
	require.NoError(t, err)
	assert.Contains(t, out, "=== firewall: 1/2 passed, score 50.00% ===")
	assert.Contains(t, out, "Hosts processed: 2")

	reports, err := os.ReadDir(filepath.Join(f.dir, "output"))
	require.NoError(t, err)
	assert.Len(t, reports, 3)

	out, err = f.run(t, "policies", "--failed", "--json")
	require.NoError(t, err)
	var sections []export.PolicySection
	require.NoError(t, json.Unmarshal([]byte(out), &sections))
	require.Len(t, sections, 1)
	require.Len(t, sections[0].Results, 1)
	assert.Equal(t, "fw-2", sections[0].Results[0].PolicyID)

	out, err = f.run(t, "hosts", "--status", "failed")
	require.NoError(t, err)
	assert.Contains(t, out, "db-01")
	assert.NotContains(t, out, "web-01")
}

func TestCLI_RegradeUsesCache(t *testing.T) {
	f := setupFixture(t)
	_, err := f.run(t, "fetch")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(f.dir, "api", "policies")))

	out, err := f.run(t, "regrade", "--json")

	require.NoError(t, err)
	var graded map[domain.PolicyType][]domain.PolicyGradeResult
	require.NoError(t, json.Unmarshal([]byte(out), &graded))
	assert.Len(t, graded[domain.PolicyTypeFirewall], 2)
}

func TestCLI_PoliciesBeforeAnyRun(t *testing.T) {
	f := setupFixture(t)

	_, err := f.run(t, "policies")

	assert.ErrorContains(t, err, "nothing graded yet")
}

func TestCLI_InvalidFlags(t *testing.T) {
	f := setupFixture(t)

	_, err := f.run(t, "fetch", "--type", "antivirus")
	assert.Error(t, err)

	_, err = f.run(t, "hosts", "--status", "sometimes")
	assert.ErrorContains(t, err, "unknown host status filter")
}

func TestCLI_MissingConfigFile(t *testing.T) {
	f := setupFixture(t)
	f.configPath = filepath.Join(f.dir, "absent.yaml")

	_, err := f.run(t, "policies")

	assert.ErrorContains(t, err, "configuration error")
}
