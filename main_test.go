package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenjiangwei/rsrcpool/rsrc"
	"github.com/shenjiangwei/rsrcpool/source"
)

const testConfig = `
manager:
  registry_source: heap
log:
  level: error
pools:
  - name: frames
    element_size: 64
    initial: 4
  - name: messages
    kind: variable
    max: 8
mpool:
  classes:
    - {name: small, size: 1024, initial: 8, increment: 8}
    - {name: large, size: 16384, initial: 2, increment: 2, max: 8}
`

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rsrcpool.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0644))

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append(args, "--config", path))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestDemoCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "report double free",
			args: []string{"demo"},
			want: []string{"Double free PASSED"},
		},
		{
			name: "abort double free",
			args: []string{"demo", "--abort"},
			want: []string{"Double free aborted", "Double free PASSED"},
		},
		{
			name: "summary",
			args: []string{"demo", "--summary"},
			want: []string{"longpool", "helperpool", "PrintTest"},
		},
		{
			name: "oom disabled",
			args: []string{"demo", "--oom-budget", "0"},
			want: []string{"Test OOM test was NOT RUN"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut, err := runCLI(t, tt.args...)
			require.NoError(t, err, errOut)
			assert.NotContains(t, errOut, "FAILED")
			for _, s := range scenarios {
				if s.name == "OOM test" && strings.Contains(strings.Join(tt.args, " "), "--oom-budget") {
					continue
				}
				assert.Contains(t, out, "Test "+s.name+" PASSED")
			}
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
			assert.Contains(t, out, "demo finished with 0 failure(s)")
		})
	}
}

func TestRunDemoSharedManager(t *testing.T) {
	var out, errOut bytes.Buffer
	m := rsrc.New(rsrc.Config{RegistrySource: source.NewHeap(0), Output: &out})
	failed := runDemo(m, &out, &errOut, demoOptions{oomBudget: 16})
	assert.Zero(t, failed, errOut.String())
	assert.Contains(t, out.String(), "User-supplied out-of-memory function was called")

	// every scenario leaves its pool registered with nothing in use
	for _, s := range m.Stats() {
		if s.Name != rsrc.RegistryName {
			assert.Zero(t, s.InUse, s.Name)
		}
	}
	assert.NotNil(t, m.Lookup("varpool"))
	assert.NotNil(t, m.Lookup("bytepool"))
	require.NoError(t, m.Close())
}

func TestStatsCommand(t *testing.T) {
	t.Run("Text", func(t *testing.T) {
		out, _, err := runCLI(t, "stats", "--mpool")
		require.NoError(t, err)
		assert.Contains(t, out, "frames")
		assert.Contains(t, out, "messages")
		assert.Contains(t, out, "overflow")
		assert.Contains(t, out, "Memory Pool Statistics:")
	})

	t.Run("JSON", func(t *testing.T) {
		out, _, err := runCLI(t, "stats", "--json")
		require.NoError(t, err)

		var dump statsDump
		require.NoError(t, json.Unmarshal([]byte(out), &dump))
		require.Len(t, dump.Pools, 3)
		assert.Equal(t, rsrc.RegistryName, dump.Pools[0].Name)
		assert.Equal(t, "frames", dump.Pools[1].Name)
		assert.Equal(t, 4, dump.Pools[1].Free)
		assert.Equal(t, "variable", dump.Pools[2].Kind)
		assert.Equal(t, "heap", dump.Source.Name)
		assert.Nil(t, dump.MPool)
	})
}

func TestStressCommand(t *testing.T) {
	out, _, err := runCLI(t, "stress", "--iterations", "2", "--ops", "2000", "--workers", "4", "--max-size", "32768")
	require.NoError(t, err)
	assert.Contains(t, out, "Iteration 2 results:")
	assert.Contains(t, out, "Failed allocations: 0")
	assert.Contains(t, out, "Average results:")

	_, _, err = runCLI(t, "stress", "--min-size", "100", "--max-size", "10")
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	var stdout bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, stdout.String(), "rsrcpool dev")
}

func TestInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("manager:\n  source: tape\n"), 0644))
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"stats", "--config", path})
	assert.Error(t, cmd.Execute())
}

func TestExecute(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "rsrcpool.log")
	cfgPath := filepath.Join(dir, "rsrcpool.yaml")
	content := strings.Replace(testConfig, "  level: error\n",
		"  level: info\n  encoding: json\n  output_paths: [\""+logPath+"\"]\n", 1)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0644))

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"stats", "--mpool", "--config", cfgPath})
	var errOut bytes.Buffer
	assert.Equal(t, 0, execute(cmd, &errOut), errOut.String())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Memory pool closed")

	cmd = newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"stats", "--config", filepath.Join(dir, "absent.yaml")})
	errOut.Reset()
	assert.Equal(t, 1, execute(cmd, &errOut))
	assert.Contains(t, errOut.String(), "failed to read config file")
}
