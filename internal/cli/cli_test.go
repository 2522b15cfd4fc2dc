package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseContext(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr bool
	}{
		{name: "empty", pairs: nil, want: nil},
		{name: "pairs", pairs: []string{"product=hq", " audience =devs"}, want: map[string]string{"product": "hq", "audience": "devs"}},
		{name: "value with equals", pairs: []string{"query=a=b"}, want: map[string]string{"query": "a=b"}},
		{name: "missing equals", pairs: []string{"product"}, wantErr: true},
		{name: "empty key", pairs: []string{"=x"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseContext(tt.pairs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseContext() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseContext() = %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

// runCLI executes the root command with args in an isolated home and
// working directory.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	projectConfig = filepath.Join(dir, ".hq", "config.yaml")
	storePath = ""
	configForce = false
	taskWorker, taskDescription, taskDependsOn = "", "", nil
	taskType, taskPriority = "research", "normal"
	taskListStatus, taskListLimit = "", 30

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append(args, "--db", filepath.Join(dir, "hq.db")))
	err := rootCmd.Execute()
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("ANTHROPIC_API_KEY", "")
	return dir
}

func TestConfigInit(t *testing.T) {
	dir := isolate(t)

	out, err := runCLI(t, dir, "config", "init")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "wrote") {
		t.Errorf("output = %q", out)
	}
	data, err := os.ReadFile(filepath.Join(dir, ".hq", "config.yaml"))
	if err != nil {
		t.Fatalf("read written config: %v", err)
	}
	if !strings.Contains(string(data), "max_per_tick: 6") {
		t.Error("written config is missing tick settings")
	}

	if _, err := runCLI(t, dir, "config", "init"); err == nil {
		t.Error("expected an error when the file exists")
	}
	if _, err := runCLI(t, dir, "config", "init", "--force"); err != nil {
		t.Errorf("config init --force: %v", err)
	}

	out, err = runCLI(t, dir, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "reserved_worker: ARCHITECT-01") {
		t.Errorf("config show missing budget section:\n%s", out)
	}
}

func TestTaskAddAndList(t *testing.T) {
	dir := isolate(t)

	out, err := runCLI(t, dir, "task", "add", "Audit", "pricing", "page", "--type", "analysis", "--worker", "analyst-01", "--priority", "high")
	if err != nil {
		t.Fatalf("task add: %v", err)
	}
	if !strings.HasPrefix(out, "created ") {
		t.Errorf("output = %q", out)
	}

	out, err = runCLI(t, dir, "task", "list")
	if err != nil {
		t.Fatalf("task list: %v", err)
	}
	for _, want := range []string{"Audit pricing page", "ANALYST-01", "high", "pending"} {
		if !strings.Contains(out, want) {
			t.Errorf("task list missing %q:\n%s", want, out)
		}
	}

	if _, err := runCLI(t, dir, "task", "add", "x", "--type", "bogus"); err == nil {
		t.Error("expected an error for an unknown task type")
	}
}

func TestPipelineTemplates(t *testing.T) {
	dir := isolate(t)

	out, err := runCLI(t, dir, "pipeline", "templates")
	if err != nil {
		t.Fatalf("pipeline templates: %v", err)
	}
	if !strings.Contains(out, "content-publish") {
		t.Errorf("templates missing content-publish:\n%s", out)
	}

	if _, err := runCLI(t, dir, "pipeline", "start", "no-such-template"); err == nil {
		t.Error("expected an error for an unknown template")
	}
}
