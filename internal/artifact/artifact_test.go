package artifact

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ferro-labs/pipeline-router/internal/pipeline"
	"github.com/ferro-labs/pipeline-router/internal/routing"

	_ "github.com/ferro-labs/pipeline-router/internal/stages/protocol"
	_ "github.com/ferro-labs/pipeline-router/internal/stages/server"
	_ "github.com/ferro-labs/pipeline-router/internal/stages/servercompat"
	_ "github.com/ferro-labs/pipeline-router/internal/stages/transformer"
)

func TestBuild_GroupsByVirtualModelAndCountsTotal(t *testing.T) {
	p, err := pipeline.Build(routing.RouteEntry{
		Provider:         "openai",
		TargetModel:      "gpt-4o",
		APIBaseURL:       "https://api.openai.com/v1",
		DeclaredProtocol: "openai",
	})
	if err != nil {
		t.Fatalf("Build pipeline: %v", err)
	}

	table := Build("default-config", "/etc/router/config.json", time.Unix(1700000000, 0), map[string][]*pipeline.Pipeline{
		"default": {p},
	})

	if table.TotalPipelines != 1 {
		t.Errorf("expected 1 total pipeline, got %d", table.TotalPipelines)
	}
	if len(table.PipelinesGroupedByVirtualModel["default"]) != 1 {
		t.Errorf("expected pipeline grouped under 'default'")
	}
	if table.AllPipelines[0].Architecture.Server.Name != "http" {
		t.Errorf("expected http server in architecture, got %+v", table.AllPipelines[0].Architecture.Server)
	}
}

func TestWrite_WritesBothFixedLocations(t *testing.T) {
	home := t.TempDir()
	table := Table{ConfigName: "default-config", AllPipelines: []Entry{}, PipelinesGroupedByVirtualModel: map[string][]Entry{}}

	if err := Write(home, 5506, table, time.Unix(1700000000, 0)); err != nil {
		t.Fatalf("Write: %v", err)
	}

	generated := filepath.Join(home, ".route-claudecode", "config", "generated", "default-config-pipeline-table.json")
	if _, err := os.Stat(generated); err != nil {
		t.Errorf("expected generated artifact at %s: %v", generated, err)
	}

	debugDir := filepath.Join(home, ".route-claudecode", "debug-logs", "port-5506")
	entries, err := os.ReadDir(debugDir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected exactly one debug artifact in %s: entries=%v err=%v", debugDir, entries, err)
	}

	raw, err := os.ReadFile(generated)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var decoded Table
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.ConfigName != "default-config" {
		t.Errorf("unexpected decoded config name: %s", decoded.ConfigName)
	}
}
