// Package artifact writes the pipeline-table artifact (spec §6): a JSON
// snapshot of the resolved pipeline topology, emitted by PipelineManager on
// a successful initializeFromRoutingTable. Grounded on the teacher's
// internal/requestlog package's Writer interface shape, adapted from a
// SQL-backed request log into a plain os.WriteFile JSON writer since
// persistent state is a named non-goal.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ferro-labs/pipeline-router/internal/pipeline"
)

// StageInfo is one stage's entry inside an Architecture block: the stage's
// name, type and status, plus the endpoint for the server stage. It carries
// no stage id.
type StageInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Architecture is the four-stage breakdown spec §6 requires per entry.
type Architecture struct {
	Transformer         StageInfo `json:"transformer"`
	Protocol            StageInfo `json:"protocol"`
	ServerCompatibility StageInfo `json:"serverCompatibility"`
	Server              StageInfo `json:"server"`
}

// Entry is one pipeline's row in the artifact (spec §6).
type Entry struct {
	PipelineID    string       `json:"pipelineId"`
	VirtualModel  string       `json:"virtualModel"`
	Provider      string       `json:"provider"`
	TargetModel   string       `json:"targetModel"`
	APIKeyIndex   int          `json:"apiKeyIndex"`
	Endpoint      string       `json:"endpoint"`
	Status        string       `json:"status"`
	CreatedAt     string       `json:"createdAt"`
	HandshakeTime string       `json:"handshakeTime,omitempty"`
	Architecture  Architecture `json:"architecture"`
}

// Table is the full artifact document (spec §6's named shape).
type Table struct {
	ConfigName                     string             `json:"configName"`
	ConfigFile                     string             `json:"configFile"`
	GeneratedAt                    string             `json:"generatedAt"`
	TotalPipelines                 int                `json:"totalPipelines"`
	PipelinesGroupedByVirtualModel map[string][]Entry `json:"pipelinesGroupedByVirtualModel"`
	AllPipelines                   []Entry            `json:"allPipelines"`
}

// Build assembles the full Table from a set of (virtualModel, []*Pipeline)
// groups, per spec §6's pipelinesGroupedByVirtualModel + allPipelines shape.
func Build(configName, configFile string, generatedAt time.Time, grouped map[string][]*pipeline.Pipeline) Table {
	t := Table{
		ConfigName:                      configName,
		ConfigFile:                      configFile,
		GeneratedAt:                     generatedAt.UTC().Format(time.RFC3339),
		PipelinesGroupedByVirtualModel: make(map[string][]Entry, len(grouped)),
	}
	for virtualModel, pipelines := range grouped {
		entries := make([]Entry, 0, len(pipelines))
		for _, p := range pipelines {
			e := entryFrom(virtualModel, p, generatedAt)
			entries = append(entries, e)
			t.AllPipelines = append(t.AllPipelines, e)
		}
		t.PipelinesGroupedByVirtualModel[virtualModel] = entries
	}
	t.TotalPipelines = len(t.AllPipelines)
	return t
}

func entryFrom(virtualModel string, p *pipeline.Pipeline, generatedAt time.Time) Entry {
	status := p.GetStatus()
	entry := p.Entry()

	stages := status.Stages
	arch := Architecture{
		Transformer:         StageInfo{Name: stages[0].Name, Type: "transformer", Status: string(stages[0].State)},
		Protocol:            StageInfo{Name: stages[1].Name, Type: "protocol", Status: string(stages[1].State)},
		ServerCompatibility: StageInfo{Name: stages[2].Name, Type: "server-compatibility", Status: string(stages[2].State)},
		Server:              StageInfo{Name: stages[3].Name, Type: "server", Status: string(stages[3].State), Endpoint: entry.APIBaseURL},
	}

	handshakeTime := ""
	if status.LastHandshakeTime != 0 {
		handshakeTime = time.Unix(status.LastHandshakeTime, 0).UTC().Format(time.RFC3339)
	}

	return Entry{
		PipelineID:    p.ID(),
		VirtualModel:  virtualModel,
		Provider:      entry.Provider,
		TargetModel:   entry.TargetModel,
		APIKeyIndex:   entry.APIKeyIndex,
		Endpoint:      entry.APIBaseURL,
		Status:        string(status.State),
		CreatedAt:     generatedAt.UTC().Format(time.RFC3339),
		HandshakeTime: handshakeTime,
		Architecture:  arch,
	}
}

// Write persists the artifact at both fixed locations spec §6 names:
// <home>/.route-claudecode/config/generated/<configName>-pipeline-table.json
// and <home>/.route-claudecode/debug-logs/port-<port>/<timestamp>_<configName>-pipeline-table.json.
func Write(home string, port int, t Table, now time.Time) error {
	payload, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: marshal pipeline table: %w", err)
	}

	generatedPath := filepath.Join(home, ".route-claudecode", "config", "generated", t.ConfigName+"-pipeline-table.json")
	if err := writeFile(generatedPath, payload); err != nil {
		return err
	}

	debugDir := filepath.Join(home, ".route-claudecode", "debug-logs", fmt.Sprintf("port-%d", port))
	debugPath := filepath.Join(debugDir, fmt.Sprintf("%s_%s-pipeline-table.json", now.UTC().Format("20060102T150405Z"), t.ConfigName))
	return writeFile(debugPath, payload)
}

func writeFile(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("artifact: create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("artifact: write %s: %w", path, err)
	}
	return nil
}
