package main

import (
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
)

// lastProjectStore remembers which project the user had open so the next
// run can reopen it without flags.
type lastProjectStore interface {
	LastProject() string
	SaveLastProject(projectID string) error
}

// selectProject picks the project to mirror: an explicit flag wins, then the
// saved project, then the configured default.
func selectProject(flagValue string, store lastProjectStore, configured string) string {
	if flagValue != "" {
		return flagValue
	}
	if last := store.LastProject(); last != "" {
		return last
	}
	return configured
}

type stateFilePayload struct {
	LastProject string `json:"lastProject"`
}

// fileStateStore persists the last opened project as a small JSON file.
type fileStateStore struct {
	path string
}

func (s *fileStateStore) LastProject() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	var payload stateFilePayload
	if err := sonic.ConfigStd.Unmarshal(data, &payload); err != nil {
		return ""
	}
	return payload.LastProject
}

func (s *fileStateStore) SaveLastProject(projectID string) error {
	data, err := sonic.ConfigStd.Marshal(stateFilePayload{LastProject: projectID})
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(s.path, data, 0o644)
}

func defaultStateFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".boardtail.json"
	}
	return filepath.Join(home, ".boardtail.json")
}
