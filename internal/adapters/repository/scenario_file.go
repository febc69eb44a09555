package repository

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"botflow/internal/core/domain"
	"botflow/internal/core/ports"
)

var _ ports.ScenarioRepository = (*FileScenarioRepository)(nil)

// FileScenarioRepository serves scenarios authored as YAML files, one per file
type FileScenarioRepository struct {
	dir string

	mu        sync.RWMutex
	scenarios domain.Scenarios
}

// NewFileScenarioRepository loads every *.yaml / *.yml file under dir
func NewFileScenarioRepository(dir string) (*FileScenarioRepository, error) {
	r := &FileScenarioRepository{dir: dir}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the directory. Invalid graphs are loaded with a warning;
// the interpreter degrades to the main menu on dangling references.
func (r *FileScenarioRepository) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("read scenario dir %s: %w", r.dir, err)
	}

	var names []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	loaded := make(domain.Scenarios, 0, len(names))
	for _, name := range names {
		sc, err := LoadScenarioFile(filepath.Join(r.dir, name))
		if err != nil {
			return err
		}
		if err := sc.Validate(); err != nil {
			slog.Warn("Scenario failed validation", "error", err, "file", name)
		}
		loaded = append(loaded, sc)
	}

	r.mu.Lock()
	r.scenarios = loaded
	r.mu.Unlock()

	slog.Info("Scenarios loaded", "dir", r.dir, "count", len(loaded))
	return nil
}

// LoadScenarioFile decodes one YAML scenario
func LoadScenarioFile(path string) (*domain.Scenario, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	var sc domain.Scenario
	if err := yaml.Unmarshal(raw, &sc); err != nil {
		return nil, fmt.Errorf("decode scenario %s: %w", path, err)
	}
	if sc.ID == "" {
		sc.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &sc, nil
}

// All returns the loaded scenarios
func (r *FileScenarioRepository) All() domain.Scenarios {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.scenarios
}

// Get implements ports.ScenarioRepository
func (r *FileScenarioRepository) Get(_ context.Context, id string) (*domain.Scenario, error) {
	if sc, ok := r.All().ByID(id); ok {
		return sc, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrScenarioNotFound, id)
}

// FindByTrigger implements ports.ScenarioRepository
func (r *FileScenarioRepository) FindByTrigger(_ context.Context, command string) (*domain.Scenario, error) {
	if sc, ok := r.All().ByTrigger(command); ok {
		return sc, nil
	}
	return nil, nil
}

// FindByKeyword implements ports.ScenarioRepository
func (r *FileScenarioRepository) FindByKeyword(_ context.Context, normalizedText string) (*domain.Scenario, error) {
	if sc, ok := r.All().ByKeyword(normalizedText); ok {
		return sc, nil
	}
	return nil, nil
}
