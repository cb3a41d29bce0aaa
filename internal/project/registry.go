package project

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// registryFile is a YAML document on disk holding every known project and
// its codebase source, grounded on the teacher's project.yaml Load/Save
// pattern (ihavespoons-zrok/internal/project/config.go).
type registryFile struct {
	Projects []Project        `yaml:"projects"`
	Sources  []CodebaseSource `yaml:"sources"`
}

// Registry is the in-memory, YAML-backed set of known projects. It is the
// "project metadata" store SyncEngine reads/writes (spec.md §4.8 step 1).
type Registry struct {
	path string

	mu       sync.Mutex
	projects map[string]Project
	sources  map[string]CodebaseSource // keyed by ProjectID
}

// NewRegistry loads path if it exists, or starts empty.
func NewRegistry(path string) (*Registry, error) {
	r := &Registry{
		path:     path,
		projects: make(map[string]Project),
		sources:  make(map[string]CodebaseSource),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return r, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read project registry: %w", err)
	}

	var doc registryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse project registry: %w", err)
	}
	for _, p := range doc.Projects {
		r.projects[p.ID] = p
	}
	for _, s := range doc.Sources {
		r.sources[s.ProjectID] = s
	}
	return r, nil
}

// save persists the registry. Caller must hold mu.
func (r *Registry) save() error {
	doc := registryFile{}
	for _, p := range r.projects {
		doc.Projects = append(doc.Projects, p)
	}
	for _, s := range r.sources {
		doc.Sources = append(doc.Sources, s)
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal project registry: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write project registry: %w", err)
	}
	return nil
}

// Get returns the project by id.
func (r *Registry) Get(id string) (Project, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	return p, ok
}

// List returns every known project.
func (r *Registry) List() []Project {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Project, 0, len(r.projects))
	for _, p := range r.projects {
		out = append(out, p)
	}
	return out
}

// Upsert persists p, overwriting any existing project with the same ID.
func (r *Registry) Upsert(p Project) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[p.ID] = p
	return r.save()
}

// Update applies fn to the stored project for id and persists the result.
// It returns an error if no such project exists.
func (r *Registry) Update(id string, fn func(*Project)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return fmt.Errorf("project %s not found", id)
	}
	fn(&p)
	r.projects[id] = p
	return r.save()
}

// SourceForProject returns the CodebaseSource owned by project id, creating
// and persisting one if none exists yet (spec.md §4.8 step 1).
func (r *Registry) SourceForProject(id, displayName string) (CodebaseSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sources[id]; ok {
		return s, nil
	}

	s := CodebaseSource{
		ID:          "src-" + id,
		ProjectID:   id,
		DisplayName: displayName,
	}
	r.sources[id] = s

	p, ok := r.projects[id]
	if ok {
		p.CodebaseSourceID = s.ID
		r.projects[id] = p
	}

	if err := r.save(); err != nil {
		return CodebaseSource{}, err
	}
	return s, nil
}

// UpdateSource applies fn to the CodebaseSource owned by projectID and
// persists the result.
func (r *Registry) UpdateSource(projectID string, fn func(*CodebaseSource)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sources[projectID]
	if !ok {
		return fmt.Errorf("codebase source for project %s not found", projectID)
	}
	fn(&s)
	r.sources[projectID] = s
	return r.save()
}

// DeleteProject removes a project and its CodebaseSource (cascading per
// spec.md §3 Ownership).
func (r *Registry) DeleteProject(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.projects, id)
	delete(r.sources, id)
	return r.save()
}
