package core

import "time"

// Project is a stable handle for a repository location.
type Project struct {
	ID           ProjectID `json:"id"`
	DisplayName  string    `json:"display_name"`
	RepoPath     string    `json:"repo_path"`
	Settings     Settings  `json:"settings"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewProject creates a Project in its only lifecycle state.
func NewProject(displayName, repoPath string) *Project {
	now := time.Now()
	return &Project{
		ID:          NewProjectID(),
		DisplayName: displayName,
		RepoPath:    repoPath,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// ProjectRepository persists Projects. A Project is deletable only when it
// holds no non-archived Goals; the repository enforces that at the
// persistence boundary rather than in this struct.
type ProjectRepository interface {
	Create(p *Project) error
	Get(id ProjectID) (*Project, error)
	List() ([]*Project, error)
	Update(p *Project) error
	Delete(id ProjectID) error
}
