// Package auth resolves bearer API keys to configured projects.
package auth

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/straja-ai/apiguard/internal/config"
)

// Project is the identity a caller authenticates as.
type Project struct {
	ID string
}

type keyDigest [sha256.Size]byte

// Auth maps API key digests to projects. Raw keys are not retained.
type Auth struct {
	projects map[keyDigest]Project
}

// NewFromConfig indexes every project key. A key shared by two projects is
// a configuration error.
func NewFromConfig(cfg *config.Config) (*Auth, error) {
	a := &Auth{projects: make(map[keyDigest]Project)}
	if cfg == nil {
		return a, nil
	}
	for _, p := range cfg.Projects {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("auth: project with empty id")
		}
		for _, key := range p.APIKeys {
			key = strings.TrimSpace(key)
			if key == "" {
				continue
			}
			d := digest(key)
			if owner, dup := a.projects[d]; dup && owner.ID != id {
				return nil, fmt.Errorf("auth: api key of project %q is also assigned to project %q", id, owner.ID)
			}
			a.projects[d] = Project{ID: id}
		}
	}
	return a, nil
}

// Lookup returns the project owning apiKey.
func (a *Auth) Lookup(apiKey string) (Project, bool) {
	if a == nil || apiKey == "" {
		return Project{}, false
	}
	p, ok := a.projects[digest(apiKey)]
	return p, ok
}

// Len reports how many distinct API keys are registered.
func (a *Auth) Len() int {
	if a == nil {
		return 0
	}
	return len(a.projects)
}

func digest(key string) keyDigest {
	return sha256.Sum256([]byte(key))
}
