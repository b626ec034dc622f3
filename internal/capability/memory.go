package capability

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"kidsgate.org/internal/ids"
	"kidsgate.org/internal/profile"
)

// MemoryData is an in-process DataClient used by tests and the smoke
// binary. It stands in for the portal-backed artifact storage.
type MemoryData struct {
	mu        sync.RWMutex
	artifacts map[string]Artifact
	now       func() time.Time
}

// NewMemoryData creates an empty store.
func NewMemoryData() *MemoryData {
	return &MemoryData{
		artifacts: make(map[string]Artifact),
		now:       time.Now,
	}
}

func artifactKey(profileID, key string) string {
	return profileID + "\x00" + key
}

func (m *MemoryData) Read(ctx context.Context, p profile.Profile, key string) (Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artifacts[artifactKey(p.ID, key)]
	if !ok {
		return Artifact{}, fmt.Errorf("%w: artifact %s", ErrNotFound, key)
	}
	return a, nil
}

func (m *MemoryData) Write(ctx context.Context, p profile.Profile, key, body string) (Artifact, error) {
	if strings.TrimSpace(key) == "" {
		return Artifact{}, fmt.Errorf("artifact key is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	k := artifactKey(p.ID, key)
	a, ok := m.artifacts[k]
	if !ok {
		a = Artifact{
			ID:        ids.New(),
			ProfileID: p.ID,
			Key:       key,
			CreatedAt: now,
		}
	}
	a.Body = body
	a.UpdatedAt = now
	m.artifacts[k] = a
	return a, nil
}

func (m *MemoryData) Delete(ctx context.Context, p profile.Profile, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := artifactKey(p.ID, key)
	if _, ok := m.artifacts[k]; !ok {
		return fmt.Errorf("%w: artifact %s", ErrNotFound, key)
	}
	delete(m.artifacts, k)
	return nil
}

// StaticAI is an AIClient with canned responses, used by tests and the
// smoke binary.
type StaticAI struct {
	SummaryPrefix string
	AnswerPrefix  string
	Err           error
}

func (s *StaticAI) Summarize(ctx context.Context, text string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return s.SummaryPrefix + text, nil
}

func (s *StaticAI) Query(ctx context.Context, prompt string) (string, error) {
	if s.Err != nil {
		return "", s.Err
	}
	return s.AnswerPrefix + prompt, nil
}
