// Package gitstore is a WorkflowStore backend that keeps every workflow
// as a JSON file in a git working tree, one commit per meaningful edit.
// It has no teacher precedent (the corpus stores workflows in SQL or
// memory only); the shape below follows the same New/Load/Put/Remove
// contract as internal/store/sqlite3 and internal/store/memory so the
// three backends remain interchangeable from config.Store.
package gitstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/rakunlabs/loom/internal/config"
	"github.com/rakunlabs/loom/internal/store"
	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfgraph"
)

var (
	_ wfexternal.WorkflowStore   = (*Git)(nil)
	_ store.WorkflowVersionStore = (*Git)(nil)
)

// Git stores each workflow as "<name>.json" in a git working tree and
// commits every change that alters the graph's structural identity.
type Git struct {
	mu sync.Mutex

	path       string
	authorName string
	authorMail string

	repo *git.Repository
	wt   *git.Worktree
}

func New(cfg *config.StoreGit) (*Git, error) {
	if cfg == nil {
		return nil, errors.New("git store configuration is nil")
	}
	if cfg.Path == "" {
		return nil, errors.New("git store path is required")
	}

	authorName := cfg.AuthorName
	if authorName == "" {
		authorName = "loom"
	}
	authorMail := cfg.AuthorMail
	if authorMail == "" {
		authorMail = "loom@localhost"
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create git store directory: %w", err)
	}

	repo, err := git.PlainOpen(cfg.Path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(cfg.Path, false)
	}
	if err != nil {
		return nil, fmt.Errorf("open git store repository: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open git store worktree: %w", err)
	}

	return &Git{
		path:       cfg.Path,
		authorName: authorName,
		authorMail: authorMail,
		repo:       repo,
		wt:         wt,
	}, nil
}

func (g *Git) filePath(name string) string {
	return filepath.Join(g.path, name+".json")
}

func (g *Git) Load(_ context.Context, name string) (wfgraph.ShadowGraph, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	data, err := os.ReadFile(g.filePath(name))
	if errors.Is(err, os.ErrNotExist) {
		return wfgraph.ShadowGraph{}, fmt.Errorf("%w: workflow %q", store.ErrNotFound, name)
	}
	if err != nil {
		return wfgraph.ShadowGraph{}, fmt.Errorf("read workflow %q: %w", name, err)
	}

	var graph wfgraph.ShadowGraph
	if err := graph.UnmarshalJSON(data); err != nil {
		return wfgraph.ShadowGraph{}, fmt.Errorf("unmarshal workflow %q: %w", name, err)
	}
	return graph, nil
}

func (g *Git) Put(_ context.Context, name string, graph wfgraph.ShadowGraph) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing, loadErr := g.loadLocked(name)
	notFound := errors.Is(loadErr, store.ErrNotFound)
	if loadErr != nil && !notFound {
		return loadErr
	}
	changed := notFound || !existing.FastEq(graph)
	if !changed {
		return nil
	}

	data, err := graph.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal workflow %q: %w", name, err)
	}
	data = append(bytes.TrimRight(data, "\n"), '\n')

	if err := os.WriteFile(g.filePath(name), data, 0o644); err != nil {
		return fmt.Errorf("write workflow %q: %w", name, err)
	}

	rel := name + ".json"
	if _, err := g.wt.Add(rel); err != nil {
		return fmt.Errorf("stage workflow %q: %w", name, err)
	}

	action := "update"
	if notFound {
		action = "create"
	}
	msg := fmt.Sprintf("%s workflow %q", action, name)
	if _, err := g.wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.authorName,
			Email: g.authorMail,
			When:  time.Now(),
		},
	}); err != nil {
		return fmt.Errorf("commit workflow %q: %w", name, err)
	}
	return nil
}

func (g *Git) loadLocked(name string) (wfgraph.ShadowGraph, error) {
	data, err := os.ReadFile(g.filePath(name))
	if errors.Is(err, os.ErrNotExist) {
		return wfgraph.ShadowGraph{}, fmt.Errorf("%w: workflow %q", store.ErrNotFound, name)
	}
	if err != nil {
		return wfgraph.ShadowGraph{}, fmt.Errorf("read workflow %q: %w", name, err)
	}
	var graph wfgraph.ShadowGraph
	if err := graph.UnmarshalJSON(data); err != nil {
		return wfgraph.ShadowGraph{}, fmt.Errorf("unmarshal workflow %q: %w", name, err)
	}
	return graph, nil
}

func (g *Git) Remove(_ context.Context, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	rel := name + ".json"
	if _, err := os.Stat(g.filePath(name)); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	if _, err := g.wt.Remove(rel); err != nil {
		return fmt.Errorf("stage removal of workflow %q: %w", name, err)
	}
	if _, err := g.wt.Commit(fmt.Sprintf("remove workflow %q", name), &git.CommitOptions{
		Author: &object.Signature{
			Name:  g.authorName,
			Email: g.authorMail,
			When:  time.Now(),
		},
	}); err != nil {
		return fmt.Errorf("commit removal of workflow %q: %w", name, err)
	}
	return nil
}

func (g *Git) Description(ctx context.Context, name string) (string, error) {
	graph, err := g.Load(ctx, name)
	if err != nil {
		return "", err
	}
	return graph.Metadata().Description, nil
}

func (g *Git) Names(_ context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entries, err := os.ReadDir(g.path)
	if err != nil {
		return nil, fmt.Errorf("list git store directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// ListVersions walks the commit history of a workflow's file, newest
// first, treating every commit that touched the file as a version.
func (g *Git) ListVersions(_ context.Context, workflow string) ([]store.WorkflowVersion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	rel := workflow + ".json"
	commits, err := g.fileCommits(rel)
	if err != nil {
		return nil, err
	}

	versions := make([]store.WorkflowVersion, 0, len(commits))
	for i, c := range commits {
		graph, err := graphAtCommit(c, rel)
		if err != nil {
			return nil, err
		}
		versions = append(versions, store.WorkflowVersion{
			Workflow:  workflow,
			Version:   len(commits) - i,
			Graph:     graph,
			CreatedAt: c.Author.When.UTC().Format(time.RFC3339),
			CreatedBy: c.Author.Name,
		})
	}
	return versions, nil
}

func (g *Git) GetVersion(ctx context.Context, workflow string, version int) (*store.WorkflowVersion, error) {
	versions, err := g.ListVersions(ctx, workflow)
	if err != nil {
		return nil, err
	}
	for _, v := range versions {
		if v.Version == version {
			return &v, nil
		}
	}
	return nil, fmt.Errorf("%w: workflow %q version %d", store.ErrNotFound, workflow, version)
}

// SetActiveVersion checks out a past commit's content for the workflow
// file and records the rollback as a new commit, so HEAD always holds
// the active version and history is never rewritten.
func (g *Git) SetActiveVersion(ctx context.Context, workflow string, version int) error {
	v, err := g.GetVersion(ctx, workflow, version)
	if err != nil {
		return err
	}
	return g.Put(ctx, workflow, v.Graph)
}

func (g *Git) ActiveVersion(ctx context.Context, workflow string) (int, error) {
	versions, err := g.ListVersions(ctx, workflow)
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, fmt.Errorf("%w: workflow %q", store.ErrNotFound, workflow)
	}
	return versions[0].Version, nil
}

func (g *Git) fileCommits(relPath string) ([]*object.Commit, error) {
	ref, err := g.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}

	iter, err := g.repo.Log(&git.LogOptions{From: ref.Hash(), FileName: &relPath})
	if err != nil {
		return nil, fmt.Errorf("walk commit log for %q: %w", relPath, err)
	}
	defer iter.Close()

	var commits []*object.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		commits = append(commits, c)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate commit log for %q: %w", relPath, err)
	}
	return commits, nil
}

func graphAtCommit(c *object.Commit, relPath string) (wfgraph.ShadowGraph, error) {
	file, err := c.File(relPath)
	if err != nil {
		return wfgraph.ShadowGraph{}, fmt.Errorf("read %q at commit %s: %w", relPath, c.Hash, err)
	}
	content, err := file.Contents()
	if err != nil {
		return wfgraph.ShadowGraph{}, fmt.Errorf("read blob for %q at commit %s: %w", relPath, c.Hash, err)
	}
	var graph wfgraph.ShadowGraph
	if err := graph.UnmarshalJSON([]byte(content)); err != nil {
		return wfgraph.ShadowGraph{}, fmt.Errorf("unmarshal %q at commit %s: %w", relPath, c.Hash, err)
	}
	return graph, nil
}
