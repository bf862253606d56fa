package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"go.uber.org/zap"
)

// GitMirror serves the commit log and record files from a local clone of
// the feed repository.
type GitMirror struct {
	repo   *git.Repository
	logger *zap.Logger
}

// NewGitMirror wraps an already opened repository.
func NewGitMirror(repo *git.Repository, logger *zap.Logger) *GitMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitMirror{repo: repo, logger: logger}
}

// OpenGitMirror opens the clone at path, cloning url (single branch) first
// when the directory does not exist yet.
func OpenGitMirror(ctx context.Context, path, url, branch string, logger *zap.Logger) (*GitMirror, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if _, err := os.Stat(path); err == nil {
		repo, err := git.PlainOpen(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open mirror %s: %w", path, err)
		}
		return NewGitMirror(repo, logger), nil
	}

	logger.Info("Cloning feed repository", zap.String("url", url), zap.String("path", path))
	opts := &git.CloneOptions{URL: url, SingleBranch: true}
	if branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(branch)
	}
	repo, err := git.PlainCloneContext(ctx, path, false, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", url, err)
	}
	return NewGitMirror(repo, logger), nil
}

// Refresh pulls new commits from origin.
func (m *GitMirror) Refresh(ctx context.Context) error {
	wt, err := m.repo.Worktree()
	if err != nil {
		return err
	}
	err = wt.PullContext(ctx, &git.PullOptions{RemoteName: "origin", SingleBranch: true})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to pull mirror: %w", err)
	}
	return nil
}

// Commits returns one page (1-based) of the log reachable from HEAD, newest first.
func (m *GitMirror) Commits(ctx context.Context, page, perPage int) ([]Commit, error) {
	head, err := m.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	iter, err := m.repo.Log(&git.LogOptions{From: head.Hash(), Order: git.LogOrderCommitterTime})
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}
	defer iter.Close()

	skip := (page - 1) * perPage
	commits := make([]Commit, 0, perPage)
	err = iter.ForEach(func(c *object.Commit) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if skip > 0 {
			skip--
			return nil
		}
		commits = append(commits, Commit{
			SHA:        c.Hash.String(),
			AuthorName: c.Author.Name,
			AuthoredAt: c.Author.When.UTC(),
			Message:    c.Message,
		})
		if len(commits) == perPage {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return commits, nil
}

// FetchRecord reads a record file from the HEAD tree.
func (m *GitMirror) FetchRecord(_ context.Context, id string) ([]byte, error) {
	path, err := RecordPath(id)
	if err != nil {
		return nil, err
	}
	head, err := m.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	commit, err := m.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, err
	}

	f, err := commit.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	r, err := f.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
