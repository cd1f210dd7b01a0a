// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package export

import (
	"fmt"
	"os"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// archiveAuthor signs export commits
const (
	archiveAuthor = "Munin"
	archiveEmail  = "memory@munin.local"
)

// Repository wraps the go-git repository an export archive lives in.
// Every export is one commit, so the archive's history is the history
// of what the subject was given.
type Repository struct {
	Path string
	repo *git.Repository
}

// OpenOrInit opens the archive repository at path, initializing it on
// first export
func OpenOrInit(path string) (*Repository, error) {
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}

	repo, err := git.PlainOpen(path)
	if err == git.ErrRepositoryNotExists {
		repo, err = git.PlainInit(path, false)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open archive repository: %w", err)
	}

	return &Repository{Path: path, repo: repo}, nil
}

// CommitAll stages everything and commits. Returns the commit hash, or
// the empty string when there was nothing new to commit.
func (r *Repository) CommitAll(message string) (string, error) {
	worktree, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("failed to get worktree: %w", err)
	}

	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", fmt.Errorf("failed to stage archive: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return "", fmt.Errorf("failed to get status: %w", err)
	}
	if status.IsClean() {
		return "", nil
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  archiveAuthor,
			Email: archiveEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to commit archive: %w", err)
	}
	return hash.String(), nil
}

// History returns up to maxCount export commit messages, newest first
func (r *Repository) History(maxCount int) ([]string, error) {
	ref, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}

	iter, err := r.repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("failed to read archive log: %w", err)
	}
	defer iter.Close()

	var messages []string
	err = iter.ForEach(func(c *object.Commit) error {
		if maxCount > 0 && len(messages) >= maxCount {
			return fmt.Errorf("stop iteration")
		}
		messages = append(messages, c.Message)
		return nil
	})
	if err != nil && err.Error() != "stop iteration" {
		return nil, fmt.Errorf("failed to iterate archive log: %w", err)
	}
	return messages, nil
}
