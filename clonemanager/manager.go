/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package clonemanager owns the disposable git working copy a pipeline
// invocation operates on: clone of the pull request's head branch, base-ref
// fetches for range diffs, branch creation, staging, committing with the
// bot identity, and pushing. Each clone belongs to exactly one invocation
// and is removed when the invocation ends, success or not.
package clonemanager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"golang.org/x/oauth2"
)

const cloneDirPrefix = "cifixer-clone-"

// remoteURL resolves the remote git URL for a repository. Tests override
// this to point at local fixture repositories.
var remoteURL = func(owner, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s", owner, repo)
}

// Manager creates single-use clones authenticated with the supplied token
// source and commits with the given bot identity.
type Manager struct {
	tokenSource oauth2.TokenSource
	identity    string
}

// New constructs a Manager. The token source must allow cloning and pushing
// to the targeted repository. Identity is used as the commit author name
// and, when it lacks a domain, is suffixed into a noreply address.
func New(tokenSource oauth2.TokenSource, identity string) (*Manager, error) {
	if tokenSource == nil {
		return nil, errors.New("token source cannot be nil")
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, errors.New("identity cannot be empty")
	}
	return &Manager{tokenSource: tokenSource, identity: identity}, nil
}

// Clone is a working copy checked out at a single branch's head.
type Clone struct {
	manager *Manager
	dir     string
	repo    *git.Repository
	headSHA string
}

// Clone clones the repository's branch into a fresh temporary directory.
func (m *Manager) Clone(ctx context.Context, owner, repo, branch string) (*Clone, error) {
	dir, err := os.MkdirTemp("", cloneDirPrefix)
	if err != nil {
		return nil, fmt.Errorf("creating temp dir: %w", err)
	}

	remote := remoteURL(owner, repo)
	clog.FromContext(ctx).Infof("Cloning %s (branch %s) into %s", remote, branch, dir)

	auth, err := m.auth()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("getting token: %w", err)
	}

	r, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:           remote,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
		SingleBranch:  true,
		Auth:          auth,
	})
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("cloning repository: %w", err)
	}

	head, err := r.Head()
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}

	return &Clone{manager: m, dir: dir, repo: r, headSHA: head.Hash().String()}, nil
}

// Dir returns the absolute path of the working copy.
func (c *Clone) Dir() string { return c.dir }

// HeadSHA returns the commit the clone was checked out at.
func (c *Clone) HeadSHA() string { return c.headSHA }

// FetchBase fetches the given branch into refs/remotes/origin so range
// diffs against it can be computed locally.
func (c *Clone) FetchBase(ctx context.Context, branch string) error {
	auth, err := c.manager.auth()
	if err != nil {
		return fmt.Errorf("getting token: %w", err)
	}

	spec := gitconfig.RefSpec(fmt.Sprintf("+refs/heads/%s:refs/remotes/origin/%s", branch, branch))
	if err := c.repo.FetchContext(ctx, &git.FetchOptions{
		RefSpecs: []gitconfig.RefSpec{spec},
		Auth:     auth,
	}); err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return fmt.Errorf("fetching ref %s: %w", branch, err)
	}
	return nil
}

// HasChanges reports whether the working tree differs from HEAD, including
// untracked files.
func (c *Clone) HasChanges() (bool, error) {
	worktree, err := c.repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("getting worktree: %w", err)
	}
	status, err := worktree.Status()
	if err != nil {
		return false, fmt.Errorf("getting worktree status: %w", err)
	}
	return !status.IsClean(), nil
}

// StageAll stages every change in the working tree, including untracked
// files and deletions.
func (c *Clone) StageAll() error {
	worktree, err := c.repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}
	if err := worktree.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("staging changes: %w", err)
	}
	return nil
}

// CreateBranch creates the named branch at the clone's head commit and
// checks it out.
func (c *Clone) CreateBranch(name string) error {
	if name == "" {
		return errors.New("branch name cannot be empty")
	}

	refName := plumbing.NewBranchReferenceName(name)
	ref := plumbing.NewHashReference(refName, plumbing.NewHash(c.headSHA))
	if err := c.repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("setting branch reference: %w", err)
	}

	worktree, err := c.repo.Worktree()
	if err != nil {
		return fmt.Errorf("getting worktree: %w", err)
	}
	// Keep preserves the agent's uncommitted changes: the branch is created
	// at the commit already checked out, only the symbolic ref moves.
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: refName, Keep: true}); err != nil {
		return fmt.Errorf("checking out branch: %w", err)
	}
	return nil
}

// Commit commits the staged changes with the manager's bot identity and
// returns the new commit SHA.
func (c *Clone) Commit(message string) (string, error) {
	if message == "" {
		return "", errors.New("commit message cannot be empty")
	}

	worktree, err := c.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("getting worktree: %w", err)
	}

	email := c.manager.identity
	if !strings.Contains(email, "@") {
		email = fmt.Sprintf("%s@users.noreply.github.com", email)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  c.manager.identity,
			Email: email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	return hash.String(), nil
}

// Push pushes the named branch to origin with upstream tracking semantics.
func (c *Clone) Push(ctx context.Context, branch string) error {
	log := clog.FromContext(ctx)

	auth, err := c.manager.auth()
	if err != nil {
		return fmt.Errorf("getting token: %w", err)
	}

	ref := plumbing.NewBranchReferenceName(branch)
	spec := gitconfig.RefSpec(fmt.Sprintf("%s:%s", ref, ref))
	log.Infof("Pushing %s", spec)

	if err := c.repo.PushContext(ctx, &git.PushOptions{
		RemoteName: "origin",
		Auth:       auth,
		RefSpecs:   []gitconfig.RefSpec{spec},
	}); err != nil {
		if errors.Is(err, git.NoErrAlreadyUpToDate) {
			log.Infof("Branch already up to date")
			return nil
		}
		return fmt.Errorf("pushing: %w", err)
	}
	return nil
}

// Close removes the working copy. Safe to call more than once.
func (c *Clone) Close() error {
	if c.dir == "" {
		return nil
	}
	err := os.RemoveAll(c.dir)
	c.dir = ""
	return err
}

// Token exposes the current access token so callers can register it for
// redaction in error text.
func (m *Manager) Token() (string, error) {
	token, err := m.tokenSource.Token()
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

func (m *Manager) auth() (*githttp.BasicAuth, error) {
	token, err := m.tokenSource.Token()
	if err != nil {
		return nil, err
	}
	return &githttp.BasicAuth{
		Username: "unused-when-using-access-tokens",
		Password: token.AccessToken,
	}, nil
}
