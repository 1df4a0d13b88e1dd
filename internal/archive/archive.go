// Package archive keeps a git history of canvas snapshots, one repository
// per roof. Each commit holds the exported canvas state as canvas.json.
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const stateFile = "canvas.json"

var (
	ErrNoArchive     = errors.New("roof has no archived revisions")
	ErrInvalidRoofID = errors.New("invalid roof id")
)

type Revision struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

type Archive struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Archive {
	return &Archive{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Commit records state as the newest revision of the roof. When state only
// differs from the head revision by its export timestamp, nothing is
// committed and the head revision is returned with created=false.
func (a *Archive) Commit(roofID string, state []byte, author, message string) (rev Revision, created bool, err error) {
	if err := checkRoofID(roofID); err != nil {
		return Revision{}, false, err
	}
	lock := a.roofLock(roofID)
	lock.Lock()
	defer lock.Unlock()

	path := a.repoPath(roofID)
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return a.initRepo(path, state, author, message)
	}
	if err != nil {
		return Revision{}, false, fmt.Errorf("open repo: %w", err)
	}

	head, err := headCommit(repo)
	if err != nil {
		return Revision{}, false, err
	}
	previous, err := readState(head)
	if err != nil {
		return Revision{}, false, err
	}
	if sameState(previous, state) {
		return toRevision(head), false, nil
	}

	hash, err := commitState(repo, state, author, message)
	if err != nil {
		return Revision{}, false, err
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), true, nil
}

func (a *Archive) initRepo(path string, state []byte, author, message string) (Revision, bool, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return Revision{}, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return Revision{}, false, fmt.Errorf("init repo: %w", err)
	}
	hash, err := commitState(repo, state, author, message)
	if err != nil {
		return Revision{}, false, err
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName("main"), hash)); err != nil {
		return Revision{}, false, fmt.Errorf("set main branch ref: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return Revision{}, false, fmt.Errorf("set HEAD to main: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Revision{}, false, fmt.Errorf("read commit object: %w", err)
	}
	return toRevision(commitObj), true, nil
}

// History lists revisions newest first. limit <= 0 means all.
func (a *Archive) History(roofID string, limit int) ([]Revision, error) {
	repo, unlock, err := a.open(roofID)
	if errors.Is(err, ErrNoArchive) {
		return []Revision{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer unlock()

	head, err := headCommit(repo)
	if err != nil {
		return nil, err
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := []Revision{}
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toRevision(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Load returns the canvas state stored at a revision. hash may be a short
// hash, a tag name or "HEAD".
func (a *Archive) Load(roofID, hash string) ([]byte, Revision, error) {
	repo, unlock, err := a.open(roofID)
	if err != nil {
		return nil, Revision{}, err
	}
	defer unlock()

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return nil, Revision{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return nil, Revision{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	state, err := readState(commitObj)
	if err != nil {
		return nil, Revision{}, err
	}
	return state, toRevision(commitObj), nil
}

// Tag names a revision, for example the state signed off at a site visit.
// Tagging with an existing name is a no-op.
func (a *Archive) Tag(roofID, hash, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("tag name is required")
	}
	repo, unlock, err := a.open(roofID)
	if err != nil {
		return err
	}
	defer unlock()

	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return err
	}
	_, err = repo.CreateTag(name, resolved, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "SmartPin",
			Email: "smartpin@localhost",
			When:  time.Now(),
		},
		Message: name,
	})
	if err != nil && !errors.Is(err, git.ErrTagExists) {
		return fmt.Errorf("create tag: %w", err)
	}
	return nil
}

func (a *Archive) open(roofID string) (*git.Repository, func(), error) {
	if err := checkRoofID(roofID); err != nil {
		return nil, nil, err
	}
	lock := a.roofLock(roofID)
	lock.Lock()
	repo, err := git.PlainOpen(a.repoPath(roofID))
	if err != nil {
		lock.Unlock()
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil, ErrNoArchive
		}
		return nil, nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, lock.Unlock, nil
}

func (a *Archive) repoPath(roofID string) string {
	return filepath.Join(a.baseDir, roofID)
}

func (a *Archive) roofLock(roofID string) *sync.Mutex {
	a.lockMu.Lock()
	defer a.lockMu.Unlock()
	lock, ok := a.locks[roofID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	a.locks[roofID] = lock
	return lock
}

// checkRoofID keeps roof ids usable as a single directory name.
func checkRoofID(roofID string) error {
	if roofID == "" || roofID == "." || roofID == ".." || strings.ContainsAny(roofID, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidRoofID, roofID)
	}
	return nil
}

func commitState(repo *git.Repository, state []byte, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}
	payload, err := indent(state)
	if err != nil {
		return plumbing.ZeroHash, err
	}
	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, stateFile), payload, 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write %s: %w", stateFile, err)
	}
	if _, err := worktree.Add(stateFile); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add state: %w", err)
	}
	if strings.TrimSpace(author) == "" {
		author = "SmartPin"
	}
	if strings.TrimSpace(message) == "" {
		message = "Update canvas"
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.smartpin.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit state: %w", err)
	}
	return hash, nil
}

func headCommit(repo *git.Repository) (*object.Commit, error) {
	ref, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("load head commit: %w", err)
	}
	return commitObj, nil
}

func readState(commitObj *object.Commit) ([]byte, error) {
	file, err := commitObj.File(stateFile)
	if err != nil {
		return nil, fmt.Errorf("load %s from commit: %w", stateFile, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open state reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read state bytes: %w", err)
	}
	return data, nil
}

func indent(state []byte) ([]byte, error) {
	var parsed any
	if err := json.Unmarshal(state, &parsed); err != nil {
		return nil, fmt.Errorf("decode canvas state: %w", err)
	}
	payload, err := json.MarshalIndent(parsed, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode canvas state: %w", err)
	}
	return append(payload, '\n'), nil
}

// sameState compares two exports ignoring exportedAt.
func sameState(a, b []byte) bool {
	na, nb := normalize(a), normalize(b)
	return na != nil && nb != nil && string(na) == string(nb)
}

func normalize(state []byte) []byte {
	var parsed map[string]any
	if err := json.Unmarshal(state, &parsed); err != nil {
		return nil
	}
	delete(parsed, "exportedAt")
	normalized, err := json.Marshal(parsed)
	if err != nil {
		return nil
	}
	return normalized
}

func toRevision(commitObj *object.Commit) Revision {
	return Revision{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve revision %s: %w", hash, err)
	}
	return *resolved, nil
}
