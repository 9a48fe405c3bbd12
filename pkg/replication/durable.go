package replication

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// durableState persists current_term, voted_for, and commit_index to three
// flat files per orig §6 ("Persisted state layout"). Each field is written
// with fsync-on-commit semantics so a crash never loses a vote grant or a
// committed index. Kept separate from pkg/storage because these fields are
// replication-manager state, not schema data.
type durableState struct {
	mu sync.Mutex

	termPath        string
	votedForPath    string
	commitIndexPath string

	currentTerm uint64
	votedFor    string
	commitIndex uint64
}

// openDurableState loads (current_term, voted_for, commit_index) from dir,
// creating zero-valued files if dir is a fresh data directory. A corrupt
// file aborts startup per orig §7's Fatal class.
func openDurableState(dir string) (*durableState, error) {
	ds := &durableState{
		termPath:        filepath.Join(dir, "term.dat"),
		votedForPath:    filepath.Join(dir, "voted_for.dat"),
		commitIndexPath: filepath.Join(dir, "commit_index.dat"),
	}

	term, err := readUint64File(ds.termPath)
	if err != nil {
		return nil, WrapFatal("corrupt_term_file", err)
	}
	ds.currentTerm = term

	votedFor, err := readStringFile(ds.votedForPath)
	if err != nil {
		return nil, WrapFatal("corrupt_voted_for_file", err)
	}
	ds.votedFor = votedFor

	commitIndex, err := readUint64File(ds.commitIndexPath)
	if err != nil {
		return nil, WrapFatal("corrupt_commit_index_file", err)
	}
	ds.commitIndex = commitIndex

	return ds, nil
}

func (ds *durableState) CurrentTerm() uint64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.currentTerm
}

func (ds *durableState) VotedFor() string {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.votedFor
}

func (ds *durableState) CommitIndex() uint64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.commitIndex
}

// SetTermAndVote persists a new term and vote together, as required before
// a vote grant reply or a Follower→Candidate transition (orig §4.1).
func (ds *durableState) SetTermAndVote(term uint64, votedFor string) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if err := writeUint64File(ds.termPath, term); err != nil {
		return WrapDurability("write_term_failed", err)
	}
	if err := writeStringFile(ds.votedForPath, votedFor); err != nil {
		return WrapDurability("write_voted_for_failed", err)
	}
	ds.currentTerm = term
	ds.votedFor = votedFor
	return nil
}

// SetCommitIndex persists an advanced commit_index. The caller must ensure
// index is non-decreasing (orig §3 invariant 3's commit_index analogue).
func (ds *durableState) SetCommitIndex(index uint64) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if index <= ds.commitIndex {
		return nil
	}
	if err := writeUint64File(ds.commitIndexPath, index); err != nil {
		return WrapDurability("write_commit_index_failed", err)
	}
	ds.commitIndex = index
	return nil
}

func readUint64File(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}

func readStringFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func writeUint64File(path string, v uint64) error {
	return fsyncWriteFile(path, []byte(strconv.FormatUint(v, 10)))
}

func writeStringFile(path string, v string) error {
	return fsyncWriteFile(path, []byte(v))
}

// fsyncWriteFile writes via a temp file + rename + fsync of both the file
// and its parent directory, so a crash mid-write never leaves a torn read.
func fsyncWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}

	dirHandle, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer dirHandle.Close()
	return dirHandle.Sync()
}
