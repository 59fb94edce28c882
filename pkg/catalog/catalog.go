// Package catalog maps (database, branch) pairs to filesystem locations.
//
// A branch is a named, isolated data lineage within a database. The catalog
// owns nothing but path resolution: every branch gets its own directory,
// and the storage layer decides what lives inside it (segments, wal.log).
//
// Layout:
//
//	<root>/
//	└── <database>/
//	    └── branches/
//	        └── <branch>/
//	            ├── segments/
//	            └── wal.log
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
)

const branchesDirName = "branches"

// DatabaseDir returns the directory holding a database's branches.
func DatabaseDir(root, db string) string {
	return filepath.Join(root, db)
}

// BranchDir returns the directory under which a branch's data lives.
// The path is purely computed; nothing is created.
func BranchDir(root, db, branch string) string {
	return filepath.Join(root, db, branchesDirName, branch)
}

// EnsureBranchDir creates the branch directory if needed and returns it.
func EnsureBranchDir(root, db, branch string) (string, error) {
	dir := BranchDir(root, db, branch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create branch dir: %w", err)
	}
	return dir, nil
}

// ListDatabases returns the database names under root, in directory order.
// A missing root is an empty catalog, not an error.
func ListDatabases(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read catalog root: %w", err)
	}

	var dbs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dbs = append(dbs, entry.Name())
		}
	}
	return dbs, nil
}

// ListBranches returns the branch names of a database. A database with no
// branches directory has no branches.
func ListBranches(root, db string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(root, db, branchesDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read branches dir: %w", err)
	}

	var branches []string
	for _, entry := range entries {
		if entry.IsDir() {
			branches = append(branches, entry.Name())
		}
	}
	return branches, nil
}
