// Package batch expands command line arguments into the list of input files,
// walking directories the way shells expand globs.
package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Options controls directory expansion.
type Options struct {
	Recursive bool
	// Include and Exclude are filepath.Match patterns applied to base names.
	Include []string
	Exclude []string
	// Accept reports whether a file found in a directory is a usable input.
	// Nil accepts every file.
	Accept func(path string) bool
}

// DiscoverInputs returns explicit file arguments unchanged and replaces each
// directory argument by its matching files in lexical order.
func DiscoverInputs(args []string, opts Options) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}
		if !info.IsDir() {
			if !matchesAnyPattern(arg, opts.Exclude) {
				files = append(files, arg)
			}
			continue
		}

		found, err := discoverInDirectory(arg, opts)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 {
			return nil, fmt.Errorf("no supported files found in %s", arg)
		}
		files = append(files, found...)
	}
	return files, nil
}

func discoverInDirectory(dir string, opts Options) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !opts.Recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldIncludeFile(path, opts) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

func shouldIncludeFile(path string, opts Options) bool {
	if matchesAnyPattern(path, opts.Exclude) {
		return false
	}
	if opts.Accept != nil && !opts.Accept(path) {
		return false
	}
	if len(opts.Include) == 0 {
		return true
	}
	return matchesAnyPattern(path, opts.Include)
}

func matchesAnyPattern(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
