// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingest

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"log/slog"

	"github.com/kraklabs/repovec/pkg/chunk"
)

var (
	// validGitURLPattern matches https, ssh, and file git URLs.
	validGitURLPattern = regexp.MustCompile(`^(https?://|git@|ssh://|file://)[\w.\-@:/%]+$`)

	// dangerousCharsPattern matches characters usable for command injection.
	dangerousCharsPattern = regexp.MustCompile(`[;&|$` + "`" + `\n\r\\]`)
)

// DefaultExcludeGlobs is the baseline noise filter applied on top of any
// project-configured excludes.
var DefaultExcludeGlobs = []string{
	".git/**",
	"node_modules/**",
	"vendor/**",
	"dist/**",
	"build/**",
	"target/**",
	"**/*.min.js",
	"**/*.lock",
}

// DefaultMaxFileSize caps single-file reads at 1 MiB.
const DefaultMaxFileSize = 1 << 20

// Source identifies where a repository comes from.
type Source struct {
	Type  string `yaml:"type"`  // "git_url" or "local_path"
	Value string `yaml:"value"` // URL or directory path
}

// FileInfo is one candidate file discovered in the repository.
type FileInfo struct {
	Path     string // relative to repo root, slash-separated
	FullPath string
	Size     int64
	Language string
}

// LoadResult is the discovered file set plus statistics.
type LoadResult struct {
	RootPath    string
	Files       []FileInfo
	TotalSize   int64
	Languages   map[string]int
	SkipReasons map[string]int
}

// Loader materializes repositories from git URLs or local paths.
type Loader struct {
	logger     *slog.Logger
	tempDirs   []string
	tempDirsMu sync.Mutex
}

// NewLoader creates a repository loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Close removes temporary clone directories.
func (l *Loader) Close() error {
	l.tempDirsMu.Lock()
	defer l.tempDirsMu.Unlock()

	var lastErr error
	for _, dir := range l.tempDirs {
		if err := os.RemoveAll(dir); err != nil {
			l.logger.Warn("ingest.load.cleanup_error", "dir", dir, "err", err)
			lastErr = err
		}
	}
	l.tempDirs = nil
	return lastErr
}

// Load materializes the repository and walks it. Files come back in a
// stable lexicographic order so the checkpoint's file cursor stays
// meaningful across runs.
func (l *Loader) Load(source Source, excludeGlobs []string, maxFileSize int64) (*LoadResult, error) {
	var rootPath string
	var err error

	switch source.Type {
	case "git_url":
		rootPath, err = l.cloneGitRepo(source.Value)
		if err != nil {
			return nil, fmt.Errorf("clone git repo: %w", err)
		}
	case "local_path", "":
		rootPath, err = filepath.Abs(source.Value)
		if err != nil {
			return nil, fmt.Errorf("resolve local path: %w", err)
		}
		info, err := os.Stat(rootPath)
		if err != nil {
			return nil, fmt.Errorf("stat local path: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("local path is not a directory: %s", rootPath)
		}
	default:
		return nil, fmt.Errorf("unsupported repo source type: %s", source.Type)
	}

	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	globs := append(append([]string{}, DefaultExcludeGlobs...), excludeGlobs...)

	l.logger.Info("ingest.load.start", "root", rootPath, "type", source.Type)

	files, skipReasons, err := l.walk(rootPath, globs, maxFileSize)
	if err != nil {
		return nil, fmt.Errorf("walk repository: %w", err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	totalSize := int64(0)
	languages := make(map[string]int)
	for _, f := range files {
		totalSize += f.Size
		if f.Language != "" {
			languages[f.Language]++
		}
	}

	result := &LoadResult{
		RootPath:    rootPath,
		Files:       files,
		TotalSize:   totalSize,
		Languages:   languages,
		SkipReasons: skipReasons,
	}

	l.logger.Info("ingest.load.complete",
		"files", len(files),
		"total_size", totalSize,
		"languages", languages,
		"skipped", skipReasons,
	)
	return result, nil
}

// validateGitURL rejects URLs that could smuggle shell metacharacters
// into the git invocation.
func validateGitURL(gitURL string) error {
	if gitURL == "" {
		return fmt.Errorf("git URL is empty")
	}
	if dangerousCharsPattern.MatchString(gitURL) {
		return fmt.Errorf("git URL contains dangerous characters")
	}

	if strings.HasPrefix(gitURL, "http://") || strings.HasPrefix(gitURL, "https://") {
		parsed, err := url.Parse(gitURL)
		if err != nil {
			return fmt.Errorf("invalid URL format: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("git URL missing host")
		}
		if parsed.User != nil {
			if _, hasPassword := parsed.User.Password(); hasPassword {
				return fmt.Errorf("git URL should not contain embedded password")
			}
		}
		return nil
	}

	if strings.HasPrefix(gitURL, "git@") || strings.HasPrefix(gitURL, "ssh://") {
		if !validGitURLPattern.MatchString(gitURL) {
			return fmt.Errorf("invalid SSH git URL format")
		}
		return nil
	}

	if strings.HasPrefix(gitURL, "file://") {
		return nil
	}

	return fmt.Errorf("unsupported git URL protocol: must be https://, git@, ssh://, or file://")
}

// cloneGitRepo shallow-clones into a temp directory tracked for cleanup.
func (l *Loader) cloneGitRepo(gitURL string) (string, error) {
	if err := validateGitURL(gitURL); err != nil {
		return "", fmt.Errorf("invalid git URL: %w", err)
	}

	tmpDir, err := os.MkdirTemp("", "repovec-ingest-*")
	if err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}

	// #nosec G204 - gitURL is validated above
	cmd := exec.Command("git", "clone", "--depth", "1", "--quiet", gitURL, tmpDir)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	logURL := gitURL
	if parsed, err := url.Parse(gitURL); err == nil {
		parsed.RawQuery = ""
		if parsed.User != nil {
			parsed.User = url.User("***")
		}
		logURL = parsed.String()
	}

	l.logger.Info("ingest.clone.start", "url", logURL, "temp_dir", tmpDir)
	if err := cmd.Run(); err != nil {
		_ = os.RemoveAll(tmpDir)
		return "", fmt.Errorf("git clone failed: %w", err)
	}
	l.logger.Info("ingest.clone.success", "url", logURL)

	l.tempDirsMu.Lock()
	l.tempDirs = append(l.tempDirs, tmpDir)
	l.tempDirsMu.Unlock()

	return tmpDir, nil
}

func (l *Loader) walk(rootPath string, excludeGlobs []string, maxFileSize int64) ([]FileInfo, map[string]int, error) {
	var files []FileInfo
	skipReasons := make(map[string]int)

	err := filepath.WalkDir(rootPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			l.logger.Warn("ingest.walk.error", "path", path, "err", err)
			return nil
		}

		relPath, relErr := filepath.Rel(rootPath, path)
		if relErr != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if relPath != "." && shouldExclude(relPath, excludeGlobs) {
				skipReasons["excluded_dir"]++
				return filepath.SkipDir
			}
			return nil
		}

		if shouldExclude(relPath, excludeGlobs) {
			skipReasons["excluded"]++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Size() > maxFileSize {
			skipReasons["too_large"]++
			l.logger.Warn("ingest.walk.skip_large_file",
				"path", relPath,
				"size", info.Size(),
				"limit", maxFileSize,
			)
			return nil
		}

		files = append(files, FileInfo{
			Path:     relPath,
			FullPath: path,
			Size:     info.Size(),
			Language: chunk.DetectLanguage(relPath),
		})
		return nil
	})

	return files, skipReasons, err
}

func shouldExclude(path string, excludeGlobs []string) bool {
	for _, pattern := range excludeGlobs {
		if matchesGlob(path, pattern) {
			return true
		}
	}
	return false
}

// matchesGlob supports the subset of glob syntax the exclude lists use:
// `dir/**` (directory and contents, at any depth), `**/name` (name at any
// depth, with trailing wildcards via path.Match), `*.ext`, and plain
// path.Match patterns.
func matchesGlob(path, pattern string) bool {
	pattern = filepath.ToSlash(pattern)

	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		if path == prefix || strings.HasPrefix(path, prefix+"/") {
			return true
		}
		parts := strings.Split(path, "/")
		for i := range parts {
			subpath := strings.Join(parts[i:], "/")
			if subpath == prefix || strings.HasPrefix(subpath, prefix+"/") {
				return true
			}
		}
		return false
	}

	if strings.HasPrefix(pattern, "**/") {
		suffix := pattern[3:]
		if ok, _ := filepath.Match(suffix, path); ok {
			return true
		}
		base := path
		if idx := strings.LastIndex(path, "/"); idx >= 0 {
			base = path[idx+1:]
		}
		ok, _ := filepath.Match(suffix, base)
		return ok
	}

	if strings.HasPrefix(pattern, "*.") && !strings.Contains(pattern, "/") {
		return strings.HasSuffix(path, pattern[1:])
	}

	ok, _ := filepath.Match(pattern, path)
	return ok
}
