// Package discovery walks directories for candidate knowledge files.
package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/uuid"

	"github.com/kcons/kc/internal/storage"
)

// HashLimit caps how many bytes of a file are hashed.
const HashLimit = 10 << 20

// fileNamespace seeds the stable file ids derived from absolute paths.
var fileNamespace = uuid.MustParse("6f1c3c8e-4b7a-5d2e-9a61-0c3f5b8d7e21")

// Options controls which files a scan returns.
type Options struct {
	// Extensions is an allow-list of lower-case extensions with leading dots.
	// Empty means every extension.
	Extensions []string
	// Include and Exclude are doublestar patterns matched against the
	// slash-separated path relative to the scan root.
	Include []string
	Exclude []string
	MinSize int64
	// MaxSize of 0 means no upper bound.
	MaxSize int64
	// MaxAge drops files modified longer ago. 0 keeps everything.
	MaxAge time.Duration
	// MaxDepth is the deepest subdirectory level descended into. 0 is unlimited.
	MaxDepth int
}

// DefaultExtensions are scanned when no extension list is configured.
var DefaultExtensions = []string{".md", ".txt", ".docx", ".pdf", ".html", ".json", ".csv", ".gdoc"}

// DefaultOptions returns the options used by `kc discover` without flags.
func DefaultOptions() Options {
	return Options{
		Extensions: slices.Clone(DefaultExtensions),
		Exclude:    []string{"**/node_modules/**", "**/.git/**"},
		MaxSize:    HashLimit,
	}
}

// NormalizeExtensions lower-cases extensions and adds the leading dot.
// "MD" and ".md" both become ".md". Blanks and repeats are dropped.
func NormalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if !slices.Contains(out, e) {
			out = append(out, e)
		}
	}
	return out
}

// ParseTimeWindow converts a window name (1m 3m 6m 1y 2y all) to a duration.
// "all" and "" return 0.
func ParseTimeWindow(s string) (time.Duration, error) {
	const day = 24 * time.Hour
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return 0, nil
	case "1m":
		return 30 * day, nil
	case "3m":
		return 90 * day, nil
	case "6m":
		return 180 * day, nil
	case "1y":
		return 365 * day, nil
	case "2y":
		return 730 * day, nil
	}
	return 0, fmt.Errorf("unknown time window %q (want 1m, 3m, 6m, 1y, 2y or all)", s)
}

// FileID returns the stable id of the file at an absolute path.
func FileID(absPath string) string {
	return uuid.NewSHA1(fileNamespace, []byte(filepath.Clean(absPath))).String()
}

// Scan walks root and returns the files matching opts in lexical path order.
// Hidden directories are skipped and symlinks are not followed. Files whose
// content hash equals an earlier file's get DuplicateOf set to its id.
func Scan(ctx context.Context, root string, opts Options) ([]storage.FileRecord, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", root, err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scanning %s: not a directory", root)
	}

	now := time.Now()
	var files []storage.FileRecord
	firstByHash := make(map[string]string)

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if d != nil && d.IsDir() && path != absRoot {
				return fs.SkipDir
			}
			return walkErr
		}
		if path == absRoot {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if skipDir(rel, d.Name(), opts) {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}
		if !opts.matches(rel) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.Size() < opts.MinSize || (opts.MaxSize > 0 && fi.Size() > opts.MaxSize) {
			return nil
		}
		if opts.MaxAge > 0 && now.Sub(fi.ModTime()) > opts.MaxAge {
			return nil
		}

		hash, err := HashFile(path)
		if err != nil {
			return nil
		}
		rec := newRecord(path, rel, fi, hash, now)
		if first, ok := firstByHash[hash]; ok {
			rec.DuplicateOf = first
		} else {
			firstByHash[hash] = rec.ID
		}
		files = append(files, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// Stat builds the record of a single file under root, as Scan would. It
// does not apply the filters in opts beyond the size and age limits.
func Stat(root, path string, opts Options) (storage.FileRecord, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return storage.FileRecord{}, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return storage.FileRecord{}, err
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return storage.FileRecord{}, fmt.Errorf("%s is outside %s", path, root)
	}
	fi, err := os.Lstat(absPath)
	if err != nil {
		return storage.FileRecord{}, err
	}
	if !fi.Mode().IsRegular() {
		return storage.FileRecord{}, fmt.Errorf("%s is not a regular file", path)
	}
	if fi.Size() < opts.MinSize || (opts.MaxSize > 0 && fi.Size() > opts.MaxSize) {
		return storage.FileRecord{}, fmt.Errorf("%s: size %d outside limits", path, fi.Size())
	}
	now := time.Now()
	if opts.MaxAge > 0 && now.Sub(fi.ModTime()) > opts.MaxAge {
		return storage.FileRecord{}, fmt.Errorf("%s: older than %s", path, opts.MaxAge)
	}
	hash, err := HashFile(absPath)
	if err != nil {
		return storage.FileRecord{}, err
	}
	return newRecord(absPath, filepath.ToSlash(rel), fi, hash, now), nil
}

func newRecord(path, rel string, fi fs.FileInfo, hash string, now time.Time) storage.FileRecord {
	return storage.FileRecord{
		ID:           FileID(path),
		Name:         fi.Name(),
		Path:         path,
		RelPath:      rel,
		Extension:    strings.ToLower(filepath.Ext(fi.Name())),
		Size:         fi.Size(),
		ModifiedAt:   fi.ModTime(),
		DiscoveredAt: now,
		ContentHash:  hash,
	}
}

// Matches reports whether a root-relative path passes the extension and
// glob filters. Size, age and depth are not considered.
func (o Options) Matches(rel string) bool {
	return o.matches(filepath.ToSlash(rel))
}

func (o Options) matches(rel string) bool {
	if len(o.Extensions) > 0 && !slices.Contains(o.Extensions, strings.ToLower(filepath.Ext(rel))) {
		return false
	}
	for _, p := range o.Exclude {
		if ok, _ := doublestar.Match(p, rel); ok {
			return false
		}
	}
	if len(o.Include) == 0 {
		return true
	}
	for _, p := range o.Include {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

func skipDir(rel, name string, opts Options) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	if opts.MaxDepth > 0 && strings.Count(rel, "/")+1 > opts.MaxDepth {
		return true
	}
	for _, p := range opts.Exclude {
		dirPattern, ok := strings.CutSuffix(p, "/**")
		if !ok {
			continue
		}
		if m, _ := doublestar.Match(dirPattern, rel); m {
			return true
		}
	}
	return false
}

// HashFile returns the hex sha256 of the first HashLimit bytes of a file.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.CopyN(h, f, HashLimit); err != nil && err != io.EOF {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
