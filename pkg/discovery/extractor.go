package discovery

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxWalkDepth bounds the metadata traversal below the project root so a
// single large vendored subtree cannot make discovery unbounded.
const maxWalkDepth = 8

// markupOrConfigExtensions are excluded from language ranking — they are
// near-universal across projects and dilute the primary-language signal.
var markupOrConfigExtensions = map[string]bool{
	".json": true, ".yaml": true, ".yml": true, ".md": true, ".txt": true,
	".xml": true, ".html": true, ".css": true, ".toml": true, ".lock": true,
}

// Metadata is everything discovery can determine about a project without invoking
// an LLM: file/line counts, size, languages, and last-modified time.
type Metadata struct {
	FileCount         int
	LinesOfCode       int
	Size              int64
	LastModified      time.Time
	PrimaryLanguage   string
	SecondaryLanguage string
}

// Extract walks path (bounded to maxWalkDepth, skipping system directories)
// and computes aggregate metadata. Every per-file error is absorbed locally:
// an unreadable file is simply excluded from the counts rather than failing
// the whole extraction.
func Extract(path string) (Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Metadata{}, err
	}

	var mu sync.Mutex
	var fileCount int
	var totalSize int64
	var totalLOC int
	langCounts := map[string]int{}

	var walk func(dir string, depth int) error
	walk = func(dir string, depth int) error {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil // unreadable directory degrades the result, not fatal
		}

		g := new(errgroup.Group)
		var subdirs []string

		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, ".") || IsSystemDir(name) {
				continue
			}
			full := filepath.Join(dir, name)

			if e.IsDir() {
				if depth < maxWalkDepth {
					subdirs = append(subdirs, full)
				}
				continue
			}

			ext := strings.ToLower(filepath.Ext(name))
			e := e
			g.Go(func() error {
				fi, err := e.Info()
				if err != nil {
					return nil
				}
				loc := 0
				if codeExtensions[ext] {
					loc, _ = countLOC(full)
				}
				mu.Lock()
				fileCount++
				totalSize += fi.Size()
				if codeExtensions[ext] {
					totalLOC += loc
					langCounts[languageForExt(ext)]++
				} else if !markupOrConfigExtensions[ext] && ext != "" {
					langCounts[languageForExt(ext)]++
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		for _, sub := range subdirs {
			_ = walk(sub, depth+1)
		}
		return nil
	}

	_ = walk(path, 0)

	primary, secondary := rankLanguages(langCounts)

	return Metadata{
		FileCount:         fileCount,
		LinesOfCode:       totalLOC,
		Size:              totalSize,
		LastModified:      info.ModTime(),
		PrimaryLanguage:   primary,
		SecondaryLanguage: secondary,
	}, nil
}

func rankLanguages(counts map[string]int) (primary, secondary string) {
	type pair struct {
		lang  string
		count int
	}
	pairs := make([]pair, 0, len(counts))
	for lang, count := range counts {
		if lang == "" {
			continue
		}
		pairs = append(pairs, pair{lang, count})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].count > pairs[j].count })
	if len(pairs) > 0 {
		primary = pairs[0].lang
	}
	if len(pairs) > 1 {
		secondary = pairs[1].lang
	}
	return
}

func languageForExt(ext string) string {
	switch ext {
	case ".go":
		return "go"
	case ".js", ".jsx":
		return "javascript"
	case ".ts", ".tsx":
		return "typescript"
	case ".py":
		return "python"
	case ".rb":
		return "ruby"
	case ".java":
		return "java"
	case ".rs":
		return "rust"
	case ".c", ".h":
		return "c"
	case ".cpp", ".cc", ".hpp":
		return "c++"
	case ".cs":
		return "c#"
	case ".php":
		return "php"
	case ".swift":
		return "swift"
	case ".kt":
		return "kotlin"
	case ".dart":
		return "dart"
	default:
		return strings.TrimPrefix(ext, ".")
	}
}

// countLOC counts non-blank, non-comment source lines using a small
// two-state machine for block comments. Line comments are
// recognized only by the common "//" and "#" prefixes; this is a heuristic,
// not a language-correct parser.
func countLOC(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	lines := strings.Split(string(data), "\n")
	count := 0
	inBlockComment := false

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if inBlockComment {
			if strings.Contains(line, "*/") {
				inBlockComment = false
			}
			continue
		}
		if strings.HasPrefix(line, "/*") {
			if !strings.Contains(line, "*/") {
				inBlockComment = true
			}
			continue
		}
		if strings.HasPrefix(line, "//") || strings.HasPrefix(line, "#") {
			continue
		}
		count++
	}
	return count, nil
}
