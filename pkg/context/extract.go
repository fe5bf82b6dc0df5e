// Package context implements the Context Extractor: a
// prioritized, token-budgeted assembly of a project's README, manifest, and
// source files into the blob handed to the analyzer client.
package context

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devradar/devradar/pkg/discovery"
	"github.com/devradar/devradar/pkg/models"
)

// readmeTokenBudget caps the README's own contribution regardless of the
// overall context budget.
const readmeTokenBudget = 2000

// maxFileSize skips any source file larger than this outright.
const maxFileSize = 100 * 1024

// admissionFraction is the share of the remaining budget a candidate file
// must fit within to be admitted whole; anything larger is truncated to fit
// and is the last file admitted.
const admissionFraction = 0.9

// truncationSentinel is appended to a file truncated to fit the remaining
// budget.
const truncationSentinel = "\n[… truncated …]"

// readmeNames are checked in order at the project root.
var readmeNames = []string{"README.md", "README", "readme.md", "Readme.md"}

// manifestNames are the package manifests recognized across ecosystems.
var manifestNames = []string{
	"package.json", "Cargo.toml", "go.mod", "pom.xml",
	"composer.json", "Gemfile", "pyproject.toml",
}

// priorityNames are admitted before any other source file, in this order,
// when present.
var priorityNames = []string{
	"CLAUDE.md", "PRD.md", "ARCHITECTURE.md", "ARCHITECTURE.MD",
	"Makefile", "Dockerfile", "docker-compose.yml", "docker-compose.yaml",
	".eslintrc.json", "tsconfig.json", "webpack.config.js",
}

// EstimateTokens approximates token count as chars/4, the usual heuristic
// for English text and source code when no model tokenizer is embedded in
// the binary.
func EstimateTokens(content string) int {
	if content == "" {
		return 0
	}
	return (len(content) + 3) / 4
}

// candidate is a source file awaiting priority ordering and admission.
type candidate struct {
	path  string // absolute
	rel   string
	depth int
	size  int64
}

// Extract walks root and assembles a ProjectContext bounded by maxTokens.
// Unreadable files are silently skipped; there is no error return for
// partial failure, only for a root that cannot be statted at all.
func Extract(root string, maxTokens int) (*models.ProjectContext, error) {
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}

	ctx := &models.ProjectContext{}
	used := 0

	if readme, name := loadFirst(root, readmeNames); readme != "" {
		ctx.README = truncateToTokens(readme, readmeTokenBudget)
		used += EstimateTokens(ctx.README)
		_ = name
	}

	var manifestName string
	if manifest, name := loadFirst(root, manifestNames); manifest != "" {
		ctx.Manifest = manifest
		manifestName = name
		used += EstimateTokens(manifest)
	}

	excluded := map[string]bool{}
	for _, n := range readmeNames {
		excluded[n] = true
	}
	if manifestName != "" {
		excluded[manifestName] = true
	}

	candidates := collectCandidates(root, excluded)
	sortCandidates(candidates)

	var files []models.ContextFile
	var totalSize int64
	var totalLOC int

	for _, c := range candidates {
		remaining := maxTokens - used
		if remaining <= 0 {
			break
		}

		data, err := os.ReadFile(c.path)
		if err != nil {
			continue // unreadable file: silently skipped
		}
		content := string(data)
		tokens := EstimateTokens(content)

		threshold := int(float64(remaining) * admissionFraction)
		if tokens <= threshold {
			files = append(files, models.ContextFile{Path: c.rel, Content: content})
			used += tokens
			totalSize += c.size
			totalLOC += strings.Count(content, "\n") + 1
			continue
		}

		// Last admissible file: truncate to fit within the remaining budget
		// instead of dropping it.
		truncated := truncateToTokens(content, remaining) + truncationSentinel
		files = append(files, models.ContextFile{Path: c.rel, Content: truncated, Truncated: true})
		used += EstimateTokens(truncated)
		totalSize += c.size
		totalLOC += strings.Count(truncated, "\n") + 1
		break
	}

	ctx.Files = files
	ctx.Summary = models.ContextSummary{
		FileCount:       len(files),
		LinesOfCode:     totalLOC,
		TotalSize:       totalSize,
		EstimatedTokens: used,
	}
	return ctx, nil
}

// loadFirst reads the first name in names present at root, returning its
// content and the matched name, or ("", "") if none are present or readable.
func loadFirst(root string, names []string) (content string, matched string) {
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(root, name))
		if err != nil {
			continue
		}
		return string(data), name
	}
	return "", ""
}

// truncateToTokens trims content so its estimated token count does not
// exceed budget, cutting on the chars/4 heuristic's boundary.
func truncateToTokens(content string, budget int) string {
	if budget <= 0 {
		return ""
	}
	if EstimateTokens(content) <= budget {
		return content
	}
	maxChars := budget * 4
	if maxChars >= len(content) {
		return content
	}
	return content[:maxChars]
}

// collectCandidates walks root (skipping system and hidden directories) for
// files not already excluded, bounded to maxFileSize.
func collectCandidates(root string, excluded map[string]bool) []candidate {
	var out []candidate
	var walk func(dir string, depth int)
	walk = func(dir string, depth int) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, ".") || discovery.IsSystemDir(name) {
				continue
			}
			full := filepath.Join(dir, name)
			if e.IsDir() {
				walk(full, depth+1)
				continue
			}
			if excluded[name] {
				continue
			}
			info, err := e.Info()
			if err != nil || info.Size() > maxFileSize {
				continue
			}
			rel, err := filepath.Rel(root, full)
			if err != nil {
				rel = full
			}
			out = append(out, candidate{path: full, rel: rel, depth: depth, size: info.Size()})
		}
	}
	walk(root, 0)
	return out
}

// priorityRank returns the index of name in priorityNames, or len(priorityNames)
// if it is not a known priority filename.
func priorityRank(name string) int {
	for i, p := range priorityNames {
		if p == name {
			return i
		}
	}
	return len(priorityNames)
}

// sortCandidates orders by priority filename, then shallower path, then
// smaller file size.
func sortCandidates(c []candidate) {
	sort.SliceStable(c, func(i, j int) bool {
		ri, rj := priorityRank(filepath.Base(c[i].path)), priorityRank(filepath.Base(c[j].path))
		if ri != rj {
			return ri < rj
		}
		if c[i].depth != c[j].depth {
			return c[i].depth < c[j].depth
		}
		return c[i].size < c[j].size
	})
}
