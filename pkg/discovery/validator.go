// Package discovery implements project validation, metadata extraction, and
// the debounced filesystem observer that feeds newly-discovered project
// paths into the event bus.
package discovery

import (
	"os"
	"path/filepath"
	"strings"
)

// systemDirs are directories that are never themselves candidate projects,
// whether encountered at the watch root or during metadata traversal.
var systemDirs = map[string]bool{
	"node_modules": true, ".git": true, "dist": true, "build": true,
	"target": true, "coverage": true, "__pycache__": true, "vendor": true,
	".vscode": true, ".idea": true, ".next": true, "out": true,
	".cache": true, ".svn": true, ".hg": true,
}

// IsSystemDir reports whether name (a base directory name, not a path) is a
// system directory that discovery must never treat as a project.
func IsSystemDir(name string) bool {
	return systemDirs[name]
}

// strongMarker associates a root-level manifest file with a project type and
// a confidence score.
type strongMarker struct {
	projectType string
	confidence  float64
}

var strongMarkers = map[string]strongMarker{
	"package.json":     {"node", 0.95},
	"Cargo.toml":       {"rust", 0.95},
	"go.mod":           {"go", 0.95},
	"pom.xml":          {"java", 0.9},
	"build.gradle":     {"java", 0.9},
	"composer.json":    {"php", 0.9},
	"Gemfile":          {"ruby", 0.9},
	"pyproject.toml":   {"python", 0.9},
	"requirements.txt": {"python", 0.9},
	"Pipfile":          {"python", 0.9},
	"pubspec.yaml":     {"dart", 0.9},
}

// genericMarkerWeights are additive signals used when no strong or nested
// marker is present.
const (
	genericGitWeight         = 0.25
	genericReadmeWeight      = 0.15
	genericSrcDirWeight      = 0.20
	genericCodeFilesWeight   = 0.15
	genericBuildConfigWeight = 0.10
	genericDocsWeight        = 0.05
	genericTestDirWeight     = 0.05
	genericMinConfidence     = 0.5
	genericMaxConfidence     = 0.95
)

var commonSrcDirs = map[string]bool{
	"src": true, "lib": true, "app": true, "components": true, "services": true,
	"utils": true, "core": true, "modules": true, "backend": true, "frontend": true,
	"server": true, "client": true, "api": true, "web": true, "ui": true,
	"packages": true, "apps": true,
}
var buildConfigFiles = map[string]bool{
	"Makefile": true, "Dockerfile": true, ".eslintrc": true, ".eslintrc.json": true,
	"tsconfig.json": true, "webpack.config.js": true, ".babelrc": true,
}
var codeExtensions = map[string]bool{
	".go": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true, ".py": true,
	".rb": true, ".java": true, ".rs": true, ".c": true, ".cpp": true, ".cs": true,
	".php": true, ".swift": true, ".kt": true, ".dart": true,
}

// ValidationResult is the outcome of validating a candidate directory as a
// software project.
type ValidationResult struct {
	Valid          bool
	Type           string
	Framework      string
	Language       string
	PackageManager string
	Confidence     float64
}

// Validate inspects path and decides whether it is a legitimate software
// project root: strong manifest markers win outright, then nested markers
// one level down, then accumulated generic signals.
func Validate(path string) ValidationResult {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return ValidationResult{Valid: false}
	}

	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || IsSystemDir(base) {
		return ValidationResult{Valid: false}
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return ValidationResult{Valid: false, Confidence: 0}
	}

	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}

	// Strong markers at the project root win outright.
	if res, ok := matchStrongMarkers(path, names); ok {
		return res
	}

	// C# solutions have no fixed manifest name; any .csproj or .sln at the
	// root counts as a strong marker.
	for name := range names {
		if strings.HasSuffix(name, ".csproj") || strings.HasSuffix(name, ".sln") {
			return ValidationResult{
				Valid:          true,
				Type:           "csharp",
				Language:       "c#",
				PackageManager: "nuget",
				Confidence:     0.9,
			}
		}
	}

	// Nested markers: same manifest set, one directory below root.
	if res, ok := matchNestedMarkers(path, entries); ok {
		return res
	}

	// Generic signal accumulation.
	return matchGenericMarkers(path, entries, names)
}

func matchStrongMarkers(path string, names map[string]bool) (ValidationResult, bool) {
	var best *strongMarker
	var bestName string
	for name, marker := range strongMarkers {
		if !names[name] {
			continue
		}
		m := marker
		if best == nil || m.confidence > best.confidence {
			best = &m
			bestName = name
		}
	}
	if best == nil {
		return ValidationResult{}, false
	}
	lang, pm := languageAndManager(bestName)
	framework := detectFramework(path, bestName, lang)
	return ValidationResult{
		Valid:          true,
		Type:           best.projectType,
		Framework:      framework,
		Language:       lang,
		PackageManager: pm,
		Confidence:     best.confidence,
	}, true
}

// matchNestedMarkers looks one directory below root for the same manifest
// files, scoring slightly lower than a root-level match.
func matchNestedMarkers(path string, entries []os.DirEntry) (ValidationResult, bool) {
	var best *strongMarker
	var bestName, bestDir string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || IsSystemDir(e.Name()) {
			continue
		}
		sub, err := os.ReadDir(filepath.Join(path, e.Name()))
		if err != nil {
			continue
		}
		for _, se := range sub {
			if marker, ok := strongMarkers[se.Name()]; ok {
				m := marker
				m.confidence = 0.85
				if best == nil || m.confidence > best.confidence {
					best = &m
					bestName = se.Name()
					bestDir = e.Name()
				}
			}
		}
	}
	if best == nil {
		return ValidationResult{}, false
	}
	lang, pm := languageAndManager(bestName)
	framework := detectFramework(filepath.Join(path, bestDir), bestName, lang)
	return ValidationResult{
		Valid:          true,
		Type:           best.projectType,
		Framework:      framework,
		Language:       lang,
		PackageManager: pm,
		Confidence:     best.confidence,
	}, true
}

func matchGenericMarkers(path string, entries []os.DirEntry, names map[string]bool) ValidationResult {
	var score float64
	if names[".git"] {
		score += genericGitWeight
	}
	if names["README.md"] || names["README"] || names["readme.md"] {
		score += genericReadmeWeight
	}

	hasSrcDir := false
	hasDocsDir := false
	hasTestDir := false
	codeFileCount := 0
	hasBuildConfig := false

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if commonSrcDirs[name] {
				hasSrcDir = true
			}
			if name == "docs" || name == "doc" {
				hasDocsDir = true
			}
			if name == "test" || name == "tests" || name == "__tests__" || name == "spec" {
				hasTestDir = true
			}
			continue
		}
		if buildConfigFiles[name] {
			hasBuildConfig = true
		}
		if codeExtensions[filepath.Ext(name)] {
			codeFileCount++
		}
	}

	if hasSrcDir {
		score += genericSrcDirWeight
	}
	if codeFileCount >= 2 {
		score += genericCodeFilesWeight
	}
	if hasBuildConfig {
		score += genericBuildConfigWeight
	}
	if hasDocsDir {
		score += genericDocsWeight
	}
	if hasTestDir {
		score += genericTestDirWeight
	}

	if score > genericMaxConfidence {
		score = genericMaxConfidence
	}
	if score < genericMinConfidence {
		return ValidationResult{Valid: false, Confidence: score}
	}

	return ValidationResult{
		Valid:      true,
		Type:       "generic",
		Confidence: score,
	}
}

func languageAndManager(markerFile string) (language, packageManager string) {
	switch markerFile {
	case "package.json":
		return "javascript", "npm"
	case "Cargo.toml":
		return "rust", "cargo"
	case "go.mod":
		return "go", "go modules"
	case "pom.xml":
		return "java", "maven"
	case "build.gradle":
		return "java", "gradle"
	case "composer.json":
		return "php", "composer"
	case "Gemfile":
		return "ruby", "bundler"
	case "pyproject.toml":
		return "python", "poetry"
	case "requirements.txt":
		return "python", "pip"
	case "Pipfile":
		return "python", "pipenv"
	case "pubspec.yaml":
		return "dart", "pub"
	default:
		return "", ""
	}
}

// frameworkPrecedence lists node dependency names in the order used to break
// ties when several framework signatures are present in package.json.
var frameworkPrecedence = []string{
	"next", "nuxt", "@remix-run/react", "gatsby", "astro", "@sveltejs/kit",
	"@builder.io/qwik-city", "@angular/core", "react", "vue", "svelte",
	"solid-js", "preact", "express", "fastify", "@nestjs/core", "koa", "hono", "@hapi/hapi",
}

var frameworkDisplayNames = map[string]string{
	"next": "Next.js", "nuxt": "Nuxt", "@remix-run/react": "Remix", "gatsby": "Gatsby",
	"astro": "Astro", "@sveltejs/kit": "SvelteKit", "@builder.io/qwik-city": "Qwik City",
	"@angular/core": "Angular", "react": "React", "vue": "Vue", "svelte": "Svelte",
	"solid-js": "Solid", "preact": "Preact", "express": "Express", "fastify": "Fastify",
	"@nestjs/core": "NestJS", "koa": "Koa", "hono": "Hono", "@hapi/hapi": "Hapi",
}

func detectFramework(path, markerFile, language string) string {
	switch markerFile {
	case "package.json":
		return detectNodeFramework(filepath.Join(path, "package.json"))
	case "requirements.txt":
		return detectPythonFramework(filepath.Join(path, "requirements.txt"))
	case "pyproject.toml":
		return detectPythonFramework(filepath.Join(path, "pyproject.toml"))
	default:
		return ""
	}
}

func detectNodeFramework(packageJSONPath string) string {
	deps := readPackageJSONDeps(packageJSONPath)
	if deps == nil {
		return ""
	}
	for _, dep := range frameworkPrecedence {
		if _, ok := deps[dep]; ok {
			return frameworkDisplayNames[dep]
		}
	}
	return ""
}

func detectPythonFramework(manifestPath string) string {
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return ""
	}
	content := strings.ToLower(string(data))
	switch {
	case strings.Contains(content, "django"):
		return "Django"
	case strings.Contains(content, "fastapi"):
		return "FastAPI"
	case strings.Contains(content, "flask"):
		return "Flask"
	default:
		return ""
	}
}
