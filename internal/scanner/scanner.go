// Package scanner walks a codebase directory, classifies each file by
// language, extracts lightweight structural information (imports, functions,
// classes, "concepts"), and turns the result into index.Chunk values ready
// for Upsert into an Index.
//
// Per-language analysis beyond Go/JS/TS/Rust uses the same regex-based
// generic pass every other language gets here: nothing in this module's
// dependency surface offers real parsers for two dozen languages, and the
// teacher's own RAG layer is similarly pattern-based rather than AST-based
// for anything but its primary language.
package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/agentcore/agentcore/internal/index"
)

// LanguageExtensions maps a language name to the file extensions recognized
// as belonging to it.
var LanguageExtensions = map[string][]string{
	"python":     {".py"},
	"rust":       {".rs"},
	"javascript": {".js", ".jsx", ".mjs"},
	"typescript": {".ts", ".tsx"},
	"go":         {".go"},
	"java":       {".java"},
	"csharp":     {".cs"},
	"cpp":        {".cpp", ".cc", ".cxx", ".hpp", ".h"},
	"c":          {".c"},
	"ruby":       {".rb"},
	"php":        {".php"},
	"swift":      {".swift"},
	"kotlin":     {".kt", ".kts"},
	"scala":      {".scala"},
	"shell":      {".sh", ".bash"},
	"sql":        {".sql"},
	"yaml":       {".yaml", ".yml"},
	"json":       {".json"},
	"markdown":   {".md"},
	"toml":       {".toml"},
}

var extensionLanguage = buildExtensionIndex(LanguageExtensions)

func buildExtensionIndex(langs map[string][]string) map[string]string {
	out := make(map[string]string)
	for lang, exts := range langs {
		for _, ext := range exts {
			out[ext] = lang
		}
	}
	return out
}

// DefaultSkipDirs are directory names never descended into while walking.
var DefaultSkipDirs = map[string]bool{
	".git": true, ".svn": true, ".hg": true,
	"node_modules": true, "vendor": true, "venv": true, ".venv": true, "env": true,
	"__pycache__": true, ".pytest_cache": true, ".mypy_cache": true,
	"target": true, "build": true, "dist": true, "out": true,
	".idea": true, ".vscode": true,
	"coverage": true, ".coverage": true,
}

// DefaultSkipFiles are file names never analyzed even if their extension
// would otherwise qualify.
var DefaultSkipFiles = map[string]bool{
	".gitignore": true, ".dockerignore": true,
	"package-lock.json": true, "yarn.lock": true, "Cargo.lock": true,
}

const (
	maxFileBytes = 500_000
	minFileBytes = 10
)

// CodeUnit is a function, class, method, struct, or impl block extracted
// from a file.
type CodeUnit struct {
	Name      string
	UnitType  string // function, class, method, struct, impl
	Signature string
	Docstring string
	StartLine int
	EndLine   int
	Calls     []string
}

// FileAnalysis is the result of scanning a single file.
type FileAnalysis struct {
	Path     string
	Language string
	Content  string
	Imports  []string
	Units    []CodeUnit
	Concepts []string
}

// Scanner walks a codebase root and analyzes every recognized source file.
type Scanner struct {
	RootPath  string
	SkipDirs  map[string]bool
	SkipFiles map[string]bool
}

// New builds a Scanner rooted at rootPath using the default skip lists.
func New(rootPath string) *Scanner {
	return &Scanner{RootPath: rootPath, SkipDirs: DefaultSkipDirs, SkipFiles: DefaultSkipFiles}
}

// Warning records a file that could not be analyzed without aborting the
// whole scan.
type Warning struct {
	Path string
	Err  error
}

// Scan walks the tree rooted at RootPath and analyzes every recognized file.
// Files that fail to analyze are recorded as warnings rather than aborting
// the scan.
func (s *Scanner) Scan(ctx context.Context) ([]FileAnalysis, []Warning, error) {
	root, err := filepath.Abs(s.RootPath)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve root path: %w", err)
	}

	var analyses []FileAnalysis
	var warnings []Warning

	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			if path != root && s.SkipDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if s.SkipFiles[info.Name()] {
			return nil
		}

		language, ok := languageFor(path)
		if !ok {
			return nil
		}

		analysis, err := s.analyzeFile(path, root, language, info.Size())
		if err != nil {
			warnings = append(warnings, Warning{Path: path, Err: err})
			return nil
		}
		if analysis != nil {
			analyses = append(analyses, *analysis)
		}
		return nil
	})
	if walkErr != nil {
		return nil, nil, fmt.Errorf("walk %s: %w", root, walkErr)
	}

	return analyses, warnings, nil
}

func languageFor(path string) (string, bool) {
	lang, ok := extensionLanguage[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

func (s *Scanner) analyzeFile(path, root, language string, size int64) (*FileAnalysis, error) {
	if size > maxFileBytes {
		return nil, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if len(raw) < minFileBytes {
		return nil, nil
	}
	content := string(raw)

	relPath, err := filepath.Rel(root, path)
	if err != nil {
		relPath = path
	}

	analysis := &FileAnalysis{
		Path:     filepath.ToSlash(relPath),
		Language: language,
		Content:  content,
	}

	switch language {
	case "javascript", "typescript":
		analyzeJSLike(analysis, content)
	case "rust":
		analyzeRust(analysis, content)
	case "go":
		analyzeGo(analysis, content)
	default:
		// Includes python: this runtime has no Python parser available, so
		// python files get the same concept-only pass as markdown or yaml.
	}
	extractConcepts(analysis, content)

	return analysis, nil
}

var (
	jsImportPattern = regexp.MustCompile(`(?:import|require)\s*\(?['"]([^'"]+)['"]`)
	jsFuncPattern   = regexp.MustCompile(`(?:function|const|let|var)\s+(\w+)\s*(?:=\s*(?:async\s*)?\([^)]*\)\s*=>|\([^)]*\))`)
	jsClassPattern  = regexp.MustCompile(`class\s+(\w+)`)
)

func analyzeJSLike(a *FileAnalysis, content string) {
	for _, m := range jsImportPattern.FindAllStringSubmatch(content, -1) {
		a.Imports = append(a.Imports, m[1])
	}
	for _, m := range jsFuncPattern.FindAllStringSubmatchIndex(content, -1) {
		name := content[m[2]:m[3]]
		full := content[m[0]:m[1]]
		a.Units = append(a.Units, CodeUnit{
			Name:      name,
			UnitType:  "function",
			Signature: truncate(full, 100),
			StartLine: lineAt(content, m[0]),
			EndLine:   lineAt(content, m[1]),
		})
	}
	for _, m := range jsClassPattern.FindAllStringSubmatchIndex(content, -1) {
		name := content[m[2]:m[3]]
		a.Units = append(a.Units, CodeUnit{
			Name:      name,
			UnitType:  "class",
			Signature: "class " + name,
			StartLine: lineAt(content, m[0]),
			EndLine:   lineAt(content, m[1]),
		})
	}
}

var (
	rustUsePattern    = regexp.MustCompile(`use\s+([^;]+);`)
	rustFnPattern     = regexp.MustCompile(`(?:pub\s+)?(?:async\s+)?fn\s+(\w+)\s*(?:<[^>]*>)?\s*\([^)]*\)`)
	rustStructPattern = regexp.MustCompile(`(?:pub\s+)?(?:struct|enum)\s+(\w+)`)
	rustImplPattern   = regexp.MustCompile(`impl(?:<[^>]*>)?\s+(\w+)`)
)

func analyzeRust(a *FileAnalysis, content string) {
	for _, m := range rustUsePattern.FindAllStringSubmatch(content, -1) {
		a.Imports = append(a.Imports, strings.TrimSpace(m[1]))
	}
	for _, m := range rustFnPattern.FindAllStringSubmatchIndex(content, -1) {
		name := content[m[2]:m[3]]
		full := content[m[0]:m[1]]
		a.Units = append(a.Units, CodeUnit{
			Name:      name,
			UnitType:  "function",
			Signature: truncate(full, 100),
			StartLine: lineAt(content, m[0]),
			EndLine:   lineAt(content, m[1]),
		})
	}
	for _, m := range rustStructPattern.FindAllStringSubmatchIndex(content, -1) {
		name := content[m[2]:m[3]]
		full := content[m[0]:m[1]]
		a.Units = append(a.Units, CodeUnit{
			Name:      name,
			UnitType:  "struct",
			Signature: full,
			StartLine: lineAt(content, m[0]),
			EndLine:   lineAt(content, m[1]),
		})
	}
	for _, m := range rustImplPattern.FindAllStringSubmatchIndex(content, -1) {
		name := content[m[2]:m[3]]
		full := content[m[0]:m[1]]
		a.Units = append(a.Units, CodeUnit{
			Name:      name,
			UnitType:  "impl",
			Signature: full,
			StartLine: lineAt(content, m[0]),
			EndLine:   lineAt(content, m[1]),
		})
	}
}

var (
	goImportPattern = regexp.MustCompile(`(?m)^\s*"([^"]+)"\s*$`)
	goFuncPattern   = regexp.MustCompile(`(?m)^func\s+(?:\([^)]*\)\s*)?(\w+)\s*\(`)
	goTypePattern   = regexp.MustCompile(`(?m)^type\s+(\w+)\s+(struct|interface)\b`)
)

func analyzeGo(a *FileAnalysis, content string) {
	if idx := strings.Index(content, "import ("); idx >= 0 {
		end := strings.Index(content[idx:], ")")
		if end > 0 {
			block := content[idx : idx+end]
			for _, m := range goImportPattern.FindAllStringSubmatch(block, -1) {
				a.Imports = append(a.Imports, m[1])
			}
		}
	}
	for _, m := range goFuncPattern.FindAllStringSubmatchIndex(content, -1) {
		name := content[m[2]:m[3]]
		full := content[m[0]:m[1]]
		a.Units = append(a.Units, CodeUnit{
			Name:      name,
			UnitType:  "function",
			Signature: truncate(strings.TrimRight(full, "("), 100),
			StartLine: lineAt(content, m[0]),
			EndLine:   lineAt(content, m[1]),
		})
	}
	for _, m := range goTypePattern.FindAllStringSubmatchIndex(content, -1) {
		name := content[m[2]:m[3]]
		kind := content[m[4]:m[5]]
		a.Units = append(a.Units, CodeUnit{
			Name:      name,
			UnitType:  kind,
			Signature: fmt.Sprintf("type %s %s", name, kind),
			StartLine: lineAt(content, m[0]),
			EndLine:   lineAt(content, m[1]),
		})
	}
}

var conceptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(auth(?:entication|orization)?)\b`),
	regexp.MustCompile(`\b(api|rest|graphql|grpc)\b`),
	regexp.MustCompile(`\b(database|db|sql|query)\b`),
	regexp.MustCompile(`\b(cache|caching|redis|memcache)\b`),
	regexp.MustCompile(`\b(test(?:ing)?|spec|unittest)\b`),
	regexp.MustCompile(`\b(config(?:uration)?|settings?|env)\b`),
	regexp.MustCompile(`\b(log(?:ging)?|logger|debug)\b`),
	regexp.MustCompile(`\b(error|exception|handler)\b`),
	regexp.MustCompile(`\b(async|await|promise|future)\b`),
	regexp.MustCompile(`\b(http|request|response|client|server)\b`),
	regexp.MustCompile(`\b(parse|serialize|deserialize|json|xml)\b`),
	regexp.MustCompile(`\b(encrypt|decrypt|hash|security)\b`),
	regexp.MustCompile(`\b(route|router|endpoint|handler)\b`),
	regexp.MustCompile(`\b(model|schema|entity|dto)\b`),
	regexp.MustCompile(`\b(service|repository|controller)\b`),
	regexp.MustCompile(`\b(middleware|interceptor|filter)\b`),
	regexp.MustCompile(`\b(event|listener|subscriber|publish)\b`),
	regexp.MustCompile(`\b(queue|worker|job|task)\b`),
	regexp.MustCompile(`\b(file|stream|io|read|write)\b`),
	regexp.MustCompile(`\b(user|session|token|jwt)\b`),
}

func extractConcepts(a *FileAnalysis, content string) {
	lower := strings.ToLower(content)
	seen := make(map[string]bool)
	var concepts []string
	for _, re := range conceptPatterns {
		m := re.FindStringSubmatch(lower)
		if m == nil || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		concepts = append(concepts, m[1])
		if len(concepts) == 10 {
			break
		}
	}
	a.Concepts = concepts
}

func lineAt(content string, offset int) int {
	return strings.Count(content[:offset], "\n") + 1
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// AnalysisToChunks turns a FileAnalysis into the file-level chunk plus one
// chunk per extracted CodeUnit.
func AnalysisToChunks(a FileAnalysis) []index.Chunk {
	chunks := make([]index.Chunk, 0, len(a.Units)+1)

	var desc strings.Builder
	fmt.Fprintf(&desc, "%s: ", a.Path)
	if len(a.Units) > 0 {
		names := make([]string, 0, 5)
		for i, u := range a.Units {
			if i == 5 {
				break
			}
			names = append(names, u.Name)
		}
		fmt.Fprintf(&desc, "Contains %s", strings.Join(names, ", "))
		if len(a.Units) > 5 {
			fmt.Fprintf(&desc, " and %d more", len(a.Units)-5)
		}
	} else {
		desc.WriteString(a.Language + " file")
	}
	if len(a.Concepts) > 0 {
		fmt.Fprintf(&desc, ". Concepts: %s", strings.Join(a.Concepts, ", "))
	}

	chunks = append(chunks, index.Chunk{
		ID:      a.Path,
		Content: desc.String(),
		Metadata: index.ChunkMetadata{
			Path:      a.Path,
			Language:  a.Language,
			ChunkType: "file",
			Concepts:  a.Concepts,
		},
	})

	for _, u := range a.Units {
		unitID := fmt.Sprintf("%s:%s", a.Path, u.Name)
		var unitDesc string
		if u.Docstring != "" {
			unitDesc = u.Name + ": " + truncate(firstLine(u.Docstring), 200)
		} else {
			unitDesc = fmt.Sprintf("%s: %s in %s", u.Name, u.UnitType, a.Path)
		}
		chunks = append(chunks, index.Chunk{
			ID:      unitID,
			Content: unitDesc,
			Metadata: index.ChunkMetadata{
				Path:      a.Path,
				Language:  a.Language,
				ChunkType: u.UnitType,
				Signature: u.Signature,
				Calls:     u.Calls,
			},
		})
	}

	return chunks
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// Stats summarizes a full codebase scan.
type Stats struct {
	FilesScanned    int
	FilesByLanguage map[string]int
	UnitsExtracted  int
	ChunksGenerated int
	Warnings        []Warning
}

// ScanAndGenerateChunks walks rootPath and converts every analyzed file into
// index.Chunk values, along with summary stats.
func ScanAndGenerateChunks(ctx context.Context, rootPath string) ([]index.Chunk, Stats, error) {
	s := New(rootPath)
	analyses, warnings, err := s.Scan(ctx)
	if err != nil {
		return nil, Stats{}, err
	}

	stats := Stats{FilesByLanguage: make(map[string]int), Warnings: warnings}
	var chunks []index.Chunk
	for _, a := range analyses {
		stats.FilesScanned++
		stats.FilesByLanguage[a.Language]++
		stats.UnitsExtracted += len(a.Units)
		chunks = append(chunks, AnalysisToChunks(a)...)
	}
	stats.ChunksGenerated = len(chunks)

	return chunks, stats, nil
}
