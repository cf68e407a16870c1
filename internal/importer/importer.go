// Package importer turns a directory of Markdown notes into ingestion
// candidates. Every note still passes through the trust gate, so a vault
// import cannot bypass confidence screening.
package importer

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/engram-memory/engram/internal/engine"
	"github.com/engram-memory/engram/pkg/types"
)

// defaultConfidence applies to notes without an explicit confidence field.
// Hand-written notes are curated content, so they sit above the approval band.
const defaultConfidence = 0.9

// frontmatter is the subset of YAML keys the importer understands. Unknown
// keys are ignored rather than rejected.
type frontmatter struct {
	Type       string   `yaml:"type"`
	Category   string   `yaml:"category"`
	Tags       []string `yaml:"tags"`
	Confidence float64  `yaml:"confidence"`
	Importance float64  `yaml:"importance"`
}

// Note is one parsed Markdown file.
type Note struct {
	Path      string
	Candidate types.Candidate
}

// Report summarizes one import run.
type Report struct {
	Files   int                 `json:"files"`
	Skipped int                 `json:"skipped"`
	Ingest  *types.IngestReport `json:"ingest"`
}

// Importer walks a notes directory and feeds the results to the engine.
type Importer struct {
	engine *engine.Engine
	log    zerolog.Logger
}

// New creates an importer over the engine.
func New(e *engine.Engine, log zerolog.Logger) *Importer {
	return &Importer{engine: e, log: log}
}

// Run parses every .md file under root and ingests the candidates as one
// batch. Unreadable or empty files are skipped, not fatal.
func (i *Importer) Run(ctx context.Context, root string) (*Report, error) {
	notes, skipped, err := i.collect(root)
	if err != nil {
		return nil, err
	}

	candidates := make([]types.Candidate, 0, len(notes))
	for _, n := range notes {
		candidates = append(candidates, n.Candidate)
	}
	report := &Report{Files: len(notes), Skipped: skipped}
	if len(candidates) == 0 {
		report.Ingest = &types.IngestReport{Committed: []string{}, PendingApproval: []string{}}
		return report, nil
	}

	ingest, err := i.engine.Ingest(ctx, candidates)
	if err != nil {
		return nil, err
	}
	report.Ingest = ingest
	i.log.Info().
		Int("files", report.Files).
		Int("skipped", report.Skipped).
		Int("committed", len(ingest.Committed)).
		Msg("import complete")
	return report, nil
}

func (i *Importer) collect(root string) ([]Note, int, error) {
	var notes []Note
	skipped := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// hidden directories (.obsidian, .git) hold tool state, not notes
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), ".md") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			i.log.Warn().Str("path", path).Err(err).Msg("note unreadable, skipping")
			skipped++
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		note, ok := Parse(data, rel)
		if !ok {
			skipped++
			return nil
		}
		note.Path = path
		notes = append(notes, note)
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("importer: walk %s: %w", root, err)
	}
	return notes, skipped, nil
}

var inlineTagPattern = regexp.MustCompile(`(^|\s)#([\p{L}\p{N}_/-]+)`)

// Parse converts one Markdown file into a candidate. Returns false for files
// with no usable content.
func Parse(data []byte, relativePath string) (Note, bool) {
	fm, body := splitFrontmatter(string(data))
	body = strings.TrimSpace(body)
	if body == "" {
		return Note{}, false
	}

	memType := types.MemoryType(fm.Type)
	if !memType.Valid() {
		memType = types.TypeFact
	}
	confidence := fm.Confidence
	if confidence <= 0 {
		confidence = defaultConfidence
	}

	category := fm.Category
	if category == "" {
		category = categoryFromPath(relativePath)
	}

	tags := append([]string(nil), fm.Tags...)
	for _, match := range inlineTagPattern.FindAllStringSubmatch(body, -1) {
		tag := match[2]
		if !containsFold(tags, tag) {
			tags = append(tags, tag)
		}
	}

	return Note{
		Candidate: types.Candidate{
			Type:        memType,
			Content:     body,
			Summary:     titleFromPath(relativePath),
			Category:    category,
			Tags:        tags,
			Confidence:  confidence,
			Importance:  fm.Importance,
			SourceAppID: "importer",
		},
	}, true
}

// splitFrontmatter strips a leading YAML frontmatter block. Malformed
// frontmatter is treated as body text rather than an error.
func splitFrontmatter(text string) (frontmatter, string) {
	var fm frontmatter
	if !strings.HasPrefix(text, "---\n") && !strings.HasPrefix(text, "---\r\n") {
		return fm, text
	}
	rest := text[strings.Index(text, "\n")+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return fm, text
	}
	block := rest[:end]
	body := rest[end+len("\n---"):]
	if idx := strings.Index(body, "\n"); idx >= 0 {
		body = body[idx+1:]
	} else {
		body = ""
	}
	if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
		return frontmatter{}, text
	}
	return fm, body
}

// categoryFromPath uses the first directory component as the category.
func categoryFromPath(relativePath string) string {
	dir := filepath.Dir(relativePath)
	if dir == "." || dir == string(filepath.Separator) {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(dir), "/")
	return parts[0]
}

// titleFromPath derives a title from the filename.
func titleFromPath(relativePath string) string {
	base := filepath.Base(relativePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func containsFold(list []string, want string) bool {
	for _, v := range list {
		if strings.EqualFold(v, want) {
			return true
		}
	}
	return false
}
