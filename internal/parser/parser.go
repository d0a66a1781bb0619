// Package parser turns raw prompt file bytes into named prompt definitions.
//
// Two shapes are supported. YAML and JSON files map prompt names to
// definitions, so one file can define many prompts. Markdown files hold a
// single prompt: an optional front matter block (delimited by ---) carries
// the metadata and the rest of the file is the template body, with the name
// defaulting to the filename stem when the front matter does not set one.
package parser

import (
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/conneroisu/promptweave/internal/types"
)

// DefaultMaxFileSize bounds how much of a resource the parser will consume.
// Prompt files are small; anything near this limit is a mistake.
const DefaultMaxFileSize = 10 * 1024 * 1024

// frontMatterPattern matches a leading front matter block: three dashes, a
// YAML body, three dashes, then the template.
var frontMatterPattern = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n(.*)$`)

var supportedExtensions = map[string]bool{
	".yaml": true,
	".yml":  true,
	".json": true,
	".md":   true,
}

// Parser parses prompt resources with a configurable size ceiling.
type Parser struct {
	maxFileSize int64
}

// New creates a parser. maxFileSize <= 0 selects DefaultMaxFileSize.
func New(maxFileSize int64) *Parser {
	if maxFileSize <= 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &Parser{maxFileSize: maxFileSize}
}

// IsSupportedFile reports whether the filename has a recognized prompt
// extension. Matching is case-insensitive. Unsupported files are skipped,
// not treated as errors.
func IsSupportedFile(filename string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Parse reads one resource and returns every prompt definition it contains,
// keyed by name. The filename selects the format and provides the default
// name for Markdown prompts. Unsupported extensions yield an empty map.
func (p *Parser) Parse(r io.Reader, filename string) (map[string]*types.PromptMeta, error) {
	if !IsSupportedFile(filename) {
		return map[string]*types.PromptMeta{}, nil
	}

	content, err := p.readBounded(r, filename)
	if err != nil {
		return nil, err
	}
	content = NormalizeContent(content)

	var defs map[string]*types.PromptMeta
	if strings.EqualFold(filepath.Ext(filename), ".md") {
		defs, err = parseMarkdown(content, filename)
	} else {
		defs, err = parseMapping(content)
	}
	if err != nil {
		return nil, err
	}

	for name, meta := range defs {
		if meta == nil {
			return nil, fmt.Errorf("prompt %q in %s has no definition body", name, filename)
		}
		if meta.ID == "" {
			meta.ID = name
		}
		if err := meta.Validate(); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

// readBounded consumes the reader up to the size ceiling, failing rather
// than buffering an oversized input.
func (p *Parser) readBounded(r io.Reader, filename string) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, p.maxFileSize+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > p.maxFileSize {
		return "", fmt.Errorf("file %s exceeds the %d byte size limit", filename, p.maxFileSize)
	}
	return string(data), nil
}

// parseMapping handles YAML and JSON files. yaml.v3 accepts JSON input, so
// both formats go through one decoder.
func parseMapping(content string) (map[string]*types.PromptMeta, error) {
	defs := make(map[string]*types.PromptMeta)
	if err := yaml.Unmarshal([]byte(content), &defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// parseMarkdown handles single-prompt Markdown files with optional front
// matter.
func parseMarkdown(content, filename string) (map[string]*types.PromptMeta, error) {
	meta := &types.PromptMeta{}
	body := content

	if match := frontMatterPattern.FindStringSubmatch(content); match != nil {
		if header := strings.TrimSpace(match[1]); header != "" {
			if err := yaml.Unmarshal([]byte(header), meta); err != nil {
				return nil, fmt.Errorf("front matter of %s: %w", filename, err)
			}
		}
		body = strings.TrimSpace(match[2])
	}

	meta.Template = body
	if meta.ID == "" {
		meta.ID = NameFromFilename(filename)
	}
	return map[string]*types.PromptMeta{meta.ID: meta}, nil
}

// NormalizeContent strips a UTF-8 BOM and converts CRLF line endings, so the
// front matter pattern behaves the same regardless of which editor wrote the
// file.
func NormalizeContent(content string) string {
	content = strings.TrimPrefix(content, "\uFEFF")
	return strings.ReplaceAll(content, "\r\n", "\n")
}

// NameFromFilename derives a prompt name from a file path: the base name
// without extension, with characters outside [a-zA-Z0-9_-] replaced by
// hyphens.
func NameFromFilename(filename string) string {
	name := filepath.Base(filename)
	if ext := filepath.Ext(name); ext != "" && len(ext) < len(name) {
		name = name[:len(name)-len(ext)]
	}
	if name == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return b.String()
}
