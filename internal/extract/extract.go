// Package extract turns a model completion into project files.
//
// A file block opens with a fence line tagged with a relative path and closes
// at the next bare fence:
//
//	```file:src/App.tsx
//	export default function App() {}
//	```
//
// Parse never touches the disk; Write does.
package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	fence   = "```"
	fileTag = "file:"
)

// Skip reasons reported in Diagnostic.Reason.
const (
	ReasonInvalidJSON  = "invalid_json"
	ReasonEmpty        = "empty"
	ReasonUnsafePath   = "unsafe_path"
	ReasonUnterminated = "unterminated"
	ReasonSuperseded   = "superseded"
)

// File is one accepted block. Path is slash-separated and relative.
type File struct {
	Path    string
	Content []byte
}

// Diagnostic describes a block that was not accepted.
type Diagnostic struct {
	Path   string
	Line   int
	Reason string
	Detail string
}

func (d Diagnostic) String() string {
	if d.Detail != "" {
		return fmt.Sprintf("%s (line %d): %s: %s", d.Path, d.Line, d.Reason, d.Detail)
	}
	return fmt.Sprintf("%s (line %d): %s", d.Path, d.Line, d.Reason)
}

type Result struct {
	Files   []File
	Skipped []Diagnostic
}

// Parse scans text for tagged file blocks. Blocks sharing a path collapse to
// the last one, keeping the position of the first.
func Parse(text string) Result {
	var res Result
	index := map[string]int{}
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	for i := 0; i < len(lines); i++ {
		rawPath, ok := openingTag(lines[i])
		if !ok {
			continue
		}
		start := i + 1

		// A new opening tag before the closing fence ends the block unclosed.
		end, next := -1, -1
		for j := start; j < len(lines); j++ {
			if strings.TrimSpace(lines[j]) == fence {
				end = j
				break
			}
			if _, opens := openingTag(lines[j]); opens {
				next = j
				break
			}
		}
		if end < 0 {
			res.Skipped = append(res.Skipped, Diagnostic{Path: rawPath, Line: i + 1, Reason: ReasonUnterminated})
			if next < 0 {
				break
			}
			i = next - 1
			continue
		}
		i = end

		clean, err := CleanPath(rawPath)
		if err != nil {
			res.Skipped = append(res.Skipped, Diagnostic{Path: rawPath, Line: start, Reason: ReasonUnsafePath, Detail: err.Error()})
			continue
		}

		content := strings.TrimSpace(strings.Join(lines[start:end], "\n"))
		if content == "" {
			res.Skipped = append(res.Skipped, Diagnostic{Path: clean, Line: start, Reason: ReasonEmpty})
			continue
		}

		if strings.EqualFold(path.Ext(clean), ".json") {
			var v any
			if err := json.Unmarshal([]byte(content), &v); err != nil {
				res.Skipped = append(res.Skipped, Diagnostic{Path: clean, Line: start, Reason: ReasonInvalidJSON, Detail: err.Error()})
				continue
			}
		}

		f := File{Path: clean, Content: []byte(content)}
		if at, seen := index[clean]; seen {
			res.Skipped = append(res.Skipped, Diagnostic{Path: clean, Line: start, Reason: ReasonSuperseded, Detail: "replaced by a later block"})
			res.Files[at] = f
			continue
		}
		index[clean] = len(res.Files)
		res.Files = append(res.Files, f)
	}

	return res
}

// openingTag reports whether line opens a tagged block and returns the raw path.
func openingTag(line string) (string, bool) {
	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, fence) {
		return "", false
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, fence))
	if !strings.HasPrefix(s, fileTag) {
		return "", false
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, fileTag))
	s = strings.Trim(s, "`\"'")
	if s == "" {
		return "", false
	}
	// Anything after the path (e.g. a language hint) is ignored.
	if fields := strings.Fields(s); len(fields) > 0 {
		s = fields[0]
	}
	return s, true
}

// CleanPath normalizes a model-supplied path and rejects anything that would
// resolve outside the project directory.
func CleanPath(p string) (string, error) {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	if strings.HasPrefix(p, "/") || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return "", fmt.Errorf("absolute path not allowed")
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path escapes project directory")
	}
	return clean, nil
}

// Write stores files under root, creating intermediate directories. Existing
// files are overwritten. It returns the relative paths written, in order.
func Write(root string, files []File) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}

	written := make([]string, 0, len(files))
	for _, f := range files {
		clean, err := CleanPath(f.Path)
		if err != nil {
			return written, fmt.Errorf("refusing to write %q: %w", f.Path, err)
		}

		target := filepath.Join(absRoot, filepath.FromSlash(clean))
		rel, err := filepath.Rel(absRoot, target)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return written, fmt.Errorf("refusing to write %q: path escapes project directory", f.Path)
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return written, fmt.Errorf("failed to create directory for %s: %w", clean, err)
		}
		if err := os.WriteFile(target, f.Content, 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", clean, err)
		}
		written = append(written, clean)
	}

	return written, nil
}
