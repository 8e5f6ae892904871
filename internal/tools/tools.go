// Package tools holds the read-only workspace tools the direct inference
// driver offers in agent mode, and the annotation appended to a reply when a
// tool ran.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/pkg/errors"
)

const (
	maxGrepHits  = 50
	maxReadBytes = 256 << 10
)

// ErrOutsideRoot is returned when a tool argument escapes the workspace root.
var ErrOutsideRoot = errors.New("path is outside the workspace")

// Workspace runs tools against files under Root.
type Workspace struct {
	Root string
}

func NewWorkspace(root string) *Workspace {
	if root == "" {
		root, _ = os.Getwd()
	}
	abs, err := filepath.Abs(root)
	if err == nil {
		root = abs
	}
	if real, err := filepath.EvalSymlinks(root); err == nil {
		root = real
	}
	return &Workspace{Root: root}
}

// Definitions describes the tools for a chat completion request.
func Definitions() []openai.ChatCompletionToolUnionParam {
	return []openai.ChatCompletionToolUnionParam{
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "read",
			Description: openai.String("Read file with line numbers (file path, not directory)"),
			Parameters: openai.FunctionParameters{
				"type": "object",
				"properties": map[string]any{
					"path":   map[string]any{"type": "string"},
					"offset": map[string]any{"type": "integer"},
					"limit":  map[string]any{"type": "integer"},
				},
				"required": []string{"path"},
			},
		}),
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "glob",
			Description: openai.String("Find files by pattern, newest first"),
			Parameters: openai.FunctionParameters{
				"type": "object",
				"properties": map[string]any{
					"pat":  map[string]any{"type": "string"},
					"path": map[string]any{"type": "string"},
				},
				"required": []string{"pat"},
			},
		}),
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "grep",
			Description: openai.String("Search files for regex pattern"),
			Parameters: openai.FunctionParameters{
				"type": "object",
				"properties": map[string]any{
					"pat":  map[string]any{"type": "string"},
					"path": map[string]any{"type": "string"},
				},
				"required": []string{"pat"},
			},
		}),
		openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        "ls",
			Description: openai.String("List a directory (defaults to the workspace root)"),
			Parameters: openai.FunctionParameters{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{"type": "string"},
				},
				"required": []string{},
			},
		}),
	}
}

type args struct {
	Path   string  `json:"path"`
	Pat    string  `json:"pat"`
	Offset float64 `json:"offset"`
	Limit  float64 `json:"limit"`
}

// Execute runs one tool call. Tool-level failures (missing file, bad regex)
// are returned as an error so the caller can feed them back to the model.
func (w *Workspace) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	var a args
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &a); err != nil {
			return "", errors.Wrap(err, "decode tool arguments")
		}
	}

	switch name {
	case "read":
		return w.read(a)
	case "glob":
		return w.glob(a)
	case "grep":
		return w.grep(ctx, a)
	case "ls":
		return w.ls(a)
	default:
		return "", errors.Errorf("unknown tool: %s", name)
	}
}

// resolve maps a tool path onto the workspace and rejects escapes, both
// lexical ones and symlinks pointing outside the root.
func (w *Workspace) resolve(p string) (string, error) {
	if p == "" {
		p = "."
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(w.Root, p)
	}
	p = filepath.Clean(p)
	if !w.contains(p) {
		return "", ErrOutsideRoot
	}
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		return "", err
	}
	if !w.contains(real) {
		return "", ErrOutsideRoot
	}
	return real, nil
}

func (w *Workspace) contains(p string) bool {
	rel, err := filepath.Rel(w.Root, p)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Workspace) read(a args) (string, error) {
	path, err := w.resolve(a.Path)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes))
	if err != nil {
		return "", err
	}

	lines := strings.Split(string(data), "\n")
	start := min(max(int(a.Offset), 0), len(lines))
	end := len(lines)
	if a.Limit > 0 {
		end = min(start+int(a.Limit), len(lines))
	}

	var sb strings.Builder
	for i, line := range lines[start:end] {
		fmt.Fprintf(&sb, "%4d| %s\n", start+i+1, line)
	}
	return sb.String(), nil
}

func (w *Workspace) glob(a args) (string, error) {
	root, err := w.resolve(a.Path)
	if err != nil {
		return "", err
	}
	matches, err := filepath.Glob(filepath.Join(root, a.Pat))
	if err != nil {
		return "", err
	}

	type entry struct {
		path  string
		mtime time.Time
	}
	entries := make([]entry, 0, len(matches))
	for _, m := range matches {
		if _, err := w.resolve(m); err != nil {
			continue
		}
		e := entry{path: m}
		if st, err := os.Stat(m); err == nil {
			e.mtime = st.ModTime()
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].mtime.After(entries[j].mtime)
	})

	if len(entries) == 0 {
		return "none", nil
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		rel, _ := filepath.Rel(w.Root, e.path)
		out = append(out, rel)
	}
	return strings.Join(out, "\n"), nil
}

var errStopWalk = errors.New("stop")

func (w *Workspace) grep(ctx context.Context, a args) (string, error) {
	root, err := w.resolve(a.Path)
	if err != nil {
		return "", err
	}
	re, err := regexp.Compile(a.Pat)
	if err != nil {
		return "", err
	}

	var hits []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			if _, err := w.resolve(path); err != nil {
				return nil
			}
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(w.Root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				hits = append(hits, fmt.Sprintf("%s:%d:%s", rel, i+1, strings.TrimSpace(line)))
				if len(hits) >= maxGrepHits {
					return errStopWalk
				}
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopWalk) {
		return "", err
	}

	if len(hits) == 0 {
		return "none", nil
	}
	return strings.Join(hits, "\n"), nil
}

func (w *Workspace) ls(a args) (string, error) {
	path, err := w.resolve(a.Path)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(&sb, "[DIR]  %s/\n", entry.Name())
			continue
		}
		fmt.Fprintf(&sb, "[FILE] %s\n", entry.Name())
	}
	if sb.Len() == 0 {
		return "(empty directory)", nil
	}
	return sb.String(), nil
}

// Annotate appends the note shown under a reply when the backend reports a
// tool invocation. An empty toolName leaves text unchanged.
func Annotate(text, toolName string) string {
	toolName = strings.TrimSpace(toolName)
	if toolName == "" {
		return text
	}
	note := fmt.Sprintf("_Used tool: %s_", toolName)
	if strings.TrimSpace(text) == "" {
		return note
	}
	return strings.TrimRight(text, "\n") + "\n\n" + note
}
