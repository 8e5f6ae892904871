package ui

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/pkg/errors"

	"parley/internal/chaterr"
	"parley/internal/models"
	"parley/internal/styles"
)

const (
	maxSuggestions     = 10
	maxAttachmentLines = 500
	maxImageBytes      = 5 << 20
)

var (
	mentionRE    = regexp.MustCompile(`@("([^"]+)"|([^\s]+))`)
	whitespaceRE = regexp.MustCompile(`\s+`)

	imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}
)

// GetFileSuggestions returns paths under root matching prefix. A prefix with
// a "/" lists that directory; otherwise file names are searched recursively.
func GetFileSuggestions(root, prefix string) []string {
	if strings.Contains(prefix, "/") {
		return directorySuggestions(root, prefix)
	}
	return recursiveSuggestions(root, prefix)
}

func directorySuggestions(root, prefix string) []string {
	dir, filePrefix := "", prefix
	if idx := strings.LastIndex(prefix, "/"); idx != -1 {
		dir, filePrefix = prefix[:idx+1], prefix[idx+1:]
	}

	entries, err := os.ReadDir(filepath.Join(root, dir))
	if err != nil {
		return nil
	}

	lower := strings.ToLower(filePrefix)
	var out []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(filePrefix, ".") {
			continue
		}
		if strings.HasPrefix(strings.ToLower(name), lower) {
			out = append(out, dir+name)
		}
	}
	return sortSuggestions(root, out)
}

func recursiveSuggestions(root, prefix string) []string {
	lower := strings.ToLower(prefix)
	var out []string
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if path != root && (strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") && !strings.HasPrefix(prefix, ".") {
			return nil
		}
		if strings.Contains(strings.ToLower(name), lower) {
			rel, _ := filepath.Rel(root, path)
			out = append(out, filepath.ToSlash(rel))
		}
		if len(out) >= 2*maxSuggestions {
			return filepath.SkipAll
		}
		return nil
	})
	return sortSuggestions(root, out)
}

// sortSuggestions puts directories first, then shallower paths, then names.
func sortSuggestions(root string, s []string) []string {
	isDir := func(p string) bool {
		info, err := os.Stat(filepath.Join(root, p))
		return err == nil && info.IsDir()
	}
	sort.SliceStable(s, func(i, j int) bool {
		di, dj := isDir(s[i]), isDir(s[j])
		if di != dj {
			return di
		}
		ci, cj := strings.Count(s[i], "/"), strings.Count(s[j], "/")
		if ci != cj {
			return ci < cj
		}
		return strings.ToLower(s[i]) < strings.ToLower(s[j])
	})
	if len(s) > maxSuggestions {
		s = s[:maxSuggestions]
	}
	return s
}

// ExtractFileMentions strips @path and @"quoted path" mentions from input and
// returns the ones that name an existing file under root.
func ExtractFileMentions(input, root string) (clean string, files []string) {
	seen := map[string]bool{}
	for _, match := range mentionRE.FindAllStringSubmatch(input, -1) {
		name := match[3]
		if match[2] != "" {
			name = match[2]
		}
		if name == "" || seen[name] {
			continue
		}
		info, err := os.Stat(resolvePath(root, name))
		if err != nil || info.IsDir() {
			continue
		}
		files = append(files, name)
		seen[name] = true
	}

	clean = mentionRE.ReplaceAllString(input, "")
	clean = whitespaceRE.ReplaceAllString(strings.TrimSpace(clean), " ")
	return clean, files
}

func resolvePath(root, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(root, name)
}

func IsImageFile(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}

// LoadImage reads an image file and returns it as a base64 data URL.
func LoadImage(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxImageBytes {
		return "", errors.Errorf("%s is larger than %d MB", filepath.Base(path), maxImageBytes>>20)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return "", errors.Errorf("%s is not an image", filepath.Base(path))
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// BuildFileContext inlines text attachments for the model. Long files are
// cut at maxAttachmentLines.
func BuildFileContext(root string, files []string) string {
	if len(files) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("\n\n# Attached Files\n")
	for _, file := range files {
		content, err := os.ReadFile(resolvePath(root, file))
		if err != nil {
			continue
		}
		text := string(content)
		if lines := strings.Split(text, "\n"); len(lines) > maxAttachmentLines {
			text = strings.Join(lines[:maxAttachmentLines], "\n")
			text += fmt.Sprintf("\n\n[... truncated, %d more lines]", len(lines)-maxAttachmentLines)
		}
		fmt.Fprintf(&sb, "\n## %s\n```\n%s\n```\n", file, text)
	}
	return sb.String()
}

// GetAtPosition finds the @ mention being typed at the cursor.
func GetAtPosition(input string, cursorPos int) (prefix string, startPos int, found bool) {
	if cursorPos > len(input) {
		cursorPos = len(input)
	}
	for i := cursorPos - 1; i >= 0; i-- {
		switch input[i] {
		case '@':
			return input[i+1 : cursorPos], i, true
		case ' ', '\n', '\t':
			return "", 0, false
		}
	}
	return "", 0, false
}

func TextareaCursorIndex(t textarea.Model) int {
	li := t.LineInfo()
	return cursorIndexFromRowCol(t.Value(), t.Line(), li.StartColumn+li.ColumnOffset)
}

func TextareaCursorFromIndex(value string, index int) (row int, col int) {
	index = max(0, min(index, len(value)))

	lines := strings.Split(value, "\n")
	pos := 0
	for i, line := range lines {
		if index <= pos+len(line) {
			return i, runeIndexForByteIndex(line, index-pos)
		}
		pos += len(line) + 1
	}
	row = len(lines) - 1
	return row, utf8.RuneCountInString(lines[row])
}

func SetTextareaCursor(t *textarea.Model, row int, col int) {
	lineCount := t.LineCount()
	if lineCount == 0 {
		t.SetCursor(0)
		return
	}
	row = max(0, min(row, lineCount-1))

	for i := 0; i < 10000 && t.Line() > row; i++ {
		t.CursorUp()
	}
	for i := 0; i < 10000 && t.Line() < row; i++ {
		t.CursorDown()
	}
	t.SetCursor(col)
}

func cursorIndexFromRowCol(value string, row int, col int) int {
	lines := strings.Split(value, "\n")
	row = max(0, min(row, len(lines)-1))

	index := 0
	for i := 0; i < row; i++ {
		index += len(lines[i]) + 1
	}
	return index + byteIndexForRuneColumn(lines[row], col)
}

func byteIndexForRuneColumn(s string, col int) int {
	if col <= 0 {
		return 0
	}
	count := 0
	for i := range s {
		if count >= col {
			return i
		}
		count++
	}
	return len(s)
}

func runeIndexForByteIndex(s string, idx int) int {
	if idx <= 0 {
		return 0
	}
	count := 0
	for i := range s {
		if i >= idx {
			return count
		}
		count++
	}
	return count
}

// WrappedLineCount is the number of rows value takes at width cells.
func WrappedLineCount(value string, width int) int {
	if width <= 0 {
		return 1
	}
	count := 0
	for _, line := range strings.Split(value, "\n") {
		w := runewidth.StringWidth(line)
		if w == 0 {
			count++
			continue
		}
		count += (w-1)/width + 1
	}
	return count
}

// PromptPreview flattens s onto one line.
func PromptPreview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	const maxRunes = 500
	if r := []rune(s); len(r) > maxRunes {
		return string(r[:maxRunes])
	}
	return s
}

func TruncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	if max == 1 {
		return "…"
	}
	return string(r[:max-1]) + "…"
}

func RelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t)
	if d < 0 {
		d = -d
	}
	plural := func(n int, unit string) string {
		if n == 1 {
			return "1 " + unit + " ago"
		}
		return fmt.Sprintf("%d %ss ago", n, unit)
	}
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "min")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hr")
	}
	days := int(d.Hours() / 24)
	if days < 14 {
		return plural(days, "day")
	}
	return plural(days/7, "week")
}

// sessionLabel is the text shown for a session in the history list.
func sessionLabel(s models.ChatSession) string {
	if title := PromptPreview(s.Title); title != "" {
		return title
	}
	return "(untitled)"
}

// sessionTime picks the most recent timestamp the service gave us.
func sessionTime(s models.ChatSession) time.Time {
	for _, t := range []time.Time{s.LastMessageAt, s.UpdatedAt, s.CreatedAt} {
		if !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

func FormatUserMessage(content string, width int) string {
	label := styles.UserLabelStyle.Render("YOU")
	msg := styles.UserMsgStyle.Width(max(width-4, 10)).Render(content)
	return label + "\n" + msg
}

// FormatAIMessage renders an assistant reply with its provider badge.
func FormatAIMessage(badge, content string) string {
	header := styles.AiLabelStyle.Render("AI")
	if badge != "" {
		header = lipgloss.JoinHorizontal(lipgloss.Center, header, badge)
	}
	return header + "\n" + styles.AiMsgStyle.Render(content)
}

// ProviderBadge labels a reply with the provider and model that answered it.
func ProviderBadge(provider, model string) string {
	var parts []string
	if provider != "" {
		parts = append(parts, models.ProviderDisplayName(provider))
	}
	if model != "" {
		parts = append(parts, model)
	}
	if len(parts) == 0 {
		return ""
	}
	return lipgloss.NewStyle().
		Foreground(styles.ProviderColor(provider)).
		Italic(true).
		Render(strings.Join(parts, " · "))
}

// FormatViolation renders the diagnostic shown in place of content that did
// not arrive as text.
func FormatViolation(v *models.ContractViolation, width int) string {
	raw := TruncateRunes(PromptPreview(v.Raw), 200)
	body := chaterr.New(chaterr.ContractViolation, "").UserMessage()
	if raw != "" {
		body += "\n" + raw
	}
	return styles.DiagnosticStyle.Width(max(width-6, 10)).Render(body)
}

func FormatUsage(u *models.Usage) string {
	if u == nil {
		return ""
	}
	return styles.InputTokenStyle.Render(fmt.Sprintf("In:%d", u.InputTokens)) + " " +
		styles.OutputTokenStyle.Render(fmt.Sprintf("Out:%d", u.OutputTokens))
}
