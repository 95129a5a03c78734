// Package script turns a comment-annotated ffmpeg script into the argument
// list handed to the engine.
package script

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/shlex"
)

const (
	InputFlag     = "-i"
	OverwriteFlag = "-y"
	DefaultOutput = "output.mp4"

	commentMarker   = "#"
	placeholderBase = "input."
	outputMarker    = "output."
)

// defaultTail follows the input pairs of the default command.
var defaultTail = []string{"-c:v", "libx264", "-pix_fmt", "yuv420p", DefaultOutput}

// InputFile describes one uploaded file in submission order.
type InputFile struct {
	Name        string `json:"name"`
	ContentType string `json:"type,omitempty"`
}

// Translation is the outcome of translating a script.
type Translation struct {
	Args   []string `json:"args"`
	Output string   `json:"output"`
	// Fallback is set when the script was unusable and the default command
	// replaced it. Every user flag is discarded in that case.
	Fallback bool `json:"defaultCommand"`
}

// Translate returns the argument list for script and files.
func Translate(script string, files []InputFile) []string {
	return TranslateScript(script, files).Args
}

// TranslateScript maps a script and its input files to an argument list.
// A script that is empty after comment stripping, or that has no -i flag,
// degrades to the default command. It never fails.
func TranslateScript(script string, files []InputFile) Translation {
	tokens := tokenize(flatten(script))
	if !contains(tokens, InputFlag) {
		return Translation{Args: DefaultArgs(files), Output: DefaultOutput, Fallback: true}
	}

	if len(files) > 0 {
		replacement := SyntheticName(0, files[0].Name)
		for i := 0; i < len(tokens)-1; i++ {
			if tokens[i] == InputFlag && isPlaceholder(inputValue(tokens[i+1])) {
				tokens[i+1] = replacement
			}
		}
	}

	hasOutput := false
	for _, tok := range tokens {
		if strings.Contains(tok, outputMarker) {
			hasOutput = true
			break
		}
	}
	if !hasOutput {
		tokens = append(tokens, DefaultOutput)
	}

	args := make([]string, 0, len(tokens)+1)
	args = append(args, OverwriteFlag)
	for _, tok := range tokens {
		if tok != OverwriteFlag {
			args = append(args, tok)
		}
	}

	return Translation{Args: args, Output: OutputName(args)}
}

// DefaultArgs builds the command used when a script is unusable: one -i pair
// per file in order, re-encoded to H.264 in output.mp4.
func DefaultArgs(files []InputFile) []string {
	args := make([]string, 0, 1+2*len(files)+len(defaultTail))
	args = append(args, OverwriteFlag)
	for i, f := range files {
		args = append(args, InputFlag, SyntheticName(i, f.Name))
	}
	return append(args, defaultTail...)
}

// Extension returns name from its last dot onward, or "" when it has none.
func Extension(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return ""
	}
	return name[i:]
}

// SyntheticName is the name a file is materialized under for the engine.
func SyntheticName(index int, name string) string {
	return fmt.Sprintf("input_%d%s", index, Extension(name))
}

// OutputName picks the output file the engine is expected to produce.
func OutputName(args []string) string {
	for i := len(args) - 1; i >= 0; i-- {
		if strings.HasPrefix(path.Base(args[i]), outputMarker) {
			return args[i]
		}
	}
	for i := len(args) - 1; i >= 0; i-- {
		if strings.Contains(args[i], outputMarker) {
			return args[i]
		}
	}
	return DefaultOutput
}

// flatten strips comments per line and joins the lines with single spaces.
func flatten(script string) string {
	lines := strings.Split(script, "\n")
	for i, line := range lines {
		if idx := strings.Index(line, commentMarker); idx >= 0 {
			line = line[:idx]
		}
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, " "))
}

// tokenize splits s on whitespace outside quotes. Token bytes are kept as
// written, so ffmpeg's own escaping (backslashes and single-quoted filter
// arguments) reaches the engine unchanged. Double quotes only group text and
// are dropped. Unbalanced quotes fall back to plain whitespace splitting.
func tokenize(s string) []string {
	var (
		tokens []string
		cur    strings.Builder
		quote  byte
	)
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && quote != '\'':
			cur.WriteByte(c)
			if i+1 < len(s) {
				i++
				cur.WriteByte(s[i])
			}
		case quote == '"' && c == '"':
			quote = 0
		case quote == '\'' && c == '\'':
			quote = 0
			cur.WriteByte(c)
		case quote != 0:
			cur.WriteByte(c)
		case c == '"':
			quote = c
		case c == '\'':
			quote = c
			cur.WriteByte(c)
		case isSpace(c):
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	if quote != 0 {
		return strings.Fields(s)
	}
	flush()
	return tokens
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// inputValue is the file name an -i value refers to once shell quoting is
// removed, so -i 'input.mp4' still names the placeholder.
func inputValue(tok string) string {
	fields, err := shlex.Split(tok)
	if err != nil || len(fields) != 1 {
		return tok
	}
	return fields[0]
}

func isPlaceholder(tok string) bool {
	if !strings.HasPrefix(tok, placeholderBase) || len(tok) == len(placeholderBase) {
		return false
	}
	return !strings.ContainsAny(tok, " \t\r\n")
}

func contains(tokens []string, want string) bool {
	for _, tok := range tokens {
		if tok == want {
			return true
		}
	}
	return false
}
