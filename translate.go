package main

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"ffscript/script"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type translateOutput struct {
	Args           []string `json:"args" yaml:"args"`
	Output         string   `json:"output" yaml:"output"`
	DefaultCommand bool     `json:"defaultCommand" yaml:"defaultCommand"`
}

func newTranslateCmd() *cobra.Command {
	var (
		scriptPath string
		fileNames  []string
		format     string
	)

	cmd := &cobra.Command{
		Use:   "translate",
		Short: "Print the ffmpeg arguments a script produces",
		Example: `  ffscript translate --script edit.ffs --file holiday.mov
  echo "-i input.mp4 -vf scale=640:-1" | ffscript translate --script - --file a.mp4 --format shell`,
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readScript(scriptPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			tr := script.TranslateScript(text, inputFiles(fileNames))
			return writeTranslation(cmd.OutOrStdout(), format, tr)
		},
	}

	cmd.Flags().StringVarP(&scriptPath, "script", "s", "-", "Script file, or - for stdin")
	cmd.Flags().StringArrayVarP(&fileNames, "file", "f", nil, "Input file name, in order (repeatable)")
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json, yaml or shell")
	cmd.MarkFlagRequired("file")
	return cmd
}

func readScript(path string, stdin io.Reader) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read script from stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(data), nil
}

func inputFiles(paths []string) []script.InputFile {
	files := make([]script.InputFile, len(paths))
	for i, p := range paths {
		name := filepath.Base(p)
		files[i] = script.InputFile{Name: name, ContentType: mime.TypeByExtension(filepath.Ext(name))}
	}
	return files
}

func writeTranslation(w io.Writer, format string, tr script.Translation) error {
	out := translateOutput{Args: tr.Args, Output: tr.Output, DefaultCommand: tr.Fallback}
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	case "shell":
		quoted := make([]string, len(tr.Args))
		for i, a := range tr.Args {
			quoted[i] = shellQuote(a)
		}
		_, err := fmt.Fprintf(w, "ffmpeg %s\n", strings.Join(quoted, " "))
		return err
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./:=,%+@", r))
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
