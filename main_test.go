package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"ffscript/config"
	"ffscript/script"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestTranslateCmd(t *testing.T) {
	cmd := newTranslateCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("# scale down\n-i input.mp4 -vf \"scale=640:-1\" output.webm\n"))
	cmd.SetArgs([]string{"--file", "clips/holiday.mov", "--format", "yaml"})

	require.NoError(t, cmd.Execute())

	var got translateOutput
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, []string{"-y", "-i", "input_0.mov", "-vf", "scale=640:-1", "output.webm"}, got.Args)
	assert.Equal(t, "output.webm", got.Output)
	assert.False(t, got.DefaultCommand)
}

func TestTranslateCmd_RequiresFiles(t *testing.T) {
	cmd := newTranslateCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader("-i input.mp4"))
	cmd.SetArgs(nil)

	assert.Error(t, cmd.Execute())
}

func TestWriteTranslation(t *testing.T) {
	tr := script.TranslateScript(`-i input.mp4 -metadata title="it's mine" output.mp4`, []script.InputFile{{Name: "a.mp4"}})

	t.Run("json", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, writeTranslation(&out, "json", tr))
		assert.JSONEq(t, `{"args":["-y","-i","input_0.mp4","-metadata","title=it's mine","output.mp4"],"output":"output.mp4","defaultCommand":false}`, out.String())
	})

	t.Run("shell", func(t *testing.T) {
		var out bytes.Buffer
		require.NoError(t, writeTranslation(&out, "shell", tr))
		assert.Equal(t, `ffmpeg -y -i input_0.mp4 -metadata 'title=it'\''s mine' output.mp4`+"\n", out.String())
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Error(t, writeTranslation(&bytes.Buffer{}, "xml", tr))
	})
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "scale=640:-1", shellQuote("scale=640:-1"))
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, "'[0:v][1:v] overlay'", shellQuote("[0:v][1:v] overlay"))
}

func TestRunLocal(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg needs a POSIX shell")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "ffmpeg")
	fake := "#!/bin/sh\n" +
		"for a in \"$@\"; do [ \"$a\" = -version ] && exit 0; done\n" +
		"in=\"\"; prev=\"\"; last=\"\"\n" +
		"for a in \"$@\"; do if [ \"$prev\" = -i ] && [ -z \"$in\" ]; then in=\"$a\"; fi; prev=\"$a\"; last=\"$a\"; done\n" +
		"cp \"$in\" \"$last\"\n"
	require.NoError(t, os.WriteFile(bin, []byte(fake), 0o755))

	input := filepath.Join(dir, "holiday.mov")
	require.NoError(t, os.WriteFile(input, []byte("frames"), 0o644))
	output := filepath.Join(dir, "result.mp4")

	cfg := &config.Config{FFBin: bin, WorkDir: filepath.Join(dir, "work")}
	require.NoError(t, runLocal(context.Background(), cfg, "-i input.mp4 -c copy output.mp4", []string{input}, output))

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "frames", string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "work", "jobs"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
