package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateArgs(t *testing.T) {
	t.Run("translated command", func(t *testing.T) {
		args := []string{"-y", "-i", "input_0.mp4", "-vf", "scale=1280:720,setsar=1:1", "-c:v", "libx264", "output.mp4"}
		assert.NoError(t, ValidateArgs(args))
	})

	t.Run("filter graph with labels", func(t *testing.T) {
		args := []string{"-y", "-i", "input_0.mp4", "-i", "input_1.png", "-filter_complex", "[0:v][1:v] overlay=10:10 [out]", "-map", "[out]", "out/output.mp4"}
		assert.NoError(t, ValidateArgs(args))
	})

	t.Run("missing input", func(t *testing.T) {
		err := ValidateArgs([]string{"-y", "-c:v", "libx264", "output.mp4"})
		assert.ErrorContains(t, err, "at least one input")
	})

	t.Run("dangling input flag", func(t *testing.T) {
		assert.Error(t, ValidateArgs([]string{"-y", "output.mp4", "-i"}))
	})

	rejected := map[string][]string{
		"absolute input":       {"-y", "-i", "/etc/passwd", "output.mp4"},
		"absolute output":      {"-y", "-i", "input_0.mp4", "/tmp/output.mp4"},
		"home directory":       {"-y", "-i", "~/secret.mp4", "output.mp4"},
		"parent traversal":     {"-y", "-i", "../input_0.mp4", "output.mp4"},
		"nested traversal":     {"-y", "-i", "input_0.mp4", "out/../../output.mp4"},
		"url input":            {"-y", "-i", "https://example.com/a.mp4", "output.mp4"},
		"file protocol":        {"-y", "-i", "file:input_0.mp4", "output.mp4"},
		"concat protocol":      {"-y", "-i", "concat:a.mp4|b.mp4", "output.mp4"},
		"pipe output":          {"-y", "-i", "input_0.mp4", "pipe:1"},
		"movie filter escapes": {"-y", "-i", "input_0.mp4", "-vf", "movie=/etc/hosts [wm]; [in][wm] overlay", "output.mp4"},
		"quoted path in value": {"-y", "-i", "input_0.mp4", "-vf", "subtitles='../subs.srt'", "output.mp4"},
	}
	for name, args := range rejected {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, ValidateArgs(args))
		})
	}
}
