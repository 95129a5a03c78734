package script

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func files(names ...string) []InputFile {
	out := make([]InputFile, len(names))
	for i, n := range names {
		out[i] = InputFile{Name: n}
	}
	return out
}

func TestTranslate_CommentStripping(t *testing.T) {
	script := "# comment only\n-i input.mp4 -c:v libx264 output.mp4"

	args := Translate(script, files("a.mp4"))

	assert.Equal(t, []string{"-y", "-i", "input_0.mp4", "-c:v", "libx264", "output.mp4"}, args)
}

func TestTranslate_MissingOutput(t *testing.T) {
	args := Translate("-i input.mp4 -c:v libx264", files("a.mov"))

	assert.Equal(t, []string{"-y", "-i", "input_0.mov", "-c:v", "libx264", "output.mp4"}, args)
}

func TestTranslate_DefaultCommand(t *testing.T) {
	t.Run("empty script with two files", func(t *testing.T) {
		args := Translate("", files("a.jpg", "b.png"))
		assert.Equal(t, []string{"-y", "-i", "input_0.jpg", "-i", "input_1.png", "-c:v", "libx264", "-pix_fmt", "yuv420p", "output.mp4"}, args)
	})

	t.Run("comments and whitespace only", func(t *testing.T) {
		tr := TranslateScript("  # nothing here\n\n   \t\n# still nothing", files("clip.webm"))
		assert.True(t, tr.Fallback)
		assert.Equal(t, []string{"-y", "-i", "input_0.webm", "-c:v", "libx264", "-pix_fmt", "yuv420p", "output.mp4"}, tr.Args)
		assert.Equal(t, "output.mp4", tr.Output)
	})

	t.Run("script without input flag discards user flags", func(t *testing.T) {
		tr := TranslateScript("-c:v libvpx -r 24 final.webm", files("a.mp4", "b.mp4", "c.mp4"))
		assert.True(t, tr.Fallback)
		assert.Equal(t, []string{
			"-y",
			"-i", "input_0.mp4",
			"-i", "input_1.mp4",
			"-i", "input_2.mp4",
			"-c:v", "libx264", "-pix_fmt", "yuv420p", "output.mp4",
		}, tr.Args)
	})

	t.Run("input flag inside a comment does not count", func(t *testing.T) {
		tr := TranslateScript("-c:v libx264 # -i input.mp4", files("a.mp4"))
		assert.True(t, tr.Fallback)
	})

	t.Run("file without extension", func(t *testing.T) {
		args := Translate("", files("README"))
		assert.Equal(t, []string{"-y", "-i", "input_0", "-c:v", "libx264", "-pix_fmt", "yuv420p", "output.mp4"}, args)
	})
}

func TestTranslate_PlaceholderRewrite(t *testing.T) {
	t.Run("extension comes from file zero", func(t *testing.T) {
		args := Translate("-i input.mov -c copy output.mp4", files("clip.mp4"))
		assert.Equal(t, []string{"-y", "-i", "input_0.mp4", "-c", "copy", "output.mp4"}, args)
	})

	t.Run("every placeholder is rewritten", func(t *testing.T) {
		args := Translate("-i input.mp4 -i input.mkv -filter_complex hstack output.mp4", files("a.avi", "b.avi"))
		assert.Equal(t, []string{"-y", "-i", "input_0.avi", "-i", "input_0.avi", "-filter_complex", "hstack", "output.mp4"}, args)
	})

	t.Run("synthetic names are left alone", func(t *testing.T) {
		args := Translate("-i input_0.mp4 -i input_1.png -filter_complex overlay output.mp4", files("a.mp4", "b.png"))
		assert.Equal(t, []string{"-y", "-i", "input_0.mp4", "-i", "input_1.png", "-filter_complex", "overlay", "output.mp4"}, args)
	})

	t.Run("placeholder inside a quoted filter is not rewritten", func(t *testing.T) {
		args := Translate(`-i input.mp4 -vf "movie=input.png [wm]; [in][wm] overlay [out]" output.mp4`, files("a.mov"))
		assert.Equal(t, []string{"-y", "-i", "input_0.mov", "-vf", "movie=input.png [wm]; [in][wm] overlay [out]", "output.mp4"}, args)
	})

	t.Run("bare input dot is not a placeholder", func(t *testing.T) {
		args := Translate("-i input. output.mp4", files("a.mp4"))
		assert.Equal(t, []string{"-y", "-i", "input.", "output.mp4"}, args)
	})
}

func TestTranslate_QuotedArguments(t *testing.T) {
	script := "# Example FFmpeg command\n-i input.mp4 -vf \"scale=1280:720,setsar=1:1\" -c:v libx264 -crf 23 -preset medium -c:a aac -b:a 128k output.mp4"

	args := Translate(script, files("holiday.mp4"))

	assert.Equal(t, []string{
		"-y", "-i", "input_0.mp4", "-vf", "scale=1280:720,setsar=1:1",
		"-c:v", "libx264", "-crf", "23", "-preset", "medium", "-c:a", "aac", "-b:a", "128k", "output.mp4",
	}, args)
}

func TestTranslate_FilterEscapesPassThrough(t *testing.T) {
	t.Run("backslash escaped comma", func(t *testing.T) {
		args := Translate(`-i input.mp4 -vf select=eq(n\,0) -frames:v 1 output.png`, files("a.mp4"))
		assert.Equal(t, []string{"-y", "-i", "input_0.mp4", "-vf", `select=eq(n\,0)`, "-frames:v", "1", "output.png"}, args)
	})

	t.Run("single quoted filter argument", func(t *testing.T) {
		args := Translate(`-i input.mp4 -vf drawtext=text='a,b' output.mp4`, files("a.mp4"))
		assert.Equal(t, []string{"-y", "-i", "input_0.mp4", "-vf", "drawtext=text='a,b'", "output.mp4"}, args)
	})

	t.Run("single quotes keep spaces in one token", func(t *testing.T) {
		args := Translate(`-i input.mp4 -vf drawtext=text='hello world':x=10 output.mp4`, files("a.mp4"))
		assert.Equal(t, []string{"-y", "-i", "input_0.mp4", "-vf", "drawtext=text='hello world':x=10", "output.mp4"}, args)
	})

	t.Run("escapes inside double quotes", func(t *testing.T) {
		args := Translate(`-i input.mp4 -vf "select=eq(n\,0), scale=640:-1" output.mp4`, files("a.mp4"))
		assert.Equal(t, []string{"-y", "-i", "input_0.mp4", "-vf", `select=eq(n\,0), scale=640:-1`, "output.mp4"}, args)
	})

	t.Run("quoted placeholder is rewritten", func(t *testing.T) {
		args := Translate(`-i 'input.mkv' output.mp4`, files("a.webm"))
		assert.Equal(t, []string{"-y", "-i", "input_0.webm", "output.mp4"}, args)
	})
}

func TestTranslate_UnbalancedQuotesFallBackToWhitespace(t *testing.T) {
	args := Translate(`-i input.mp4 -vf "scale=640:-1 output.mp4`, files("a.mp4"))

	assert.Equal(t, []string{"-y", "-i", "input_0.mp4", "-vf", `"scale=640:-1`, "output.mp4"}, args)
}

func TestTranslate_OverwriteFlag(t *testing.T) {
	t.Run("leading -y is kept once", func(t *testing.T) {
		args := Translate("-y -i input.mp4 output.mp4", files("a.mp4"))
		assert.Equal(t, []string{"-y", "-i", "input_0.mp4", "output.mp4"}, args)
	})

	t.Run("stray -y is moved to the front", func(t *testing.T) {
		args := Translate("-i input.mp4 -y -c copy -y output.mkv", files("a.mp4"))
		assert.Equal(t, []string{"-y", "-i", "input_0.mp4", "-c", "copy", "output.mkv"}, args)
	})
}

func TestTranslate_Invariants(t *testing.T) {
	scripts := []string{
		"",
		"   ",
		"# only a comment",
		"-i input.mp4",
		"-i   input.mp4    -c:v   libx264\n\n\n",
		"-framerate 30 -i input_%d.jpg -c:v libx264 -pix_fmt yuv420p output.mp4",
		"-y -y -y -i input.mov",
		`-i input.mp4 -metadata title="" output.mov`,
		"-ss 5 -t 10 -i input.webm clip.webm",
		"-i\tinput.mp4\r\n-an output.mp3",
	}
	inputs := files("first.mp4", "second.png")

	for _, s := range scripts {
		args := Translate(s, inputs)

		require.NotEmpty(t, args, "script %q", s)
		assert.Equal(t, "-y", args[0], "script %q", s)
		yCount := 0
		for _, a := range args {
			assert.NotEmpty(t, a, "script %q produced an empty token", s)
			if a == "-y" {
				yCount++
			}
		}
		assert.Equal(t, 1, yCount, "script %q", s)
		assert.Contains(t, strings.Join(args, " "), "output.", "script %q", s)
		assert.Equal(t, args, Translate(s, inputs), "script %q is not deterministic", s)
	}
}

func TestTranslate_ConcurrentCallers(t *testing.T) {
	want := Translate("-i input.mp4 -c copy output.mp4", files("a.mp4"))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, Translate("-i input.mp4 -c copy output.mp4", files("a.mp4")))
		}()
	}
	wg.Wait()
}

func TestExtensionAndSyntheticName(t *testing.T) {
	assert.Equal(t, ".mp4", Extension("clip.mp4"))
	assert.Equal(t, ".gz", Extension("archive.tar.gz"))
	assert.Equal(t, "", Extension("noext"))
	assert.Equal(t, ".", Extension("trailing."))
	assert.Equal(t, ".hidden", Extension(".hidden"))

	assert.Equal(t, "input_0.mp4", SyntheticName(0, "clip.mp4"))
	assert.Equal(t, "input_3", SyntheticName(3, "noext"))
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "output.mp4", OutputName([]string{"-y", "-i", "input_0.mp4"}))
	assert.Equal(t, "output.webm", OutputName([]string{"-y", "-i", "input_0.mp4", "output.webm"}))
	assert.Equal(t, "out/output.mkv", OutputName([]string{"-y", "-i", "input_0.mp4", "out/output.mkv"}))
	assert.Equal(t, "myoutput.mov", OutputName([]string{"-y", "-i", "input_0.mp4", "myoutput.mov"}))

	tr := TranslateScript("-i input.mp4 -c copy output.mov", files("a.mp4"))
	assert.Equal(t, "output.mov", tr.Output)
	assert.False(t, tr.Fallback)
}

func TestTemplatesTranslate(t *testing.T) {
	for _, tpl := range Templates() {
		tr := TranslateScript(tpl.Script, files("a.mp4"))
		assert.False(t, tr.Fallback, tpl.Name)
		assert.Equal(t, "output.mp4", tr.Output, tpl.Name)
	}
}
