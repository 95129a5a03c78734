package ffmpeg

import (
	"fmt"
	"strings"
)

// protocolPrefixes are ffmpeg URL protocols that reach outside the workspace.
var protocolPrefixes = []string{
	"file:", "concat:", "subfile:", "pipe:", "fd:", "data:", "cache:", "async:",
	"http:", "https:", "tcp:", "udp:", "rtp:", "rtmp:", "rtsp:", "srt:", "ftp:", "sftp:", "unix:",
}

// ValidateArgs checks an argument list before it reaches the engine. Every
// path must stay inside the job workspace: absolute paths, home-relative
// paths, parent traversal and network or file protocols are rejected, both
// as plain arguments and inside option values such as filter graphs.
func ValidateArgs(args []string) error {
	hasInput := false
	for i, arg := range args {
		if arg == "-i" && i+1 < len(args) {
			hasInput = true
		}
		if err := validateArg(arg); err != nil {
			return err
		}
	}
	if !hasInput {
		return fmt.Errorf("command must include at least one input (-i <file>)")
	}
	return nil
}

func validateArg(arg string) error {
	if strings.Contains(arg, "://") {
		return fmt.Errorf("disallowed URL in argument: %s", arg)
	}
	lower := strings.ToLower(arg)
	for _, p := range protocolPrefixes {
		if strings.HasPrefix(lower, p) {
			return fmt.Errorf("disallowed protocol in argument: %s", arg)
		}
	}

	parts := strings.FieldsFunc(arg, func(r rune) bool {
		return strings.ContainsRune("=,:;'\"[]| \t", r)
	})
	for _, part := range parts {
		switch {
		case strings.HasPrefix(part, "/"), strings.HasPrefix(part, "\\"), strings.HasPrefix(part, "~"):
			return fmt.Errorf("disallowed absolute path in argument: %s", arg)
		case part == "..", strings.HasPrefix(part, "../"), strings.HasSuffix(part, "/.."), strings.Contains(part, "/../"):
			return fmt.Errorf("disallowed path traversal in argument: %s", arg)
		}
	}
	return nil
}
