package ffmpeg

import (
	"bytes"
	"regexp"
	"strconv"
	"sync"
)

var (
	durationRegex = regexp.MustCompile(`Duration: (\d+):(\d+):(\d+(?:\.\d+)?)`)
	timeRegex     = regexp.MustCompile(`time=(\d+):(\d+):(\d+(?:\.\d+)?)`)
)

func clockSeconds(m []string) float64 {
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.ParseFloat(m[3], 64)
	return float64(hours*3600+minutes*60) + seconds
}

// logWriter collects engine output and turns ffmpeg status lines into
// progress. ffmpeg ends status lines with \r, so both \r and \n split lines.
type logWriter struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	line       []byte
	duration   float64
	last       int
	onProgress ProgressFunc
}

func newLogWriter(onProgress ProgressFunc) *logWriter {
	return &logWriter{last: -1, onProgress: onProgress}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for _, c := range p {
		if c == '\n' || c == '\r' {
			w.parse(string(w.line))
			w.line = w.line[:0]
			continue
		}
		w.line = append(w.line, c)
	}
	return len(p), nil
}

func (w *logWriter) parse(line string) {
	if m := durationRegex.FindStringSubmatch(line); m != nil {
		if d := clockSeconds(m); d > w.duration {
			w.duration = d
		}
		return
	}
	if w.onProgress == nil || w.duration <= 0 {
		return
	}
	m := timeRegex.FindStringSubmatch(line)
	if m == nil {
		return
	}
	percent := int(clockSeconds(m) / w.duration * 100)
	if percent > 99 {
		percent = 99
	}
	if percent > w.last {
		w.last = percent
		w.onProgress(percent)
	}
}

func (w *logWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}
