package observer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lightkeeper/lightkeeper/internal/state"
	"github.com/lightkeeper/lightkeeper/internal/types"
)

// tailWindow is how many bytes before the cursor offset are hashed to
// detect in-place rewrites that keep the inode but replace content.
const tailWindow = 64

// LogPatternOptions configures a rotation-aware log observer.
type LogPatternOptions struct {
	// Path is the active log file to tail.
	Path string `yaml:"path"`
	// Patterns are tried per line in order; the first match wins and is
	// attributed unless MatchAny is set.
	Patterns []string `yaml:"patterns"`
	// MatchAny treats the pattern list as unordered: a line counts when
	// any pattern matches.
	MatchAny bool `yaml:"match_any"`
	// RotatedPaths are extra candidate locations of the previous file
	// after rotation. Path+".1" is always probed.
	RotatedPaths []string `yaml:"rotated_paths"`
}

// Cursor records which physical file the observer last read and how far
// into it. Persisted after every successful read.
type Cursor struct {
	Device   uint64 `json:"device"`
	Inode    uint64 `json:"inode"`
	Offset   int64  `json:"offset"`
	TailHash string `json:"tail_hash,omitempty"`
	TailLen  int64  `json:"tail_len,omitempty"`
}

// LogPattern tails a log file for pattern matches, surviving rotation
// and truncation. Each instance exclusively owns its cursor file.
type LogPattern struct {
	path       string
	patterns   []*regexp.Regexp
	sources    []string
	matchAny   bool
	siblings   []string
	cursorPath string
	cursor     Cursor
	logger     zerolog.Logger
}

// NewLogPattern builds a log-pattern observer for one watcher, loading
// any persisted cursor from stateDir. A corrupt cursor starts fresh.
func NewLogPattern(watcher string, opts LogPatternOptions, stateDir string, logger zerolog.Logger) (*LogPattern, error) {
	if opts.Path == "" {
		return nil, errors.New("log_pattern observer: path is required")
	}
	if len(opts.Patterns) == 0 {
		return nil, errors.New("log_pattern observer: at least one pattern is required")
	}

	compiled := make([]*regexp.Regexp, 0, len(opts.Patterns))
	for _, p := range opts.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("log_pattern observer: pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}

	siblings := append([]string{}, opts.RotatedPaths...)
	siblings = append(siblings, opts.Path+".1")

	o := &LogPattern{
		path:       opts.Path,
		patterns:   compiled,
		sources:    opts.Patterns,
		matchAny:   opts.MatchAny,
		siblings:   siblings,
		cursorPath: filepath.Join(stateDir, watcher+".cursor.json"),
		logger:     logger.With().Str("observer", "log_pattern").Str("path", opts.Path).Logger(),
	}

	err := state.ReadJSON(o.cursorPath, &o.cursor)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		o.logger.Warn().Err(err).Msg("Could not load cursor, starting from offset 0")
		o.cursor = Cursor{}
	}
	return o, nil
}

// Observe reads everything new since the last check and matches it
// against the configured patterns. The cursor is advanced and persisted
// only after matching has succeeded, so a crash mid-read replays the
// affected bytes instead of losing them.
func (o *LogPattern) Observe(_ context.Context) (types.Observation, error) {
	fi, err := os.Stat(o.path)
	if errors.Is(err, os.ErrNotExist) {
		o.logger.Debug().Msg("Log file not found")
		return types.BoolObservation(false, map[string]string{
			"status":   "target missing",
			"log_file": o.path,
		}), nil
	}
	if err != nil {
		return types.Observation{}, fmt.Errorf("stat %s: %w", o.path, err)
	}

	dev, ino, idOK := fileIdentity(fi)
	meta := map[string]string{"log_file": o.path}

	var lines []string
	start := o.cursor.Offset

	sameFile := !idOK || o.cursor.Inode == 0 || (dev == o.cursor.Device && ino == o.cursor.Inode)
	if sameFile {
		size := fi.Size()
		switch {
		case size < start:
			// Truncated in place. Re-read from the top, best effort.
			o.logger.Info().
				Int64("offset", start).
				Int64("size", size).
				Msg("File truncated, resetting offset")
			meta["rotation"] = "truncated"
			start = 0
		case start > 0 && !o.tailIntact(o.path, start):
			// Inode unchanged but our last-read bytes are gone: the file
			// was rewritten underneath us (copytruncate then regrowth).
			o.logger.Info().Msg("Tail fingerprint mismatch, resetting offset")
			meta["rotation"] = "rewritten"
			start = 0
		}

		chunk, err := readRange(o.path, start, size)
		if err != nil {
			return types.Observation{}, fmt.Errorf("reading %s: %w", o.path, err)
		}
		complete, consumed := splitCompleteLines(chunk)
		lines = complete
		start += consumed
	} else {
		// Rotation: the active path now points at a different file.
		// Drain the unread tail of the old file if a sibling still holds
		// it, then start the new file from the top. If no sibling
		// matches, the old tail is lost (single-hop search, best effort).
		if tail, ok := o.drainRotatedSibling(); ok {
			lines = append(lines, tail...)
			meta["rotation"] = "rotated-sibling-drained"
		} else {
			meta["rotation"] = "rotated"
		}

		chunk, err := readRange(o.path, 0, fi.Size())
		if err != nil {
			return types.Observation{}, fmt.Errorf("reading %s: %w", o.path, err)
		}
		complete, consumed := splitCompleteLines(chunk)
		lines = append(lines, complete...)
		start = consumed
	}

	matched, patterns := o.matchLines(lines)
	meta["lines_read"] = strconv.Itoa(len(lines))
	if len(patterns) > 0 {
		meta["matched_patterns"] = strings.Join(patterns, ", ")
	}

	o.cursor.Device = dev
	o.cursor.Inode = ino
	o.cursor.Offset = start
	o.updateTail(start)
	if err := state.WriteJSONAtomic(o.cursorPath, &o.cursor); err != nil {
		return types.Observation{}, fmt.Errorf("persisting cursor: %w", err)
	}

	if len(matched) > 0 {
		o.logger.Info().Int("matches", len(matched)).Msg("Pattern matches found")
	}

	obs := types.BoolObservation(len(matched) > 0, meta)
	obs.MatchedLines = matched
	return obs, nil
}

// drainRotatedSibling probes candidate rotated paths for the file whose
// identity matches the stored cursor and returns its unread lines. The
// final line of a finished rotated file is taken even without a
// terminator, since nothing will be appended to it.
func (o *LogPattern) drainRotatedSibling() ([]string, bool) {
	for _, sib := range o.siblings {
		fi, err := os.Stat(sib)
		if err != nil {
			continue
		}
		dev, ino, ok := fileIdentity(fi)
		if !ok || dev != o.cursor.Device || ino != o.cursor.Inode {
			continue
		}
		if fi.Size() < o.cursor.Offset {
			// The sibling shrank below our offset, nothing trustworthy left.
			return nil, false
		}
		chunk, err := readRange(sib, o.cursor.Offset, fi.Size())
		if err != nil {
			o.logger.Warn().Err(err).Str("sibling", sib).Msg("Could not drain rotated file")
			return nil, false
		}
		o.logger.Info().Str("sibling", sib).Int("bytes", len(chunk)).Msg("Drained rotated file tail")
		return splitAllLines(chunk), true
	}
	return nil, false
}

// tailIntact re-reads the bytes just before offset and compares them to
// the stored tail hash.
func (o *LogPattern) tailIntact(path string, offset int64) bool {
	if o.cursor.TailLen == 0 || o.cursor.TailLen > offset {
		return true
	}
	data, err := readRange(path, offset-o.cursor.TailLen, offset)
	if err != nil {
		return true
	}
	return hashBytes(data) == o.cursor.TailHash
}

// updateTail refreshes the tail fingerprint to cover the bytes ending
// at the new offset.
func (o *LogPattern) updateTail(offset int64) {
	n := int64(tailWindow)
	if offset < n {
		n = offset
	}
	if n == 0 {
		o.cursor.TailHash = ""
		o.cursor.TailLen = 0
		return
	}
	data, err := readRange(o.path, offset-n, offset)
	if err != nil {
		o.cursor.TailHash = ""
		o.cursor.TailLen = 0
		return
	}
	o.cursor.TailHash = hashBytes(data)
	o.cursor.TailLen = n
}

// matchLines classifies lines against the configured patterns. In
// ordered mode the first matching pattern is credited per line; in
// match-any mode only the line itself is collected.
func (o *LogPattern) matchLines(lines []string) (matched, patterns []string) {
	seen := make(map[string]bool)
	for _, line := range lines {
		line = strings.ToValidUTF8(strings.TrimSuffix(line, "\r"), "")
		for i, re := range o.patterns {
			if re.MatchString(line) {
				matched = append(matched, line)
				if !o.matchAny && !seen[o.sources[i]] {
					seen[o.sources[i]] = true
					patterns = append(patterns, o.sources[i])
				}
				break
			}
		}
	}
	return matched, patterns
}

// splitCompleteLines returns the terminated lines in data and how many
// bytes they cover. An unterminated trailing fragment is held back so
// no prefix of a line is ever matched twice or dropped.
func splitCompleteLines(data []byte) (lines []string, consumed int64) {
	for {
		i := bytes.IndexByte(data[consumed:], '\n')
		if i < 0 {
			return lines, consumed
		}
		lines = append(lines, string(data[consumed:consumed+int64(i)]))
		consumed += int64(i) + 1
	}
}

// splitAllLines splits data into lines, keeping a final unterminated
// fragment as its own line.
func splitAllLines(data []byte) []string {
	lines, consumed := splitCompleteLines(data)
	if rest := data[consumed:]; len(rest) > 0 {
		lines = append(lines, string(rest))
	}
	return lines
}

func readRange(path string, from, to int64) ([]byte, error) {
	if to <= from {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(from, io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, to-from)
	n, err := io.ReadFull(f, buf)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		// The file shrank between stat and read; use what we got.
		return buf[:n], nil
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
