package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"multistrat/internal/schema"
)

// Replay reads every journal file under dir with the given prefix, in file
// name order, and feeds each decoded event to fn. File names embed the open
// timestamp, so name order is write order. Replay stops at the first error
// from fn; a decode error names the offending file and line.
func Replay(dir, prefix string, fn func(schema.Event) error) error {
	if prefix == "" {
		prefix = defaultFilePrefix
	}
	pattern := filepath.Join(dir, prefix+"-*.jsonl")
	files, err := filepath.Glob(pattern)
	if err != nil {
		return err
	}
	sort.Strings(files)

	for _, path := range files {
		if err := replayFile(path, fn); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, fn func(schema.Event) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var e schema.Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("journal %s line %d: %w", filepath.Base(path), line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return scanner.Err()
}
