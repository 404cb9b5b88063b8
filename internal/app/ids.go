package app

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadIDFile reads accessions from a file, one per line. Blank lines and
// #-comments are skipped; only the first whitespace-separated field of
// each line counts, so TSV exports paste in unchanged.
func ReadIDFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open id file: %w", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, strings.Fields(line)[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read id file: %w", err)
	}

	return ids, nil
}

// DedupIDs removes duplicate accessions while keeping input order.
func DedupIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
