package scraper

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// ReadURLFile reads one URL per line. Blank lines and lines starting with #
// are skipped.
func ReadURLFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open url file: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return urls, nil
}

// startURLs merges configured URLs with the URL file, dropping repeats.
func startURLs(urls []string, file string) ([]string, error) {
	all := append([]string(nil), urls...)
	if file != "" {
		fromFile, err := ReadURLFile(file)
		if err != nil {
			return nil, err
		}
		all = append(all, fromFile...)
	}
	seen := make(map[string]struct{}, len(all))
	out := all[:0]
	for _, u := range all {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out, nil
}
