package tokenizer

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// LoadFiles builds a Tokenizer from a vocabulary file (one token per
// line, line number is its id) and a merges file (one "left right"
// pair per line, in rank order) — the on-disk tokenizer format is out
// of scope to fully specify (§1), but something real has to sit behind
// internal/tokenizer for the server to run end to end.
func LoadFiles(vocabPath, mergesPath string, specialTokens map[string]int) (*Tokenizer, error) {
	vocab, err := readLines(vocabPath)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load vocab: %w", err)
	}
	mergeLines, err := readLines(mergesPath)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: load merges: %w", err)
	}

	merges := make([][2]string, 0, len(mergeLines))
	for _, line := range mergeLines {
		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("tokenizer: malformed merge line %q", line)
		}
		merges = append(merges, [2]string{parts[0], parts[1]})
	}

	return New(vocab, merges, specialTokens)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
