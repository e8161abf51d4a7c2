package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Techinsane-official/scrapper/models"
)

// LoadRawRecords reads every .json and .jsonl file under dir in lexical
// path order. A .json file holds one record or an array of records; a .jsonl
// file holds one record per line.
func LoadRawRecords(dir string) ([]models.RawRecord, error) {
	var records []models.RawRecord
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		var loaded []models.RawRecord
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			loaded, err = readJSONFile(path)
		case ".jsonl", ".ndjson":
			loaded, err = readJSONLines(path)
		default:
			return nil
		}
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		records = append(records, loaded...)
		return nil
	})
	return records, err
}

func readJSONFile(path string) ([]models.RawRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var records []models.RawRecord
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var record models.RawRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return []models.RawRecord{record}, nil
}

func readJSONLines(path string) ([]models.RawRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []models.RawRecord
	dec := json.NewDecoder(bufio.NewReader(f))
	for {
		var record models.RawRecord
		if err := dec.Decode(&record); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(records)+1, err)
		}
		records = append(records, record)
	}
	return records, nil
}
