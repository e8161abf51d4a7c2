package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/Techinsane-official/scrapper/models"
)

func sampleProduct() *models.Product {
	return &models.Product{
		CatalogID:     "0b5c6f2e-0000-5000-8000-000000000001",
		ExternalID:    "B0863TXGM3",
		Retailer:      "amazon",
		SourceURL:     "https://www.amazon.com/dp/B0863TXGM3",
		Title:         "Sony WH-1000XM4 Wireless Headphones",
		Brand:         "Sony",
		CurrentPrice:  models.Float(75),
		OriginalPrice: models.Float(100),
		Rating:        models.Float(4.6),
		ReviewCount:   models.Int(1234),
		Availability:  models.InStock,
		Images:        []string{"https://m.media-amazon.com/images/I/a.jpg"},
		QualityScore:  0.925,
		ScrapedAt:     time.Date(2025, 11, 4, 13, 9, 13, 0, time.UTC),
	}
}

func TestCSVWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.csv")

	writer, err := NewCSVWriter(path)
	if err != nil {
		t.Fatalf("create csv writer: %v", err)
	}

	if err := writer.Write([]*models.Product{sampleProduct()}); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate csv: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close csv: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if records[0][0] != "catalog_id" || records[0][8] != "current_price" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	row := records[1]
	if row[3] != "Sony WH-1000XM4 Wireless Headphones" || row[8] != "75" || row[10] != "25" || row[12] != "1234" {
		t.Fatalf("unexpected row: %v", row)
	}
	if row[13] != "in_stock" || row[18] != "2025-11-04T13:09:13Z" {
		t.Fatalf("unexpected row: %v", row)
	}
}

func TestJSONWriterWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "products.jsonl")

	writer, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("create json writer: %v", err)
	}

	if err := writer.Write([]*models.Product{sampleProduct(), sampleProduct()}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close json: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open json: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		var decoded models.Product
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("invalid json line: %v", err)
		}
		if decoded.CurrentPrice == nil || *decoded.CurrentPrice != 75 {
			t.Fatalf("decoded price = %v, want 75", decoded.CurrentPrice)
		}
		if decoded.QualityScore != 0.925 {
			t.Fatalf("decoded quality = %v", decoded.QualityScore)
		}
		count++
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan json: %v", err)
	}
	if count != 2 {
		t.Fatalf("json lines=%d, want 2", count)
	}
}

func TestDualWriterWrite(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "out", "products.csv")
	jsonPath := filepath.Join(dir, "out", "products.jsonl")

	writer, err := NewDualWriter(csvPath, jsonPath)
	if err != nil {
		t.Fatalf("create dual writer: %v", err)
	}

	if err := writer.Write([]*models.Product{sampleProduct()}); err != nil {
		t.Fatalf("write dual: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate dual: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close dual: %v", err)
	}

	if info, err := os.Stat(csvPath); err != nil || info.Size() == 0 {
		t.Fatalf("csv file missing or empty")
	}
	if info, err := os.Stat(jsonPath); err != nil || info.Size() == 0 {
		t.Fatalf("json file missing or empty")
	}
}

func TestXLSXWriterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.xlsx")

	writer, err := NewXLSXWriter(path)
	if err != nil {
		t.Fatalf("create xlsx writer: %v", err)
	}
	if err := writer.Write([]*models.Product{sampleProduct()}); err != nil {
		t.Fatalf("write xlsx: %v", err)
	}
	held := sampleProduct()
	held.CatalogID = ""
	held.Retailer = "target"
	review := models.MergeDecision{
		Candidate:        held,
		Outcome:          models.OutcomeHeldForReview,
		MatchedCatalogID: "0b5c6f2e-0000-5000-8000-000000000001",
		Similarity:       0.8,
		Reason:           "dedup: ambiguous match",
	}
	if err := writer.WriteReview([]models.MergeDecision{review}); err != nil {
		t.Fatalf("write review: %v", err)
	}
	if err := writer.Validate(); err != nil {
		t.Fatalf("validate xlsx: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close xlsx: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("open xlsx: %v", err)
	}
	defer f.Close()

	rows, err := f.GetRows(productsSheet)
	if err != nil {
		t.Fatalf("read products sheet: %v", err)
	}
	if len(rows) != 2 || rows[1][3] != "Sony WH-1000XM4 Wireless Headphones" || rows[1][8] != "75" {
		t.Fatalf("unexpected products sheet: %v", rows)
	}

	reviewRows, err := f.GetRows(reviewSheet)
	if err != nil {
		t.Fatalf("read review sheet: %v", err)
	}
	if len(reviewRows) != 2 || reviewRows[1][0] != "target" || reviewRows[1][6] != "dedup: ambiguous match" {
		t.Fatalf("unexpected review sheet: %v", reviewRows)
	}
}

func TestRenderTableAlignsWideRunes(t *testing.T) {
	var sb strings.Builder
	err := RenderTable(&sb, []string{"title", "n"}, [][]string{
		{"ヘッドホン", "1"},
		{"headphones", "22"},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	lines := strings.Split(strings.TrimRight(sb.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines=%d, want 4:\n%s", len(lines), sb.String())
	}
	want := "| ヘッドホン | 1   |"
	if lines[2] != want {
		t.Fatalf("row = %q, want %q", lines[2], want)
	}
	if lines[3] != "| headphones | 22  |" {
		t.Fatalf("row = %q", lines[3])
	}
}

func TestLoadRawRecords(t *testing.T) {
	dir := t.TempDir()
	single := `{"retailer":"amazon","source_url":"https://www.amazon.com/dp/B0863TXGM3","raw_fields":{"title":"Sony WH-1000XM4","price":"$278.00"},"scraped_at":"2024-06-01T09:00:00Z"}`
	array := `[{"retailer":"walmart","source_url":"https://www.walmart.com/ip/x/604342441","raw_fields":{"title":"Sony"}}]`
	lines := "{\"retailer\":\"target\",\"source_url\":\"https://www.target.com/p/x/-/A-54191097\",\"raw_fields\":{\"title\":\"Anker\"}}\n" +
		"{\"retailer\":\"bestbuy\",\"source_url\":\"https://www.bestbuy.com/site/x/6408356.p\",\"raw_fields\":{\"title\":\"Logitech\"}}\n"

	files := map[string]string{
		"a.json":       single,
		"b/c.json":     array,
		"b/d.jsonl":    lines,
		"notes.txt":    "ignored",
		"b/empty.json": "",
	}
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	records, err := LoadRawRecords(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 4 {
		t.Fatalf("records=%d, want 4", len(records))
	}
	order := []string{"amazon", "walmart", "target", "bestbuy"}
	for i, want := range order {
		if records[i].Retailer != want {
			t.Fatalf("record %d retailer = %q, want %q", i, records[i].Retailer, want)
		}
	}
	if records[0].Fields["price"] != "$278.00" || !records[0].ScrapedAt.Equal(time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
}
