package profile

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/0xmhha/guestprof/internal/near"
)

// ExportFormat represents the export format
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

// Exporter handles report export functionality
type Exporter struct {
	outputDir string
}

// NewExporter creates a new Exporter
func NewExporter(outputDir string) *Exporter {
	return &Exporter{
		outputDir: outputDir,
	}
}

// Export exports the report to the specified format
func (e *Exporter) Export(report *Report, format ExportFormat) (string, error) {
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := report.EndTime.Format("20060102_150405")

	switch format {
	case FormatJSON:
		return e.exportJSON(report, timestamp)
	case FormatCSV:
		return e.exportCSV(report, timestamp)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// ExportAll exports the report in every supported format.
func (e *Exporter) ExportAll(report *Report) ([]string, error) {
	var files []string
	for _, format := range []ExportFormat{FormatJSON, FormatCSV} {
		f, err := e.Export(report, format)
		if err != nil {
			return files, err
		}
		files = append(files, f)
	}
	return files, nil
}

// JSONReport is a JSON-serializable version of Report
type JSONReport struct {
	RunID        string            `json:"run_id"`
	Network      string            `json:"network"`
	Contract     string            `json:"contract"`
	StartTime    string            `json:"start_time"`
	EndTime      string            `json:"end_time"`
	Duration     string            `json:"duration"`
	Accumulators []JSONEntry       `json:"accumulators"`
	Measurements []JSONMeasurement `json:"measurements"`
}

// JSONEntry is a JSON-serializable accumulator. Amounts are yoctoNEAR strings.
type JSONEntry struct {
	Key       string `json:"key"`
	Count     int    `json:"count"`
	Burn      string `json:"burn"`
	Storage   string `json:"storage"`
	Released  string `json:"released"`
	Total     string `json:"total"`
	TotalNEAR string `json:"total_near"`
}

// JSONMeasurement is a JSON-serializable closed measurement.
type JSONMeasurement struct {
	Account      string `json:"account"`
	Key          string `json:"key"`
	Kind         string `json:"kind"`
	Burn         string `json:"burn"`
	StorageBytes int64  `json:"storage_bytes"`
	Storage      string `json:"storage"`
	Accumulated  string `json:"accumulated"`
	BlockBefore  uint64 `json:"block_before"`
	BlockAfter   uint64 `json:"block_after"`
	Duration     string `json:"duration"`
}

func (e *Exporter) exportJSON(report *Report, timestamp string) (string, error) {
	filename := filepath.Join(e.outputDir, fmt.Sprintf("costs_%s.json", timestamp))

	data, err := json.MarshalIndent(createJSONReport(report), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	return filename, nil
}

func createJSONReport(report *Report) *JSONReport {
	jr := &JSONReport{
		RunID:        report.RunID,
		Network:      report.Network,
		Contract:     report.Contract,
		StartTime:    report.StartTime.Format(time.RFC3339),
		EndTime:      report.EndTime.Format(time.RFC3339),
		Duration:     report.Duration().String(),
		Accumulators: make([]JSONEntry, 0, len(report.Entries)),
		Measurements: make([]JSONMeasurement, 0, len(report.History)),
	}

	for _, entry := range report.Entries {
		jr.Accumulators = append(jr.Accumulators, JSONEntry{
			Key:       entry.Key,
			Count:     entry.Count,
			Burn:      entry.Burn.String(),
			Storage:   entry.Storage.String(),
			Released:  entry.Released.String(),
			Total:     entry.Total.String(),
			TotalNEAR: near.FormatNearAmount(entry.Total, DisplayDigits),
		})
	}

	for _, c := range report.History {
		jr.Measurements = append(jr.Measurements, JSONMeasurement{
			Account:      c.Label,
			Key:          c.Key,
			Kind:         c.Kind.String(),
			Burn:         c.Burn.String(),
			StorageBytes: c.StorageBytes,
			Storage:      c.Storage.String(),
			Accumulated:  c.Accumulated.String(),
			BlockBefore:  c.Before.BlockHeight,
			BlockAfter:   c.After.BlockHeight,
			Duration:     c.Duration.String(),
		})
	}

	return jr
}

func (e *Exporter) exportCSV(report *Report, timestamp string) (string, error) {
	filename := filepath.Join(e.outputDir, fmt.Sprintf("costs_%s.csv", timestamp))

	file, err := os.Create(filename)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"Account", "Key", "Kind", "Burn", "StorageBytes", "Storage", "Accumulated", "BlockBefore", "BlockAfter"}
	if err := writer.Write(header); err != nil {
		return "", fmt.Errorf("failed to write header: %w", err)
	}

	for _, c := range report.History {
		row := []string{
			c.Label,
			c.Key,
			c.Kind.String(),
			c.Burn.String(),
			fmt.Sprintf("%d", c.StorageBytes),
			c.Storage.String(),
			c.Accumulated.String(),
			fmt.Sprintf("%d", c.Before.BlockHeight),
			fmt.Sprintf("%d", c.After.BlockHeight),
		}
		if err := writer.Write(row); err != nil {
			return "", fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", fmt.Errorf("failed to flush csv: %w", err)
	}

	return filename, nil
}
