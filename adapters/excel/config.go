package excel

// ExportConfig holds configuration for workbook export
type ExportConfig struct {
	// MaxSampleRows caps the rows written to the Samples and chain sheets. Zero means no cap.
	MaxSampleRows int `json:"max_sample_rows"`
	// IncludeTuning adds each chain's tuning draws as a separate sheet.
	IncludeTuning bool `json:"include_tuning"`
}

// DefaultExportConfig returns sensible defaults for workbook export
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		MaxSampleRows: 100000,
	}
}
