// Package gaoding builds the spreadsheet package accepted by Gaoding's batch
// design importer.
//
// The importer only accepts a narrow subset of SpreadsheetML: a shared-string
// table, t="s" cells, the full part set (styles, theme, docProps) and a fixed
// layout with the instructions row merged across A1:Z1. The package is then
// wrapped in an outer ZIP that holds nothing else, which is how the batch
// import mechanism expects to receive it.
//
// Usage:
//
//	rows := gaoding.RowsFromCovers(covers)
//	zipBytes, err := gaoding.New(gaoding.Config{}).BuildExportArchive(rows, gaoding.CoverHeaders)
package gaoding

import (
	"archive/zip"
	"bytes"
	"fmt"
	"log/slog"
	"time"
)

// Config configures a Codec.
type Config struct {
	// Now supplies the document timestamps and archive entry times.
	// Default: time.Now.
	Now func() time.Time

	// Creator is written to docProps. Default: "Feishu-Gaoding-Web".
	Creator string

	// Deflate compresses entries. The default stores them uncompressed,
	// which is what the importer has been exercised with.
	Deflate bool

	// Logger for debug/warn messages.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Creator == "" {
		c.Creator = appName
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Codec renders export rows into the importer's archive format.
type Codec struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Codec.
func New(cfg Config) *Codec {
	cfg.defaults()
	return &Codec{cfg: cfg, logger: cfg.Logger}
}

// Workbook is the intermediate result of BuildWorkbook, exposed so callers
// and tests can inspect the shared-string table that backs the bytes.
type Workbook struct {
	Data    []byte
	Strings *SharedStrings
	Rows    int
}

// BuildWorkbook renders rows into the inner .xlsx package.
func (c *Codec) BuildWorkbook(rows []ExportRow, headers []string) (*Workbook, error) {
	if len(headers) == 0 {
		headers = DefaultHeaders
	}
	if len(headers) < 2 || len(headers) > 3 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidHeaders, len(headers))
	}
	if len(rows) > MaxRows {
		c.logger.Warn("gaoding: row count exceeds importer limit", "rows", len(rows), "limit", MaxRows)
	}

	sst := NewSharedStrings()
	warningIdx := sst.Add(WarningText)
	headerIdx := make([]int, len(headers))
	for i, h := range headers {
		headerIdx[i] = sst.Add(h)
	}
	dataIdx := make([][]int, len(rows))
	for i, row := range rows {
		idx := []int{sst.Add(row.Page), sst.Add(row.Text1)}
		if row.Text2 != nil && len(headers) > 2 {
			idx = append(idx, sst.Add(*row.Text2))
		}
		dataIdx[i] = idx
	}

	now := c.cfg.Now()
	parts := map[string]string{
		partContentTypes:  contentTypesXML,
		partRootRels:      rootRelsXML,
		partWorkbook:      workbookXML(SheetName),
		partWorkbookRels:  workbookRelsXML,
		partSheet:         sheetXML(warningIdx, headerIdx, dataIdx),
		partSharedStrings: sharedStringsXML(sst),
		partStyles:        stylesXML,
		partTheme:         themeXML,
		partCore:          coreXML(c.cfg.Creator, now),
		partApp:           appXML(c.cfg.Creator),
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range PackageParts {
		if err := c.writeEntry(zw, name, []byte(parts[name]), now); err != nil {
			return nil, fmt.Errorf("gaoding: workbook: %w", err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gaoding: workbook: close: %w", err)
	}

	c.logger.Debug("gaoding: workbook built",
		"rows", len(rows), "headers", len(headers), "shared_strings", sst.Len(), "bytes", buf.Len())
	return &Workbook{Data: buf.Bytes(), Strings: sst, Rows: len(rows)}, nil
}

// WrapArchive puts a single file into a new outer ZIP.
func (c *Codec) WrapArchive(name string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if err := c.writeEntry(zw, name, data, c.cfg.Now()); err != nil {
		return nil, fmt.Errorf("gaoding: wrap: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gaoding: wrap: close: %w", err)
	}
	return buf.Bytes(), nil
}

// BuildExportArchive builds the workbook and wraps it as WorkbookFileName in
// the outer archive Gaoding's batch import takes.
func (c *Codec) BuildExportArchive(rows []ExportRow, headers []string) ([]byte, error) {
	wb, err := c.BuildWorkbook(rows, headers)
	if err != nil {
		return nil, err
	}
	return c.WrapArchive(WorkbookFileName, wb.Data)
}

func (c *Codec) method() uint16 {
	if c.cfg.Deflate {
		return zip.Deflate
	}
	return zip.Store
}

func (c *Codec) writeEntry(zw *zip.Writer, name string, data []byte, mod time.Time) error {
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   c.method(),
		Modified: mod,
	})
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// BuildExportArchive is a convenience wrapper around a default Codec.
func BuildExportArchive(rows []ExportRow, headers []string) ([]byte, error) {
	return New(Config{}).BuildExportArchive(rows, headers)
}
