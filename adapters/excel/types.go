package excel

// RawRowData represents a row of raw table data as string key-value pairs
type RawRowData map[string]string

// ExcelData represents one or more tables stacked into a single row set
type ExcelData struct {
	Headers []string     // Union of column headers, in first-seen order
	Rows    []RawRowData // Data rows
	Files   []string     // Source files in read order
	Sources []Source     // Per-file schema and row range; empty for hand-built data
}

// Source is one file's block of rows, Rows[Start:End], with its own headers
type Source struct {
	File    string
	Headers []string
	Start   int
	End     int
}

// HasColumn reports whether the source file carried the header
func (s Source) HasColumn(name string) bool {
	for _, h := range s.Headers {
		if h == name {
			return true
		}
	}
	return false
}

// HasColumn reports whether any source table carried the header
func (d *ExcelData) HasColumn(name string) bool {
	return Source{Headers: d.Headers}.HasColumn(name)
}

// Tables returns the per-file row blocks. Data without recorded sources is
// treated as a single table over the union headers.
func (d *ExcelData) Tables() []Source {
	if len(d.Sources) > 0 {
		return d.Sources
	}
	src := Source{Headers: d.Headers, End: len(d.Rows)}
	if len(d.Files) == 1 {
		src.File = d.Files[0]
	}
	return []Source{src}
}
