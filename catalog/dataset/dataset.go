// Package dataset holds the transient description of a remote dataset produced
// by source resolution, before it becomes a catalog record.
package dataset

// DataType is the inferred or platform-declared type of a column.
type DataType string

const (
	TypeText     DataType = "text"
	TypeInteger  DataType = "integer"
	TypeFloat    DataType = "float"
	TypeBoolean  DataType = "boolean"
	TypeDatetime DataType = "datetime"
	TypeUnknown  DataType = "unknown"
)

// IsNumeric reports whether values of this type order numerically.
func (t DataType) IsNumeric() bool {
	return t == TypeInteger || t == TypeFloat
}

// MaxSampleValues caps Column.Sample.
const MaxSampleValues = 5

// Column describes one column of a dataset.
type Column struct {
	HumanName    string   `json:"human_name" yaml:"human_name"`
	MachineName  string   `json:"machine_name" yaml:"machine_name"`
	Type         DataType `json:"data_type" yaml:"data_type"`
	PlatformType string   `json:"platform_type,omitempty" yaml:"platform_type,omitempty"` // e.g. Socrata's dataTypeName
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Width        *int     `json:"width,omitempty" yaml:"width,omitempty"`
	Sample       []string `json:"sample_values,omitempty" yaml:"sample_values,omitempty"`
	Smallest     *string  `json:"smallest,omitempty" yaml:"smallest,omitempty"`
	Largest      *string  `json:"largest,omitempty" yaml:"largest,omitempty"`
	HasNulls     *bool    `json:"null_values,omitempty" yaml:"null_values,omitempty"`
}

// Description is what resolution learned about a dataset URL.
// Errors is non-empty when resolution failed or was partial; the rest of the
// fields hold whatever was learned before the failure.
type Description struct {
	Title           string   `json:"name" yaml:"name"`
	Description     string   `json:"description,omitempty" yaml:"description,omitempty"`
	Attribution     string   `json:"attribution,omitempty" yaml:"attribution,omitempty"`
	Columns         []Column `json:"columns,omitempty" yaml:"columns,omitempty"`
	UpdateFrequency string   `json:"update_freq,omitempty" yaml:"update_freq,omitempty"`
	SourceURL       string   `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	ViewURL         string   `json:"view_url,omitempty" yaml:"view_url,omitempty"`
	SubmittedURL    string   `json:"submitted_url,omitempty" yaml:"submitted_url,omitempty"`
	IsShapefile     bool     `json:"is_shapefile,omitempty" yaml:"is_shapefile,omitempty"`
	Errors          []string `json:"errors,omitempty" yaml:"errors,omitempty"`
	StatusCode      int      `json:"status_code,omitempty" yaml:"status_code,omitempty"`
}

// OK reports whether resolution finished without errors.
func (d *Description) OK() bool {
	return d != nil && len(d.Errors) == 0
}

// ColumnNames returns the machine names of the described columns, in order.
func (d *Description) ColumnNames() []string {
	names := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		names = append(names, c.MachineName)
	}
	return names
}

// HasColumn reports whether machineName is one of the described columns.
func (d *Description) HasColumn(machineName string) bool {
	for _, c := range d.Columns {
		if c.MachineName == machineName {
			return true
		}
	}
	return false
}
