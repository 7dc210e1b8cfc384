package socrata

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/teranos/datacat/catalog/dataset"
)

// view is the subset of a Socrata views API response the adapter reads.
type view struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Attribution string      `json:"attribution"`
	Metadata    *viewMeta   `json:"metadata"`
	Columns     []viewField `json:"columns"`
}

type viewMeta struct {
	CustomFields json.RawMessage `json:"custom_fields"`
}

type viewField struct {
	FieldName      string          `json:"fieldName"`
	Name           string          `json:"name"`
	DataTypeName   string          `json:"dataTypeName"`
	Description    string          `json:"description"`
	Width          *int            `json:"width"`
	CachedContents *cachedContents `json:"cachedContents"`
}

type cachedContents struct {
	Top      []topItem `json:"top"`
	Smallest scalar    `json:"smallest"`
	Largest  scalar    `json:"largest"`
	Null     scalar    `json:"null"`
}

type topItem struct {
	Item  scalar `json:"item"`
	Count scalar `json:"count"`
}

// scalar accepts a JSON string, number or boolean as text. Socrata reports
// cached statistics either way depending on the dataset's age. Objects and
// arrays (location values) keep their compact JSON form.
type scalar struct {
	Value string
	Set   bool
}

func (s *scalar) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = scalar{}
		return nil
	}

	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = scalar{Value: str, Set: true}
		return nil
	}

	if data[0] == '{' || data[0] == '[' {
		var buf bytes.Buffer
		if err := json.Compact(&buf, data); err != nil {
			return err
		}
		*s = scalar{Value: buf.String(), Set: true}
		return nil
	}

	*s = scalar{Value: string(data), Set: true}
	return nil
}

// updateFrequency digs the hint out of metadata.custom_fields.Metadata.
// Any missing or oddly shaped level yields "".
func (v *view) updateFrequency() string {
	if v.Metadata == nil || len(v.Metadata.CustomFields) == 0 {
		return ""
	}

	var fields map[string]map[string]scalar
	if err := json.Unmarshal(v.Metadata.CustomFields, &fields); err != nil {
		return ""
	}
	return fields["Metadata"]["Update Frequency"].Value
}

// column converts a views API column into a dataset column named machine.
func (f viewField) column(machine string) dataset.Column {
	col := dataset.Column{
		HumanName:    f.Name,
		MachineName:  machine,
		Type:         typeFor(f.DataTypeName),
		PlatformType: f.DataTypeName,
		Description:  f.Description,
		Width:        f.Width,
	}

	cached := f.CachedContents
	if cached == nil {
		return col
	}

	for _, top := range cached.Top {
		if len(col.Sample) == dataset.MaxSampleValues {
			break
		}
		if top.Item.Set {
			col.Sample = append(col.Sample, top.Item.Value)
		}
	}
	if cached.Smallest.Set {
		smallest := cached.Smallest.Value
		col.Smallest = &smallest
	}
	if cached.Largest.Set {
		largest := cached.Largest.Value
		col.Largest = &largest
	}
	if cached.Null.Set {
		if n, err := strconv.ParseFloat(cached.Null.Value, 64); err == nil {
			hasNulls := n > 0
			col.HasNulls = &hasNulls
		}
	}

	return col
}

// isSystemField reports Socrata's internal columns (":id", ":@computed_region_...").
func (f viewField) isSystemField() bool {
	return strings.HasPrefix(f.FieldName, ":")
}

// typeFor maps a Socrata dataTypeName onto a DataType.
func typeFor(dataTypeName string) dataset.DataType {
	switch strings.ToLower(dataTypeName) {
	case "text", "url", "email", "html", "phone":
		return dataset.TypeText
	case "number", "money", "percent", "double", "stars":
		return dataset.TypeFloat
	case "checkbox":
		return dataset.TypeBoolean
	case "calendar_date", "date", "floating_timestamp", "fixed_timestamp":
		return dataset.TypeDatetime
	}
	return dataset.TypeUnknown
}
