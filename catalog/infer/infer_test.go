package infer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/datacat/catalog/dataset"
)

func TestInferType(t *testing.T) {
	tests := []struct {
		name  string
		cells []string
		want  dataset.DataType
	}{
		{"integers", []string{"1", "2", "3"}, dataset.TypeInteger},
		{"integers and floats", []string{"1", "2.5"}, dataset.TypeFloat},
		{"numeric then word", []string{"1", "abc"}, dataset.TypeText},
		{"all empty", []string{"", " ", ""}, dataset.TypeText},
		{"no cells", nil, dataset.TypeText},
		{"empties skipped", []string{"", "4", "", "-7"}, dataset.TypeInteger},
		{"booleans", []string{"true", "False", "t", "YES", "no"}, dataset.TypeBoolean},
		{"zero and one stay numeric", []string{"0", "1", "1", "0"}, dataset.TypeInteger},
		{"iso dates", []string{"2015-01-02", "2016-12-31"}, dataset.TypeDatetime},
		{"us timestamps", []string{"01/02/2015 10:30:00 PM", "12/31/2016 01:00:00 AM"}, dataset.TypeDatetime},
		{"mixed date and number", []string{"2015-01-02", "42"}, dataset.TypeText},
		{"nan is not numeric", []string{"1.5", "NaN"}, dataset.TypeText},
		{"scientific", []string{"1e3", "2.5E-2"}, dataset.TypeFloat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferType(tt.cells))
		})
	}
}

func TestProfileColumn(t *testing.T) {
	p := ProfileColumn([]string{"10", "", "2", "10", "33", "4", "5", "6"})

	assert.Equal(t, dataset.TypeInteger, p.Type)
	assert.True(t, p.HasNulls)
	assert.Equal(t, []string{"10", "2", "33", "4", "5"}, p.Sample)
	assert.Equal(t, "2", p.Smallest)
	assert.Equal(t, "33", p.Largest)
}

func TestProfileColumnDatetimeRange(t *testing.T) {
	p := ProfileColumn([]string{"03/01/2016", "01/15/2016", "12/31/2015"})

	assert.Equal(t, dataset.TypeDatetime, p.Type)
	assert.False(t, p.HasNulls)
	assert.Equal(t, "12/31/2015", p.Smallest)
	assert.Equal(t, "03/01/2016", p.Largest)
}

func TestProfileColumnTextHasNoRange(t *testing.T) {
	p := ProfileColumn([]string{"THEFT", "BATTERY", "THEFT"})

	assert.Equal(t, dataset.TypeText, p.Type)
	assert.Equal(t, []string{"THEFT", "BATTERY"}, p.Sample)
	assert.Empty(t, p.Smallest)
	assert.Empty(t, p.Largest)
}

func TestReadSampleAndDescribe(t *testing.T) {
	body := "\ufeffID,Primary Type,Arrest,Date,Latitude\n" +
		"1,THEFT,true,2015-01-02,41.88\n" +
		"2,BATTERY,false,2015-01-03,\n" +
		"3,\"ASSAULT, AGGRAVATED\",false,2015-01-04,41.9\n"

	sample, err := ReadSample(strings.NewReader(body), Options{})
	require.NoError(t, err)
	assert.False(t, sample.Truncated)
	assert.Equal(t, []string{"ID", "Primary Type", "Arrest", "Date", "Latitude"}, sample.Header)
	require.Len(t, sample.Rows, 3)

	cols := Describe(sample)
	require.Len(t, cols, 5)

	want := []struct {
		machine string
		typ     dataset.DataType
	}{
		{"id", dataset.TypeInteger},
		{"primary_type", dataset.TypeText},
		{"arrest", dataset.TypeBoolean},
		{"date", dataset.TypeDatetime},
		{"latitude", dataset.TypeFloat},
	}
	for i, w := range want {
		assert.Equal(t, w.machine, cols[i].MachineName)
		assert.Equal(t, w.typ, cols[i].Type, "column %s", cols[i].HumanName)
	}

	assert.True(t, *cols[4].HasNulls)
	assert.False(t, *cols[0].HasNulls)
	assert.Equal(t, "41.88", *cols[4].Smallest)
	assert.Nil(t, cols[1].Smallest)
}

func TestDescribeDuplicateHeadersMatchLoadedTable(t *testing.T) {
	sample, err := ReadSample(strings.NewReader("Date,Date,\n2015-01-02,2015-01-03,x\n"), Options{})
	require.NoError(t, err)

	cols := Describe(sample)
	require.Len(t, cols, 3)
	names := []string{cols[0].MachineName, cols[1].MachineName, cols[2].MachineName}
	assert.Equal(t, []string{"date", "date_2", "column_3"}, names)
	assert.Equal(t, dataset.ColumnNames(sample.Header), names)
}

func TestReadSampleLineBound(t *testing.T) {
	var b strings.Builder
	b.WriteString("n\n")
	for i := 0; i < 5000; i++ {
		b.WriteString("1\n")
	}

	sample, err := ReadSample(strings.NewReader(b.String()), Options{MaxLines: 1000})
	require.NoError(t, err)
	assert.True(t, sample.Truncated)
	assert.Len(t, sample.Rows, 999, "header counts toward the line bound")
}

func TestReadSampleByteBoundDropsPartialRecord(t *testing.T) {
	body := "name,value\nalpha,1\nbeta,2\ngamma,3333333333"

	sample, err := ReadSample(strings.NewReader(body), Options{MaxBytes: int64(len(body) - 5)})
	require.NoError(t, err)
	assert.True(t, sample.Truncated)
	require.Len(t, sample.Rows, 2)
	assert.Equal(t, "beta", sample.Rows[1][0])
}

func TestReadSampleRaggedRows(t *testing.T) {
	body := "a,b,c\n1,2\n3,4,5,6\n"

	sample, err := ReadSample(strings.NewReader(body), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"", "5"}, sample.Cells(2))
	assert.Equal(t, dataset.TypeInteger, InferType(sample.Cells(2)))
}

func TestReadSampleEmptyStream(t *testing.T) {
	_, err := ReadSample(strings.NewReader(""), Options{})
	assert.ErrorIs(t, err, ErrNoHeader)
}
