package tabular

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func writeWorkbook(t *testing.T, sheets []string, rows map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for _, name := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, r := range rows[name] {
			row := sheet.AddRow()
			for _, v := range r {
				row.AddCell().SetString(v)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "book.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadXLSX_FirstSheet(t *testing.T) {
	path := writeWorkbook(t, []string{"Facilities", "Other"}, map[string][][]string{
		"Facilities": {
			{" Facility ", "Lat", "Lon"},
			{"Cafe A", "-37.8", "144.96"},
			{"", "", ""},
			{"Cafe B", "-38.5", "145"},
		},
		"Other": {{"x"}, {"1"}},
	})

	f, err := ReadXLSX(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Facility", "Lat", "Lon"}, f.Columns)
	require.Equal(t, 2, f.Len())
	assert.Equal(t, "Cafe B", f.Get(1, "Facility"))
	assert.Equal(t, "", f.Get(1, "Missing"))
}

func TestReadXLSX_NamedSheetAndSkip(t *testing.T) {
	path := writeWorkbook(t, []string{"Cover", "Table 02"}, map[string][][]string{
		"Cover": {{"notes"}},
		"Table 02": {
			{"Crime statistics"},
			{"Local Government Area", "Victim Reports"},
			{"Melbourne", "1,200"},
		},
	})

	f, err := ReadXLSX(path, Options{Sheet: "Table 02", SkipRows: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Local Government Area", "Victim Reports"}, f.Columns)
	assert.Equal(t, "1,200", f.Get(0, "Victim Reports"))

	_, err = ReadXLSX(path, Options{Sheet: "Nope"})
	assert.Error(t, err)

	names, err := SheetNames(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cover", "Table 02"}, names)
}

func TestReadCSV(t *testing.T) {
	in := "\ufeffname,postcode,,name\n\"Smith, J\",3000,x,dup\nshort\n"
	f, err := ReadCSV(strings.NewReader(in), Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "postcode", "column_2", "name.1"}, f.Columns)
	require.Equal(t, 2, f.Len())
	assert.Equal(t, "Smith, J", f.Value(0, 0))
	assert.Equal(t, "dup", f.Get(0, "name.1"))
	assert.Equal(t, "", f.Value(1, 1))
}

func TestReadFile_Dispatch(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "s.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("a,b\n1,2\n"), 0o644))

	f, err := ReadFile(csvPath, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Record(0)["a"])

	_, err = ReadFile(filepath.Join(dir, "permits.xlsb"), Options{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = ReadFile(filepath.Join(dir, "missing.csv"), Options{})
	assert.Error(t, err)
}

func TestFind(t *testing.T) {
	f := &Frame{Columns: []string{"ID", "LATITUDE", "Longitude"}}

	col, ok := f.Find("latitude", "lat", "y")
	assert.True(t, ok)
	assert.Equal(t, "LATITUDE", col)

	col, ok = f.Find("long", "lon", "longitude")
	assert.True(t, ok)
	assert.Equal(t, "Longitude", col)

	_, ok = f.Find("x")
	assert.False(t, ok)
}

func TestInferAndParseNumber(t *testing.T) {
	assert.Nil(t, Infer(""))
	assert.Equal(t, int64(3000), Infer("3000"))
	assert.Equal(t, 3000.5, Infer("3000.5"))
	assert.Equal(t, "Cafe", Infer("Cafe"))

	v, ok := ParseNumber(" 1,234,567.5 ")
	assert.True(t, ok)
	assert.Equal(t, 1234567.5, v)

	_, ok = ParseNumber("n/a")
	assert.False(t, ok)
	_, ok = ParseNumber("")
	assert.False(t, ok)
}
