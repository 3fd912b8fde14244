package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestXLSXRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.xlsx")
	in := []Product{
		{ID: 1, Name: "Aviator Classic", Brand: "Lumen", Color: "Gold", Shape: "aviator", Price: 1200000, Stock: 4},
		{ID: 7, Name: "Wayfarer Night", Brand: "Noir", Color: "Black", Price: 950000, Stock: 1, Description: "Acetate frame"},
	}
	require.NoError(t, WriteXLSX(path, in))

	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestXLSXVietnameseHeadersAndMissingIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vi.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]any{
		{"Tên sản phẩm", "Màu sắc", "Giá", "Tồn kho"},
		{"Kính mát tròng phân cực", "Đen", "1,500,000", 3},
		{"", "", "", ""},
		{"Gọng kính titan", "Bạc", "2000000", 2},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, f.SetSheetRow(sheet, cell, &r))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	out, err := LoadXLSX(path)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(1), out[0].ID)
	assert.Equal(t, int64(2), out[1].ID)
	assert.Equal(t, 1500000.0, out[0].Price)
	assert.Equal(t, 3, out[0].Stock)
	assert.Equal(t, "Đen", out[0].Color)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"id": 3, "name": "Round Retro", "price": 500000, "stock": 2},
		{"name": "Cat Eye", "price": 650000, "stock": 5}
	]`), 0o644))

	out, err := Load(path)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, int64(4), out[1].ID, "missing ids continue after the largest one")
}

func TestLoadRejectsBadCatalogs(t *testing.T) {
	dir := t.TempDir()
	dup := filepath.Join(dir, "dup.json")
	require.NoError(t, os.WriteFile(dup, []byte(`[{"id": 1, "name": "a"}, {"id": 1, "name": "b"}]`), 0o644))
	_, err := Load(dup)
	assert.ErrorContains(t, err, "duplicate product id 1")

	neg := filepath.Join(dir, "neg.json")
	require.NoError(t, os.WriteFile(neg, []byte(`[{"id": 1, "name": "a", "stock": -1}]`), 0o644))
	_, err = Load(neg)
	assert.Error(t, err)

	_, err = Load(filepath.Join(dir, "catalog.csv"))
	assert.Error(t, err)
}

func TestProductText(t *testing.T) {
	p := Product{Name: "Wayfarer", Brand: "Noir", Color: "Black/Gold", Material: "acetate"}
	text := p.Text()
	assert.Contains(t, text, "Wayfarer. Noir. Black/Gold. acetate")
	assert.Contains(t, text, "đen")
	assert.Contains(t, text, "vàng")

	s := p.Summary()
	assert.Equal(t, "Noir", s["brand"])
	assert.NotContains(t, s, "shape")
}
