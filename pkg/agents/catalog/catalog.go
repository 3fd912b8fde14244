// Package catalog reads the store's product catalog from Excel or JSON files.
// The search agent indexes it and the order agent imports it as stock.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Product is one catalog entry.
type Product struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Brand       string  `json:"brand,omitempty"`
	Category    string  `json:"category,omitempty"`
	Color       string  `json:"color,omitempty"`
	Shape       string  `json:"shape,omitempty"`
	Material    string  `json:"material,omitempty"`
	Gender      string  `json:"gender,omitempty"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
	Description string  `json:"description,omitempty"`
	ImageURL    string  `json:"image_url,omitempty"`
}

// colorNames maps English colors to their Vietnamese names so that either
// language finds the product.
var colorNames = map[string]string{
	"black":       "đen",
	"white":       "trắng",
	"red":         "đỏ",
	"blue":        "xanh dương",
	"green":       "xanh lá",
	"brown":       "nâu",
	"gold":        "vàng",
	"silver":      "bạc",
	"pink":        "hồng",
	"gray":        "xám",
	"grey":        "xám",
	"purple":      "tím",
	"tortoise":    "đồi mồi",
	"transparent": "trong suốt",
}

// Text is the searchable description of the product.
func (p Product) Text() string {
	fields := []string{p.Name, p.Brand, p.Category, p.Color, p.Shape, p.Material, p.Gender, p.Description}
	for _, c := range strings.FieldsFunc(strings.ToLower(p.Color), func(r rune) bool { return r == ',' || r == '/' || r == ' ' }) {
		if vi, ok := colorNames[c]; ok {
			fields = append(fields, vi)
		}
	}
	var parts []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, ". ")
}

// Summary is the structured view shared with other agents.
func (p Product) Summary() map[string]any {
	out := map[string]any{
		"id":    p.ID,
		"name":  p.Name,
		"price": p.Price,
		"stock": p.Stock,
	}
	for k, v := range map[string]string{
		"brand": p.Brand, "category": p.Category, "color": p.Color, "shape": p.Shape,
		"material": p.Material, "image_url": p.ImageURL,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Load reads a catalog from an .xlsx or .json file.
func Load(path string) ([]Product, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return LoadXLSX(path)
	case ".json":
		return LoadJSON(path)
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", filepath.Ext(path))
	}
}

func LoadJSON(path string) ([]Product, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	var products []Product
	if err := json.Unmarshal(raw, &products); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	return normalize(products)
}

// Header aliases, matched case-insensitively.
var columns = map[string][]string{
	"id":          {"id", "product_id", "product id", "mã", "mã sản phẩm"},
	"name":        {"name", "product_name", "product name", "tên", "tên sản phẩm"},
	"brand":       {"brand", "thương hiệu"},
	"category":    {"category", "type", "loại"},
	"color":       {"color", "colour", "màu", "màu sắc"},
	"shape":       {"shape", "frame shape", "kiểu dáng"},
	"material":    {"material", "chất liệu"},
	"gender":      {"gender", "giới tính"},
	"price":       {"price", "giá"},
	"stock":       {"stock", "quantity", "số lượng", "tồn kho"},
	"description": {"description", "mô tả"},
	"image_url":   {"image_url", "image", "image url", "hình ảnh"},
}

// LoadXLSX reads the first sheet; the first row holds the column headers.
func LoadXLSX(path string) ([]Product, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("catalog %s has no sheets", path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	index := map[string]int{}
	for i, h := range rows[0] {
		h = strings.ToLower(strings.TrimSpace(h))
		for field, aliases := range columns {
			for _, a := range aliases {
				if h == a {
					index[field] = i
				}
			}
		}
	}
	if _, ok := index["name"]; !ok {
		return nil, fmt.Errorf("catalog %s has no name column", path)
	}

	cell := func(row []string, field string) string {
		i, ok := index[field]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var products []Product
	for n, row := range rows[1:] {
		name := cell(row, "name")
		if name == "" {
			continue
		}
		p := Product{
			Name:        name,
			Brand:       cell(row, "brand"),
			Category:    cell(row, "category"),
			Color:       cell(row, "color"),
			Shape:       cell(row, "shape"),
			Material:    cell(row, "material"),
			Gender:      cell(row, "gender"),
			Description: cell(row, "description"),
			ImageURL:    cell(row, "image_url"),
		}
		if s := cell(row, "id"); s != "" {
			if p.ID, err = strconv.ParseInt(s, 10, 64); err != nil {
				return nil, fmt.Errorf("row %d: invalid id %q", n+2, s)
			}
		}
		if s := cell(row, "price"); s != "" {
			if p.Price, err = parseNumber(s); err != nil {
				return nil, fmt.Errorf("row %d: invalid price %q", n+2, s)
			}
		}
		if s := cell(row, "stock"); s != "" {
			stock, err := parseNumber(s)
			if err != nil {
				return nil, fmt.Errorf("row %d: invalid stock %q", n+2, s)
			}
			p.Stock = int(stock)
		}
		products = append(products, p)
	}
	return normalize(products)
}

// parseNumber accepts plain numbers and thousands-separated prices such as
// "1,200,000".
func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(strings.ReplaceAll(s, ",", ""), "_", ""), 64)
}

// normalize assigns missing ids after the largest explicit one and rejects
// duplicates. Catalog order is preserved.
func normalize(products []Product) ([]Product, error) {
	var next int64
	seen := map[int64]bool{}
	for _, p := range products {
		next = max(next, p.ID)
	}
	for i := range products {
		if products[i].ID == 0 {
			next++
			products[i].ID = next
		}
		if seen[products[i].ID] {
			return nil, fmt.Errorf("duplicate product id %d", products[i].ID)
		}
		seen[products[i].ID] = true
		if products[i].Price < 0 || products[i].Stock < 0 {
			return nil, fmt.Errorf("product %d has a negative price or stock", products[i].ID)
		}
	}
	return products, nil
}

// WriteXLSX writes products in the layout LoadXLSX reads.
func WriteXLSX(path string, products []Product) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	header := []any{"id", "name", "brand", "category", "color", "shape", "material", "gender", "price", "stock", "description", "image_url"}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, p := range products {
		row := []any{p.ID, p.Name, p.Brand, p.Category, p.Color, p.Shape, p.Material, p.Gender, p.Price, p.Stock, p.Description, p.ImageURL}
		cellRef, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cellRef, &row); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}
