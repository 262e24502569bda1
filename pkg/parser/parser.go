package parser

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/gilchrisn/scib-benchmark/pkg/models"
	"gonum.org/v1/gonum/mat"
)

// Directory layout of a dataset:
//
//	X.csv            cell,<gene>,<gene>...  expression, optional
//	obs.csv          cell,<key>,<key>...    metadata; a "<key>:numeric" header marks a numeric column
//	obsm/<name>.csv  cell,c0,c1...          one file per embedding
const (
	ExpressionFile = "X.csv"
	ObsFile        = "obs.csv"
	ObsmDir        = "obsm"

	numericSuffix = ":numeric"
)

// datasetFile is the JSON form of a dataset
type datasetFile struct {
	Cells []string               `json:"cells"`
	Genes []string               `json:"genes,omitempty"`
	X     [][]float64            `json:"x,omitempty"`
	Obs   map[string]columnFile  `json:"obs,omitempty"`
	Obsm  map[string][][]float64 `json:"obsm,omitempty"`
}

type columnFile struct {
	Values  []string  `json:"values,omitempty"`
	Numbers []float64 `json:"numbers,omitempty"`
}

// LoadDataset reads a dataset from a .json file or a CSV directory and
// validates it.
func LoadDataset(path string) (*models.Dataset, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("dataset does not exist: %s", path)
	}

	var ds *models.Dataset
	switch {
	case info.IsDir():
		ds, err = loadDir(path)
	case strings.ToLower(filepath.Ext(path)) == ".json":
		ds, err = loadJSON(path)
	default:
		return nil, fmt.Errorf("dataset must be a directory or .json file, got: %s", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load dataset %s: %w", path, err)
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("dataset validation failed: %w", err)
	}
	return ds, nil
}

// SaveDataset writes a dataset. The format is chosen by extension: .json
// writes a single file, anything else a CSV directory.
func SaveDataset(ds *models.Dataset, path string) error {
	if ds == nil {
		return fmt.Errorf("dataset cannot be nil")
	}
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		if err := ValidateOutputDirectory(filepath.Dir(path)); err != nil {
			return err
		}
		return saveJSON(ds, path)
	}
	if err := ValidateOutputDirectory(path); err != nil {
		return err
	}
	return saveDir(ds, path)
}

// ===== JSON =====

func loadJSON(path string) (*models.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset file: %w", err)
	}
	var f datasetFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse dataset JSON: %w", err)
	}

	x, err := denseFromRows(f.X, len(f.Genes))
	if err != nil {
		return nil, fmt.Errorf("x: %w", err)
	}
	ds, err := models.NewDataset(f.Cells, f.Genes, x)
	if err != nil {
		return nil, err
	}
	for key, col := range f.Obs {
		c := models.NewCategorical(col.Values)
		if col.Numbers != nil {
			c = models.NewNumeric(col.Numbers)
		}
		if err := ds.SetObs(key, c); err != nil {
			return nil, err
		}
	}
	for name, rows := range f.Obsm {
		m, err := denseFromRows(rows, -1)
		if err != nil {
			return nil, fmt.Errorf("obsm %q: %w", name, err)
		}
		if m == nil {
			return nil, fmt.Errorf("obsm %q is empty: %w", name, models.ErrMissingField)
		}
		if err := ds.SetEmbedding(name, m); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func saveJSON(ds *models.Dataset, path string) error {
	f := datasetFile{
		Cells: ds.Cells,
		Genes: ds.Genes,
		X:     rowsFromDense(ds.X),
		Obs:   make(map[string]columnFile, len(ds.Obs)),
		Obsm:  make(map[string][][]float64, len(ds.Obsm)),
	}
	for key, col := range ds.Obs {
		f.Obs[key] = columnFile{Values: col.Values, Numbers: col.Numbers}
	}
	for name, m := range ds.Obsm {
		f.Obsm[name] = rowsFromDense(m)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal dataset: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write dataset file: %w", err)
	}
	return nil
}

// ===== CSV DIRECTORY =====

func loadDir(dir string) (*models.Dataset, error) {
	var (
		cells []string
		genes []string
		x     *mat.Dense
	)
	xPath := filepath.Join(dir, ExpressionFile)
	if _, err := os.Stat(xPath); err == nil {
		header, names, rows, err := readMatrixCSV(xPath)
		if err != nil {
			return nil, err
		}
		cells, genes = names, header
		if x, err = denseFromRows(rows, len(genes)); err != nil {
			return nil, fmt.Errorf("%s: %w", ExpressionFile, err)
		}
	}

	var obs map[string]*models.Column
	obsPath := filepath.Join(dir, ObsFile)
	if _, err := os.Stat(obsPath); err == nil {
		var obsCells []string
		if obs, obsCells, err = readObsCSV(obsPath); err != nil {
			return nil, err
		}
		if cells == nil {
			cells = obsCells
		} else if err := sameCells(cells, obsCells, ObsFile); err != nil {
			return nil, err
		}
	}
	if cells == nil {
		return nil, fmt.Errorf("%s has neither %s nor %s: %w", dir, ExpressionFile, ObsFile, models.ErrMissingField)
	}

	ds, err := models.NewDataset(cells, genes, x)
	if err != nil {
		return nil, err
	}
	for key, col := range obs {
		if err := ds.SetObs(key, col); err != nil {
			return nil, err
		}
	}

	embeddings, _ := filepath.Glob(filepath.Join(dir, ObsmDir, "*.csv"))
	for _, path := range embeddings {
		name := strings.TrimSuffix(filepath.Base(path), ".csv")
		_, names, rows, err := readMatrixCSV(path)
		if err != nil {
			return nil, err
		}
		if err := sameCells(cells, names, path); err != nil {
			return nil, err
		}
		m, err := denseFromRows(rows, -1)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if m == nil {
			return nil, fmt.Errorf("%s has no rows: %w", path, models.ErrMissingField)
		}
		if err := ds.SetEmbedding(name, m); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func saveDir(ds *models.Dataset, dir string) error {
	if ds.X != nil && ds.NumGenes() > 0 {
		if err := writeMatrixCSV(filepath.Join(dir, ExpressionFile), ds.Cells, ds.Genes, ds.X); err != nil {
			return err
		}
	}
	if err := writeObsCSV(filepath.Join(dir, ObsFile), ds); err != nil {
		return err
	}
	if len(ds.Obsm) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Join(dir, ObsmDir), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	for name, m := range ds.Obsm {
		_, c := m.Dims()
		header := make([]string, c)
		for j := range header {
			header[j] = fmt.Sprintf("c%d", j)
		}
		if err := writeMatrixCSV(filepath.Join(dir, ObsmDir, name+".csv"), ds.Cells, header, m); err != nil {
			return err
		}
	}
	return nil
}

// readMatrixCSV reads a "cell,<col>..." matrix file and returns the column
// names, the cell names and the numeric rows.
func readMatrixCSV(path string) ([]string, []string, [][]float64, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, nil, nil, err
	}
	header := records[0][1:]
	cells := make([]string, 0, len(records)-1)
	rows := make([][]float64, 0, len(records)-1)
	for line, rec := range records[1:] {
		row := make([]float64, len(rec)-1)
		for j, field := range rec[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("%s line %d column %d: invalid number %q", path, line+2, j+2, field)
			}
			row[j] = v
		}
		cells = append(cells, rec[0])
		rows = append(rows, row)
	}
	return header, cells, rows, nil
}

func readObsCSV(path string) (map[string]*models.Column, []string, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, nil, err
	}
	header := records[0][1:]
	body := records[1:]

	cells := make([]string, len(body))
	for i, rec := range body {
		cells[i] = rec[0]
	}

	obs := make(map[string]*models.Column, len(header))
	for j, key := range header {
		if name, ok := strings.CutSuffix(key, numericSuffix); ok {
			numbers := make([]float64, len(body))
			for i, rec := range body {
				v, err := strconv.ParseFloat(strings.TrimSpace(rec[j+1]), 64)
				if err != nil {
					return nil, nil, fmt.Errorf("%s line %d: column %q: invalid number %q", path, i+2, name, rec[j+1])
				}
				numbers[i] = v
			}
			obs[name] = models.NewNumeric(numbers)
			continue
		}
		values := make([]string, len(body))
		for i, rec := range body {
			values[i] = rec[j+1]
		}
		obs[key] = models.NewCategorical(values)
	}
	return obs, cells, nil
}

func writeObsCSV(path string, ds *models.Dataset) error {
	keys := make([]string, 0, len(ds.Obs))
	for k := range ds.Obs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	header := []string{"cell"}
	for _, k := range keys {
		if ds.Obs[k].Kind() == models.Numeric {
			header = append(header, k+numericSuffix)
		} else {
			header = append(header, k)
		}
	}
	records := [][]string{header}
	for i, c := range ds.Cells {
		rec := []string{c}
		for _, k := range keys {
			rec = append(rec, ds.Obs[k].String(i))
		}
		records = append(records, rec)
	}
	return writeCSV(path, records)
}

func writeMatrixCSV(path string, cells, header []string, m mat.Matrix) error {
	records := [][]string{append([]string{"cell"}, header...)}
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		rec := make([]string, c+1)
		rec[0] = cells[i]
		for j := 0; j < c; j++ {
			rec[j+1] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		records = append(records, rec)
	}
	return writeCSV(path, records)
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open file: %w", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if len(records) == 0 || len(records[0]) == 0 {
		return nil, fmt.Errorf("%s has no header", path)
	}
	return records, nil
}

func writeCSV(path string, records [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := csv.NewWriter(file).WriteAll(records); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return file.Close()
}

// ===== LABELS =====

// LoadLabels reads a two-column "cell,label" CSV file
func LoadLabels(path string) (models.Labels, error) {
	records, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	cells := make([]string, 0, len(records)-1)
	values := make([]string, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) < 2 {
			return nil, fmt.Errorf("%s line %d: want cell,label", path, i+2)
		}
		cells = append(cells, rec[0])
		values = append(values, rec[1])
	}
	return models.LabelsFrom(cells, values)
}

// SaveLabels writes labels as "cell,<name>" CSV rows sorted by cell
func SaveLabels(labels models.Labels, name, path string) error {
	if err := ValidateOutputDirectory(filepath.Dir(path)); err != nil {
		return err
	}
	records := [][]string{{"cell", name}}
	for _, c := range labels.Cells() {
		records = append(records, []string{c, labels[c]})
	}
	return writeCSV(path, records)
}

// ===== HELPERS =====

// ValidateOutputDirectory checks if output directory exists or can be created
func ValidateOutputDirectory(outputDir string) error {
	info, err := os.Stat(outputDir)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(outputDir, 0755); err != nil {
			return fmt.Errorf("cannot create output directory: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot access output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path exists but is not a directory: %s", outputDir)
	}
	return nil
}

func sameCells(want, got []string, source string) error {
	if len(want) != len(got) {
		return fmt.Errorf("%s lists %d cells, want %d: %w", source, len(got), len(want), models.ErrShapeMismatch)
	}
	for i := range want {
		if want[i] != got[i] {
			return fmt.Errorf("%s row %d is cell %q, want %q: %w", source, i+1, got[i], want[i], models.ErrShapeMismatch)
		}
	}
	return nil
}

// denseFromRows builds a matrix from equal-length rows. cols < 0 accepts any
// width. No rows gives nil.
func denseFromRows(rows [][]float64, cols int) (*mat.Dense, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	if cols < 0 {
		cols = len(rows[0])
	}
	if cols == 0 {
		return nil, nil
	}
	m := mat.NewDense(len(rows), cols, nil)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d values, want %d: %w", i, len(row), cols, models.ErrShapeMismatch)
		}
		m.SetRow(i, row)
	}
	return m, nil
}

func rowsFromDense(m *mat.Dense) [][]float64 {
	if m == nil || m.IsEmpty() {
		return nil
	}
	r, _ := m.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = mat.Row(nil, i, m)
	}
	return rows
}
