package parser

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gilchrisn/scib-benchmark/pkg/neighbors"
)

// SaveNeighborGraph writes the fuzzy neighbour graph of a dataset, one line per
// undirected edge. Format is determined by file extension: .csv writes
// "from,to,weight" rows, anything else an edge list whose first line is
// "nodes edges". cells names the nodes and must match the graph size.
func SaveNeighborGraph(g *neighbors.Graph, cells []string, outputPath string) error {
	if g == nil {
		return fmt.Errorf("graph cannot be nil")
	}
	if len(cells) != g.NumCells {
		return fmt.Errorf("%d cell names for a graph of %d nodes", len(cells), g.NumCells)
	}
	if err := ValidateOutputDirectory(filepath.Dir(outputPath)); err != nil {
		return err
	}

	if strings.ToLower(filepath.Ext(outputPath)) == ".csv" {
		return saveGraphCSV(g, cells, outputPath)
	}
	return saveGraphEdgeList(g, cells, outputPath)
}

func saveGraphEdgeList(g *neighbors.Graph, cells []string, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := fmt.Fprintf(file, "%d %d\n", g.NumCells, g.NumEdges()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	err = g.ForEachEdge(func(i, j int, w float64) error {
		_, err := fmt.Fprintf(file, "%s %s %.6f\n", cells[i], cells[j], w)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write edge: %w", err)
	}
	return nil
}

func saveGraphCSV(g *neighbors.Graph, cells []string, outputPath string) error {
	file, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"from", "to", "weight"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	return g.ForEachEdge(func(i, j int, w float64) error {
		record := []string{cells[i], cells[j], strconv.FormatFloat(w, 'f', 6, 64)}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV record: %w", err)
		}
		return nil
	})
}
