package utils

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// ResolutionEvent is one evaluated point of a resolution scan
type ResolutionEvent struct {
	Step        int     `json:"step"`
	Method      string  `json:"method"`
	Resolution  float64 `json:"resolution"`
	Score       float64 `json:"score"`
	NumClusters int     `json:"num_clusters"`
	Timestamp   int64   `json:"timestamp"`
}

// TraceWriter appends resolution events as JSON lines. A nil *TraceWriter is
// valid and discards everything.
type TraceWriter struct {
	mu      sync.Mutex
	closer  io.Closer
	encoder *json.Encoder
	method  string
	step    int
}

// NewTraceWriter creates (truncating) a JSONL trace file
func NewTraceWriter(filename, method string) (*TraceWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	tw := NewTraceWriterTo(file, method)
	tw.closer = file
	return tw, nil
}

// NewTraceWriterTo writes events to an arbitrary writer
func NewTraceWriterTo(w io.Writer, method string) *TraceWriter {
	return &TraceWriter{
		encoder: json.NewEncoder(w),
		method:  method,
	}
}

// LogResolution records one scan point
func (tw *TraceWriter) LogResolution(resolution, score float64, numClusters int) error {
	if tw == nil {
		return nil
	}
	tw.mu.Lock()
	defer tw.mu.Unlock()

	tw.step++
	return tw.encoder.Encode(ResolutionEvent{
		Step:        tw.step,
		Method:      tw.method,
		Resolution:  resolution,
		Score:       score,
		NumClusters: numClusters,
		Timestamp:   time.Now().Unix(),
	})
}

// Close closes the underlying file, if the writer owns one
func (tw *TraceWriter) Close() error {
	if tw == nil || tw.closer == nil {
		return nil
	}
	return tw.closer.Close()
}

// ReadTrace decodes every event of a JSONL trace
func ReadTrace(r io.Reader) ([]ResolutionEvent, error) {
	dec := json.NewDecoder(r)
	var events []ResolutionEvent
	for {
		var ev ResolutionEvent
		if err := dec.Decode(&ev); err == io.EOF {
			return events, nil
		} else if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
}
