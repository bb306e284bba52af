package storage

import (
	"encoding/json"
	"io"
)

type ExportData struct {
	Meta     RunMetadata   `json:"meta"`
	Steps    int           `json:"steps"`
	Times    []float64     `json:"times"`
	States   [][]float64   `json:"states"`
	Controls [][]float64   `json:"controls"`
	Cycles   []CycleRecord `json:"cycles,omitempty"`
}

// ExportJSON writes a run as one indented JSON document.
func ExportJSON(w io.Writer, meta *RunMetadata, trace *Trace, cycles []CycleRecord) error {
	data := ExportData{
		Meta:     *meta,
		Steps:    len(trace.Times),
		Times:    trace.Times,
		States:   make([][]float64, len(trace.States)),
		Controls: make([][]float64, len(trace.Controls)),
		Cycles:   cycles,
	}

	for i, s := range trace.States {
		data.States[i] = s
	}
	for i, c := range trace.Controls {
		data.Controls[i] = c
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
