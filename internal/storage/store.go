// Package storage persists solver and MPC runs as a directory per run:
// metadata.json, states.csv with the state and control trajectory, and
// cycles.csv for MPC runs.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/san-kum/ilqgmpc/internal/dynamo"
	"github.com/san-kum/ilqgmpc/internal/mpc"
)

const (
	KindSolve    = "solve"
	KindMPC      = "mpc"
	KindSimulate = "simulate"
)

const (
	metadataFile = "metadata.json"
	statesFile   = "states.csv"
	cyclesFile   = "cycles.csv"
)

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID          string             `json:"id"`
	Kind        string             `json:"kind"`
	Model       string             `json:"model"`
	Timestamp   time.Time          `json:"timestamp"`
	Seed        int64              `json:"seed"`
	Dt          float64            `json:"dt"`
	TimeHorizon float64            `json:"time_horizon"`
	Integrator  string             `json:"integrator"`
	Mode        string             `json:"mode,omitempty"`
	Status      string             `json:"status,omitempty"`
	Iterations  int                `json:"iterations,omitempty"`
	Cost        float64            `json:"cost,omitempty"`
	Summary     *mpc.Summary       `json:"summary,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// Trace is a sampled trajectory. Controls may be one shorter than States.
type Trace struct {
	Times    []float64
	States   []dynamo.State
	Controls []dynamo.Control
}

func TraceFromResult(r *dynamo.Result) Trace {
	return Trace{Times: r.Times, States: r.States, Controls: r.Controls}
}

// CycleRecord is one MPC cycle.
type CycleRecord struct {
	Index      int          `json:"index"`
	Time       float64      `json:"time"`
	PolicyTime float64      `json:"policy_time"`
	State      dynamo.State `json:"state"`
	Iterations int          `json:"iterations"`
	Success    bool         `json:"success"`
}

// Save writes a new run and returns its id. The id and timestamp of meta
// are assigned here.
func (s *Store) Save(meta RunMetadata, trace Trace, cycles []CycleRecord) (string, error) {
	now := time.Now()
	meta.ID = fmt.Sprintf("%s_%s_%d", meta.Kind, meta.Model, now.UnixNano())
	meta.Timestamp = now
	runDir := filepath.Join(s.baseDir, meta.ID)

	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	if err := writeFile(filepath.Join(runDir, metadataFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}); err != nil {
		return "", err
	}

	if err := writeFile(filepath.Join(runDir, statesFile), func(w io.Writer) error {
		return WriteTraceCSV(w, trace)
	}); err != nil {
		return "", err
	}

	if len(cycles) > 0 {
		if err := writeFile(filepath.Join(runDir, cyclesFile), func(w io.Writer) error {
			return writeCycles(w, cycles)
		}); err != nil {
			return "", err
		}
	}

	return meta.ID, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// WriteTraceCSV writes a time column, one x column per state entry and one
// u column per control entry. Rows past the last control leave the u
// columns empty.
func WriteTraceCSV(w io.Writer, trace Trace) error {
	cw := csv.NewWriter(w)

	if len(trace.States) == 0 {
		cw.Flush()
		return cw.Error()
	}

	header := []string{"time"}
	for i := range trace.States[0] {
		header = append(header, fmt.Sprintf("x%d", i))
	}
	numControls := 0
	if len(trace.Controls) > 0 {
		numControls = len(trace.Controls[0])
		for i := 0; i < numControls; i++ {
			header = append(header, fmt.Sprintf("u%d", i))
		}
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for i := range trace.States {
		row := []string{formatFloat(trace.Times[i])}
		for _, val := range trace.States[i] {
			row = append(row, formatFloat(val))
		}
		for j := 0; j < numControls; j++ {
			if i < len(trace.Controls) {
				row = append(row, formatFloat(trace.Controls[i][j]))
			} else {
				row = append(row, "")
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func writeCycles(w io.Writer, cycles []CycleRecord) error {
	cw := csv.NewWriter(w)

	header := []string{"index", "time", "policy_time", "iterations", "success"}
	for i := range cycles[0].State {
		header = append(header, fmt.Sprintf("x%d", i))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, c := range cycles {
		row := []string{
			strconv.Itoa(c.Index),
			formatFloat(c.Time),
			formatFloat(c.PolicyTime),
			strconv.Itoa(c.Iterations),
			strconv.FormatBool(c.Success),
		}
		for _, val := range c.State {
			row = append(row, formatFloat(val))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// List returns the stored runs, oldest first. Directories without readable
// metadata are skipped.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.baseDir, runID, metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %s: %w", runID, err)
	}
	return &meta, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

// LoadTrace reads states.csv back into a trace.
func (s *Store) LoadTrace(runID string) (*Trace, error) {
	records, err := readCSV(filepath.Join(s.baseDir, runID, statesFile))
	if err != nil {
		return nil, err
	}

	trace := &Trace{}
	if len(records) < 2 {
		return trace, nil
	}

	var xCols, uCols []int
	for i, name := range records[0] {
		switch {
		case strings.HasPrefix(name, "x"):
			xCols = append(xCols, i)
		case strings.HasPrefix(name, "u"):
			uCols = append(uCols, i)
		}
	}

	for line, record := range records[1:] {
		t, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", statesFile, line+2, err)
		}
		x, err := parseColumns(record, xCols)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", statesFile, line+2, err)
		}
		trace.Times = append(trace.Times, t)
		trace.States = append(trace.States, x)

		if len(uCols) == 0 || record[uCols[0]] == "" {
			continue
		}
		u, err := parseColumns(record, uCols)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", statesFile, line+2, err)
		}
		trace.Controls = append(trace.Controls, dynamo.Control(u))
	}

	return trace, nil
}

func parseColumns(record []string, cols []int) (dynamo.State, error) {
	out := make(dynamo.State, len(cols))
	for i, c := range cols {
		if c >= len(record) {
			return nil, errors.New("short row")
		}
		v, err := strconv.ParseFloat(record[c], 64)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// LoadCycles reads cycles.csv; runs without cycles return an empty slice.
func (s *Store) LoadCycles(runID string) ([]CycleRecord, error) {
	records, err := readCSV(filepath.Join(s.baseDir, runID, cyclesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []CycleRecord{}, nil
		}
		return nil, err
	}

	cycles := make([]CycleRecord, 0, len(records))
	for line, record := range records {
		if line == 0 {
			continue
		}
		if len(record) < 5 {
			return nil, fmt.Errorf("%s line %d: short row", cyclesFile, line+1)
		}
		var c CycleRecord
		var errs []error
		var err error
		c.Index, err = strconv.Atoi(record[0])
		errs = append(errs, err)
		c.Time, err = strconv.ParseFloat(record[1], 64)
		errs = append(errs, err)
		c.PolicyTime, err = strconv.ParseFloat(record[2], 64)
		errs = append(errs, err)
		c.Iterations, err = strconv.Atoi(record[3])
		errs = append(errs, err)
		c.Success, err = strconv.ParseBool(record[4])
		errs = append(errs, err)
		if err := errors.Join(errs...); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", cyclesFile, line+1, err)
		}

		cols := make([]int, 0, len(record)-5)
		for i := 5; i < len(record); i++ {
			cols = append(cols, i)
		}
		if c.State, err = parseColumns(record, cols); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", cyclesFile, line+1, err)
		}
		cycles = append(cycles, c)
	}
	return cycles, nil
}
