package main

import (
	"sort"

	"github.com/san-kum/ilqgmpc/internal/dynamo"
)

func statesOf(xs []dynamo.State) [][]float64 {
	out := make([][]float64, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
