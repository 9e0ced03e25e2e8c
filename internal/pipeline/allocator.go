package pipeline

import (
	"math"
	"sort"
)

// TaskBatch is one unit of stage-1 work: count scenarios for one
// scenario/operation cell, with a per-sample structure label.
type TaskBatch struct {
	BatchID    int      `json:"batch_id"`
	Scenario   string   `json:"scenario"`
	Operation  string   `json:"operation"`
	Count      int      `json:"count"`
	Structures []string `json:"structures"`
}

// Allocate turns a plan into an ordered batch schedule. Identical plans
// always produce identical schedules: map iteration is replaced by sorted
// key order throughout.
func Allocate(plan *Plan) []TaskBatch {
	scenarios := sortedKeys(plan.Scenarios)
	operations := sortedKeys(plan.Operations)

	cells := allocateCells(plan, scenarios, operations)

	var batches []TaskBatch
	id := 0
	for _, s := range scenarios {
		for _, o := range operations {
			count := cells[cellKey{s, o}]
			for count > 0 {
				n := count
				if n > plan.BatchSize {
					n = plan.BatchSize
				}
				batches = append(batches, TaskBatch{
					BatchID:    id,
					Scenario:   s,
					Operation:  o,
					Count:      n,
					Structures: structureLabels(plan, n),
				})
				id++
				count -= n
			}
		}
	}
	return batches
}

type cellKey struct {
	scenario  string
	operation string
}

func allocateCells(plan *Plan, scenarios, operations []string) map[cellKey]int {
	total := plan.TotalSamples

	// Small-sample mode: with very few samples the proportional floor would
	// drop whole operations, so guarantee each one at least once.
	if total <= 2*len(operations) {
		return allocateSmall(plan, scenarios, operations)
	}

	type cell struct {
		key  cellKey
		frac float64
	}
	cells := make(map[cellKey]int, len(scenarios)*len(operations))
	var fracs []cell
	allocated := 0

	for _, s := range scenarios {
		for _, o := range operations {
			theoretical := float64(total) * plan.Scenarios[s] * plan.Operations[o]
			floor := int(math.Floor(theoretical))
			key := cellKey{s, o}
			cells[key] = floor
			allocated += floor
			fracs = append(fracs, cell{key, theoretical - float64(floor)})
		}
	}

	// distribute the remainder by descending fractional part, ties broken
	// by schedule order for determinism
	sort.SliceStable(fracs, func(i, j int) bool {
		return fracs[i].frac > fracs[j].frac
	})
	for i := 0; allocated < total && i < len(fracs); i++ {
		cells[fracs[i].key]++
		allocated++
	}
	for i := len(fracs) - 1; allocated > total && i >= 0; i-- {
		if cells[fracs[i].key] > 0 {
			cells[fracs[i].key]--
			allocated--
		}
	}
	return cells
}

func allocateSmall(plan *Plan, scenarios, operations []string) map[cellKey]int {
	// operations by proportion descending, then name for determinism
	ops := append([]string{}, operations...)
	sort.SliceStable(ops, func(i, j int) bool {
		pi, pj := plan.Operations[ops[i]], plan.Operations[ops[j]]
		if pi != pj {
			return pi > pj
		}
		return ops[i] < ops[j]
	})

	cells := map[cellKey]int{}
	remaining := plan.TotalSamples
	si := 0
	for remaining > 0 {
		for _, o := range ops {
			if remaining == 0 {
				break
			}
			cells[cellKey{scenarios[si%len(scenarios)], o}]++
			si++
			remaining--
		}
	}
	return cells
}

// structureLabels builds the per-sample structure list for one batch:
// round(count * pct) of each non-default label, the rest "single".
func structureLabels(plan *Plan, count int) []string {
	labels := make([]string, 0, count)
	for _, name := range sortedKeys(plan.Structures) {
		if name == "single" {
			continue
		}
		n := int(math.Round(float64(count) * plan.Structures[name]))
		for i := 0; i < n && len(labels) < count; i++ {
			labels = append(labels, name)
		}
	}
	for len(labels) < count {
		labels = append(labels, "single")
	}
	// default structure first keeps the common case at the batch head
	sort.SliceStable(labels, func(i, j int) bool {
		return labels[i] == "single" && labels[j] != "single"
	})
	return labels
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
