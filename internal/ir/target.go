package ir

import (
	"encoding/json"
	"fmt"
)

// IDList accepts a single id or an id sequence on the wire.
type IDList []int64

// UnmarshalJSON handles both `"ids": 3` and `"ids": [3, 4]`.
func (l *IDList) UnmarshalJSON(data []byte) error {
	var many []int64
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}
	var one int64
	if err := json.Unmarshal(data, &one); err == nil {
		*l = IDList{one}
		return nil
	}
	return fmt.Errorf("ids must be an integer or an array of integers")
}

// TimeRange is either an absolute [start, end] window or a relative window
// such as {relative: "last", amount: 7, unit: "days"}.
type TimeRange struct {
	Start    string `json:"start,omitempty"`
	End      string `json:"end,omitempty"`
	Relative string `json:"relative,omitempty"` // last | next
	Amount   int    `json:"amount,omitempty"`
	Unit     string `json:"unit,omitempty"` // minutes|hours|days|weeks|months|years
}

// IsAbsolute reports whether the range uses absolute bounds.
func (tr *TimeRange) IsAbsolute() bool {
	return tr.Start != "" || tr.End != ""
}

// ValidTimeUnits for relative ranges.
var ValidTimeUnits = map[string]bool{
	"minutes": true, "hours": true, "days": true,
	"weeks": true, "months": true, "years": true,
}

// Filter selects rows by predicates.
type Filter struct {
	HasTags      []string   `json:"has_tags,omitempty"`
	NotTags      []string   `json:"not_tags,omitempty"`
	Type         string     `json:"type,omitempty"`
	TimeRange    *TimeRange `json:"time_range,omitempty"`
	Subject      string     `json:"subject,omitempty"`
	Location     string     `json:"location,omitempty"`
	Topic        string     `json:"topic,omitempty"`
	WeightGTE    *float64   `json:"weight_gte,omitempty"`
	WeightLTE    *float64   `json:"weight_lte,omitempty"`
	ExpireBefore string     `json:"expire_before,omitempty"`
	ExpireAfter  string     `json:"expire_after,omitempty"`
	Limit        *int       `json:"limit,omitempty"`
}

// SearchIntent is either a query string or a raw vector.
type SearchIntent struct {
	Query  string    `json:"query,omitempty"`
	Vector []float32 `json:"vector,omitempty"`
}

// SearchOverrides tunes one search.
type SearchOverrides struct {
	K *int `json:"k,omitempty"`
}

// Search selects rows by semantic search.
type Search struct {
	Intent    SearchIntent     `json:"intent"`
	Overrides *SearchOverrides `json:"overrides,omitempty"`
	Limit     *int             `json:"limit,omitempty"`
}

// TargetSpec identifies which rows an operation applies to. At least one of
// IDs, Filter, Search or All must be set.
type TargetSpec struct {
	IDs    IDList  `json:"ids,omitempty"`
	Filter *Filter `json:"filter,omitempty"`
	Search *Search `json:"search,omitempty"`
	All    bool    `json:"all,omitempty"`
}

// IsEmpty reports whether no selector is present.
func (t *TargetSpec) IsEmpty() bool {
	return t == nil || (len(t.IDs) == 0 && t.Filter == nil && t.Search == nil && !t.All)
}
