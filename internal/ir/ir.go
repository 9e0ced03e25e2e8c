// Package ir defines the intermediate representation for memory operations:
// a typed instruction with a stage, an operation, a target selector and
// operation-specific arguments, plus the validator that rejects malformed
// instructions before they reach the engine.
package ir

import (
	"encoding/json"
	"fmt"
)

// Stage partitions operations by their effect on the store.
type Stage string

const (
	StageENC Stage = "ENC" // encoding: creates rows
	StageSTO Stage = "STO" // storage: mutates rows
	StageRET Stage = "RET" // retrieval: reads rows
)

// Op is one of the twelve memory operations.
type Op string

const (
	OpEncode    Op = "Encode"
	OpRetrieve  Op = "Retrieve"
	OpUpdate    Op = "Update"
	OpDelete    Op = "Delete"
	OpLabel     Op = "Label"
	OpPromote   Op = "Promote"
	OpDemote    Op = "Demote"
	OpMerge     Op = "Merge"
	OpSplit     Op = "Split"
	OpLock      Op = "Lock"
	OpExpire    Op = "Expire"
	OpSummarize Op = "Summarize"
)

// AllOps lists the twelve operations in canonical order.
var AllOps = []Op{
	OpEncode, OpRetrieve, OpUpdate, OpDelete, OpLabel, OpPromote,
	OpDemote, OpMerge, OpSplit, OpLock, OpExpire, OpSummarize,
}

// stageByOp is the stage <-> op binding: Encode requires ENC, Retrieve and
// Summarize require RET, the remaining nine require STO.
var stageByOp = map[Op]Stage{
	OpEncode:    StageENC,
	OpRetrieve:  StageRET,
	OpSummarize: StageRET,
	OpUpdate:    StageSTO,
	OpDelete:    StageSTO,
	OpLabel:     StageSTO,
	OpPromote:   StageSTO,
	OpDemote:    StageSTO,
	OpMerge:     StageSTO,
	OpSplit:     StageSTO,
	OpLock:      StageSTO,
	OpExpire:    StageSTO,
}

// StageFor returns the required stage for an operation.
func StageFor(op Op) (Stage, bool) {
	s, ok := stageByOp[op]
	return s, ok
}

// Abbrev returns the three-letter operation abbreviation used in sample ids.
func (o Op) Abbrev() string {
	switch o {
	case OpEncode:
		return "enc"
	case OpRetrieve:
		return "ret"
	case OpUpdate:
		return "upd"
	case OpDelete:
		return "del"
	case OpLabel:
		return "lab"
	case OpPromote:
		return "pro"
	case OpDemote:
		return "dem"
	case OpMerge:
		return "mer"
	case OpSplit:
		return "spl"
	case OpLock:
		return "loc"
	case OpExpire:
		return "exp"
	case OpSummarize:
		return "sum"
	default:
		return "unk"
	}
}

// Meta carries optional instruction metadata and safety flags.
type Meta struct {
	Actor        string `json:"actor,omitempty"`
	Language     string `json:"language,omitempty"`
	TraceID      string `json:"trace_id,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
	DryRun       bool   `json:"dry_run,omitempty"`
	Confirmation bool   `json:"confirmation,omitempty"`
}

// IR is one memory operation instruction.
type IR struct {
	Stage  Stage           `json:"stage"`
	Op     Op              `json:"op"`
	Target *TargetSpec     `json:"target,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Meta   *Meta           `json:"meta,omitempty"`
}

// DryRun reports whether the instruction is a dry run.
func (ir *IR) DryRun() bool {
	return ir.Meta != nil && ir.Meta.DryRun
}

// Confirmed reports whether the instruction carries explicit confirmation.
func (ir *IR) Confirmed() bool {
	return ir.Meta != nil && ir.Meta.Confirmation
}

// decodeArgs unmarshals Args into dst; missing args decode into zero values.
func (ir *IR) decodeArgs(dst any) error {
	if len(ir.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(ir.Args, dst); err != nil {
		return fmt.Errorf("invalid args for %s: %w", ir.Op, err)
	}
	return nil
}
