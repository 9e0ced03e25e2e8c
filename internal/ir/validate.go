package ir

import (
	"fmt"
	"strings"
	"time"

	"text2mem/internal/clock"
)

// ValidationError describes one structural or semantic violation, with the
// field path that caused it.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func valErr(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// UpdatableFields lists the scalar fields Update may write. The embedding
// triple is intentionally absent: writing embeddings through Update is a
// safety refusal.
var UpdatableFields = map[string]bool{
	"text": true, "type": true, "subject": true, "time": true,
	"location": true, "topic": true, "tags": true, "facets": true,
	"weight": true, "source": true, "auto_frequency": true,
	"next_auto_update_at": true, "expire_at": true,
	"expire_action": true, "expire_reason": true,
}

// embeddingFields are rejected with an explicit safety message.
var embeddingFields = map[string]bool{
	"embedding": true, "embedding_dim": true,
	"embedding_model": true, "embedding_provider": true,
}

var validMemoryTypes = map[string]bool{
	"note": true, "event": true, "task": true,
	"profile": true, "preference": true, "generic": true,
}

var validExpireActions = map[string]bool{
	"soft_delete": true, "hard_delete": true,
	"demote": true, "anonymize": true,
}

// Validate checks an IR against structural and semantic invariants. It
// returns the first violation found, before any side effect can occur.
func Validate(instr *IR) error {
	wantStage, ok := StageFor(instr.Op)
	if !ok {
		return valErr("op", "unknown operation %q", instr.Op)
	}
	if instr.Stage != wantStage {
		return valErr("stage", "operation %s requires stage %s, got %s", instr.Op, wantStage, instr.Stage)
	}

	if instr.Op == OpEncode {
		if instr.Target != nil && !instr.Target.IsEmpty() {
			return valErr("target", "Encode does not accept a target")
		}
		return validateEncode(instr)
	}

	if instr.Target.IsEmpty() {
		return valErr("target", "operation %s requires a target", instr.Op)
	}
	if err := validateTarget(instr); err != nil {
		return err
	}

	switch instr.Op {
	case OpUpdate:
		return validateUpdate(instr)
	case OpPromote:
		return validatePromote(instr)
	case OpDemote:
		return validateDemote(instr)
	case OpDelete:
		return validateDelete(instr)
	case OpSplit:
		return validateSplit(instr)
	case OpLock:
		return validateLock(instr)
	case OpExpire:
		return validateExpire(instr)
	case OpSummarize:
		return validateSummarize(instr)
	case OpMerge, OpLabel, OpRetrieve:
		return nil
	}
	return nil
}

func validateTarget(instr *IR) error {
	t := instr.Target

	// Safety invariant: all=true on a write stage or a RET scan needs
	// explicit confirmation or dry_run.
	if t.All && (instr.Stage == StageSTO || instr.Stage == StageRET) {
		if !instr.Confirmed() && !instr.DryRun() {
			return valErr("target.all", "all=true requires meta.confirmation=true or meta.dry_run=true")
		}
	}

	if f := t.Filter; f != nil {
		if f.Type != "" && !validMemoryTypes[f.Type] {
			return valErr("target.filter.type", "invalid memory type %q", f.Type)
		}
		if f.Limit != nil && *f.Limit <= 0 {
			return valErr("target.filter.limit", "limit must be positive")
		}
		if f.WeightGTE != nil && (*f.WeightGTE < 0 || *f.WeightGTE > 1) {
			return valErr("target.filter.weight_gte", "weight bounds must be within [0, 1]")
		}
		if f.WeightLTE != nil && (*f.WeightLTE < 0 || *f.WeightLTE > 1) {
			return valErr("target.filter.weight_lte", "weight bounds must be within [0, 1]")
		}
		if f.TimeRange != nil {
			if err := validateTimeRange("target.filter.time_range", f.TimeRange); err != nil {
				return err
			}
		}
	}

	if s := t.Search; s != nil {
		hasQuery := s.Intent.Query != ""
		hasVector := len(s.Intent.Vector) > 0
		if hasQuery == hasVector {
			return valErr("target.search.intent", "exactly one of query or vector is required")
		}
		// Explicit limit=0 is rejected; a missing limit stays optional
		// even for STO operations.
		if s.Limit != nil && *s.Limit <= 0 {
			return valErr("target.search.limit", "limit must be positive")
		}
		if s.Overrides != nil && s.Overrides.K != nil && *s.Overrides.K <= 0 {
			return valErr("target.search.overrides.k", "k must be positive")
		}
	}

	return nil
}

func validateTimeRange(field string, tr *TimeRange) error {
	if tr.IsAbsolute() {
		if tr.Start == "" || tr.End == "" {
			return valErr(field, "absolute range requires both start and end")
		}
		if tr.Relative != "" {
			return valErr(field, "absolute and relative bounds are mutually exclusive")
		}
		return nil
	}
	if tr.Relative == "" {
		return valErr(field, "either absolute start+end or relative window required")
	}
	if tr.Relative != "last" && tr.Relative != "next" {
		return valErr(field+".relative", "must be \"last\" or \"next\"")
	}
	if tr.Amount <= 0 {
		return valErr(field+".amount", "must be positive")
	}
	if !ValidTimeUnits[tr.Unit] {
		return valErr(field+".unit", "invalid unit %q", tr.Unit)
	}
	return nil
}

func validateEncode(instr *IR) error {
	a, err := instr.EncodeArgs()
	if err != nil {
		return valErr("args", "%v", err)
	}

	set := 0
	if a.Payload.Text != "" {
		set++
	}
	if a.Payload.URL != "" {
		set++
	}
	if len(a.Payload.Structured) > 0 {
		set++
	}
	if set != 1 {
		return valErr("args.payload", "exactly one of text, url or structured is required")
	}

	if a.Type != "" && !validMemoryTypes[a.Type] {
		return valErr("args.type", "invalid memory type %q", a.Type)
	}
	if a.Weight != nil && (*a.Weight < 0 || *a.Weight > 1) {
		return valErr("args.weight", "weight must be within [0, 1]")
	}
	if a.ExpireAction != "" && !validExpireActions[a.ExpireAction] {
		return valErr("args.expire_action", "invalid expire action %q", a.ExpireAction)
	}
	return nil
}

func validateUpdate(instr *IR) error {
	a, err := instr.UpdateArgs()
	if err != nil {
		return valErr("args", "%v", err)
	}
	if len(a.Set) == 0 {
		return valErr("args.set", "at least one field is required")
	}
	for key := range a.Set {
		if embeddingFields[key] {
			return valErr("args.set."+key, "writing embedding fields through Update is forbidden")
		}
		if !UpdatableFields[key] {
			return valErr("args.set."+key, "field is not updatable")
		}
	}
	if w, ok := a.Set["weight"]; ok {
		if _, isNum := w.(float64); !isNum {
			return valErr("args.set.weight", "weight must be a number")
		}
	}
	if tVal, ok := a.Set["type"]; ok {
		s, isStr := tVal.(string)
		if !isStr || !validMemoryTypes[s] {
			return valErr("args.set.type", "invalid memory type")
		}
	}
	return nil
}

func validateWeightChange(field string, weight, delta *float64) error {
	if (weight == nil) == (delta == nil) {
		return valErr(field, "exactly one of weight or weight_delta is required")
	}
	if weight != nil && (*weight < 0 || *weight > 1) {
		return valErr(field+".weight", "weight must be within [0, 1]")
	}
	if delta != nil && (*delta < -1 || *delta > 1) {
		return valErr(field+".weight_delta", "delta must be within [-1, 1]")
	}
	return nil
}

func validatePromote(instr *IR) error {
	a, err := instr.PromoteArgs()
	if err != nil {
		return valErr("args", "%v", err)
	}
	return validateWeightChange("args", a.Weight, a.WeightDelta)
}

func validateDemote(instr *IR) error {
	a, err := instr.DemoteArgs()
	if err != nil {
		return valErr("args", "%v", err)
	}
	if a.Archive && a.Weight == nil && a.WeightDelta == nil {
		return nil // archive implies a large negative delta
	}
	return validateWeightChange("args", a.Weight, a.WeightDelta)
}

func validateDelete(instr *IR) error {
	a, err := instr.DeleteArgs()
	if err != nil {
		return valErr("args", "%v", err)
	}
	if a.TimeRange != nil {
		if err := validateTimeRange("args.time_range", a.TimeRange); err != nil {
			return err
		}
	}
	if a.OlderThan != "" {
		if _, err := clock.ParseISODuration(a.OlderThan); err != nil {
			return valErr("args.older_than", "%v", err)
		}
	}
	return nil
}

func validateSplit(instr *IR) error {
	a, err := instr.SplitArgs()
	if err != nil {
		return valErr("args", "%v", err)
	}
	switch a.Strategy {
	case "by_sentences":
		if p := a.Params.BySentences; p != nil {
			if p.Lang != "" && p.Lang != "zh" && p.Lang != "en" && p.Lang != "auto" {
				return valErr("args.params.by_sentences.lang", "must be zh, en or auto")
			}
			if p.MaxSentences < 0 {
				return valErr("args.params.by_sentences.max_sentences", "must not be negative")
			}
		}
	case "by_chunks":
		p := a.Params.ByChunks
		if p == nil || (p.ChunkSize <= 0 && p.NumChunks <= 0) {
			return valErr("args.params.by_chunks", "chunk_size or num_chunks is required")
		}
	case "custom":
		p := a.Params.Custom
		if p == nil || strings.TrimSpace(p.Instruction) == "" {
			return valErr("args.params.custom.instruction", "instruction is required")
		}
		if p.MaxSplits < 0 {
			return valErr("args.params.custom.max_splits", "must not be negative")
		}
	case "":
		return valErr("args.strategy", "strategy is required")
	default:
		return valErr("args.strategy", "unknown strategy %q", a.Strategy)
	}
	return nil
}

func validateLock(instr *IR) error {
	a, err := instr.LockArgs()
	if err != nil {
		return valErr("args", "%v", err)
	}
	if a.Mode != "read_only" && a.Mode != "append_only" {
		return valErr("args.mode", "must be read_only or append_only")
	}
	if a.Expires != "" {
		if _, err := time.Parse(time.RFC3339, a.Expires); err != nil {
			return valErr("args.expires", "must be an RFC3339 timestamp")
		}
	}
	return nil
}

func validateExpire(instr *IR) error {
	a, err := instr.ExpireArgs()
	if err != nil {
		return valErr("args", "%v", err)
	}
	if (a.TTL == "") == (a.Until == "") {
		return valErr("args", "exactly one of ttl or until is required")
	}
	if a.TTL != "" {
		if _, err := clock.ParseISODuration(a.TTL); err != nil {
			return valErr("args.ttl", "%v", err)
		}
	}
	if a.Until != "" {
		if _, err := time.Parse(time.RFC3339, a.Until); err != nil {
			return valErr("args.until", "must be an RFC3339 timestamp")
		}
	}
	if a.OnExpire != "" && !validExpireActions[a.OnExpire] {
		return valErr("args.on_expire", "invalid expire action %q", a.OnExpire)
	}
	return nil
}

func validateSummarize(instr *IR) error {
	a, err := instr.SummarizeArgs()
	if err != nil {
		return valErr("args", "%v", err)
	}
	if a.MaxTokens < 0 || a.MaxTokens > 2000 {
		return valErr("args.max_tokens", "must be within [0, 2000]")
	}
	return nil
}
