package ir

// Payload is the Encode input: exactly one of text, url or structured.
type Payload struct {
	Text       string         `json:"text,omitempty"`
	URL        string         `json:"url,omitempty"`
	Structured map[string]any `json:"structured,omitempty"`
}

// EncodeArgs creates one memory row.
type EncodeArgs struct {
	Payload       Payload        `json:"payload"`
	Type          string         `json:"type,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Facets        map[string]any `json:"facets,omitempty"`
	Subject       string         `json:"subject,omitempty"`
	Time          string         `json:"time,omitempty"`
	Location      string         `json:"location,omitempty"`
	Topic         string         `json:"topic,omitempty"`
	Source        string         `json:"source,omitempty"`
	Weight        *float64       `json:"weight,omitempty"`
	SkipEmbedding bool           `json:"skip_embedding,omitempty"`

	// Lifecycle
	ExpireAt     string `json:"expire_at,omitempty"`
	ExpireAction string `json:"expire_action,omitempty"`
	ExpireReason string `json:"expire_reason,omitempty"`

	// Permission metadata
	ReadPermLevel  string   `json:"read_perm_level,omitempty"`
	WritePermLevel string   `json:"write_perm_level,omitempty"`
	ReadWhitelist  []string `json:"read_whitelist,omitempty"`
	ReadBlacklist  []string `json:"read_blacklist,omitempty"`
	WriteWhitelist []string `json:"write_whitelist,omitempty"`
	WriteBlacklist []string `json:"write_blacklist,omitempty"`
}

// LabelArgs replaces or appends tags and deep-merges facets.
type LabelArgs struct {
	Tags             []string       `json:"tags,omitempty"`
	Mode             string         `json:"mode,omitempty"` // replace (default) | append
	Facets           map[string]any `json:"facets,omitempty"`
	AutoGenerateTags bool           `json:"auto_generate_tags,omitempty"`
}

// UpdateArgs writes whitelisted scalar fields.
type UpdateArgs struct {
	Set map[string]any `json:"set"`
}

// Remind configures Promote's auto-update schedule.
type Remind struct {
	RRule string `json:"rrule,omitempty"`
	Until string `json:"until,omitempty"`
}

// PromoteArgs raises importance via absolute weight or delta.
type PromoteArgs struct {
	Weight      *float64 `json:"weight,omitempty"`
	WeightDelta *float64 `json:"weight_delta,omitempty"`
	Remind      *Remind  `json:"remind,omitempty"`
}

// DemoteArgs lowers importance; Archive is a prototype for a large
// negative delta.
type DemoteArgs struct {
	Weight      *float64 `json:"weight,omitempty"`
	WeightDelta *float64 `json:"weight_delta,omitempty"`
	Archive     bool     `json:"archive,omitempty"`
}

// DeleteArgs removes rows, softly by default.
type DeleteArgs struct {
	Soft      *bool      `json:"soft,omitempty"`
	TimeRange *TimeRange `json:"time_range,omitempty"`
	OlderThan string     `json:"older_than,omitempty"` // ISO-8601 duration
}

// RetrieveArgs has no extra inputs beyond the target.
type RetrieveArgs struct {
	IncludeMetadata bool `json:"include_metadata,omitempty"`
}

// SummarizeArgs condenses targeted rows via the generation provider.
type SummarizeArgs struct {
	Focus     string `json:"focus,omitempty"`
	MaxTokens int    `json:"max_tokens,omitempty"`
}

// MergeArgs folds targeted rows into a primary.
type MergeArgs struct {
	PrimaryID          *int64 `json:"primary_id,omitempty"`
	SoftDeleteChildren *bool  `json:"soft_delete_children,omitempty"`
	SkipReembedding    bool   `json:"skip_reembedding,omitempty"`
}

// BySentencesParams splits on language-specific sentence terminators.
type BySentencesParams struct {
	Lang         string `json:"lang,omitempty"` // zh | en | auto
	MaxSentences int    `json:"max_sentences,omitempty"`
}

// ByChunksParams slices text by size or near-equal partitioning.
type ByChunksParams struct {
	ChunkSize int `json:"chunk_size,omitempty"`
	NumChunks int `json:"num_chunks,omitempty"`
}

// CustomParams delegates splitting to local heuristics or the LLM.
type CustomParams struct {
	Instruction string `json:"instruction,omitempty"`
	MaxSplits   int    `json:"max_splits,omitempty"`
	BypassLLM   bool   `json:"bypass_llm,omitempty"`
	Timeout     int    `json:"timeout,omitempty"` // seconds
}

// SplitParams carries per-strategy parameters.
type SplitParams struct {
	BySentences *BySentencesParams `json:"by_sentences,omitempty"`
	ByChunks    *ByChunksParams    `json:"by_chunks,omitempty"`
	Custom      *CustomParams      `json:"custom,omitempty"`
}

// SplitArgs divides targeted rows into child rows.
type SplitArgs struct {
	Strategy   string      `json:"strategy"` // by_sentences | by_chunks | custom
	Params     SplitParams `json:"params,omitempty"`
	InheritAll *bool       `json:"inherit_all,omitempty"` // default true
}

// LockArgs restricts writes on targeted rows.
type LockArgs struct {
	Mode    string `json:"mode"` // read_only | append_only
	Reason  string `json:"reason,omitempty"`
	Policy  string `json:"policy,omitempty"`
	Expires string `json:"expires,omitempty"`
}

// ExpireArgs schedules row expiry from a TTL or an absolute instant.
type ExpireArgs struct {
	TTL      string `json:"ttl,omitempty"`   // ISO-8601 duration
	Until    string `json:"until,omitempty"` // absolute timestamp
	OnExpire string `json:"on_expire,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Decode helpers: each returns the typed args for its operation.

func (ir *IR) EncodeArgs() (*EncodeArgs, error) {
	var a EncodeArgs
	return &a, ir.decodeArgs(&a)
}

func (ir *IR) LabelArgs() (*LabelArgs, error) {
	var a LabelArgs
	return &a, ir.decodeArgs(&a)
}

func (ir *IR) UpdateArgs() (*UpdateArgs, error) {
	var a UpdateArgs
	return &a, ir.decodeArgs(&a)
}

func (ir *IR) PromoteArgs() (*PromoteArgs, error) {
	var a PromoteArgs
	return &a, ir.decodeArgs(&a)
}

func (ir *IR) DemoteArgs() (*DemoteArgs, error) {
	var a DemoteArgs
	return &a, ir.decodeArgs(&a)
}

func (ir *IR) DeleteArgs() (*DeleteArgs, error) {
	var a DeleteArgs
	return &a, ir.decodeArgs(&a)
}

func (ir *IR) RetrieveArgs() (*RetrieveArgs, error) {
	var a RetrieveArgs
	return &a, ir.decodeArgs(&a)
}

func (ir *IR) SummarizeArgs() (*SummarizeArgs, error) {
	var a SummarizeArgs
	return &a, ir.decodeArgs(&a)
}

func (ir *IR) MergeArgs() (*MergeArgs, error) {
	var a MergeArgs
	return &a, ir.decodeArgs(&a)
}

func (ir *IR) SplitArgs() (*SplitArgs, error) {
	var a SplitArgs
	return &a, ir.decodeArgs(&a)
}

func (ir *IR) LockArgs() (*LockArgs, error) {
	var a LockArgs
	return &a, ir.decodeArgs(&a)
}

func (ir *IR) ExpireArgs() (*ExpireArgs, error) {
	var a ExpireArgs
	return &a, ir.decodeArgs(&a)
}
