package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Memory types accepted in the type column.
var ValidTypes = map[string]bool{
	"note":       true,
	"event":      true,
	"task":       true,
	"profile":    true,
	"preference": true,
	"generic":    true,
}

// Expire actions accepted in the expire_action column.
var ValidExpireActions = map[string]bool{
	"soft_delete": true,
	"hard_delete": true,
	"demote":      true,
	"anonymize":   true,
}

// MemoryRecord is one row in the memory table.
type MemoryRecord struct {
	ID   int64  `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"`

	// Semantic facets, mirrored from the facets JSON into columns
	Subject  string `json:"subject,omitempty"`
	Time     string `json:"time,omitempty"`
	Location string `json:"location,omitempty"`
	Topic    string `json:"topic,omitempty"`

	Facets map[string]any `json:"facets,omitempty"`
	Tags   []string       `json:"tags,omitempty"`
	Weight float64        `json:"weight"`

	Embedding         []float32 `json:"embedding,omitempty"`
	EmbeddingDim      int       `json:"embedding_dim,omitempty"`
	EmbeddingModel    string    `json:"embedding_model,omitempty"`
	EmbeddingProvider string    `json:"embedding_provider,omitempty"`

	Source           string `json:"source,omitempty"`
	AutoFrequency    string `json:"auto_frequency,omitempty"`
	NextAutoUpdateAt string `json:"next_auto_update_at,omitempty"`

	ExpireAt     string `json:"expire_at,omitempty"`
	ExpireAction string `json:"expire_action,omitempty"`
	ExpireReason string `json:"expire_reason,omitempty"`

	LockReason  string `json:"lock_reason,omitempty"`
	LockPolicy  string `json:"lock_policy,omitempty"`
	LockExpires string `json:"lock_expires,omitempty"`

	ReadPermLevel  string   `json:"read_perm_level,omitempty"`
	WritePermLevel string   `json:"write_perm_level,omitempty"`
	ReadWhitelist  []string `json:"read_whitelist,omitempty"`
	ReadBlacklist  []string `json:"read_blacklist,omitempty"`
	WriteWhitelist []string `json:"write_whitelist,omitempty"`
	WriteBlacklist []string `json:"write_blacklist,omitempty"`

	LineageParents  []int64 `json:"lineage_parents,omitempty"`
	LineageChildren []int64 `json:"lineage_children,omitempty"`

	Deleted   bool   `json:"deleted"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// HasTag reports whether the record carries the tag, treating the stored
// ordered sequence as a set.
func (r *MemoryRecord) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// recordColumns is the canonical column order used by scanRecord.
const recordColumns = `id, text, type, subject, time, location, topic, facets, tags, weight,
	embedding, embedding_dim, embedding_model, embedding_provider,
	source, auto_frequency, next_auto_update_at,
	expire_at, expire_action, expire_reason,
	lock_reason, lock_policy, lock_expires,
	read_perm_level, write_perm_level,
	read_whitelist, read_blacklist, write_whitelist, write_blacklist,
	lineage_parents, lineage_children,
	deleted, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord reads one row in recordColumns order.
func scanRecord(row rowScanner) (*MemoryRecord, error) {
	var (
		rec                                    MemoryRecord
		subject, timeVal, location, topic      sql.NullString
		facets, tags, embedding                sql.NullString
		embDim                                 sql.NullInt64
		embModel, embProvider                  sql.NullString
		source, autoFreq, nextAuto             sql.NullString
		expireAt, expireAction, expireReason   sql.NullString
		lockReason, lockPolicy, lockExpires    sql.NullString
		readPerm, writePerm                    sql.NullString
		readWL, readBL, writeWL, writeBL       sql.NullString
		lineageParents, lineageChildren        sql.NullString
		deleted                                int64
		createdAt, updatedAt                   sql.NullString
	)

	err := row.Scan(
		&rec.ID, &rec.Text, &rec.Type, &subject, &timeVal, &location, &topic, &facets, &tags, &rec.Weight,
		&embedding, &embDim, &embModel, &embProvider,
		&source, &autoFreq, &nextAuto,
		&expireAt, &expireAction, &expireReason,
		&lockReason, &lockPolicy, &lockExpires,
		&readPerm, &writePerm,
		&readWL, &readBL, &writeWL, &writeBL,
		&lineageParents, &lineageChildren,
		&deleted, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Subject = subject.String
	rec.Time = timeVal.String
	rec.Location = location.String
	rec.Topic = topic.String
	rec.EmbeddingDim = int(embDim.Int64)
	rec.EmbeddingModel = embModel.String
	rec.EmbeddingProvider = embProvider.String
	rec.Source = source.String
	rec.AutoFrequency = autoFreq.String
	rec.NextAutoUpdateAt = nextAuto.String
	rec.ExpireAt = expireAt.String
	rec.ExpireAction = expireAction.String
	rec.ExpireReason = expireReason.String
	rec.LockReason = lockReason.String
	rec.LockPolicy = lockPolicy.String
	rec.LockExpires = lockExpires.String
	rec.ReadPermLevel = readPerm.String
	rec.WritePermLevel = writePerm.String
	rec.Deleted = deleted != 0
	rec.CreatedAt = createdAt.String
	rec.UpdatedAt = updatedAt.String

	if err := decodeJSONColumn(facets, &rec.Facets); err != nil {
		return nil, fmt.Errorf("failed to decode facets for row %d: %w", rec.ID, err)
	}
	if err := decodeJSONColumn(tags, &rec.Tags); err != nil {
		return nil, fmt.Errorf("failed to decode tags for row %d: %w", rec.ID, err)
	}
	if err := decodeJSONColumn(embedding, &rec.Embedding); err != nil {
		return nil, fmt.Errorf("failed to decode embedding for row %d: %w", rec.ID, err)
	}
	if err := decodeJSONColumn(readWL, &rec.ReadWhitelist); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(readBL, &rec.ReadBlacklist); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(writeWL, &rec.WriteWhitelist); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(writeBL, &rec.WriteBlacklist); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(lineageParents, &rec.LineageParents); err != nil {
		return nil, err
	}
	if err := decodeJSONColumn(lineageChildren, &rec.LineageChildren); err != nil {
		return nil, err
	}

	return &rec, nil
}

func decodeJSONColumn(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}

// encodeJSON serializes list/object columns, mapping empty to NULL.
func encodeJSON(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []string:
		if len(x) == 0 {
			return nil, nil
		}
	case []int64:
		if len(x) == 0 {
			return nil, nil
		}
	case []float32:
		if len(x) == 0 {
			return nil, nil
		}
	case map[string]any:
		if len(x) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize JSON column: %w", err)
	}
	return string(data), nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
