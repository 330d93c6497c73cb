// Package alerting implements the debounced alert/tag aggregation and
// reconciliation subsystem: findings from multiple producers are coalesced
// per (tenant, dataSource) key, reconciled against persisted alerts once the
// key goes quiet, and entity health states are recomputed from the resulting
// active alert set.
package alerting

import (
	"strings"

	"github.com/c360/tenantsync/entity"
)

// FindingsMessage is one producer's complete, latest contribution for one
// (tenant, dataSource) key. A later message from the same producer replaces
// its earlier one; an empty findings list therefore retracts everything the
// producer previously reported.
type FindingsMessage struct {
	TenantID     string           `json:"tenant_id"`
	DataSourceID string           `json:"data_source_id"`
	Producer     string           `json:"producer"`
	Findings     []entity.Finding `json:"findings"`
}

// Subject returns the bus subject findings for this key are published on.
// Identifier segments are sanitized so they cannot break subject tokens.
func (m *FindingsMessage) Subject() string {
	return "analysis.findings." + subjectToken(m.TenantID) + "." + subjectToken(m.DataSourceID)
}

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
