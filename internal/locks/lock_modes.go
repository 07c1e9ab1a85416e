package locks

import "fmt"

// LockMode is a PostgreSQL table lock mode, ordered from weakest to strongest.
// See https://www.postgresql.org/docs/current/explicit-locking.html
type LockMode int

const (
	// LockAccessShare is taken by SELECT
	LockAccessShare LockMode = iota
	// LockRowShare is taken by SELECT FOR UPDATE/FOR SHARE
	LockRowShare
	// LockRowExclusive is taken by INSERT, UPDATE and DELETE
	LockRowExclusive
	// LockShareUpdateExclusive is taken by CREATE INDEX CONCURRENTLY and
	// VALIDATE CONSTRAINT; reads and writes continue
	LockShareUpdateExclusive
	// LockShare is taken by CREATE INDEX; writes block
	LockShare
	// LockShareRowExclusive is taken on the referenced table when a foreign
	// key is added
	LockShareRowExclusive
	LockExclusive
	// LockAccessExclusive is taken by most ALTER TABLE forms and DROP TABLE;
	// everything blocks
	LockAccessExclusive
)

func (l LockMode) String() string {
	switch l {
	case LockAccessShare:
		return "ACCESS SHARE"
	case LockRowShare:
		return "ROW SHARE"
	case LockRowExclusive:
		return "ROW EXCLUSIVE"
	case LockShareUpdateExclusive:
		return "SHARE UPDATE EXCLUSIVE"
	case LockShare:
		return "SHARE"
	case LockShareRowExclusive:
		return "SHARE ROW EXCLUSIVE"
	case LockExclusive:
		return "EXCLUSIVE"
	case LockAccessExclusive:
		return "ACCESS EXCLUSIVE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// BlocksReads reports whether SELECT waits on this lock
func (l LockMode) BlocksReads() bool { return l == LockAccessExclusive }

// BlocksWrites reports whether INSERT/UPDATE/DELETE wait on this lock
func (l LockMode) BlocksWrites() bool { return l >= LockShare }

func (l LockMode) ImpactLevel() ImpactLevel {
	switch l {
	case LockAccessShare, LockRowShare, LockRowExclusive:
		return ImpactNone
	case LockShareUpdateExclusive:
		return ImpactLow
	case LockShare:
		return ImpactMedium
	default:
		return ImpactHigh
	}
}

// ImpactLevel buckets lock modes for display
type ImpactLevel int

const (
	ImpactNone ImpactLevel = iota
	ImpactLow
	ImpactMedium // blocks writes
	ImpactHigh   // blocks reads and writes
)

func (i ImpactLevel) String() string {
	switch i {
	case ImpactNone:
		return "NONE"
	case ImpactLow:
		return "LOW"
	case ImpactMedium:
		return "MEDIUM"
	case ImpactHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// Emoji is the marker the CLI prints next to an impact
func (i ImpactLevel) Emoji() string {
	switch i {
	case ImpactNone:
		return "✓"
	case ImpactLow:
		return "⚡"
	case ImpactMedium:
		return "⚠️"
	default:
		return "🔴"
	}
}

// LockImpact describes the lock one operation takes
type LockImpact struct {
	Operation    string      `json:"operation"`
	Table        string      `json:"table,omitempty"`
	LockMode     LockMode    `json:"-"`
	Lock         string      `json:"lock"`
	BlocksReads  bool        `json:"blocks_reads"`
	BlocksWrites bool        `json:"blocks_writes"`
	Impact       ImpactLevel `json:"-"`
	Explanation  string      `json:"explanation"`
}

func newImpact(operation, table string, mode LockMode, explanation string) LockImpact {
	return LockImpact{
		Operation:    operation,
		Table:        table,
		LockMode:     mode,
		Lock:         mode.String(),
		BlocksReads:  mode.BlocksReads(),
		BlocksWrites: mode.BlocksWrites(),
		Impact:       mode.ImpactLevel(),
		Explanation:  explanation,
	}
}

// IsHighImpact reports whether the operation blocks writes
func (li LockImpact) IsHighImpact() bool { return li.Impact >= ImpactMedium }
