package sdb

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/nodedb/node"
	"github.com/hupe1980/nodedb/schema"
)

var (
	// ErrBadMagic is returned when a file or section magic does not match.
	ErrBadMagic = errors.New("sdb: bad magic")
	// ErrTruncated is returned when the dump ends early.
	ErrTruncated = errors.New("sdb: truncated")
	// ErrHashMismatch is returned when a content hash does not verify.
	ErrHashMismatch = errors.New("sdb: hash mismatch")
	// ErrVersionTooNew is returned for a dump newer than the reader allows.
	ErrVersionTooNew = errors.New("sdb: version too new")
	// ErrUnsupportedVersion is returned for a dump older than FormatMin.
	ErrUnsupportedVersion = errors.New("sdb: unsupported version")
	// ErrFieldTypeMismatch is returned when a stored field type differs from the schema.
	ErrFieldTypeMismatch = errors.New("sdb: field type mismatch")
	// ErrWrongDumpKind is returned when a block dump is read as common or vice versa.
	ErrWrongDumpKind = errors.New("sdb: wrong dump kind")
	// ErrCorrupt is returned for structurally invalid content.
	ErrCorrupt = errors.New("sdb: corrupt dump")
	// ErrForeignDump is returned for a block dump written by another database.
	ErrForeignDump = errors.New("sdb: dump belongs to another database")
)

// LoadError locates a load failure. Partial reports whether some content
// was applied before the failure.
type LoadError struct {
	Section string
	Type    schema.TypeID
	Block   uint32
	Node    node.ID
	Field   int // -1 when not field specific
	Partial bool
	Err     error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("sdb: load ")
	b.WriteString(e.Section)
	if e.Type != 0 {
		fmt.Fprintf(&b, " type %d", e.Type)
	}
	if e.Section == sectionBlock || e.Block != 0 {
		fmt.Fprintf(&b, " block %d", e.Block)
	}
	if e.Node != 0 {
		fmt.Fprintf(&b, " node %d", e.Node)
	}
	if e.Field >= 0 {
		fmt.Fprintf(&b, " field %d", e.Field)
	}
	if e.Partial {
		b.WriteString(" (partial)")
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *LoadError) Unwrap() error { return e.Err }

const (
	sectionHeader  = "header"
	sectionDBInfo  = "dbinfo"
	sectionSchemas = "schemas"
	sectionExpire  = "expire"
	sectionIDs     = "id_tables"
	sectionBlock   = "block"
	sectionNodes   = "nodes"
	sectionAliases = "aliases"
	sectionColvec  = "colvec"
	sectionHash    = "block_hash"
	sectionFooter  = "footer"
)

// ErrLog accumulates load diagnostics up to a fixed number of entries.
// The zero value discards everything.
type ErrLog struct {
	entries []string
	limit   int
	dropped int
}

// NewErrLog returns a log that keeps at most limit entries.
func NewErrLog(limit int) *ErrLog {
	return &ErrLog{entries: make([]string, 0, limit), limit: limit}
}

// Add records err. A nil log or error is ignored.
func (l *ErrLog) Add(err error) {
	if l == nil || err == nil {
		return
	}
	if len(l.entries) >= l.limit {
		l.dropped++
		return
	}
	l.entries = append(l.entries, err.Error())
}

// Entries returns the recorded messages.
func (l *ErrLog) Entries() []string {
	if l == nil {
		return nil
	}
	return l.entries
}

// Dropped returns how many messages exceeded the limit.
func (l *ErrLog) Dropped() int {
	if l == nil {
		return 0
	}
	return l.dropped
}

// Len returns the number of recorded messages.
func (l *ErrLog) Len() int { return len(l.Entries()) }

func (l *ErrLog) String() string {
	s := strings.Join(l.Entries(), "\n")
	if d := l.Dropped(); d > 0 {
		s += fmt.Sprintf("\n... %d more", d)
	}
	return s
}
