package epoch

import "github.com/nicolagi/worktree/internal/seqindex"

// metadataRecord is one entry of the Metadata index: the FileType a FileId
// was declared with on InsertMetadata. Once inserted, a record is never
// removed or changed — a file's type cannot change after creation.
type metadataRecord struct {
	FileID FileId
	Type   FileType
}

// countSummary is the trivial monoid used by every epoch index that only
// needs a total count (for Epoch.Stats), not a seekable offset dimension
// the way buffer's Units/Lines summary is.
type countSummary struct {
	N uint64
}

type countOps struct{}

func (countOps) Zero() countSummary { return countSummary{} }

func (countOps) Add(a, b countSummary) countSummary {
	return countSummary{N: a.N + b.N}
}

func metadataSummary(metadataRecord) countSummary { return countSummary{N: 1} }

func compareMetadata(a, b metadataRecord) int {
	return compareFileId(a.FileID, b.FileID)
}

// metadataIndex wraps the copy-on-write tree holding one record per known
// FileId. Lookup is a linear cursor scan rather than a seek: FileId is not
// a summable dimension (it is a compound identifier, not a count or
// offset), so the seqindex package's Seek machinery — built for monotonic
// projections like buffer's code-unit count — has no projection to offer
// here. This mirrors the same trade-off buffer.findFragment already makes
// for fragment lookup by identifier.
type metadataIndex struct {
	tree *seqindex.Tree[metadataRecord, countSummary]
}

func newMetadataIndex() *metadataIndex {
	return &metadataIndex{tree: seqindex.New[metadataRecord, countSummary](countOps{}, metadataSummary, compareMetadata)}
}

func (m *metadataIndex) clone() *metadataIndex {
	return &metadataIndex{tree: m.tree.Clone()}
}

func (m *metadataIndex) lookup(id FileId) (FileType, bool) {
	c := seqindex.NewCursor(m.tree)
	for {
		item, ok := c.Item()
		if !ok {
			return 0, false
		}
		if item.FileID.Equal(id) {
			return item.Type, true
		}
		c.Next()
	}
}

func (m *metadataIndex) exists(id FileId) bool {
	_, ok := m.lookup(id)
	return ok
}

// insert adds a record for id if none exists yet; inserting the same FileId
// again leaves the existing record unchanged.
func (m *metadataIndex) insert(id FileId, t FileType) {
	if m.exists(id) {
		return
	}
	m.tree.Insert(metadataRecord{FileID: id, Type: t})
}

func (m *metadataIndex) count() uint64 {
	return m.tree.Summary().N
}

// all returns every known record, in FileId order.
func (m *metadataIndex) all() []metadataRecord {
	var out []metadataRecord
	c := seqindex.NewCursor(m.tree)
	for {
		item, ok := c.Item()
		if !ok {
			return out
		}
		out = append(out, item)
		c.Next()
	}
}
