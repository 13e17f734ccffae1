package lstore

// Fixed metadata column offsets into a table's base and tail page arrays.
// User columns follow immediately after the last metadata column.
const (
	colIndirection = 0
	colRID         = 1
	colTimestamp   = 2
	colSchema      = 3
	colUser0       = 4 // base[4+i] is user column i

	tailColIndirection = 0
	tailColRID         = 1
	tailColTimestamp   = 2
	tailColSchema      = 3
	tailColBaseRID     = 4
	tailColUser0       = 5 // tail[5+i] is user column i

	baseMetaCols = 4
	tailMetaCols = 5
)

// TombstoneRID marks a deleted base RID column or an invalidated tail RID
// column. It must be compared against the raw bit pattern of the slot, not
// as a signed value: a plain int64(-1) comparison only happens to work
// because the two's complement encodings coincide.
const TombstoneRID uint64 = 0xFFFFFFFFFFFFFFFF
