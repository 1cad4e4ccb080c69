package types

import "time"

// ChecksumRecord is an integrity witness for exactly one row of one table.
// At most one record exists per (TableName, RecordID).
type ChecksumRecord struct {
	TableName string
	RecordID  int64

	// Checksum is the digest over ChecksumFields at creation time.
	Checksum string

	// ChecksumFields is the ordered list of field names the digest covers.
	ChecksumFields []string

	CreatedAt time.Time

	// VerifiedAt is zero until the first verification pass.
	VerifiedAt time.Time

	// IsValid is the last known verification outcome. A mismatch flips
	// this to false; it does not repair the row.
	IsValid bool
}
