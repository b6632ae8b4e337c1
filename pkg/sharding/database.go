package sharding

// Database pairs a read and a write Connection Manager. If only one side
// is configured, both alias it (spec.md §3/§6).
type Database struct {
	Read  *ConnectionManager
	Write *ConnectionManager
}

// NewDatabase builds a Database. A nil write manager aliases read; a nil
// read manager aliases write. Both nil is a caller programming error.
func NewDatabase(read, write *ConnectionManager) Database {
	if read == nil && write == nil {
		panic("sharding: Database requires at least one of read or write")
	}
	if read == nil {
		read = write
	}
	if write == nil {
		write = read
	}
	return Database{Read: read, Write: write}
}
