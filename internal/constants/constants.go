package constants

// Advisory lock ids shared by every process pointed at the same store.
const (
	MigrationLock = iota + 1
	ProcessingLoopLock
)
