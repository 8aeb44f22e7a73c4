package store

// Stores is the top-level container for all storage backends.
// Both the Postgres and in-memory backends fill every field.
type Stores struct {
	Agents      AgentStore
	Knowledge   KnowledgeStore
	Threads     ThreadStore
	Messages    MessageStore
	Handoffs    HandoffStore
	Connections ConnectionStore
	Activity    ActivityStore
	Usage       UsageStore

	// Close releases the backend (nil for in-memory stores).
	Close func() error
}

// StoreConfig configures store construction.
type StoreConfig struct {
	PostgresDSN     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // seconds
}
