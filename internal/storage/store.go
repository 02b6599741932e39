package storage

// Store is the record store contract shared by the in-memory and SQLite
// implementations. IDs are positive, monotonically increasing, and never
// reused, even after deletion. Absence is signalled with ErrNotFound; any
// other error is an internal fault.
//
// Category counts are recomputed synchronously: when CreateMemory,
// UpdateMemory, or DeleteMemory touches a categorized memory, the affected
// category's count is correct before the call returns.
type Store interface {
	ListCategories() ([]Category, error)
	GetCategory(id int64) (Category, error)
	GetCategoryByName(name string) (Category, error)
	CreateCategory(name, icon, color string) (Category, error)
	SetCategoryCount(id, count int64) error

	// ListMemories returns all memories ordered newest-createdAt-first;
	// ties are broken by insertion order.
	ListMemories() ([]Memory, error)
	ListMemoriesByCategory(categoryID int64) ([]Memory, error)
	GetMemory(id int64) (Memory, error)
	CreateMemory(m NewMemory) (Memory, error)
	UpdateMemory(id int64, patch MemoryPatch) (Memory, error)
	DeleteMemory(id int64) error

	// SearchMemoriesLocal is the oracle-free substring search: a
	// case-insensitive match against title, content, keywords, or tags,
	// ordered newest-first.
	SearchMemoriesLocal(query string) ([]Memory, error)

	Close() error
}

// SeedCategory is a category created at store initialization.
type SeedCategory struct {
	Name  string
	Icon  string
	Color string
}

// SeedCategories are the canonical categories present in every fresh store.
// "Other" is not seeded: it is created lazily by the analyzer like any
// other oracle-suggested name.
var SeedCategories = []SeedCategory{
	{Name: "Game Account", Icon: "gamepad", Color: "blue"},
	{Name: "Schedule", Icon: "calendar", Color: "green"},
	{Name: "Contact", Icon: "user", Color: "purple"},
	{Name: "Idea", Icon: "lightbulb", Color: "yellow"},
	{Name: "Quick Note", Icon: "sticky-note", Color: "orange"},
}
