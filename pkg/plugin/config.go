package plugin

// Config is a read-only view of a configuration subtree. Modules decode
// their subtree into a struct with Unmarshal.
type Config interface {
	GetBool(key string) bool
	Sub(key string) Config
	Unmarshal(target any) error
}
