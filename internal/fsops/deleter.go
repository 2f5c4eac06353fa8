package fsops

// Deleter abstracts removal of the original file after a successful conversion
// Enables mocking in tests to prove dry-run and failed conversions never delete
type Deleter interface {
	Remove(path string) error
}
