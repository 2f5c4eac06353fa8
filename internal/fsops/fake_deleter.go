package fsops

// FakeDeleter implements Deleter for testing
// Records all delete calls without performing actual deletions; Err is returned from every call
type FakeDeleter struct {
	Calls []string
	Err   error
}

func (f *FakeDeleter) Remove(path string) error {
	f.Calls = append(f.Calls, "rm:"+path)
	return f.Err
}
