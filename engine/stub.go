//go:build !whispercpp

package engine

// New reports the native backend as unavailable. The real implementation
// lives behind the whispercpp build tag; tests use Fake.
func New(path string) (Model, error) {
	return nil, ErrUnavailable
}
