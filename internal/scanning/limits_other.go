//go:build !unix

package scanning

// descriptorLimit has no rlimit to consult; the value mirrors a common default.
func descriptorLimit() (uint64, error) {
	return 8192, nil
}
