//go:build !cuda

package detector

// CUDAAvailable always reports false in builds without the cuda tag.
func CUDAAvailable() bool {
	return false
}
