//go:build cuda

package detector

import "gocv.io/x/gocv/cuda"

// CUDAAvailable reports whether at least one CUDA device can run the GPU backend.
func CUDAAvailable() bool {
	return cuda.GetCudaEnabledDeviceCount() > 0
}
