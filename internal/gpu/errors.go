package gpu

import "errors"

var (
	// ErrShapeMismatch reports buffer sizes inconsistent with the requested
	// operation. Always propagated, never tolerated silently.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrUnknownKernel reports execution of a kernel or activation name with
	// no registration. Only returned under the "error" unknown-kernel
	// policy; the default policy logs and passes input through unchanged.
	ErrUnknownKernel = errors.New("unknown kernel")

	// ErrKernelCompile reports that the active backend rejected a kernel's
	// source. This usually means a bug in a registered expression.
	ErrKernelCompile = errors.New("kernel compilation failed")

	// ErrBackendUnavailable reports use of a backend that is not compiled in
	// or whose runtime is not present. Recoverable by the CPU path.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrNotInitialized reports a GPU-only operation before
	// InitializeBuiltinKernels created the compute context.
	ErrNotInitialized = errors.New("kernel manager not initialized")
)
