package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// HostAPIFailureError marks errors returned by the underlying GPU API. The original error is
// always retained, so both it and this kind satisfy errors.Is.
var HostAPIFailureError error = errors.New("gpu api call failed")

// InvalidArgumentError is returned when a call is made with arguments the receiver cannot act on,
// such as a subresource index out of range or a texture shape that mip generation does not support
var InvalidArgumentError error = errors.New("invalid argument")

// OutOfDescriptorMemoryError is returned by descriptor allocators when no page can host a
// request and the pool's page cap has been reached
var OutOfDescriptorMemoryError error = errors.New("out of descriptor memory")

// AllocationTooLargeError is returned by page-based allocators when a single request is
// larger than a page
var AllocationTooLargeError error = errors.New("allocation is larger than the page size")

// OutOfTableBoundsError is returned when descriptors are staged past the end of the
// descriptor table declared by the root signature
var OutOfTableBoundsError error = errors.New("descriptor range exceeds table bounds")

// UnknownResourceError is returned by strict state tracking when a resource was never
// registered in the global state map
var UnknownResourceError error = errors.New("resource is not tracked globally")
