//go:build debug_mem_utils

package memutils

const (
	// DebugMargin is the number of bytes left untouched between suballocations of upload pages
	DebugMargin int = 16
	// corruptionDetectionMagicValue is the byte pattern written into the debug margin
	corruptionDetectionMagicValue byte = 0xA5
)

// WriteMagicValue fills DebugMargin bytes of data starting at offset with an easy-to-identify marker.
// This method no-ops unless the debug_mem_utils build tag is present.
func WriteMagicValue(data []byte, offset int) {
	if offset < 0 || offset+DebugMargin > len(data) {
		return
	}
	for i := 0; i < DebugMargin; i++ {
		data[offset+i] = corruptionDetectionMagicValue
	}
}

// ValidateMagicValue verifies that the marker written by WriteMagicValue is still present.
// This method always returns true unless the debug_mem_utils build tag is present.
func ValidateMagicValue(data []byte, offset int) bool {
	if offset < 0 || offset+DebugMargin > len(data) {
		return true
	}
	for i := 0; i < DebugMargin; i++ {
		if data[offset+i] != corruptionDetectionMagicValue {
			return false
		}
	}

	return true
}

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_mem_utils build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
