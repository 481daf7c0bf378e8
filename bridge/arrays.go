package bridge

import (
	"unsafe"

	"github.com/wippyai/native-bridge/managed"
)

// NewArray allocates a primitive array whose element kind follows T.
func NewArray[T managed.Primitive](env Env, n int) managed.Handle {
	return env.NewPrimitiveArray(managed.KindOf[T](), n)
}

// GetArrayElements returns the elements of a primitive array as []T.
// isCopy reports whether the slice is a copy that must be released for
// changes to reach the array.
func GetArrayElements[T managed.Primitive](env Env, arr managed.Handle) (elems []T, isCopy bool) {
	raw, isCopy := env.GetArrayElements(arr, managed.KindOf[T]())
	return viewAs[T](raw), isCopy
}

// ReleaseArrayElements hands back a slice from GetArrayElements.
func ReleaseArrayElements[T managed.Primitive](env Env, arr managed.Handle, elems []T, mode ReleaseMode) {
	env.ReleaseArrayElements(arr, bytesOf(elems), mode)
}

// GetArrayRegion copies len(buf) elements starting at start out of arr.
func GetArrayRegion[T managed.Primitive](env Env, arr managed.Handle, start int, buf []T) {
	env.GetArrayRegion(arr, managed.KindOf[T](), start, len(buf), bytesOf(buf))
}

// SetArrayRegion copies buf into arr starting at start.
func SetArrayRegion[T managed.Primitive](env Env, arr managed.Handle, start int, buf []T) {
	env.SetArrayRegion(arr, managed.KindOf[T](), start, len(buf), bytesOf(buf))
}

// GetArrayCritical enters a critical section and returns a direct view of
// arr's elements.
func GetArrayCritical[T managed.Primitive](env Env, arr managed.Handle) []T {
	return viewAs[T](env.GetPrimitiveArrayCritical(arr))
}

// ReleaseArrayCritical leaves the critical section entered by
// GetArrayCritical.
func ReleaseArrayCritical[T managed.Primitive](env Env, arr managed.Handle, elems []T, mode ReleaseMode) {
	env.ReleasePrimitiveArrayCritical(arr, bytesOf(elems), mode)
}

// viewAs reinterprets raw element storage as []T. Capacity is carried over
// so the slice still identifies its buffer when empty.
func viewAs[T managed.Primitive](raw []byte) []T {
	if cap(raw) == 0 {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	all := unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(raw[:cap(raw)]))), cap(raw)/size)
	return all[:len(raw)/size]
}

// bytesOf is the inverse of viewAs.
func bytesOf[T managed.Primitive](elems []T) []byte {
	if cap(elems) == 0 {
		return nil
	}
	var zero T
	size := int(unsafe.Sizeof(zero))
	all := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(elems[:cap(elems)]))), cap(elems)*size)
	return all[:len(elems)*size]
}

// bufferKey identifies a buffer by the address of its first element.
func bufferKey(p []byte) unsafe.Pointer {
	if cap(p) == 0 {
		return nil
	}
	return unsafe.Pointer(unsafe.SliceData(p[:cap(p)]))
}
