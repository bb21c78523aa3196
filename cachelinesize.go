package refmap

import (
	"unsafe"

	"golang.org/x/sys/cpu"
)

// CacheLineSize pads segment headers so that neighbouring segment
// locks never share a cache line. It is derived from golang.org/x/sys/cpu.
const CacheLineSize = unsafe.Sizeof(cpu.CacheLinePad{})
