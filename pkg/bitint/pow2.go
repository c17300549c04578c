/*
Package bitint provides bit manipulation functions optimized for
real-time audio processing. The package focuses on power-of-2
operations needed for FFT plan sizing and frame validation.

Design Principles:
- Zero Allocations: All operations use stack memory only
- Predictable Performance: O(1) constant time operations
- Real-Time Safe: No locks, syscalls, or blocking operations

Usage:

	// Validate an analysis frame size before building an FFT plan
	if !bitint.IsPowerOfTwo(frameSize) { ... }

	// log2 of the half-length complex transform
	stages, ok := bitint.Log2(frameSize / 2)

----------------------------------------------------------------------

What this code does:

	NextPowerOfTwo returns the next power of 2 greater than or
	equal to size. The subtraction (size-1) is critical, without
	it powers of 2 would be doubled:

	- For input 8 (already a power of 2):
	  size-1 = 7 (binary 0111)
	  bits.Len(7) = 3
	  1 << 3 = 8

	Log2 only answers for exact powers of 2. A frame size like 4160
	has no integral log2, and rounding it (as a float log2 would)
	silently selects a different transform length.
*/
package bitint

import "math/bits"

// NextPowerOfTwo returns the next power of 2 >= size.
//
// Examples:
//
//	Input  Output  Explanation
//	4      4      Already power of 2 (preserved)
//	5      8      Next power after 5
//	4160   8192   Next power after 4160
//	0      1      Handle zero case
//	-1     1      Handle negative case
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	return 1 << bits.Len(uint(size-1))
}

// PrevPowerOfTwo returns the largest power of 2 <= size, or 0 when
// size is not positive.
func PrevPowerOfTwo(size int) int {
	if size <= 0 {
		return 0
	}
	return 1 << (bits.Len(uint(size)) - 1)
}

// IsPowerOfTwo checks if n is a power of 2 using bit manipulation.
// The expression (n & (n-1)) == 0 works because:
//   - Powers of 2 have exactly one bit set
//   - Subtracting 1 from a power of 2 sets all lower bits
//   - AND operation will be 0 only for powers of 2
//
// Examples:
//
//	Input  Output  Binary
//	8      true    1000 & 0111 = 0000
//	7      false   0111 & 0110 = 0110
//	0      false   Not positive
//	-8     false   Not positive
func IsPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}

// Log2 returns log2(n) for exact powers of 2. The second result is
// false for any other input.
func Log2(n int) (int, bool) {
	if !IsPowerOfTwo(n) {
		return 0, false
	}
	return bits.TrailingZeros(uint(n)), true
}
