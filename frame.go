package unwind

import "fmt"

// formatFrame renders a resolved frame as one of the two non-error line
// shapes from spec §4.F / §6. symbol is empty when no symbol resolved,
// which selects the "no symbol" shape.
func formatFrame(binary, symbol string, symOffset, trueOffset uint64) string {
	if symbol != "" {
		return fmt.Sprintf(" > %s(%s+0x%x) [0x%x]\n", binary, symbol, symOffset, trueOffset)
	}
	return fmt.Sprintf(" > %s() [0x%x]\n", binary, trueOffset)
}

// formatError renders a walk error as the remaining two line shapes. Both
// use the same template; an offset of 0 (including the "no offset"
// variant, which always reports 0) simply formats as "[0x0]".
func formatError(message string, offset uint64) string {
	return fmt.Sprintf(" > %s [0x%x]\n", message, offset)
}
