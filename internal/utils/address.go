// internal/utils/address.go
package utils

// Два представления нативного минта: старый алиас (…111) и канонический (…112).
const (
	// NativeMint is the canonical wrapped-SOL mint address.
	NativeMint = "So11111111111111111111111111111111111111112"

	// legacyNativeMint is an alias still found in older records and user input.
	legacyNativeMint = "So11111111111111111111111111111111111111111"
)

// NormalizeMint maps the legacy native-mint alias to the canonical mint.
// Every other address passes through unchanged. Idempotent.
func NormalizeMint(address string) string {
	if address == legacyNativeMint {
		return NativeMint
	}
	return address
}

// IsNativeMint reports whether the address denotes SOL itself, in either spelling.
func IsNativeMint(address string) bool {
	return NormalizeMint(address) == NativeMint
}
