package features

import (
	"fmt"
	"os"
	"runtime"
)

// Fingerprinter supplies the environment fingerprint feature.
//
// The value is the sum of the code points of an environment descriptor. It is a
// weak, non-cryptographic signal that only adds a dimension; it identifies
// nothing and proves nothing.
type Fingerprinter interface {
	Descriptor() string
	Value() float64
}

// SumCodePoints returns the sum of the code points in s.
func SumCodePoints(s string) float64 {
	var sum int64
	for _, r := range s {
		sum += int64(r)
	}
	return float64(sum)
}

// StaticFingerprint uses a fixed descriptor.
type StaticFingerprint string

// Descriptor implements Fingerprinter.
func (f StaticFingerprint) Descriptor() string { return string(f) }

// Value implements Fingerprinter.
func (f StaticFingerprint) Value() float64 { return SumCodePoints(string(f)) }

// EnvFingerprint describes the client build, platform and terminal.
type EnvFingerprint struct {
	descriptor string
}

// NewEnvFingerprint captures the descriptor for the running process.
func NewEnvFingerprint(version string) EnvFingerprint {
	term := os.Getenv("TERM")
	if term == "" {
		term = "unknown"
	}
	return EnvFingerprint{
		descriptor: fmt.Sprintf("keyrhythm/%s (%s; %s; %s)", version, runtime.GOOS, runtime.GOARCH, term),
	}
}

// Descriptor implements Fingerprinter.
func (f EnvFingerprint) Descriptor() string { return f.descriptor }

// Value implements Fingerprinter.
func (f EnvFingerprint) Value() float64 { return SumCodePoints(f.descriptor) }
