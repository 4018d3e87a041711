package relaynet

import (
	"fmt"
	"io"
	"math/big"

	"github.com/xtaci/qpp"
)

// qppPower is the permutation dimension used throughout the relay link
// transport.
const qppPower = 8

// ValidateQPPParams checks a configured QPP key/count pair and returns
// human-readable warnings for anything under the library's recommended
// minimums; it never blocks the relay from starting, these are
// non-fatal warnings (relaylog.Warn renders them in red).
func ValidateQPPParams(count int, key string) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("relaynet: QPPCount must be greater than 0 when QPP is enabled")
	}

	var warnings []string

	if minSeedLength := qpp.QPPMinimumSeedLength(qppPower); len(key) < minSeedLength {
		warnings = append(warnings, fmt.Sprintf("QPP Warning: 'key' has size of %d bytes, required %d bytes at least", len(key), minSeedLength))
	}
	if minPads := qpp.QPPMinimumPads(qppPower); count < minPads {
		warnings = append(warnings, fmt.Sprintf("QPP Warning: QPPCount %d, required %d at least", count, minPads))
	}
	if new(big.Int).GCD(nil, nil, big.NewInt(int64(count)), big.NewInt(qppPower)).Int64() != 1 {
		warnings = append(warnings, fmt.Sprintf("QPP Warning: QPPCount %d, choose a prime number for security", count))
	}

	return warnings, nil
}

// ObfuscatedConn wraps an io.ReadWriteCloser with Quantum Permutation Pad
// encryption. Each direction gets its own PRNG seeded identically so both
// ends of a link derive the same permutation schedule independently.
type ObfuscatedConn struct {
	underlying io.ReadWriteCloser

	pad   *qpp.QuantumPermutationPad
	wprng *qpp.Rand
	rprng *qpp.Rand
}

// NewObfuscatedConn wraps underlying with pad, seeded from seed.
func NewObfuscatedConn(underlying io.ReadWriteCloser, pad *qpp.QuantumPermutationPad, seed []byte) *ObfuscatedConn {
	return &ObfuscatedConn{
		underlying: underlying,
		pad:        pad,
		wprng:      qpp.CreatePRNG(seed),
		rprng:      qpp.CreatePRNG(seed),
	}
}

func (o *ObfuscatedConn) Read(p []byte) (int, error) {
	n, err := o.underlying.Read(p)
	o.pad.DecryptWithPRNG(p[:n], o.rprng)
	return n, err
}

func (o *ObfuscatedConn) Write(p []byte) (int, error) {
	o.pad.EncryptWithPRNG(p, o.wprng)
	return o.underlying.Write(p)
}

func (o *ObfuscatedConn) Close() error { return o.underlying.Close() }
