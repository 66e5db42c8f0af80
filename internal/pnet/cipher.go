package pnet

import "golang.org/x/crypto/salsa20/salsa"

const blockSize = 64

// sigma is salsa20/salsa's "expand 32-byte k" constant, unexported by
// that package; XSalsa20 callers derive their own subkey via HSalsa20
// and must supply it themselves.
var sigma = [16]byte{'e', 'x', 'p', 'a', 'n', 'd', ' ', '3', '2', '-', 'b', 'y', 't', 'e', ' ', 'k'}

// Cipher is a resumable XSalsa20 keystream. Core is the
// HSalsa20-derived subkey plus the low 8 nonce bytes fed to the Salsa20
// core as its own nonce; both are fixed for the session and involve no
// further randomness, so Core and Position together fully describe the
// cipher's state for replay.
type Cipher struct {
	core     [40]byte // [0:32] subkey, [32:40] salsa20 nonce
	Position uint64
}

// NewCipher derives an XSalsa20 stream from a 32-byte PSK and a 24-byte
// nonce via the standard HSalsa20 subkey step.
func NewCipher(psk [32]byte, nonce [24]byte) *Cipher {
	var hNonce [16]byte
	copy(hNonce[:], nonce[:16])
	var subkey [32]byte
	salsa.HSalsa20(&subkey, &hNonce, &psk, &sigma)
	c := &Cipher{}
	copy(c.core[:32], subkey[:])
	copy(c.core[32:], nonce[16:24])
	return c
}

// Core returns the cipher's serializable key material, for wiring into
// a recorded snapshot alongside Position.
func (c *Cipher) Core() [40]byte { return c.core }

// RestoreCipher rebuilds a Cipher from previously serialized state
// without re-deriving anything from the PSK or consulting the PRNG.
func RestoreCipher(core [40]byte, position uint64) *Cipher {
	return &Cipher{core: core, Position: position}
}

// Apply XORs data in place with the next len(data) bytes of keystream,
// advancing Position. Safe to call repeatedly with arbitrary,
// non-block-aligned lengths; each call picks up exactly where the last
// left off.
func (c *Cipher) Apply(data []byte) {
	var subkey [32]byte
	copy(subkey[:], c.core[:32])
	pos := c.Position
	i := 0
	for i < len(data) {
		blockIdx := pos / blockSize
		offset := int(pos % blockSize)

		var counter [16]byte
		copy(counter[:8], c.core[32:])
		putUint64LE(counter[8:], blockIdx)

		var zero, block [blockSize]byte
		salsa.XORKeyStream(block[:], zero[:], &counter, &subkey)

		take := blockSize - offset
		if remaining := len(data) - i; take > remaining {
			take = remaining
		}
		for j := 0; j < take; j++ {
			data[i+j] ^= block[offset+j]
		}
		i += take
		pos += uint64(take)
	}
	c.Position = pos
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}
