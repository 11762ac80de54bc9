package braceratchet

import (
	"crypto/subtle"
	"math/big"

	"golang.org/x/crypto/sha3"
)

// Domain separation tags for kdf.
const (
	usageSSID      = 0x00
	usageRootKey   = 0x01
	usageChainKeyA = 0x02
	usageChainKeyB = 0x03
	usageEncKey    = 0x01
	usageMACKey    = 0x02
	usageExtraKey  = 0xFF
)

var domain = []byte("OTR4")

// hashSum fills dst with SHAKE-256(src).
func hashSum(dst, src []byte) {
	sha3.ShakeSum256(dst, src)
}

// kkdf fills dst with SHAKE-256("OTR4" || key || secret).
func kkdf(dst, key, secret []byte) {
	h := sha3.NewShake256()
	h.Write(domain)
	h.Write(key)
	h.Write(secret)
	h.Read(dst)
	h.Reset()
}

// kdf fills dst with SHAKE-256("OTR4" || usage || secret).
func kdf(dst []byte, usage byte, secret []byte) {
	kkdf(dst, []byte{usage}, secret)
}

// hashWithDomain fills dst with SHAKE-256("OTR4" || parts...).
func hashWithDomain(dst []byte, parts ...[]byte) {
	h := sha3.NewShake256()
	h.Write(domain)
	for _, p := range parts {
		h.Write(p)
	}
	h.Read(dst)
	h.Reset()
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
}

// wipeInt zeroes the words backing x.
func wipeInt(x *big.Int) {
	if x == nil {
		return
	}
	words := x.Bits()
	for i := range words {
		words[i] = 0
	}
	x.SetInt64(0)
}
