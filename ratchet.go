package braceratchet

import (
	"fmt"
	"math/big"
)

// SharedSecretSize is the size of the secret a ratchet is derived from.
const SharedSecretSize = 64

// ratchet is one generation of keys: a root key and the two named chains.
type ratchet struct {
	RootKey [RootKeySize]byte
	ChainA  chain
	ChainB  chain
}

// deriveRatchet builds the ratchet for shared. With a previous root key the
// secret is first mixed with it so that root keys chain across ratchets.
func deriveRatchet(prevRoot []byte, shared []byte) *ratchet {
	seed := shared
	if prevRoot != nil {
		rootShared := make([]byte, SharedSecretSize)
		defer Wipe(rootShared)
		kkdf(rootShared, prevRoot, shared)
		seed = rootShared
	}

	var chainA, chainB [ChainKeySize]byte
	defer Wipe(chainA[:])
	defer Wipe(chainB[:])

	r := &ratchet{}
	kdf(r.RootKey[:], usageRootKey, seed)
	kdf(chainA[:], usageChainKeyA, seed)
	kdf(chainB[:], usageChainKeyB, seed)
	r.ChainA = newChain(chainA[:])
	r.ChainB = newChain(chainB[:])
	return r
}

func (r *ratchet) clone() *ratchet {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

func (r *ratchet) destroy() {
	if r == nil {
		return
	}
	Wipe(r.RootKey[:])
	r.ChainA.wipe()
	r.ChainB.wipe()
}

// messageChain assigns one chain of a ratchet to sending and the other to
// receiving. It does not own the chains.
type messageChain struct {
	sending   *chain
	receiving *chain
}

// decideBetweenChainKeys compares both ECDH public keys as big-endian
// integers: the greater key sends on chain A.
func decideBetweenChainKeys(r *ratchet, our, their ECPoint) (messageChain, error) {
	switch new(big.Int).SetBytes(our[:]).Cmp(new(big.Int).SetBytes(their[:])) {
	case 1:
		return messageChain{sending: &r.ChainA, receiving: &r.ChainB}, nil
	case -1:
		return messageChain{sending: &r.ChainB, receiving: &r.ChainA}, nil
	default:
		return messageChain{}, fmt.Errorf("%w: both parties use the same ecdh key", ErrInvalidKeyMaterial)
	}
}
