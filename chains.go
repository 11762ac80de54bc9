package braceratchet

const (
	// ChainKeySize is the size of a chain link key.
	ChainKeySize = 32

	// RootKeySize is the size of a ratchet root key.
	RootKeySize = 32
)

// chainLink is one position of a chain.
type chainLink struct {
	ID  uint32
	Key [ChainKeySize]byte
}

// chain is a forward-only hash chain of per-message keys. Only the frontier
// link holds key material: ids from First up to Head.ID were consumed and
// their keys wiped, so the chain stays the same size however far it moves.
type chain struct {
	First uint32
	Head  chainLink
}

func newChain(key []byte) chain {
	var c chain
	copy(c.Head.Key[:], key)
	return c
}

// last returns the frontier link.
func (c *chain) last() *chainLink {
	return &c.Head
}

// consumed reports whether the key for id was already derived and wiped.
func (c *chain) consumed(id uint32) bool {
	return id >= c.First && id < c.Head.ID
}

// advance derives the next link and wipes the key it was derived from.
func (c *chain) advance() *chainLink {
	var next [ChainKeySize]byte
	hashSum(next[:], c.Head.Key[:])
	c.Head.Key = next
	c.Head.ID++
	Wipe(next[:])
	return &c.Head
}

// advanceTo moves the frontier forward to id. A frontier beyond id means the
// key for id is gone.
func (c *chain) advanceTo(id uint32, maxSkip uint32) (*chainLink, error) {
	if id < c.First || c.consumed(id) {
		return nil, ErrOutOfOrderUnrecoverable
	}
	if id-c.Head.ID > maxSkip {
		return nil, ErrMessageExceedsReorderingLimit
	}
	for c.Head.ID < id {
		c.advance()
	}
	return &c.Head, nil
}

func (c *chain) wipe() {
	Wipe(c.Head.Key[:])
}
