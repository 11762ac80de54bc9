package braceratchet

// MACKeysStorage is an interface of an abstract store of spent MAC keys
// kept for later disclosure.
type MACKeysStorage interface {
	// Put appends a spent MAC key.
	Put(mk [MACKeySize]byte)

	// All returns copies of the stored keys, oldest first.
	All() [][MACKeySize]byte

	// Count returns the number of stored keys.
	Count() uint

	// Flush returns the stored keys concatenated oldest first and empties
	// the store. It returns nil when the store is empty.
	Flush() []byte

	// Wipe erases every stored key.
	Wipe()
}

// MACKeysStorageInMemory is an in-memory MAC keys storage.
type MACKeysStorageInMemory struct {
	keys [][MACKeySize]byte
}

func (s *MACKeysStorageInMemory) Put(mk [MACKeySize]byte) {
	s.keys = append(s.keys, mk)
}

func (s *MACKeysStorageInMemory) All() [][MACKeySize]byte {
	if len(s.keys) == 0 {
		return nil
	}
	out := make([][MACKeySize]byte, len(s.keys))
	copy(out, s.keys)
	return out
}

func (s *MACKeysStorageInMemory) Count() uint {
	return uint(len(s.keys))
}

func (s *MACKeysStorageInMemory) Flush() []byte {
	if len(s.keys) == 0 {
		return nil
	}
	out := make([]byte, 0, len(s.keys)*MACKeySize)
	for i := range s.keys {
		out = append(out, s.keys[i][:]...)
	}
	s.Wipe()
	return out
}

func (s *MACKeysStorageInMemory) Wipe() {
	for i := range s.keys {
		Wipe(s.keys[i][:])
	}
	s.keys = nil
}
