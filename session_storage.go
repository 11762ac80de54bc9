package braceratchet

import "sync"

// SessionStorage is an interface of an abstract in-memory or persistent store
// of parked key managers.
type SessionStorage interface {
	// Save stores a snapshot of km under id, replacing any previous one.
	Save(id []byte, km *KeyManager) error

	// Load restores the key manager stored under id.
	Load(id []byte) (*KeyManager, error)

	// Delete ensures there's no key manager stored under id.
	Delete(id []byte) error
}

// SessionStorageInMemory is an in-memory session storage. Stored key
// managers are kept as snapshots, so Load always returns an independent copy.
type SessionStorageInMemory struct {
	sync.Mutex

	opts     []Option
	sessions map[string][]byte
}

// NewSessionStorageInMemory creates an empty store. opts are applied to
// every loaded key manager.
func NewSessionStorageInMemory(opts ...Option) *SessionStorageInMemory {
	return &SessionStorageInMemory{opts: opts, sessions: make(map[string][]byte)}
}

func (s *SessionStorageInMemory) Save(id []byte, km *KeyManager) error {
	blob, err := km.MarshalBinary()
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	if old, ok := s.sessions[string(id)]; ok {
		Wipe(old)
	}
	s.sessions[string(id)] = blob
	return nil
}

func (s *SessionStorageInMemory) Load(id []byte) (*KeyManager, error) {
	s.Lock()
	defer s.Unlock()

	blob, ok := s.sessions[string(id)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return Restore(blob, s.opts...)
}

func (s *SessionStorageInMemory) Delete(id []byte) error {
	s.Lock()
	defer s.Unlock()

	if blob, ok := s.sessions[string(id)]; ok {
		Wipe(blob)
		delete(s.sessions, string(id))
	}
	return nil
}
