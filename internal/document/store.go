package document

import "sync"

// Store tracks all open documents, keyed by identity.
type Store struct {
	mu   sync.RWMutex
	docs map[Identity]*Document
}

// NewStore creates an empty document store.
func NewStore() *Store {
	return &Store{
		docs: make(map[Identity]*Document),
	}
}

// Open creates and tracks a document for the given URI.
// Returns ErrAlreadyOpen if the identity is already tracked.
func (s *Store) Open(uri, text string) (*Document, error) {
	doc := New(uri, text)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.docs[doc.Identity()]; exists {
		return nil, ErrAlreadyOpen
	}
	s.docs[doc.Identity()] = doc
	return doc, nil
}

// Get returns the document for the given identity.
func (s *Store) Get(id Identity) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc, nil
}

// Close removes a document from the store.
func (s *Store) Close(id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[id]; !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	return nil
}

// List returns the identities of all open documents.
func (s *Store) List() []Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]Identity, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of open documents.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}
