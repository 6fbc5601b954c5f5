package documents

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"max.ks1230/grants-portal/internal/entity/submission"
)

const inMemBucket = "local"

type InMemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewInMemStore() *InMemStore {
	return &InMemStore{objects: make(map[string][]byte)}
}

func (s *InMemStore) Put(ctx context.Context, email string, doc *submission.Document) (string, error) {
	if err := checkDocument(doc); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	return s.store(objectName(email), doc.Data), nil
}

func (s *InMemStore) PutPicture(ctx context.Context, email string, doc *submission.Document) (string, error) {
	_, ext, err := checkPicture(doc)
	if err != nil {
		return "", err
	}
	if err = ctx.Err(); err != nil {
		return "", err
	}
	return s.store(pictureObjectName(email, ext), doc.Data), nil
}

func (s *InMemStore) store(object string, data []byte) string {
	ref := Ref(inMemBucket, object)
	data = append([]byte(nil), data...)

	s.mu.Lock()
	s.objects[ref] = data
	s.mu.Unlock()
	return ref
}

func (s *InMemStore) Get(_ context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.objects[ref]
	if !ok {
		return nil, errors.Errorf("document %s not found", ref)
	}
	return data, nil
}

func (s *InMemStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
