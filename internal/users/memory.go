package users

import (
	"context"
	"sort"
	"sync"

	"github.com/gogotex/gogotex/backend/auth-service/internal/models"
)

// MemoryRepository keeps users in process memory. It is used for tests and
// single-process development.
type MemoryRepository struct {
	mu          sync.RWMutex
	users       map[string]*models.User
	byEmail     map[string]string
	links       map[linkKey]*models.ProviderLink
	linksByUser map[string][]linkKey
}

type linkKey struct {
	provider  string
	accountID string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:       map[string]*models.User{},
		byEmail:     map[string]string{},
		links:       map[linkKey]*models.ProviderLink{},
		linksByUser: map[string][]linkKey{},
	}
}

func (r *MemoryRepository) CreateUser(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkUserLocked(u); err != nil {
		return err
	}
	r.putUserLocked(u)
	return nil
}

func (r *MemoryRepository) GetUserByID(_ context.Context, id string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (r *MemoryRepository) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byEmail[email]
	if !ok {
		return nil, ErrNotFound
	}
	return r.users[id].Clone(), nil
}

func (r *MemoryRepository) UpdateUser(_ context.Context, u *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	if u.Email != nil {
		if owner, taken := r.byEmail[*u.Email]; taken && owner != u.ID {
			return ErrAlreadyExists
		}
	}
	if old.Email != nil {
		delete(r.byEmail, *old.Email)
	}
	r.putUserLocked(u)
	return nil
}

func (r *MemoryRepository) CreateLink(_ context.Context, l *models.ProviderLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[l.UserID]; !ok {
		return ErrNotFound
	}
	if err := r.checkLinkLocked(l); err != nil {
		return err
	}
	r.putLinkLocked(l)
	return nil
}

func (r *MemoryRepository) GetLink(_ context.Context, provider, accountID string) (*models.ProviderLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.links[linkKey{provider, accountID}]
	if !ok {
		return nil, ErrNotFound
	}
	return l.Clone(), nil
}

func (r *MemoryRepository) ListLinks(_ context.Context, userID string) ([]*models.ProviderLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.ProviderLink, 0, len(r.linksByUser[userID]))
	for _, k := range r.linksByUser[userID] {
		out = append(out, r.links[k].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LinkedAt.Before(out[j].LinkedAt) })
	return out, nil
}

func (r *MemoryRepository) CreateUserWithLink(_ context.Context, u *models.User, l *models.ProviderLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkUserLocked(u); err != nil {
		return err
	}
	if err := r.checkLinkLocked(l); err != nil {
		return err
	}
	r.putUserLocked(u)
	r.putLinkLocked(l)
	return nil
}

func (r *MemoryRepository) checkUserLocked(u *models.User) error {
	if _, ok := r.users[u.ID]; ok {
		return ErrAlreadyExists
	}
	if u.Email != nil {
		if _, ok := r.byEmail[*u.Email]; ok {
			return ErrAlreadyExists
		}
	}
	return nil
}

func (r *MemoryRepository) checkLinkLocked(l *models.ProviderLink) error {
	if _, ok := r.links[linkKey{l.Provider, l.ProviderAccountID}]; ok {
		return ErrAlreadyExists
	}
	return nil
}

func (r *MemoryRepository) putUserLocked(u *models.User) {
	r.users[u.ID] = u.Clone()
	if u.Email != nil {
		r.byEmail[*u.Email] = u.ID
	}
}

func (r *MemoryRepository) putLinkLocked(l *models.ProviderLink) {
	k := linkKey{l.Provider, l.ProviderAccountID}
	r.links[k] = l.Clone()
	r.linksByUser[l.UserID] = append(r.linksByUser[l.UserID], k)
}
