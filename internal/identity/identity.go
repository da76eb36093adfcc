package identity

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"

	"github.com/SphrGhfri/tabchat/internal/domain"
	"github.com/SphrGhfri/tabchat/internal/storage"
)

var (
	adjectives = []string{"Cool", "Happy", "Smart", "Fast", "Brave", "Wise", "Funny", "Kind"}
	nouns      = []string{"Player", "Gamer", "Explorer", "Hero", "Master", "Champion", "Wizard", "Ninja"}
)

// Store resolves and persists the stable user identity. The id is created
// once per shared store and never changes afterwards; the display name is
// mutable within the 3-20 character bound.
type Store struct {
	kv      storage.KV
	idKey   string
	nameKey string
}

func NewStore(kv storage.KV, keyPrefix string) *Store {
	return &Store{
		kv:      kv,
		idKey:   keyPrefix + ":user_id",
		nameKey: keyPrefix + ":user_name",
	}
}

// GetOrCreateID returns the persisted user id, generating and persisting
// one on first use. Repeated calls always return the same id.
func (s *Store) GetOrCreateID() (string, error) {
	if raw, err := s.kv.Get(s.idKey); err == nil && len(raw) > 0 {
		return string(raw), nil
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("failed to read user id: %w", err)
	}

	id := generateID()
	if err := s.kv.Set(s.idKey, []byte(id)); err != nil {
		return "", fmt.Errorf("failed to persist user id: %w", err)
	}
	return id, nil
}

// GetOrCreateDisplayName returns the persisted display name, generating a
// random adjective+noun+number one on first use.
func (s *Store) GetOrCreateDisplayName() (string, error) {
	if raw, err := s.kv.Get(s.nameKey); err == nil && len(raw) > 0 {
		return string(raw), nil
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("failed to read display name: %w", err)
	}

	name := generateDisplayName()
	if err := s.kv.Set(s.nameKey, []byte(name)); err != nil {
		return "", fmt.Errorf("failed to persist display name: %w", err)
	}
	return name, nil
}

// SetDisplayName validates and persists a new display name. Announcing the
// rename is the caller's job.
func (s *Store) SetDisplayName(name string) (string, error) {
	trimmed, err := domain.ValidateDisplayName(name)
	if err != nil {
		return "", err
	}
	if err := s.kv.Set(s.nameKey, []byte(trimmed)); err != nil {
		return "", fmt.Errorf("failed to persist display name: %w", err)
	}
	return trimmed, nil
}

// Load resolves the full identity, creating missing parts.
func (s *Store) Load() (domain.Identity, error) {
	id, err := s.GetOrCreateID()
	if err != nil {
		return domain.Identity{}, err
	}
	name, err := s.GetOrCreateDisplayName()
	if err != nil {
		return domain.Identity{}, err
	}
	return domain.Identity{ID: id, DisplayName: name}, nil
}

func generateID() string {
	// A UUID carries more than enough entropy to make collisions between
	// stores practically impossible; the first half keeps keys short.
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "user_" + hex[:12]
}

func generateDisplayName() string {
	adj := adjectives[rand.Intn(len(adjectives))]
	noun := nouns[rand.Intn(len(nouns))]
	return fmt.Sprintf("%s%s%d", adj, noun, rand.Intn(999)+1)
}
