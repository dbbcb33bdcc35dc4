package crypto

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes credentials with bcrypt at a fixed cost.
type Hasher struct {
	cost int
}

// NewHasher clamps cost into bcrypt's accepted range; zero means bcrypt.DefaultCost.
func NewHasher(cost int) Hasher {
	switch {
	case cost == 0:
		cost = bcrypt.DefaultCost
	case cost < bcrypt.MinCost:
		cost = bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		cost = bcrypt.MaxCost
	}
	return Hasher{cost: cost}
}

func (h Hasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (h Hasher) Verify(password, hash string) bool {
	return CheckPassword(hash, password) == nil
}

// CheckPassword reports bcrypt.ErrMismatchedHashAndPassword when password does not match hash.
func CheckPassword(hash, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
