package kvstore

import (
	"errors"
	"fmt"
	"strings"
)

const (
	maxSegmentLength = 190
	keySeparator     = ":"
)

var (
	// ErrInvalidTenant indicates that a tenant segment is empty, too long, or contains the separator.
	ErrInvalidTenant = errors.New("kvstore: invalid tenant")
	// ErrInvalidRole indicates that a role segment is empty, too long, or contains the separator.
	ErrInvalidRole = errors.New("kvstore: invalid role")
	// ErrInvalidUserID indicates that a user segment is empty, too long, or contains the separator.
	ErrInvalidUserID = errors.New("kvstore: invalid user id")
)

// Scope identifies the owner of persisted workspace state. Every key is
// namespaced by it so records from one school or role never collide with
// another's.
type Scope struct {
	Tenant string
	Role   string
	UserID string
}

// NewScope validates the raw segments and returns a Scope.
func NewScope(tenant, role, userID string) (Scope, error) {
	tenant = strings.TrimSpace(tenant)
	if err := validateSegment(tenant, ErrInvalidTenant); err != nil {
		return Scope{}, err
	}
	role = strings.TrimSpace(role)
	if err := validateSegment(role, ErrInvalidRole); err != nil {
		return Scope{}, err
	}
	userID = strings.TrimSpace(userID)
	if err := validateSegment(userID, ErrInvalidUserID); err != nil {
		return Scope{}, err
	}
	return Scope{Tenant: tenant, Role: role, UserID: userID}, nil
}

func validateSegment(value string, invalid error) error {
	if value == "" {
		return fmt.Errorf("%w: empty", invalid)
	}
	if len(value) > maxSegmentLength {
		return fmt.Errorf("%w: exceeds %d characters", invalid, maxSegmentLength)
	}
	if strings.Contains(value, keySeparator) {
		return fmt.Errorf("%w: contains %q", invalid, keySeparator)
	}
	return nil
}

// Key composes a fully qualified storage key of the form
// namespace:tenant:role:user:id. The trailing id is optional for records that
// exist once per scope.
func (s Scope) Key(namespace, id string) string {
	parts := []string{namespace, s.Tenant, s.Role, s.UserID}
	if id != "" {
		parts = append(parts, id)
	}
	return strings.Join(parts, keySeparator)
}

// Prefix returns the namespace prefix covering every key of the scope,
// suitable for enumeration.
func (s Scope) Prefix(namespace string) string {
	return s.Key(namespace, "") + keySeparator
}

// IDFromKey strips the scope prefix from a key produced by Key, returning the
// trailing id segment. The second return reports whether the key belongs to
// the namespace at all.
func (s Scope) IDFromKey(namespace, key string) (string, bool) {
	prefix := s.Prefix(namespace)
	if !strings.HasPrefix(key, prefix) {
		return "", false
	}
	return key[len(prefix):], true
}
