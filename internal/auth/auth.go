// Package auth is the credential store: account registration, login
// verification, security-question recovery and the moderation mutations
// (ban, role change) over the persisted user directory.
package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/aulachat/aulachat/internal/store"
)

// Role names. The first account ever registered becomes admin; everyone
// after that starts as estudiante.
const (
	RoleAdmin      = "admin"
	RoleDocente    = "docente"
	RoleEstudiante = "estudiante"
)

var (
	// ErrUserExists is returned when registering a taken identifier.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidCredentials is returned for an unknown user or a password
	// digest mismatch.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrBanned is returned when the account's banned flag is set.
	ErrBanned = errors.New("account is banned")
	// ErrUserNotFound is returned by lookups of unknown identifiers.
	ErrUserNotFound = errors.New("user not found")
	// ErrAnswerMismatch is returned when the recovery answer digest differs.
	ErrAnswerMismatch = errors.New("security answer mismatch")
	// ErrInvalidRole is returned for a role name outside the enumerated set.
	ErrInvalidRole = errors.New("invalid role")
)

// HashSecret computes the hex-encoded SHA-256 digest used for passwords and
// security answers. The session layer hashes before the store ever sees a
// secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// ValidRole reports whether name is one of the enumerated roles.
func ValidRole(name string) bool {
	return name == RoleAdmin || name == RoleDocente || name == RoleEstudiante
}

// IsStaff reports whether role belongs to the staff tier.
func IsStaff(role string) bool {
	return role == RoleAdmin || role == RoleDocente
}

// Service exposes the credential operations over the users dataset.
type Service struct {
	store *store.Store
}

// New creates the credential service.
func New(st *store.Store) *Service {
	return &Service{store: st}
}

// Register inserts a new account and returns the assigned role: admin when
// the directory is empty, estudiante otherwise.
func (s *Service) Register(user, passwordHash, question, answerHash string) (string, error) {
	if _, exists := s.store.User(user); exists {
		return "", ErrUserExists
	}

	role := RoleEstudiante
	if s.store.UserCount() == 0 {
		role = RoleAdmin
	}

	s.store.PutUser(user, store.UserRecord{
		PasswordHash: passwordHash,
		Role:         role,
		Question:     question,
		AnswerHash:   answerHash,
	})
	return role, nil
}

// VerifyLogin checks the password digest and the banned flag, returning the
// stored role on success.
func (s *Service) VerifyLogin(user, passwordHash string) (string, error) {
	rec, ok := s.store.User(user)
	if !ok || rec.PasswordHash != passwordHash {
		return "", ErrInvalidCredentials
	}
	if rec.Banned {
		return "", ErrBanned
	}
	if rec.Role == "" {
		return RoleEstudiante, nil
	}
	return rec.Role, nil
}

// RecoveryQuestion returns the account's security question.
func (s *Service) RecoveryQuestion(user string) (string, error) {
	rec, ok := s.store.User(user)
	if !ok {
		return "", ErrUserNotFound
	}
	return rec.Question, nil
}

// ResetPassword overwrites the password digest when the answer digest
// matches the stored one.
func (s *Service) ResetPassword(user, answerHash, newPasswordHash string) error {
	rec, ok := s.store.User(user)
	if !ok || rec.AnswerHash != answerHash {
		return ErrAnswerMismatch
	}

	rec.PasswordHash = newPasswordHash
	s.store.PutUser(user, rec)
	return nil
}

// Role returns the persisted role of an account.
func (s *Service) Role(user string) (string, error) {
	rec, ok := s.store.User(user)
	if !ok {
		return "", ErrUserNotFound
	}
	return rec.Role, nil
}

// SetBanned flips the banned flag. The caller is responsible for closing any
// live session of the account.
func (s *Service) SetBanned(user string, banned bool) error {
	rec, ok := s.store.User(user)
	if !ok {
		return ErrUserNotFound
	}

	rec.Banned = banned
	s.store.PutUser(user, rec)
	return nil
}

// SetRole changes the persisted role. Live sessions must be updated by the
// caller so the new tier applies immediately.
func (s *Service) SetRole(user, role string) error {
	if !ValidRole(role) {
		return ErrInvalidRole
	}

	rec, ok := s.store.User(user)
	if !ok {
		return ErrUserNotFound
	}

	rec.Role = role
	s.store.PutUser(user, rec)
	return nil
}
