package library

import (
	"fmt"
	"net/mail"
	"strings"
)

// Membership manages the registered users of a Store.
type Membership struct {
	store *Store
}

// NewMembership returns a membership service over store.
func NewMembership(store *Store) *Membership { return &Membership{store: store} }

// UserQuery filters SearchUsers. Blank fields match everything.
type UserQuery struct {
	ID        string
	LastName  string
	FirstName string
}

func validateUser(u User) error {
	switch {
	case strings.TrimSpace(u.ID) == "":
		return fmt.Errorf("%w: user id is required", ErrInvalidInput)
	case strings.TrimSpace(u.FirstName) == "" || strings.TrimSpace(u.LastName) == "":
		return fmt.Errorf("%w: user %q needs first and last name", ErrInvalidInput, u.ID)
	case !validText(u.ID, u.FirstName, u.LastName, u.Email):
		return fmt.Errorf("%w: user %q has text that is not valid UTF-8", ErrInvalidInput, u.ID)
	}
	if u.Email != "" {
		if _, err := mail.ParseAddress(u.Email); err != nil {
			return fmt.Errorf("%w: user %q email %q", ErrInvalidInput, u.ID, u.Email)
		}
	}
	return nil
}

// AddUser registers a new user.
func (m *Membership) AddUser(u User) error {
	if err := validateUser(u); err != nil {
		return err
	}
	return m.store.InsertUser(u)
}

// UpdateUser replaces the stored fields of u.ID.
func (m *Membership) UpdateUser(u User) error {
	if err := validateUser(u); err != nil {
		return err
	}
	return m.store.replaceUser(u)
}

// RemoveUser deletes a user without open loans, together with their loan history.
func (m *Membership) RemoveUser(id string) error { return m.store.RemoveUser(id) }

// FindUser returns the user with the given ID or ErrNotFound.
func (m *Membership) FindUser(id string) (User, error) {
	u, ok := m.store.FindUser(id)
	if !ok {
		return User{}, fmt.Errorf("%w: user %q", ErrNotFound, id)
	}
	return u, nil
}

// ListUsers returns all users in display order.
func (m *Membership) ListUsers() []User {
	users := m.store.Users()
	SortUsers(users)
	return users
}

// SetBlacklisted flags or clears a user. Blacklisted users keep their open
// loans but cannot borrow again.
func (m *Membership) SetBlacklisted(id string, blacklisted bool) (User, error) {
	u, err := m.FindUser(id)
	if err != nil {
		return User{}, err
	}
	u.Blacklisted = blacklisted
	if err := m.store.replaceUser(u); err != nil {
		return User{}, err
	}
	return u, nil
}

// SearchUsers returns users matching every non-blank field of q.
func (m *Membership) SearchUsers(q UserQuery) []User {
	id := strings.TrimSpace(q.ID)
	last := strings.ToLower(strings.TrimSpace(q.LastName))
	first := strings.ToLower(strings.TrimSpace(q.FirstName))

	var out []User
	for _, u := range m.store.Users() {
		if id != "" && !strings.Contains(u.ID, id) {
			continue
		}
		if last != "" && !strings.Contains(strings.ToLower(u.LastName), last) {
			continue
		}
		if first != "" && !strings.Contains(strings.ToLower(u.FirstName), first) {
			continue
		}
		out = append(out, u)
	}
	SortUsers(out)
	return out
}
