package library

import (
	"fmt"
	"slices"
)

// collection keeps values keyed by identifier in insertion order.
type collection[T any] struct {
	order []string
	items map[string]T
}

func newCollection[T any]() *collection[T] {
	return &collection[T]{items: make(map[string]T)}
}

func (c *collection[T]) insert(key string, v T) bool {
	if _, exists := c.items[key]; exists {
		return false
	}
	c.items[key] = v
	c.order = append(c.order, key)
	return true
}

func (c *collection[T]) get(key string) (T, bool) {
	v, ok := c.items[key]
	return v, ok
}

func (c *collection[T]) replace(key string, v T) bool {
	if _, exists := c.items[key]; !exists {
		return false
	}
	c.items[key] = v
	return true
}

func (c *collection[T]) remove(key string) bool {
	if _, exists := c.items[key]; !exists {
		return false
	}
	delete(c.items, key)
	c.order = slices.DeleteFunc(c.order, func(k string) bool { return k == key })
	return true
}

func (c *collection[T]) values() []T {
	out := make([]T, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.items[k])
	}
	return out
}

func (c *collection[T]) len() int { return len(c.order) }

// Store is the in-memory authoritative state of one session.
// It is not safe for concurrent use; Session serialises access to it.
type Store struct {
	books *collection[Book]
	users *collection[User]
	loans *collection[Loan]

	credential *Credential
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		books: newCollection[Book](),
		users: newCollection[User](),
		loans: newCollection[Loan](),
	}
}

// ------------------ Books ------------------

// InsertBook adds b; an ISBN already present yields ErrDuplicateIdentifier.
func (s *Store) InsertBook(b Book) error {
	if !s.books.insert(b.ISBN, b.clone()) {
		return fmt.Errorf("%w: book %q", ErrDuplicateIdentifier, b.ISBN)
	}
	return nil
}

// RemoveBook deletes a book unless an open loan still references it. The
// closed loans of the book go with it.
func (s *Store) RemoveBook(isbn string) error {
	if _, ok := s.books.get(isbn); !ok {
		return fmt.Errorf("%w: book %q", ErrNotFound, isbn)
	}
	if s.OpenLoanCount(isbn) > 0 {
		return fmt.Errorf("%w: book %q", ErrInUse, isbn)
	}
	s.dropLoans(func(l Loan) bool { return l.BookISBN == isbn })
	s.books.remove(isbn)
	return nil
}

// FindBook returns a copy of the book with the given ISBN.
func (s *Store) FindBook(isbn string) (Book, bool) {
	b, ok := s.books.get(isbn)
	return b.clone(), ok
}

// Books returns a copy of all books in insertion order.
func (s *Store) Books() []Book {
	out := s.books.values()
	for i := range out {
		out[i] = out[i].clone()
	}
	return out
}

func (s *Store) replaceBook(b Book) error {
	if !s.books.replace(b.ISBN, b.clone()) {
		return fmt.Errorf("%w: book %q", ErrNotFound, b.ISBN)
	}
	return nil
}

// OpenLoanCount is the number of open loans referencing isbn.
func (s *Store) OpenLoanCount(isbn string) int {
	n := 0
	for _, l := range s.loans.items {
		if l.BookISBN == isbn && l.Open() {
			n++
		}
	}
	return n
}

// Availability is the number of copies of isbn that can still be lent.
func (s *Store) Availability(isbn string) (int, bool) {
	b, ok := s.books.get(isbn)
	if !ok {
		return 0, false
	}
	return b.Copies - s.OpenLoanCount(isbn), true
}

// ------------------ Users ------------------

// InsertUser adds u; an ID already present yields ErrDuplicateIdentifier.
func (s *Store) InsertUser(u User) error {
	if !s.users.insert(u.ID, u) {
		return fmt.Errorf("%w: user %q", ErrDuplicateIdentifier, u.ID)
	}
	return nil
}

// RemoveUser deletes a user unless the user still holds an open loan. The
// user's closed loans go with them.
func (s *Store) RemoveUser(id string) error {
	if _, ok := s.users.get(id); !ok {
		return fmt.Errorf("%w: user %q", ErrNotFound, id)
	}
	if s.openLoansForUser(id) > 0 {
		return fmt.Errorf("%w: user %q", ErrInUse, id)
	}
	s.dropLoans(func(l Loan) bool { return l.UserID == id })
	s.users.remove(id)
	return nil
}

// FindUser returns the user with the given ID.
func (s *Store) FindUser(id string) (User, bool) {
	return s.users.get(id)
}

// Users returns a copy of all users in insertion order.
func (s *Store) Users() []User { return s.users.values() }

func (s *Store) replaceUser(u User) error {
	if !s.users.replace(u.ID, u) {
		return fmt.Errorf("%w: user %q", ErrNotFound, u.ID)
	}
	return nil
}

func (s *Store) openLoansForUser(id string) int {
	n := 0
	for _, l := range s.loans.items {
		if l.UserID == id && l.Open() {
			n++
		}
	}
	return n
}

// ------------------ Loans ------------------

// FindLoan returns a copy of the loan with the given ID.
func (s *Store) FindLoan(id string) (Loan, bool) {
	l, ok := s.loans.get(id)
	return l.clone(), ok
}

// Loans returns a copy of all loans in the order they were opened.
func (s *Store) Loans() []Loan {
	out := s.loans.values()
	for i := range out {
		out[i] = out[i].clone()
	}
	return out
}

func (s *Store) insertLoan(l Loan) error {
	if !s.loans.insert(l.ID, l.clone()) {
		return fmt.Errorf("%w: loan %q", ErrDuplicateIdentifier, l.ID)
	}
	return nil
}

// dropLoans deletes every loan matching match. The removal paths call it only
// after checking that no open loan matches.
func (s *Store) dropLoans(match func(Loan) bool) {
	for _, l := range s.loans.values() {
		if match(l) {
			s.loans.remove(l.ID)
		}
	}
}

func (s *Store) replaceLoan(l Loan) error {
	if !s.loans.replace(l.ID, l.clone()) {
		return fmt.Errorf("%w: loan %q", ErrNotFound, l.ID)
	}
	return nil
}

// ------------------ Credential ------------------

// Credential returns the stored librarian credential, if any.
func (s *Store) Credential() (Credential, bool) {
	if s.credential == nil {
		return Credential{}, false
	}
	return *s.credential, true
}

func (s *Store) setCredential(c Credential) {
	s.credential = &c
}
