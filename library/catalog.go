package library

import (
	"fmt"
	"strings"
)

// Catalog manages the book collection of a Store.
type Catalog struct {
	store *Store
}

// NewCatalog returns a catalogue service over store.
func NewCatalog(store *Store) *Catalog { return &Catalog{store: store} }

// BookQuery filters SearchBooks. Blank fields match everything.
type BookQuery struct {
	ISBN   string
	Title  string
	Author string
}

func validateBook(b Book) error {
	switch {
	case strings.TrimSpace(b.ISBN) == "":
		return fmt.Errorf("%w: isbn is required", ErrInvalidInput)
	case strings.TrimSpace(b.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	case b.Copies < 1:
		return fmt.Errorf("%w: book %q needs at least one copy", ErrInvalidInput, b.ISBN)
	case !validText(b.ISBN, b.Title) || !validText(b.Authors...):
		return fmt.Errorf("%w: book %q has text that is not valid UTF-8", ErrInvalidInput, b.ISBN)
	}
	return nil
}

// AddBook registers a new book.
func (c *Catalog) AddBook(b Book) error {
	if err := validateBook(b); err != nil {
		return err
	}
	return c.store.InsertBook(b)
}

// AddCopies increases the copy count of an existing book by n.
func (c *Catalog) AddCopies(isbn string, n int) (Book, error) {
	if n < 1 {
		return Book{}, fmt.Errorf("%w: copies to add must be positive", ErrInvalidInput)
	}
	b, ok := c.store.FindBook(isbn)
	if !ok {
		return Book{}, fmt.Errorf("%w: book %q", ErrNotFound, isbn)
	}
	b.Copies += n
	if err := c.store.replaceBook(b); err != nil {
		return Book{}, err
	}
	return b, nil
}

// UpdateBook replaces the stored fields of b.ISBN. The copy count may not drop
// below the number of copies currently on loan.
func (c *Catalog) UpdateBook(b Book) error {
	if err := validateBook(b); err != nil {
		return err
	}
	if _, ok := c.store.FindBook(b.ISBN); !ok {
		return fmt.Errorf("%w: book %q", ErrNotFound, b.ISBN)
	}
	if open := c.store.OpenLoanCount(b.ISBN); b.Copies < open {
		return fmt.Errorf("%w: book %q has %d copies on loan, cannot set %d", ErrInvalidState, b.ISBN, open, b.Copies)
	}
	return c.store.replaceBook(b)
}

// RemoveBook deletes a book that has no copies on loan, together with its
// loan history.
func (c *Catalog) RemoveBook(isbn string) error { return c.store.RemoveBook(isbn) }

// FindBook returns the book with the given ISBN or ErrNotFound.
func (c *Catalog) FindBook(isbn string) (Book, error) {
	b, ok := c.store.FindBook(isbn)
	if !ok {
		return Book{}, fmt.Errorf("%w: book %q", ErrNotFound, isbn)
	}
	return b, nil
}

// ListBooks returns all books in display order.
func (c *Catalog) ListBooks() []Book {
	books := c.store.Books()
	SortBooks(books)
	return books
}

// Availability returns the number of copies of isbn that can still be lent.
func (c *Catalog) Availability(isbn string) (int, error) {
	n, ok := c.store.Availability(isbn)
	if !ok {
		return 0, fmt.Errorf("%w: book %q", ErrNotFound, isbn)
	}
	return n, nil
}

// SearchBooks returns books matching every non-blank field of q, compared as
// case-insensitive substrings. A match on any author is enough.
func (c *Catalog) SearchBooks(q BookQuery) []Book {
	isbn := strings.ToLower(strings.TrimSpace(q.ISBN))
	title := strings.ToLower(strings.TrimSpace(q.Title))
	author := strings.ToLower(strings.TrimSpace(q.Author))

	var out []Book
	for _, b := range c.store.Books() {
		if isbn != "" && !strings.Contains(strings.ToLower(b.ISBN), isbn) {
			continue
		}
		if title != "" && !strings.Contains(strings.ToLower(b.Title), title) {
			continue
		}
		if author != "" && !anyContains(b.Authors, author) {
			continue
		}
		out = append(out, b)
	}
	SortBooks(out)
	return out
}

func anyContains(values []string, needle string) bool {
	for _, v := range values {
		if strings.Contains(strings.ToLower(v), needle) {
			return true
		}
	}
	return false
}
