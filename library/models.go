package library

import (
	"cmp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// Book is a catalogue entry. Availability is not stored; it is derived from
// Copies and the open loans that reference the ISBN.
type Book struct {
	ISBN    string
	Title   string
	Authors []string
	Year    int
	Copies  int
}

// User represents a registered library member.
type User struct {
	ID          string
	FirstName   string
	LastName    string
	Email       string
	Blacklisted bool
}

// Credential is the single librarian login. Only the bcrypt hash is kept.
type Credential struct {
	Username     string
	PasswordHash string
}

// Loan records one copy of a book lent to a user. A nil ReturnDate means the
// loan is still open.
type Loan struct {
	ID         string
	BookISBN   string
	UserID     string
	LoanDate   time.Time
	DueDate    time.Time
	ReturnDate *time.Time
}

// Open reports whether the loan has not been returned yet.
func (l Loan) Open() bool { return l.ReturnDate == nil }

// Overdue reports whether the loan is open and its due date lies before asOf.
func (l Loan) Overdue(asOf time.Time) bool {
	return l.Open() && l.DueDate.Before(Day(asOf))
}

// Day truncates t to its calendar day at UTC midnight. Loan dates are always
// stored in this form so they compare and persist exactly.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// validText reports whether every value is valid UTF-8. Text fields must
// survive both storage formats byte for byte.
func validText(values ...string) bool {
	for _, v := range values {
		if !utf8.ValidString(v) {
			return false
		}
	}
	return true
}

func (b Book) clone() Book {
	if len(b.Authors) == 0 {
		b.Authors = nil
	} else {
		b.Authors = slices.Clone(b.Authors)
	}
	return b
}

func (l Loan) clone() Loan {
	if l.ReturnDate != nil {
		rd := *l.ReturnDate
		l.ReturnDate = &rd
	}
	return l
}

// ------------------ Listing order ------------------

// BookSortKey is the display key used for book listings.
func BookSortKey(b Book) string {
	return strings.ToLower(b.Title) + "\x00" + strings.ToLower(strings.Join(b.Authors, ", "))
}

// UserSortKey is the display key used for user listings.
func UserSortKey(u User) string {
	return strings.ToLower(u.LastName) + "\x00" + strings.ToLower(u.FirstName)
}

// SortBooks orders books by title, then authors, then ISBN.
func SortBooks(books []Book) {
	slices.SortStableFunc(books, func(a, b Book) int {
		return cmp.Or(cmp.Compare(BookSortKey(a), BookSortKey(b)), cmp.Compare(a.ISBN, b.ISBN))
	})
}

// SortUsers orders users by last name, then first name, then ID.
func SortUsers(users []User) {
	slices.SortStableFunc(users, func(a, b User) int {
		return cmp.Or(cmp.Compare(UserSortKey(a), UserSortKey(b)), cmp.Compare(a.ID, b.ID))
	})
}
