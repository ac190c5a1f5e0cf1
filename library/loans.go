package library

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxOpenPerUser = 3
	DefaultLoanPeriodDays = 30
)

// LoanPolicy holds the lending rules applied when a loan is opened.
type LoanPolicy struct {
	MaxOpenPerUser  int
	DefaultLoanDays int
}

// DefaultLoanPolicy returns the stock lending rules.
func DefaultLoanPolicy() LoanPolicy {
	return LoanPolicy{MaxOpenPerUser: DefaultMaxOpenPerUser, DefaultLoanDays: DefaultLoanPeriodDays}
}

// Loans opens and closes loans. It is the only writer of Loan records.
type Loans struct {
	store  *Store
	policy LoanPolicy
	newID  func() string
}

func NewLoans(store *Store, policy LoanPolicy) *Loans {
	return &Loans{store: store, policy: policy, newID: uuid.NewString}
}

// DueDate returns the default due date for a loan starting on loanDate.
func (ls *Loans) DueDate(loanDate time.Time) time.Time {
	return Day(loanDate).AddDate(0, 0, ls.policy.DefaultLoanDays)
}

// OpenLoan lends one copy of isbn to userID. Every check runs before the loan
// is written, so a failed call leaves the store untouched.
func (ls *Loans) OpenLoan(isbn, userID string, loanDate, dueDate time.Time) (Loan, error) {
	book, ok := ls.store.FindBook(isbn)
	if !ok {
		return Loan{}, fmt.Errorf("%w: book %q", ErrNotFound, isbn)
	}
	user, ok := ls.store.FindUser(userID)
	if !ok {
		return Loan{}, fmt.Errorf("%w: user %q", ErrNotFound, userID)
	}
	loanDate, dueDate = Day(loanDate), Day(dueDate)
	if dueDate.Before(loanDate) {
		return Loan{}, fmt.Errorf("%w: due date %s before loan date %s", ErrInvalidInput,
			dueDate.Format(DateLayout), loanDate.Format(DateLayout))
	}
	if book.Copies-ls.store.OpenLoanCount(isbn) <= 0 {
		return Loan{}, fmt.Errorf("%w: book %q", ErrUnavailable, isbn)
	}
	if user.Blacklisted {
		return Loan{}, fmt.Errorf("%w: user %q", ErrBlacklisted, userID)
	}
	if limit := ls.policy.MaxOpenPerUser; limit > 0 && ls.store.openLoansForUser(userID) >= limit {
		return Loan{}, fmt.Errorf("%w: user %q already has %d open loans", ErrLoanLimit, userID, limit)
	}

	loan := Loan{
		ID:       ls.newID(),
		BookISBN: isbn,
		UserID:   userID,
		LoanDate: loanDate,
		DueDate:  dueDate,
	}
	if err := ls.store.insertLoan(loan); err != nil {
		return Loan{}, err
	}
	return loan, nil
}

// CloseLoan stamps the return date on an open loan. Closed loans never reopen.
func (ls *Loans) CloseLoan(id string, returnDate time.Time) (Loan, error) {
	loan, ok := ls.store.FindLoan(id)
	if !ok {
		return Loan{}, fmt.Errorf("%w: loan %q", ErrNotFound, id)
	}
	if !loan.Open() {
		return Loan{}, fmt.Errorf("%w: loan %q returned on %s", ErrAlreadyClosed, id, loan.ReturnDate.Format(DateLayout))
	}
	rd := Day(returnDate)
	if rd.Before(loan.LoanDate) {
		return Loan{}, fmt.Errorf("%w: return date %s before loan date %s", ErrInvalidInput,
			rd.Format(DateLayout), loan.LoanDate.Format(DateLayout))
	}
	loan.ReturnDate = &rd
	if err := ls.store.replaceLoan(loan); err != nil {
		return Loan{}, err
	}
	return loan, nil
}

// FindLoan returns the loan with the given ID, open or closed.
func (ls *Loans) FindLoan(id string) (Loan, error) {
	l, ok := ls.store.FindLoan(id)
	if !ok {
		return Loan{}, fmt.Errorf("%w: loan %q", ErrNotFound, id)
	}
	return l, nil
}

// FindOpenLoan locates the open loan of isbn held by userID that started on loanDate.
func (ls *Loans) FindOpenLoan(userID, isbn string, loanDate time.Time) (Loan, error) {
	day := Day(loanDate)
	for _, l := range ls.store.Loans() {
		if l.Open() && l.UserID == userID && l.BookISBN == isbn && l.LoanDate.Equal(day) {
			return l, nil
		}
	}
	return Loan{}, fmt.Errorf("%w: open loan of %q for user %q on %s", ErrNotFound, isbn, userID, day.Format(DateLayout))
}

// ListLoans returns every loan, open or closed, in the order they were opened.
func (ls *Loans) ListLoans() []Loan { return ls.store.Loans() }

// ListOpenLoans returns the open loans of userID, or of everyone when userID is empty.
func (ls *Loans) ListOpenLoans(userID string) []Loan {
	var out []Loan
	for _, l := range ls.store.Loans() {
		if l.Open() && (userID == "" || l.UserID == userID) {
			out = append(out, l)
		}
	}
	return out
}

// ListOverdue returns the open loans due before asOf, earliest due date first.
func (ls *Loans) ListOverdue(asOf time.Time) []Loan {
	var out []Loan
	for _, l := range ls.store.Loans() {
		if l.Overdue(asOf) {
			out = append(out, l)
		}
	}
	slices.SortStableFunc(out, func(a, b Loan) int { return a.DueDate.Compare(b.DueDate) })
	return out
}

// CountOpenLoans is the number of loans userID has not returned.
func (ls *Loans) CountOpenLoans(userID string) int { return ls.store.openLoansForUser(userID) }
