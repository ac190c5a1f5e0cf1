package library

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Options configures a Session.
type Options struct {
	Path     string
	Gateway  Gateway // defaults to GatewayFor(Path)
	Autosave bool

	AdminUsername string // credential installed on first run
	AdminPassword string

	Policy LoanPolicy
	Auth   AuthOptions
	Logger *logrus.Logger
	Now    func() time.Time
}

// Session is the controller-facing façade: it owns the Store for one run of
// the application and wires the services to it. All methods are serialised.
type Session struct {
	mu   sync.Mutex
	opts Options
	log  *logrus.Logger

	store      *Store
	auth       *Authenticator
	catalog    *Catalog
	membership *Membership
	loans      *Loans

	authenticated bool
}

// NewSession fills in defaults for unset options. Call Startup before use.
func NewSession(opts Options) *Session {
	if opts.Gateway == nil {
		opts.Gateway = GatewayFor(opts.Path)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy == (LoanPolicy{}) {
		opts.Policy = DefaultLoanPolicy()
	}
	if opts.Auth == (AuthOptions{}) {
		opts.Auth = DefaultAuthOptions()
	}
	if opts.AdminUsername == "" {
		opts.AdminUsername = "admin"
	}
	log := opts.Logger
	if log == nil {
		log = logrus.New()
		log.SetOutput(io.Discard)
	}
	return &Session{opts: opts, log: log}
}

func (s *Session) attach(store *Store) {
	s.store = store
	s.auth = NewAuthenticator(store, s.opts.Auth)
	s.catalog = NewCatalog(store)
	s.membership = NewMembership(store)
	s.loans = NewLoans(store, s.opts.Policy)
	s.authenticated = false
}

// ------------------ Lifecycle ------------------

// Startup loads the data file. A missing file starts an empty library with the
// configured admin credential; corrupt data aborts startup.
func (s *Session) Startup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	logger := s.log.WithField("path", s.opts.Path)
	store, err := s.opts.Gateway.Load(s.opts.Path)
	switch {
	case err == nil:
		s.attach(store)
		logger.WithFields(logrus.Fields{
			"books": len(store.Books()),
			"users": len(store.Users()),
			"loans": len(store.Loans()),
		}).Info("library loaded")
	case errors.Is(err, ErrNotFound):
		logger.Info("no data file, starting an empty library")
		if err := s.initialise(); err != nil {
			return err
		}
	default:
		logger.WithError(err).Error("cannot load library")
		return err
	}

	if _, ok := s.store.Credential(); !ok {
		logger.Warn("data file has no credential, installing admin credential")
		if err := s.installAdmin(); err != nil {
			return err
		}
		return s.saveLocked()
	}
	return nil
}

func (s *Session) initialise() error {
	s.attach(NewStore())
	if err := s.installAdmin(); err != nil {
		return err
	}
	return s.saveLocked()
}

func (s *Session) installAdmin() error {
	pw := s.opts.AdminPassword
	if pw == "" {
		pw = "admin"
		s.log.Warn("using the default admin password, change it with 'passwd'")
	}
	return s.auth.SetCredential(s.opts.AdminUsername, pw)
}

// Quarantine moves an unreadable data file aside and starts an empty library.
// It is meant to run only after the user has acknowledged the data loss.
func (s *Session) Quarantine() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	aside := fmt.Sprintf("%s.corrupt-%s", s.opts.Path, s.opts.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(s.opts.Path, aside); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: quarantine %s: %v", ErrIOFailure, s.opts.Path, err)
	}
	s.log.WithFields(logrus.Fields{"path": s.opts.Path, "moved_to": aside}).Warn("corrupt data file quarantined")
	return aside, s.initialise()
}

// Shutdown saves the library and ends the login.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	s.authenticated = false
	return s.saveLocked()
}

// Save writes the library to disk on demand.
func (s *Session) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	return s.saveLocked()
}

func (s *Session) saveLocked() error {
	if err := s.opts.Gateway.Save(s.store, s.opts.Path); err != nil {
		s.log.WithError(err).WithField("path", s.opts.Path).Error("save failed, in-memory library is unchanged")
		return err
	}
	s.log.WithField("path", s.opts.Path).Debug("library saved")
	return nil
}

// ------------------ Authentication ------------------

// Login opens the session for the domain operations.
func (s *Session) Login(username, secret string) bool {
	return s.LoginErr(username, secret) == nil
}

// LoginErr is Login returning the failure, so callers can tell throttling
// (ErrTooManyAttempts) from a plain ErrAuthFailure.
func (s *Session) LoginErr(username, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return ErrAuthFailure
	}
	err := s.auth.Authenticate(username, secret)
	s.authenticated = err == nil
	if err != nil {
		s.log.WithError(err).Warn("login rejected")
		return err
	}
	s.log.WithField("user", username).Info("login")
	return nil
}

func (s *Session) Logout() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = false
}

func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *Session) ChangePassword(oldSecret, newSecret string) error {
	return s.mutate(func() error { return s.auth.ChangePassword(oldSecret, newSecret) })
}

// ready checks that startup ran and the user logged in. Callers hold s.mu.
func (s *Session) ready() error {
	if s.store == nil || !s.authenticated {
		return ErrNotAuthenticated
	}
	return nil
}

// mutate runs fn and, on success, saves when autosave is on. A failed save is
// returned wrapped in ErrIOFailure while the change stays applied in memory.
func (s *Session) mutate(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	if !s.opts.Autosave {
		return nil
	}
	if err := s.saveLocked(); err != nil {
		return fmt.Errorf("change applied but not saved: %w", err)
	}
	return nil
}

func (s *Session) read(fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	fn()
	return nil
}

// ------------------ Catalog ------------------

// The wrappers below require a login. Mutations are saved when autosave is on.

func (s *Session) AddBook(b Book) error {
	err := s.mutate(func() error { return s.catalog.AddBook(b) })
	if err == nil {
		s.log.WithField("book", b.ISBN).Info("book added")
	}
	return err
}

func (s *Session) UpdateBook(b Book) error {
	return s.mutate(func() error { return s.catalog.UpdateBook(b) })
}

func (s *Session) AddCopies(isbn string, n int) (Book, error) {
	var b Book
	err := s.mutate(func() (err error) { b, err = s.catalog.AddCopies(isbn, n); return err })
	return b, err
}

func (s *Session) RemoveBook(isbn string) error {
	err := s.mutate(func() error { return s.catalog.RemoveBook(isbn) })
	if err == nil {
		s.log.WithField("book", isbn).Info("book removed")
	}
	return err
}

func (s *Session) FindBook(isbn string) (b Book, err error) {
	if rerr := s.read(func() { b, err = s.catalog.FindBook(isbn) }); rerr != nil {
		return Book{}, rerr
	}
	return b, err
}

func (s *Session) ListBooks() (books []Book, err error) {
	err = s.read(func() { books = s.catalog.ListBooks() })
	return books, err
}

func (s *Session) SearchBooks(q BookQuery) (books []Book, err error) {
	err = s.read(func() { books = s.catalog.SearchBooks(q) })
	return books, err
}

func (s *Session) Availability(isbn string) (n int, err error) {
	if rerr := s.read(func() { n, err = s.catalog.Availability(isbn) }); rerr != nil {
		return 0, rerr
	}
	return n, err
}

// ------------------ Membership ------------------

func (s *Session) AddUser(u User) error {
	err := s.mutate(func() error { return s.membership.AddUser(u) })
	if err == nil {
		s.log.WithField("user", u.ID).Info("user added")
	}
	return err
}

func (s *Session) UpdateUser(u User) error {
	return s.mutate(func() error { return s.membership.UpdateUser(u) })
}

func (s *Session) RemoveUser(id string) error {
	err := s.mutate(func() error { return s.membership.RemoveUser(id) })
	if err == nil {
		s.log.WithField("user", id).Info("user removed")
	}
	return err
}

func (s *Session) SetBlacklisted(id string, blacklisted bool) (User, error) {
	var u User
	err := s.mutate(func() (err error) { u, err = s.membership.SetBlacklisted(id, blacklisted); return err })
	return u, err
}

func (s *Session) FindUser(id string) (u User, err error) {
	if rerr := s.read(func() { u, err = s.membership.FindUser(id) }); rerr != nil {
		return User{}, rerr
	}
	return u, err
}

func (s *Session) ListUsers() (users []User, err error) {
	err = s.read(func() { users = s.membership.ListUsers() })
	return users, err
}

func (s *Session) SearchUsers(q UserQuery) (users []User, err error) {
	err = s.read(func() { users = s.membership.SearchUsers(q) })
	return users, err
}

// ------------------ Loans ------------------

// OpenLoan lends isbn to userID today with the default loan period.
func (s *Session) OpenLoan(isbn, userID string) (Loan, error) {
	today := s.opts.Now()
	return s.openLoan(isbn, userID, today, time.Time{})
}

func (s *Session) OpenLoanDated(isbn, userID string, loanDate, dueDate time.Time) (Loan, error) {
	return s.openLoan(isbn, userID, loanDate, dueDate)
}

// openLoan uses the policy due date when dueDate is zero.
func (s *Session) openLoan(isbn, userID string, loanDate, dueDate time.Time) (Loan, error) {
	var l Loan
	err := s.mutate(func() (err error) {
		if dueDate.IsZero() {
			dueDate = s.loans.DueDate(loanDate)
		}
		l, err = s.loans.OpenLoan(isbn, userID, loanDate, dueDate)
		return err
	})
	if l.ID != "" {
		s.log.WithFields(logrus.Fields{"loan": l.ID, "book": isbn, "user": userID}).Info("loan opened")
	}
	return l, err
}

// CloseLoan records the return of loan id today.
func (s *Session) CloseLoan(id string) (Loan, error) {
	return s.CloseLoanDated(id, s.opts.Now())
}

func (s *Session) CloseLoanDated(id string, returnDate time.Time) (Loan, error) {
	var l Loan
	err := s.mutate(func() (err error) { l, err = s.loans.CloseLoan(id, returnDate); return err })
	if l.ID != "" {
		s.log.WithFields(logrus.Fields{"loan": l.ID, "book": l.BookISBN}).Info("loan closed")
	}
	return l, err
}

func (s *Session) FindLoan(id string) (l Loan, err error) {
	if rerr := s.read(func() { l, err = s.loans.FindLoan(id) }); rerr != nil {
		return Loan{}, rerr
	}
	return l, err
}

func (s *Session) FindOpenLoan(userID, isbn string, loanDate time.Time) (l Loan, err error) {
	if rerr := s.read(func() { l, err = s.loans.FindOpenLoan(userID, isbn, loanDate) }); rerr != nil {
		return Loan{}, rerr
	}
	return l, err
}

func (s *Session) ListLoans() (loans []Loan, err error) {
	err = s.read(func() { loans = s.loans.ListLoans() })
	return loans, err
}

func (s *Session) ListOpenLoans(userID string) (loans []Loan, err error) {
	err = s.read(func() { loans = s.loans.ListOpenLoans(userID) })
	return loans, err
}

// ListOverdue lists loans overdue as of asOf; a zero asOf means today.
func (s *Session) ListOverdue(asOf time.Time) (loans []Loan, err error) {
	if asOf.IsZero() {
		asOf = s.opts.Now()
	}
	err = s.read(func() { loans = s.loans.ListOverdue(asOf) })
	return loans, err
}

func (s *Session) CountOpenLoans(userID string) (n int, err error) {
	err = s.read(func() { n = s.loans.CountOpenLoans(userID) })
	return n, err
}
