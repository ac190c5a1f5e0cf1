package library

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// DateLayout is the on-disk and display form of loan dates.
const DateLayout = "2006-01-02"

const snapshotVersion = 1

// Gateway makes a whole Store durable in a single file.
type Gateway interface {
	Save(s *Store, path string) error
	Load(path string) (*Store, error)
}

// GatewayFor picks the JSON format for .json paths and SQLite otherwise.
func GatewayFor(path string) Gateway {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return JSONGateway{}
	}
	return SQLiteGateway{}
}

// libraryData represents the complete library state for persistence.
type libraryData struct {
	Version    int               `json:"version"`
	Books      []bookRecord      `json:"books"`
	Users      []userRecord      `json:"users"`
	Loans      []loanRecord      `json:"loans"`
	Credential *credentialRecord `json:"credential,omitempty"`
}

type bookRecord struct {
	ISBN    string   `json:"isbn"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
	Year    int      `json:"year"`
	Copies  int      `json:"copies"`
}

type userRecord struct {
	ID          string `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	Blacklisted bool   `json:"blacklisted"`
}

type loanRecord struct {
	ID         string `json:"id"`
	BookISBN   string `json:"book_isbn"`
	UserID     string `json:"user_id"`
	LoanDate   string `json:"loan_date"`
	DueDate    string `json:"due_date"`
	ReturnDate string `json:"return_date,omitempty"`
}

type credentialRecord struct {
	Username     string `json:"username"`
	PasswordHash string `json:"password_hash"`
}

func snapshotOf(s *Store) *libraryData {
	data := &libraryData{
		Version: snapshotVersion,
		Books:   []bookRecord{},
		Users:   []userRecord{},
		Loans:   []loanRecord{},
	}
	for _, b := range s.Books() {
		data.Books = append(data.Books, bookRecord{ISBN: b.ISBN, Title: b.Title, Authors: b.Authors, Year: b.Year, Copies: b.Copies})
	}
	for _, u := range s.Users() {
		data.Users = append(data.Users, userRecord(u))
	}
	for _, l := range s.Loans() {
		rec := loanRecord{
			ID:       l.ID,
			BookISBN: l.BookISBN,
			UserID:   l.UserID,
			LoanDate: l.LoanDate.Format(DateLayout),
			DueDate:  l.DueDate.Format(DateLayout),
		}
		if l.ReturnDate != nil {
			rec.ReturnDate = l.ReturnDate.Format(DateLayout)
		}
		data.Loans = append(data.Loans, rec)
	}
	if c, ok := s.Credential(); ok {
		data.Credential = &credentialRecord{Username: c.Username, PasswordHash: c.PasswordHash}
	}
	return data
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptData, fmt.Sprintf(format, args...))
}

// restore rebuilds a Store from a decoded snapshot and rejects anything that
// violates identifier or loan integrity.
func restore(data *libraryData) (*Store, error) {
	if data.Version != snapshotVersion {
		return nil, corrupt("unsupported snapshot version %d", data.Version)
	}
	s := NewStore()
	for _, r := range data.Books {
		if strings.TrimSpace(r.ISBN) == "" || r.Copies < 1 {
			return nil, corrupt("invalid book record %q", r.ISBN)
		}
		if err := s.InsertBook(Book{ISBN: r.ISBN, Title: r.Title, Authors: r.Authors, Year: r.Year, Copies: r.Copies}); err != nil {
			return nil, corrupt("%v", err)
		}
	}
	for _, r := range data.Users {
		if strings.TrimSpace(r.ID) == "" {
			return nil, corrupt("user record without id")
		}
		if err := s.InsertUser(User(r)); err != nil {
			return nil, corrupt("%v", err)
		}
	}
	for _, r := range data.Loans {
		loan, err := loanFromRecord(r)
		if err != nil {
			return nil, err
		}
		if _, ok := s.FindBook(loan.BookISBN); !ok {
			return nil, corrupt("loan %q references unknown book %q", loan.ID, loan.BookISBN)
		}
		if _, ok := s.FindUser(loan.UserID); !ok {
			return nil, corrupt("loan %q references unknown user %q", loan.ID, loan.UserID)
		}
		if err := s.insertLoan(loan); err != nil {
			return nil, corrupt("%v", err)
		}
	}
	for _, b := range s.Books() {
		if open := s.OpenLoanCount(b.ISBN); open > b.Copies {
			return nil, corrupt("book %q has %d open loans but %d copies", b.ISBN, open, b.Copies)
		}
	}
	if c := data.Credential; c != nil {
		if c.Username == "" || c.PasswordHash == "" {
			return nil, corrupt("incomplete credential")
		}
		s.setCredential(Credential{Username: c.Username, PasswordHash: c.PasswordHash})
	}
	return s, nil
}

func loanFromRecord(r loanRecord) (Loan, error) {
	if strings.TrimSpace(r.ID) == "" {
		return Loan{}, corrupt("loan record without id")
	}
	parse := func(field, v string) (time.Time, error) {
		t, err := time.Parse(DateLayout, v)
		if err != nil {
			return time.Time{}, corrupt("loan %q %s %q", r.ID, field, v)
		}
		return t, nil
	}
	loanDate, err := parse("loan date", r.LoanDate)
	if err != nil {
		return Loan{}, err
	}
	dueDate, err := parse("due date", r.DueDate)
	if err != nil {
		return Loan{}, err
	}
	if dueDate.Before(loanDate) {
		return Loan{}, corrupt("loan %q due before it was opened", r.ID)
	}
	loan := Loan{ID: r.ID, BookISBN: r.BookISBN, UserID: r.UserID, LoanDate: loanDate, DueDate: dueDate}
	if r.ReturnDate != "" {
		rd, err := parse("return date", r.ReturnDate)
		if err != nil {
			return Loan{}, err
		}
		if rd.Before(loanDate) {
			return Loan{}, corrupt("loan %q returned before it was opened", r.ID)
		}
		loan.ReturnDate = &rd
	}
	return loan, nil
}

// checkReadable maps a missing file to ErrNotFound, and a directory or any
// other OS error to ErrIOFailure.
func checkReadable(path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: data file %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: data file %s is a directory", ErrIOFailure, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return f.Close()
}

// tempSibling creates an empty temp file in the directory of path so that a
// later rename stays on the same filesystem.
func tempSibling(path string) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("%w: create data dir: %v", ErrIOFailure, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	return f.Name(), nil
}

// ---------------------------------------------------------------------------
// JSON
// ---------------------------------------------------------------------------

// JSONGateway stores the snapshot as an indented JSON document.
type JSONGateway struct{}

var snapshotJSON = jsoniter.ConfigCompatibleWithStandardLibrary

func (JSONGateway) Save(s *Store, path string) error {
	payload, err := snapshotJSON.MarshalIndent(snapshotOf(s), "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	tmp, err := tempSibling(path)
	if err != nil {
		return err
	}
	if err := writeSynced(tmp, payload); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: replace %s: %v", ErrIOFailure, path, err)
	}
	return nil
}

func writeSynced(path string, payload []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (JSONGateway) Load(path string) (*Store, error) {
	if err := checkReadable(path); err != nil {
		return nil, err
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	if !jsoniter.ConfigFastest.Valid(payload) {
		return nil, corrupt("%s is not valid JSON", path)
	}
	var data libraryData
	if err := snapshotJSON.Unmarshal(payload, &data); err != nil {
		return nil, corrupt("decode %s: %v", path, err)
	}
	return restore(&data)
}
