package library

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteGateway stores the snapshot as a SQLite database file. Each save
// builds a complete new database next to the target and renames it into place.
type SQLiteGateway struct{}

// database wraps one SQLite connection used for a single save or load.
type database struct {
	db *sql.DB

	addBookStmt   *sql.Stmt
	addAuthorStmt *sql.Stmt
	addUserStmt   *sql.Stmt
	addLoanStmt   *sql.Stmt
}

func openDatabase(path string, readOnly bool) (*database, error) {
	// Rollback journal instead of WAL: the file must be self-contained when renamed.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=1&_journal_mode=DELETE", path)
	if readOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro&_busy_timeout=5000", path)
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &database{db: db}, nil
}

// Close releases prepared statements and closes the DB.
func (d *database) Close() error {
	for _, stmt := range []*sql.Stmt{d.addBookStmt, d.addAuthorStmt, d.addUserStmt, d.addLoanStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return d.db.Close()
}

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

const schemaVersion = 1

func applySchema(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE meta (key TEXT PRIMARY KEY, value TEXT);`,
		`CREATE TABLE books (
            seq INTEGER PRIMARY KEY,
            isbn TEXT NOT NULL UNIQUE,
            title TEXT NOT NULL,
            year INTEGER NOT NULL,
            copies INTEGER NOT NULL CHECK (copies >= 1)
        );`,
		`CREATE TABLE book_authors (
            isbn TEXT NOT NULL REFERENCES books(isbn),
            position INTEGER NOT NULL,
            name TEXT NOT NULL,
            PRIMARY KEY (isbn, position)
        );`,
		`CREATE TABLE users (
            seq INTEGER PRIMARY KEY,
            id TEXT NOT NULL UNIQUE,
            first_name TEXT NOT NULL,
            last_name TEXT NOT NULL,
            email TEXT NOT NULL,
            blacklisted BOOLEAN NOT NULL DEFAULT 0
        );`,
		`CREATE TABLE loans (
            seq INTEGER PRIMARY KEY,
            id TEXT NOT NULL UNIQUE,
            book_isbn TEXT NOT NULL REFERENCES books(isbn),
            user_id TEXT NOT NULL REFERENCES users(id),
            loan_date TEXT NOT NULL,
            due_date TEXT NOT NULL,
            return_date TEXT
        );`,
		`CREATE TABLE credential (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            username TEXT NOT NULL,
            password_hash TEXT NOT NULL
        );`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	_, err := tx.Exec(`INSERT INTO meta(key,value) VALUES('schema_version',?)`, strconv.Itoa(schemaVersion))
	return err
}

func (d *database) prepareStatements(tx *sql.Tx) error {
	var err error
	if d.addBookStmt, err = tx.Prepare(`INSERT INTO books(isbn,title,year,copies) VALUES(?,?,?,?)`); err != nil {
		return err
	}
	if d.addAuthorStmt, err = tx.Prepare(`INSERT INTO book_authors(isbn,position,name) VALUES(?,?,?)`); err != nil {
		return err
	}
	if d.addUserStmt, err = tx.Prepare(`INSERT INTO users(id,first_name,last_name,email,blacklisted) VALUES(?,?,?,?,?)`); err != nil {
		return err
	}
	if d.addLoanStmt, err = tx.Prepare(`INSERT INTO loans(id,book_isbn,user_id,loan_date,due_date,return_date) VALUES(?,?,?,?,?,?)`); err != nil {
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Save
// ---------------------------------------------------------------------------

func (SQLiteGateway) Save(s *Store, path string) error {
	tmp, err := tempSibling(path)
	if err != nil {
		return err
	}
	if err := writeDatabase(tmp, snapshotOf(s)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: write %s: %v", ErrIOFailure, path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: replace %s: %v", ErrIOFailure, path, err)
	}
	return nil
}

// writeDatabase writes data into the empty database file at path in one transaction.
func writeDatabase(path string, data *libraryData) error {
	d, err := openDatabase(path, false)
	if err != nil {
		return err
	}
	defer d.Close()

	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := applySchema(tx); err != nil {
		return err
	}
	if err := d.prepareStatements(tx); err != nil {
		return err
	}
	for _, b := range data.Books {
		if _, err := d.addBookStmt.Exec(b.ISBN, b.Title, b.Year, b.Copies); err != nil {
			return fmt.Errorf("insert book %q: %w", b.ISBN, err)
		}
		for i, name := range b.Authors {
			if _, err := d.addAuthorStmt.Exec(b.ISBN, i, name); err != nil {
				return fmt.Errorf("insert author of %q: %w", b.ISBN, err)
			}
		}
	}
	for _, u := range data.Users {
		if _, err := d.addUserStmt.Exec(u.ID, u.FirstName, u.LastName, u.Email, u.Blacklisted); err != nil {
			return fmt.Errorf("insert user %q: %w", u.ID, err)
		}
	}
	for _, l := range data.Loans {
		var ret sql.NullString
		if l.ReturnDate != "" {
			ret = sql.NullString{String: l.ReturnDate, Valid: true}
		}
		if _, err := d.addLoanStmt.Exec(l.ID, l.BookISBN, l.UserID, l.LoanDate, l.DueDate, ret); err != nil {
			return fmt.Errorf("insert loan %q: %w", l.ID, err)
		}
	}
	if c := data.Credential; c != nil {
		if _, err := tx.Exec(`INSERT INTO credential(id,username,password_hash) VALUES(1,?,?)`, c.Username, c.PasswordHash); err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}
	}
	return tx.Commit()
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func (SQLiteGateway) Load(path string) (*Store, error) {
	if err := checkReadable(path); err != nil {
		return nil, err
	}
	d, err := openDatabase(path, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIOFailure, err)
	}
	defer d.Close()

	data, err := d.readSnapshot()
	if err != nil {
		return nil, corrupt("read %s: %v", path, err)
	}
	return restore(data)
}

func (d *database) readSnapshot() (*libraryData, error) {
	var version string
	if err := d.db.QueryRow(`SELECT value FROM meta WHERE key='schema_version'`).Scan(&version); err != nil {
		return nil, fmt.Errorf("schema version: %w", err)
	}
	if version != strconv.Itoa(schemaVersion) {
		return nil, fmt.Errorf("unsupported schema version %s", version)
	}

	data := &libraryData{Version: snapshotVersion}
	var err error
	if data.Books, err = d.readBooks(); err != nil {
		return nil, err
	}
	if data.Users, err = d.readUsers(); err != nil {
		return nil, err
	}
	if data.Loans, err = d.readLoans(); err != nil {
		return nil, err
	}

	var c credentialRecord
	err = d.db.QueryRow(`SELECT username,password_hash FROM credential WHERE id=1`).Scan(&c.Username, &c.PasswordHash)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("credential: %w", err)
	default:
		data.Credential = &c
	}
	return data, nil
}

func (d *database) readBooks() ([]bookRecord, error) {
	authors, err := d.readAuthors()
	if err != nil {
		return nil, err
	}
	rows, err := d.db.Query(`SELECT isbn,title,year,copies FROM books ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []bookRecord
	for rows.Next() {
		var b bookRecord
		if err := rows.Scan(&b.ISBN, &b.Title, &b.Year, &b.Copies); err != nil {
			return nil, err
		}
		b.Authors = authors[b.ISBN]
		books = append(books, b)
	}
	return books, rows.Err()
}

func (d *database) readAuthors() (map[string][]string, error) {
	rows, err := d.db.Query(`SELECT isbn,name FROM book_authors ORDER BY isbn, position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	authors := make(map[string][]string)
	for rows.Next() {
		var isbn, name string
		if err := rows.Scan(&isbn, &name); err != nil {
			return nil, err
		}
		authors[isbn] = append(authors[isbn], name)
	}
	return authors, rows.Err()
}

func (d *database) readUsers() ([]userRecord, error) {
	rows, err := d.db.Query(`SELECT id,first_name,last_name,email,blacklisted FROM users ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []userRecord
	for rows.Next() {
		var u userRecord
		if err := rows.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Blacklisted); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (d *database) readLoans() ([]loanRecord, error) {
	rows, err := d.db.Query(`SELECT id,book_isbn,user_id,loan_date,due_date,return_date FROM loans ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var loans []loanRecord
	for rows.Next() {
		var l loanRecord
		var ret sql.NullString
		if err := rows.Scan(&l.ID, &l.BookISBN, &l.UserID, &l.LoanDate, &l.DueDate, &ret); err != nil {
			return nil, err
		}
		l.ReturnDate = ret.String
		loans = append(loans, l)
	}
	return loans, rows.Err()
}
