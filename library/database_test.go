package library

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// sampleStore builds a store with every entity kind, including a closed loan
// and a book without authors.
func sampleStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	books := []Book{
		{ISBN: "978-88", Title: "Il nome della rosa", Authors: []string{"Umberto Eco"}, Year: 1980, Copies: 2},
		{ISBN: "978-02", Title: "Good Omens", Authors: []string{"Terry Pratchett", "Neil Gaiman"}, Year: 1990, Copies: 1},
		{ISBN: "000-01", Title: "Anonymous pamphlet", Copies: 1},
	}
	for _, b := range books {
		if err := s.InsertBook(b); err != nil {
			t.Fatalf("insert book: %v", err)
		}
	}
	users := []User{
		{ID: "U1", FirstName: "Anna", LastName: "Verdi", Email: "anna@example.org"},
		{ID: "U2", FirstName: "Luca", LastName: "Neri", Blacklisted: true},
	}
	for _, u := range users {
		if err := s.InsertUser(u); err != nil {
			t.Fatalf("insert user: %v", err)
		}
	}
	returned := date(2024, 1, 9)
	loans := []Loan{
		{ID: "L1", BookISBN: "978-88", UserID: "U1", LoanDate: date(2024, 1, 1), DueDate: date(2024, 1, 31)},
		{ID: "L2", BookISBN: "978-02", UserID: "U2", LoanDate: date(2024, 1, 2), DueDate: date(2024, 1, 16), ReturnDate: &returned},
	}
	for _, l := range loans {
		if err := s.insertLoan(l); err != nil {
			t.Fatalf("insert loan: %v", err)
		}
	}
	s.setCredential(Credential{Username: "admin", PasswordHash: "$2a$04$notarealhashbutstoredverbatim"})
	return s
}

func assertSameStore(t *testing.T, want, got *Store) {
	t.Helper()
	if !reflect.DeepEqual(want.Books(), got.Books()) {
		t.Fatalf("books differ:\nwant %+v\ngot  %+v", want.Books(), got.Books())
	}
	if !reflect.DeepEqual(want.Users(), got.Users()) {
		t.Fatalf("users differ:\nwant %+v\ngot  %+v", want.Users(), got.Users())
	}
	wl, gl := want.Loans(), got.Loans()
	if len(wl) != len(gl) {
		t.Fatalf("loans: want %d got %d", len(wl), len(gl))
	}
	for i := range wl {
		w, g := wl[i], gl[i]
		if w.ID != g.ID || w.BookISBN != g.BookISBN || w.UserID != g.UserID ||
			!w.LoanDate.Equal(g.LoanDate) || !w.DueDate.Equal(g.DueDate) {
			t.Fatalf("loan %d differs:\nwant %+v\ngot  %+v", i, w, g)
		}
		if (w.ReturnDate == nil) != (g.ReturnDate == nil) ||
			(w.ReturnDate != nil && !w.ReturnDate.Equal(*g.ReturnDate)) {
			t.Fatalf("loan %d return date: want %v got %v", i, w.ReturnDate, g.ReturnDate)
		}
	}
	wc, wok := want.Credential()
	gc, gok := got.Credential()
	if wok != gok || wc != gc {
		t.Fatalf("credential: want %+v got %+v", wc, gc)
	}
}

var gateways = []struct {
	name string
	gw   Gateway
	file string
}{
	{"sqlite", SQLiteGateway{}, "library.db"},
	{"json", JSONGateway{}, "library.json"},
}

func TestGatewayRoundTrip(t *testing.T) {
	for _, g := range gateways {
		t.Run(g.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), g.file)
			want := sampleStore(t)
			if err := g.gw.Save(want, path); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := g.gw.Load(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			assertSameStore(t, want, got)
			if n, _ := got.Availability("978-88"); n != 1 {
				t.Fatalf("derived availability: got %d want 1", n)
			}
		})
	}
}

func TestGatewayEmptyStore(t *testing.T) {
	for _, g := range gateways {
		t.Run(g.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), g.file)
			if err := g.gw.Save(NewStore(), path); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := g.gw.Load(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if len(got.Books())+len(got.Users())+len(got.Loans()) != 0 {
				t.Fatalf("empty store came back non-empty")
			}
			if _, ok := got.Credential(); ok {
				t.Fatalf("credential appeared from nowhere")
			}
		})
	}
}

func TestGatewayMissingFile(t *testing.T) {
	for _, g := range gateways {
		t.Run(g.name, func(t *testing.T) {
			_, err := g.gw.Load(filepath.Join(t.TempDir(), g.file))
			if !errors.Is(err, ErrNotFound) {
				t.Fatalf("want not found, got %v", err)
			}
		})
	}
}

func TestGatewayGarbageFile(t *testing.T) {
	for _, g := range gateways {
		t.Run(g.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), g.file)
			if err := os.WriteFile(path, []byte("this is not a library file\n"), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := g.gw.Load(path); !errors.Is(err, ErrCorruptData) {
				t.Fatalf("want corrupt data, got %v", err)
			}
		})
	}
}

func TestGatewayReplacesAtomically(t *testing.T) {
	for _, g := range gateways {
		t.Run(g.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, g.file)
			first := sampleStore(t)
			if err := g.gw.Save(first, path); err != nil {
				t.Fatalf("first save: %v", err)
			}
			second := sampleStore(t)
			second.InsertBook(Book{ISBN: "new", Title: "Arrived later", Copies: 1})
			if err := g.gw.Save(second, path); err != nil {
				t.Fatalf("second save: %v", err)
			}

			entries, err := os.ReadDir(dir)
			if err != nil {
				t.Fatalf("read dir: %v", err)
			}
			if len(entries) != 1 || entries[0].Name() != g.file {
				var names []string
				for _, e := range entries {
					names = append(names, e.Name())
				}
				t.Fatalf("stray files after save: %v", names)
			}
			got, err := g.gw.Load(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			assertSameStore(t, second, got)
		})
	}
}

func TestSaveFailureKeepsPreviousFile(t *testing.T) {
	for _, g := range gateways {
		t.Run(g.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, g.file)
			if err := g.gw.Save(sampleStore(t), path); err != nil {
				t.Fatalf("save: %v", err)
			}
			// A regular file where the parent directory should be.
			blocked := filepath.Join(dir, "blocked")
			if err := os.WriteFile(blocked, nil, 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			err := g.gw.Save(NewStore(), filepath.Join(blocked, g.file))
			if !errors.Is(err, ErrIOFailure) {
				t.Fatalf("want io failure, got %v", err)
			}
			if _, err := g.gw.Load(path); err != nil {
				t.Fatalf("previous file damaged: %v", err)
			}
		})
	}
}

func TestJSONLoadRejectsBrokenReferences(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown book", `{"version":1,"books":[],"users":[{"id":"U1","first_name":"A","last_name":"B"}],
			"loans":[{"id":"L1","book_isbn":"B1","user_id":"U1","loan_date":"2024-01-01","due_date":"2024-01-15"}]}`},
		{"unknown user", `{"version":1,"books":[{"isbn":"B1","title":"T","copies":1}],"users":[],
			"loans":[{"id":"L1","book_isbn":"B1","user_id":"U1","loan_date":"2024-01-01","due_date":"2024-01-15"}]}`},
		{"more loans than copies", `{"version":1,"books":[{"isbn":"B1","title":"T","copies":1}],
			"users":[{"id":"U1","first_name":"A","last_name":"B"}],
			"loans":[{"id":"L1","book_isbn":"B1","user_id":"U1","loan_date":"2024-01-01","due_date":"2024-01-15"},
			         {"id":"L2","book_isbn":"B1","user_id":"U1","loan_date":"2024-01-02","due_date":"2024-01-15"}]}`},
		{"duplicate isbn", `{"version":1,"books":[{"isbn":"B1","title":"T","copies":1},{"isbn":"B1","title":"U","copies":1}],"users":[],"loans":[]}`},
		{"bad date", `{"version":1,"books":[{"isbn":"B1","title":"T","copies":1}],
			"users":[{"id":"U1","first_name":"A","last_name":"B"}],
			"loans":[{"id":"L1","book_isbn":"B1","user_id":"U1","loan_date":"01/01/2024","due_date":"2024-01-15"}]}`},
		{"due before loan", `{"version":1,"books":[{"isbn":"B1","title":"T","copies":1}],
			"users":[{"id":"U1","first_name":"A","last_name":"B"}],
			"loans":[{"id":"L1","book_isbn":"B1","user_id":"U1","loan_date":"2024-02-01","due_date":"2024-01-15"}]}`},
		{"unknown version", `{"version":7,"books":[],"users":[],"loans":[]}`},
		{"zero copies", `{"version":1,"books":[{"isbn":"B1","title":"T","copies":0}],"users":[],"loans":[]}`},
		{"half credential", `{"version":1,"books":[],"users":[],"loans":[],"credential":{"username":"admin"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "library.json")
			if err := os.WriteFile(path, []byte(tt.doc), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if _, err := (JSONGateway{}).Load(path); !errors.Is(err, ErrCorruptData) {
				t.Fatalf("want corrupt data, got %v", err)
			}
		})
	}
}

func TestSQLiteLoadRejectsBrokenReferences(t *testing.T) {
	path := filepath.Join(t.TempDir(), "library.db")
	if err := (SQLiteGateway{}).Save(sampleStore(t), path); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Drop the book behind an open loan with foreign keys switched off.
	db, err := sql.Open("sqlite3", "file:"+path+"?_foreign_keys=0")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM books WHERE isbn = '978-88'`); err != nil {
		t.Fatalf("delete: %v", err)
	}
	db.Close()

	_, err = (SQLiteGateway{}).Load(path)
	if !errors.Is(err, ErrCorruptData) {
		t.Fatalf("want corrupt data, got %v", err)
	}
	if !strings.Contains(err.Error(), "978-88") {
		t.Fatalf("error should name the missing book: %v", err)
	}
}

func TestGatewayFor(t *testing.T) {
	tests := []struct {
		path string
		want Gateway
	}{
		{"library.json", JSONGateway{}},
		{"data/LIBRARY.JSON", JSONGateway{}},
		{"library.db", SQLiteGateway{}},
		{"library", SQLiteGateway{}},
	}
	for _, tt := range tests {
		if got := GatewayFor(tt.path); got != tt.want {
			t.Errorf("GatewayFor(%q) = %T, want %T", tt.path, got, tt.want)
		}
	}
}

func TestGatewayAfterRemovingLoanHistory(t *testing.T) {
	for _, g := range gateways {
		t.Run(g.name, func(t *testing.T) {
			s := NewStore()
			s.InsertBook(Book{ISBN: "B1", Title: "One", Copies: 1})
			s.InsertBook(Book{ISBN: "B2", Title: "Two", Copies: 1})
			s.InsertUser(User{ID: "U1", FirstName: "Anna", LastName: "Verdi"})
			s.InsertUser(User{ID: "U2", FirstName: "Luca", LastName: "Neri"})
			ls := NewLoans(s, DefaultLoanPolicy())
			l1, err := ls.OpenLoan("B1", "U1", date(2024, 1, 1), date(2024, 1, 15))
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			if _, err := ls.CloseLoan(l1.ID, date(2024, 1, 10)); err != nil {
				t.Fatalf("close: %v", err)
			}
			l2, _ := ls.OpenLoan("B2", "U2", date(2024, 1, 2), date(2024, 1, 16))
			ls.CloseLoan(l2.ID, date(2024, 1, 3))

			if err := s.RemoveBook("B1"); err != nil {
				t.Fatalf("remove book: %v", err)
			}
			if err := s.RemoveUser("U2"); err != nil {
				t.Fatalf("remove user: %v", err)
			}

			path := filepath.Join(t.TempDir(), g.file)
			if err := g.gw.Save(s, path); err != nil {
				t.Fatalf("save after removal: %v", err)
			}
			got, err := g.gw.Load(path)
			if err != nil {
				t.Fatalf("load after removal: %v", err)
			}
			assertSameStore(t, s, got)
			if n := len(got.Loans()); n != 0 {
				t.Fatalf("loans of removed entities survived: %d", n)
			}
		})
	}
}

func TestGatewayDirectoryPath(t *testing.T) {
	for _, g := range gateways {
		t.Run(g.name, func(t *testing.T) {
			_, err := g.gw.Load(t.TempDir())
			if !errors.Is(err, ErrIOFailure) {
				t.Fatalf("want io failure, got %v", err)
			}
			if errors.Is(err, ErrCorruptData) {
				t.Fatalf("directory reported as corrupt data: %v", err)
			}
		})
	}
}

func TestJSONKeepsUnicodeText(t *testing.T) {
	s := NewStore()
	c := NewCatalog(s)
	if err := c.AddBook(Book{ISBN: "1", Title: "Perché l'ævum 書", Authors: []string{"Émile Zola"}, Copies: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.AddBook(Book{ISBN: "2", Title: "bad\xff", Copies: 1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("invalid UTF-8 title: got %v", err)
	}
	path := filepath.Join(t.TempDir(), "library.json")
	if err := (JSONGateway{}).Save(s, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := (JSONGateway{}).Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	assertSameStore(t, s, got)
}
