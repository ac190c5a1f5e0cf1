package library

import (
	"errors"
	"testing"
)

func TestCatalogAddBookValidation(t *testing.T) {
	c := NewCatalog(NewStore())
	tests := []struct {
		name string
		book Book
	}{
		{"missing isbn", Book{Title: "T", Copies: 1}},
		{"blank title", Book{ISBN: "1", Title: "  ", Copies: 1}},
		{"zero copies", Book{ISBN: "1", Title: "T"}},
		{"title not utf-8", Book{ISBN: "1", Title: "bad\xff", Copies: 1}},
		{"author not utf-8", Book{ISBN: "1", Title: "T", Authors: []string{"\xc3\x28"}, Copies: 1}},
		{"isbn not utf-8", Book{ISBN: "\xfe1", Title: "T", Copies: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.AddBook(tt.book); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("want invalid input, got %v", err)
			}
		})
	}
	if len(c.ListBooks()) != 0 {
		t.Fatalf("invalid books were stored")
	}
}

func TestCatalogAddCopies(t *testing.T) {
	c := NewCatalog(NewStore())
	if err := c.AddBook(Book{ISBN: "1", Title: "Dune", Copies: 1}); err != nil {
		t.Fatalf("add: %v", err)
	}
	b, err := c.AddCopies("1", 2)
	if err != nil {
		t.Fatalf("add copies: %v", err)
	}
	if b.Copies != 3 {
		t.Fatalf("copies: got %d want 3", b.Copies)
	}
	if n, _ := c.Availability("1"); n != 3 {
		t.Fatalf("availability: got %d want 3", n)
	}
	if _, err := c.AddCopies("1", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero copies: got %v", err)
	}
	if _, err := c.AddCopies("nope", 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown isbn: got %v", err)
	}
}

func TestCatalogUpdateBelowLoans(t *testing.T) {
	s := NewStore()
	c := NewCatalog(s)
	c.AddBook(Book{ISBN: "1", Title: "Dune", Copies: 2})
	s.InsertUser(User{ID: "U1"})
	s.InsertUser(User{ID: "U2"})
	loans := NewLoans(s, DefaultLoanPolicy())
	for _, u := range []string{"U1", "U2"} {
		if _, err := loans.OpenLoan("1", u, date(2024, 1, 1), date(2024, 1, 31)); err != nil {
			t.Fatalf("open loan: %v", err)
		}
	}

	if err := c.UpdateBook(Book{ISBN: "1", Title: "Dune", Copies: 1}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("shrink below loans: got %v", err)
	}
	if err := c.UpdateBook(Book{ISBN: "1", Title: "Dune Messiah", Authors: []string{"Frank Herbert"}, Copies: 2}); err != nil {
		t.Fatalf("update: %v", err)
	}
	b, _ := c.FindBook("1")
	if b.Title != "Dune Messiah" || len(b.Authors) != 1 {
		t.Fatalf("update not applied: %+v", b)
	}
	if n, _ := c.Availability("1"); n != 0 {
		t.Fatalf("availability: got %d want 0", n)
	}
	if err := c.UpdateBook(Book{ISBN: "2", Title: "X", Copies: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: got %v", err)
	}
}

func TestCatalogSearch(t *testing.T) {
	c := NewCatalog(NewStore())
	c.AddBook(Book{ISBN: "978-1", Title: "Il nome della rosa", Authors: []string{"Umberto Eco"}, Copies: 1})
	c.AddBook(Book{ISBN: "978-2", Title: "Good Omens", Authors: []string{"Terry Pratchett", "Neil Gaiman"}, Copies: 1})
	c.AddBook(Book{ISBN: "979-3", Title: "American Gods", Authors: []string{"Neil Gaiman"}, Copies: 1})
	c.AddBook(Book{ISBN: "88-04-3125X", Title: "Baudolino", Authors: []string{"Umberto Eco"}, Copies: 1})

	tests := []struct {
		name  string
		query BookQuery
		want  []string
	}{
		{"blank matches all", BookQuery{}, []string{"979-3", "88-04-3125X", "978-2", "978-1"}},
		{"title case insensitive", BookQuery{Title: "ROSA"}, []string{"978-1"}},
		{"any author", BookQuery{Author: "gaiman"}, []string{"979-3", "978-2"}},
		{"isbn prefix", BookQuery{ISBN: "978"}, []string{"978-2", "978-1"}},
		{"fields combine", BookQuery{Author: "gaiman", ISBN: "978"}, []string{"978-2"}},
		{"isbn case insensitive", BookQuery{ISBN: "125x"}, []string{"88-04-3125X"}},
		{"no match", BookQuery{Title: "zzz"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.SearchBooks(tt.query)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d books, want %d: %+v", len(got), len(tt.want), got)
			}
			for i, b := range got {
				if b.ISBN != tt.want[i] {
					t.Fatalf("result %d: got %s want %s", i, b.ISBN, tt.want[i])
				}
			}
		})
	}
}
