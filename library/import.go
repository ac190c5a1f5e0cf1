package library

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// catalogueEntry is one book in an import file:
//
//	- isbn: "9788804668237"
//	  title: Il nome della rosa
//	  authors: [Umberto Eco]
//	  year: 1980
//	  copies: 2
type catalogueEntry struct {
	ISBN    string   `yaml:"isbn"`
	Title   string   `yaml:"title"`
	Authors []string `yaml:"authors"`
	Year    int      `yaml:"year"`
	Copies  int      `yaml:"copies"`
}

// ReadCatalogue decodes a YAML list of books. Entries without a copy count
// default to a single copy; every entry is validated like AddBook would.
func ReadCatalogue(r io.Reader) ([]Book, error) {
	var entries []catalogueEntry
	if err := yaml.NewDecoder(r).Decode(&entries); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: parse catalogue: %v", ErrInvalidInput, err)
	}
	books := make([]Book, 0, len(entries))
	for i, e := range entries {
		if e.Copies == 0 {
			e.Copies = 1
		}
		b := Book{ISBN: e.ISBN, Title: e.Title, Authors: e.Authors, Year: e.Year, Copies: e.Copies}
		if err := validateBook(b); err != nil {
			return nil, fmt.Errorf("catalogue entry %d: %w", i+1, err)
		}
		books = append(books, b)
	}
	return books, nil
}

// ImportResult summarises one ImportBooks run.
type ImportResult struct {
	Added  int
	Merged int
}

// ImportBooks adds each book, or adds its copies to the existing entry when
// the ISBN is already catalogued. The batch is validated before anything is
// written, so it applies completely or not at all.
func (s *Session) ImportBooks(books []Book) (ImportResult, error) {
	var merged []Book
	index := make(map[string]int)
	for _, b := range books {
		if err := validateBook(b); err != nil {
			return ImportResult{}, err
		}
		if i, ok := index[b.ISBN]; ok {
			merged[i].Copies += b.Copies
			continue
		}
		index[b.ISBN] = len(merged)
		merged = append(merged, b)
	}

	var res ImportResult
	err := s.mutate(func() error {
		for _, b := range merged {
			if _, ok := s.store.FindBook(b.ISBN); ok {
				if _, err := s.catalog.AddCopies(b.ISBN, b.Copies); err != nil {
					return err
				}
				res.Merged++
				continue
			}
			if err := s.catalog.AddBook(b); err != nil {
				return err
			}
			res.Added++
		}
		return nil
	})
	return res, err
}
