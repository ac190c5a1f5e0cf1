package main

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"library-desk/library"
)

func printHelp() {
	fmt.Println("Available commands:")
	fmt.Println("  Books: add book, update book, add copies, remove book, list books, search book")
	fmt.Println("  Users: add user, update user, remove user, list users, search user, blacklist")
	fmt.Println("  Loans: lend, return, list loans, overdue")
	fmt.Println("  System: change password, save, help, exit")
	fmt.Println()
	fmt.Println("Tips:")
	fmt.Println("  • Press Enter at an update prompt to keep the current value")
	fmt.Println("  • For 'list loans': Enter a User ID for their open loans, or press Enter to see every loan")
}

func repl(sc *bufio.Scanner, s *library.Session) {
	fmt.Println("Welcome to the library desk!")
	printHelp()

	for {
		fmt.Print("\n> ")
		if !sc.Scan() {
			return
		}
		cmd := strings.TrimSpace(sc.Text())

		switch cmd {
		case "":
		case "add book":
			handleAddBook(sc, s)
		case "update book":
			handleUpdateBook(sc, s)
		case "add copies":
			handleAddCopies(sc, s)
		case "remove book":
			handleRemoveBook(sc, s)
		case "list books":
			books, err := s.ListBooks()
			printBooks(s, books, err)
		case "search book":
			handleSearchBooks(sc, s)
		case "add user":
			handleAddUser(sc, s)
		case "update user":
			handleUpdateUser(sc, s)
		case "remove user":
			handleRemoveUser(sc, s)
		case "list users":
			users, err := s.ListUsers()
			printUsers(s, users, err)
		case "search user":
			handleSearchUsers(sc, s)
		case "blacklist":
			handleBlacklist(sc, s)
		case "lend":
			handleLend(sc, s)
		case "return":
			handleReturn(sc, s)
		case "list loans":
			handleListLoans(sc, s)
		case "overdue":
			loans, err := s.ListOverdue(time.Time{})
			printLoans(s, loans, err)
		case "change password":
			if err := changePassword(sc, s); err != nil {
				report(err)
			}
		case "save":
			if err := s.Save(); err != nil {
				report(err)
			} else {
				fmt.Println("Library saved.")
			}
		case "help":
			printHelp()
		case "exit":
			fmt.Println("Goodbye!")
			return
		default:
			fmt.Println("Unknown command. Type 'help' to see the available commands.")
		}
	}
}

// report prints err, calling out changes that were kept in memory but not saved.
func report(err error) {
	if errors.Is(err, library.ErrIOFailure) {
		fmt.Printf("Warning: %v\nUse 'save' to retry.\n", err)
		return
	}
	fmt.Printf("Error: %v\n", err)
}

// savedOK reports err and says whether the change itself was applied.
func savedOK(err error) bool {
	if err == nil {
		return true
	}
	report(err)
	return errors.Is(err, library.ErrIOFailure)
}

func readInt(sc *bufio.Scanner, label string, def int) (int, bool) {
	v, ok := prompt(sc, label)
	if !ok {
		return 0, false
	}
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		fmt.Printf("Invalid number: %s\n", v)
		return 0, false
	}
	return n, true
}

func readDate(sc *bufio.Scanner, label string) (time.Time, bool) {
	v, ok := prompt(sc, label)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(library.DateLayout, v)
	if err != nil {
		fmt.Printf("Invalid date %q, expected YYYY-MM-DD\n", v)
		return time.Time{}, false
	}
	return t, true
}

// keep returns v, or current when v is blank.
func keep(v, current string) string {
	if v == "" {
		return current
	}
	return v
}

func splitAuthors(v string) []string {
	var authors []string
	for _, a := range strings.Split(v, ",") {
		if a = strings.TrimSpace(a); a != "" {
			authors = append(authors, a)
		}
	}
	return authors
}

// ------------------ Books ------------------

func handleAddBook(sc *bufio.Scanner, s *library.Session) {
	var b library.Book
	var ok bool
	if b.ISBN, ok = prompt(sc, "ISBN: "); !ok {
		return
	}
	if b.Title, ok = prompt(sc, "Title: "); !ok {
		return
	}
	authors, ok := prompt(sc, "Authors (comma separated): ")
	if !ok {
		return
	}
	b.Authors = splitAuthors(authors)
	if b.Year, ok = readInt(sc, "Year (optional): ", 0); !ok {
		return
	}
	if b.Copies, ok = readInt(sc, "Copies [1]: ", 1); !ok {
		return
	}

	if savedOK(s.AddBook(b)) {
		fmt.Printf("Added '%s' (%s) with %d cop%s\n", b.Title, b.ISBN, b.Copies, plural(b.Copies, "y", "ies"))
	}
}

func handleUpdateBook(sc *bufio.Scanner, s *library.Session) {
	isbn, ok := prompt(sc, "ISBN: ")
	if !ok {
		return
	}
	b, err := s.FindBook(isbn)
	if err != nil {
		report(err)
		return
	}

	title, ok := prompt(sc, fmt.Sprintf("Title [%s]: ", b.Title))
	if !ok {
		return
	}
	b.Title = keep(title, b.Title)
	authors, ok := prompt(sc, fmt.Sprintf("Authors [%s]: ", strings.Join(b.Authors, ", ")))
	if !ok {
		return
	}
	if authors != "" {
		b.Authors = splitAuthors(authors)
	}
	if b.Year, ok = readInt(sc, fmt.Sprintf("Year [%d]: ", b.Year), b.Year); !ok {
		return
	}
	if b.Copies, ok = readInt(sc, fmt.Sprintf("Copies [%d]: ", b.Copies), b.Copies); !ok {
		return
	}

	if savedOK(s.UpdateBook(b)) {
		fmt.Printf("Updated '%s'\n", b.Title)
	}
}

func handleAddCopies(sc *bufio.Scanner, s *library.Session) {
	isbn, ok := prompt(sc, "ISBN: ")
	if !ok {
		return
	}
	n, ok := readInt(sc, "Copies to add [1]: ", 1)
	if !ok {
		return
	}
	b, err := s.AddCopies(isbn, n)
	if savedOK(err) {
		fmt.Printf("'%s' now has %d copies\n", b.Title, b.Copies)
	}
}

func handleRemoveBook(sc *bufio.Scanner, s *library.Session) {
	isbn, ok := prompt(sc, "ISBN: ")
	if !ok {
		return
	}
	err := s.RemoveBook(isbn)
	if errors.Is(err, library.ErrInUse) {
		fmt.Println("Error: the book has copies on loan and cannot be removed")
		return
	}
	if savedOK(err) {
		fmt.Printf("Removed book %s\n", isbn)
	}
}

func handleSearchBooks(sc *bufio.Scanner, s *library.Session) {
	var q library.BookQuery
	var ok bool
	if q.Title, ok = prompt(sc, "Title contains: "); !ok {
		return
	}
	if q.Author, ok = prompt(sc, "Author contains: "); !ok {
		return
	}
	if q.ISBN, ok = prompt(sc, "ISBN contains: "); !ok {
		return
	}
	books, err := s.SearchBooks(q)
	printBooks(s, books, err)
}

func printBooks(s *library.Session, books []library.Book, err error) {
	if err != nil {
		report(err)
		return
	}
	if len(books) == 0 {
		fmt.Println("No books found.")
		return
	}

	fmt.Printf("%-15s %-30s %-25s %-6s %-7s %s\n", "ISBN", "Title", "Authors", "Year", "Copies", "Available")
	fmt.Println(strings.Repeat("-", 100))
	for _, b := range books {
		avail, _ := s.Availability(b.ISBN)
		year := ""
		if b.Year != 0 {
			year = strconv.Itoa(b.Year)
		}
		fmt.Printf("%-15s %-30s %-25s %-6s %-7d %d\n",
			truncateString(b.ISBN, 15),
			truncateString(b.Title, 30),
			truncateString(strings.Join(b.Authors, ", "), 25),
			year,
			b.Copies,
			avail)
	}
}

// ------------------ Users ------------------

func handleAddUser(sc *bufio.Scanner, s *library.Session) {
	var u library.User
	var ok bool
	if u.ID, ok = prompt(sc, "User ID: "); !ok {
		return
	}
	if u.FirstName, ok = prompt(sc, "First name: "); !ok {
		return
	}
	if u.LastName, ok = prompt(sc, "Last name: "); !ok {
		return
	}
	if u.Email, ok = prompt(sc, "Email (optional): "); !ok {
		return
	}
	if savedOK(s.AddUser(u)) {
		fmt.Printf("Added user %s %s (ID: %s)\n", u.FirstName, u.LastName, u.ID)
	}
}

func handleUpdateUser(sc *bufio.Scanner, s *library.Session) {
	id, ok := prompt(sc, "User ID: ")
	if !ok {
		return
	}
	u, err := s.FindUser(id)
	if err != nil {
		report(err)
		return
	}
	for _, f := range []struct {
		label string
		field *string
	}{
		{"First name", &u.FirstName},
		{"Last name", &u.LastName},
		{"Email", &u.Email},
	} {
		v, ok := prompt(sc, fmt.Sprintf("%s [%s]: ", f.label, *f.field))
		if !ok {
			return
		}
		*f.field = keep(v, *f.field)
	}
	if savedOK(s.UpdateUser(u)) {
		fmt.Printf("Updated user %s\n", u.ID)
	}
}

func handleRemoveUser(sc *bufio.Scanner, s *library.Session) {
	id, ok := prompt(sc, "User ID: ")
	if !ok {
		return
	}
	err := s.RemoveUser(id)
	if errors.Is(err, library.ErrInUse) {
		fmt.Println("Error: the user still has books on loan")
		return
	}
	if savedOK(err) {
		fmt.Printf("Removed user %s\n", id)
	}
}

func handleSearchUsers(sc *bufio.Scanner, s *library.Session) {
	var q library.UserQuery
	var ok bool
	if q.LastName, ok = prompt(sc, "Last name contains: "); !ok {
		return
	}
	if q.FirstName, ok = prompt(sc, "First name contains: "); !ok {
		return
	}
	users, err := s.SearchUsers(q)
	printUsers(s, users, err)
}

func handleBlacklist(sc *bufio.Scanner, s *library.Session) {
	id, ok := prompt(sc, "User ID: ")
	if !ok {
		return
	}
	block := confirm(sc, "Block new loans for this user? [y/N]: ")
	u, err := s.SetBlacklisted(id, block)
	if !savedOK(err) {
		return
	}
	if u.Blacklisted {
		fmt.Printf("%s %s is blacklisted\n", u.FirstName, u.LastName)
	} else {
		fmt.Printf("%s %s may borrow again\n", u.FirstName, u.LastName)
	}
}

func printUsers(s *library.Session, users []library.User, err error) {
	if err != nil {
		report(err)
		return
	}
	if len(users) == 0 {
		fmt.Println("No users found.")
		return
	}

	fmt.Printf("%-12s %-20s %-20s %-28s %-6s %s\n", "ID", "Last name", "First name", "Email", "Loans", "Blacklisted")
	fmt.Println(strings.Repeat("-", 100))
	for _, u := range users {
		open, _ := s.CountOpenLoans(u.ID)
		blocked := "No"
		if u.Blacklisted {
			blocked = "Yes"
		}
		fmt.Printf("%-12s %-20s %-20s %-28s %-6d %s\n",
			truncateString(u.ID, 12),
			truncateString(u.LastName, 20),
			truncateString(u.FirstName, 20),
			truncateString(u.Email, 28),
			open,
			blocked)
	}
}

// ------------------ Loans ------------------

func handleLend(sc *bufio.Scanner, s *library.Session) {
	isbn, ok := prompt(sc, "ISBN: ")
	if !ok {
		return
	}
	userID, ok := prompt(sc, "User ID: ")
	if !ok {
		return
	}

	l, err := s.OpenLoan(isbn, userID)
	switch {
	case errors.Is(err, library.ErrUnavailable):
		fmt.Println("No copy of this book is available right now.")
		return
	case errors.Is(err, library.ErrBlacklisted):
		fmt.Println("This user is blacklisted and cannot borrow books.")
		return
	case errors.Is(err, library.ErrLoanLimit):
		fmt.Println("This user has reached the maximum number of open loans.")
		return
	}
	if savedOK(err) {
		fmt.Printf("Loan %s opened, due %s\n", l.ID, l.DueDate.Format(library.DateLayout))
	}
}

func handleReturn(sc *bufio.Scanner, s *library.Session) {
	id, ok := prompt(sc, "Loan ID (or press Enter to look it up): ")
	if !ok {
		return
	}
	if id == "" {
		userID, ok := prompt(sc, "User ID: ")
		if !ok {
			return
		}
		isbn, ok := prompt(sc, "ISBN: ")
		if !ok {
			return
		}
		loanDate, ok := readDate(sc, "Loan date (YYYY-MM-DD): ")
		if !ok {
			return
		}
		l, err := s.FindOpenLoan(userID, isbn, loanDate)
		if err != nil {
			report(err)
			return
		}
		id = l.ID
	}

	l, err := s.CloseLoan(id)
	if errors.Is(err, library.ErrAlreadyClosed) {
		fmt.Println("This loan has already been returned.")
		return
	}
	if savedOK(err) {
		fmt.Printf("Book %s returned on %s\n", l.BookISBN, l.ReturnDate.Format(library.DateLayout))
	}
}

func handleListLoans(sc *bufio.Scanner, s *library.Session) {
	userID, ok := prompt(sc, "User ID (or press Enter for all loans): ")
	if !ok {
		return
	}
	if userID == "" {
		loans, err := s.ListLoans()
		printLoans(s, loans, err)
		return
	}
	loans, err := s.ListOpenLoans(userID)
	printLoans(s, loans, err)
}

func printLoans(s *library.Session, loans []library.Loan, err error) {
	if err != nil {
		report(err)
		return
	}
	if len(loans) == 0 {
		fmt.Println("No loans found.")
		return
	}

	fmt.Printf("%-36s %-15s %-25s %-10s %-10s %s\n", "Loan ID", "ISBN", "Borrower", "Loaned", "Due", "Status")
	fmt.Println(strings.Repeat("-", 120))
	for _, l := range loans {
		borrower := l.UserID
		if u, err := s.FindUser(l.UserID); err == nil {
			borrower = fmt.Sprintf("%s %s", u.FirstName, u.LastName)
		}
		status := "Open"
		switch {
		case !l.Open():
			status = "Returned " + l.ReturnDate.Format(library.DateLayout)
		case l.Overdue(time.Now()):
			status = "Overdue"
		}
		fmt.Printf("%-36s %-15s %-25s %-10s %-10s %s\n",
			l.ID,
			truncateString(l.BookISBN, 15),
			truncateString(borrower, 25),
			l.LoanDate.Format(library.DateLayout),
			l.DueDate.Format(library.DateLayout),
			status)
	}
}

// ------------------ System ------------------

func changePassword(sc *bufio.Scanner, s *library.Session) error {
	current, err := readPassword(sc, "Current password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	next, err := readPassword(sc, "New password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	again, err := readPassword(sc, "Repeat new password: ")
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if next != again {
		return errors.New("passwords do not match")
	}
	if err := s.ChangePassword(current, next); err != nil {
		return err
	}
	fmt.Println("Password changed.")
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func truncateString(s string, maxLength int) string {
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength-3] + "..."
}
