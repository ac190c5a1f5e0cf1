package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-desk/config"
	"library-desk/library"
)

func main() {
	var configPath, dataPath, catalogPath, username string

	cmd := &cobra.Command{
		Use:          "import_books --catalog books.yaml",
		Short:        "Import a YAML catalogue of books into the library",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if dataPath != "" {
				cfg.DataFile = dataPath
			}
			if username == "" {
				username = cfg.Admin.Username
			}
			return run(cfg, catalogPath, username)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML config file")
	cmd.Flags().StringVar(&dataPath, "data", "", "path to the library data file")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "YAML catalogue to import")
	cmd.Flags().StringVar(&username, "user", "", "librarian username (default from config)")
	cmd.MarkFlagRequired("catalog")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg config.Config, catalogPath, username string) error {
	f, err := os.Open(catalogPath)
	if err != nil {
		return fmt.Errorf("open catalogue: %w", err)
	}
	defer f.Close()

	books, err := library.ReadCatalogue(f)
	if err != nil {
		return err
	}
	fmt.Printf("Read %d book(s) from %s\n", len(books), catalogPath)

	s := library.NewSession(cfg.SessionOptions(cfg.NewLogger()))
	if err := s.Startup(); err != nil {
		return fmt.Errorf("open library: %w", err)
	}
	password, err := readPassword(fmt.Sprintf("Password for %s: ", username))
	if err != nil {
		return fmt.Errorf("failed to read password: %w", err)
	}
	if err := s.LoginErr(username, password); err != nil {
		return err
	}

	res, err := s.ImportBooks(books)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}
	if err := s.Shutdown(); err != nil {
		return err
	}

	fmt.Printf("\nImport complete!\n")
	fmt.Printf("New books: %d\n", res.Added)
	fmt.Printf("Existing books with extra copies: %d\n", res.Merged)

	fmt.Printf("\n%-15s %-50s %-30s %s\n", "ISBN", "Title", "Authors", "Copies")
	fmt.Println(strings.Repeat("-", 105))
	for _, b := range books {
		fmt.Printf("%-15s %-50s %-30s %d\n",
			truncateString(b.ISBN, 15),
			truncateString(b.Title, 50),
			truncateString(strings.Join(b.Authors, ", "), 30),
			b.Copies)
	}
	return nil
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	bytePassword, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(bytePassword)), nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
