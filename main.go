package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"library-desk/config"
	"library-desk/library"
)

var (
	configPath string
	dataPath   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "librarian",
		Short:        "Desk application for a small lending library",
		SilenceUsage: true,
		RunE:         runShell,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config file (default "+config.DefaultPath+")")
	root.PersistentFlags().StringVar(&dataPath, "data", "", "path to the library data file (.json or SQLite)")

	root.AddCommand(
		&cobra.Command{
			Use:   "shell",
			Short: "Log in and run the interactive desk (default)",
			RunE:  runShell,
		},
		&cobra.Command{
			Use:   "passwd",
			Short: "Change the librarian password",
			RunE:  runPasswd,
		},
		&cobra.Command{
			Use:   "check",
			Short: "Verify the data file without changing it",
			RunE:  runCheck,
		},
	)
	return root
}

// loadConfig applies the --data override on top of the loaded config.
func loadConfig() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	if dataPath != "" {
		cfg.DataFile = dataPath
	}
	return cfg, cfg.NewLogger(), nil
}

// startSession loads the library and logs the librarian in. A corrupt data
// file is only replaced after explicit confirmation.
func startSession(sc *bufio.Scanner) (*library.Session, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, err
	}
	s := library.NewSession(cfg.SessionOptions(log))

	if err := s.Startup(); err != nil {
		if !errors.Is(err, library.ErrCorruptData) {
			return nil, err
		}
		fmt.Printf("The data file %s is damaged: %v\n", cfg.DataFile, err)
		if !confirm(sc, "Move it aside and start an empty library? [y/N]: ") {
			return nil, err
		}
		aside, qerr := s.Quarantine()
		if qerr != nil {
			return nil, qerr
		}
		fmt.Printf("Damaged file kept as %s\n", aside)
	}

	if err := login(sc, s); err != nil {
		return nil, err
	}
	return s, nil
}

const maxLoginPrompts = 3

func login(sc *bufio.Scanner, s *library.Session) error {
	for i := 0; i < maxLoginPrompts; i++ {
		username, ok := prompt(sc, "Username: ")
		if !ok {
			return library.ErrAuthFailure
		}
		password, err := readPassword(sc, "Password: ")
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		err = s.LoginErr(username, password)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, library.ErrTooManyAttempts):
			fmt.Println("Too many attempts. Wait a moment before trying again.")
			return err
		default:
			fmt.Println("Invalid username or password.")
		}
	}
	return library.ErrAuthFailure
}

func runShell(cmd *cobra.Command, args []string) error {
	sc := bufio.NewScanner(os.Stdin)
	s, err := startSession(sc)
	if err != nil {
		return err
	}
	defer closeSession(os.Stderr, s)
	repl(sc, s)
	return nil
}

func runPasswd(cmd *cobra.Command, args []string) error {
	sc := bufio.NewScanner(os.Stdin)
	s, err := startSession(sc)
	if err != nil {
		return err
	}
	if err := changePassword(sc, s); err != nil {
		closeSession(os.Stderr, s)
		return err
	}
	return closeSession(os.Stderr, s)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := library.GatewayFor(cfg.DataFile).Load(cfg.DataFile)
	if err != nil {
		return err
	}
	open := 0
	for _, l := range store.Loans() {
		if l.Open() {
			open++
		}
	}
	_, hasCredential := store.Credential()
	fmt.Printf("%s: %d books, %d users, %d loans (%d open), credential set: %t\n",
		cfg.DataFile, len(store.Books()), len(store.Users()), len(store.Loans()), open, hasCredential)
	return nil
}

// closeSession saves and logs out, reporting a failed save on w.
func closeSession(w io.Writer, s *library.Session) error {
	err := s.Shutdown()
	if err != nil {
		fmt.Fprintf(w, "Error saving library: %v\n", err)
	}
	return err
}

// readPassword reads a password with masking when stdin is a terminal.
func readPassword(sc *bufio.Scanner, label string) (string, error) {
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		v, _ := prompt(sc, label)
		return v, nil
	}
	fmt.Print(label)
	bytePassword, err := term.ReadPassword(fd)
	if err != nil {
		return "", err
	}
	fmt.Println()
	return strings.TrimSpace(string(bytePassword)), nil
}

func prompt(sc *bufio.Scanner, label string) (string, bool) {
	fmt.Print(label)
	if !sc.Scan() {
		return "", false
	}
	return strings.TrimSpace(sc.Text()), true
}

func confirm(sc *bufio.Scanner, label string) bool {
	v, ok := prompt(sc, label)
	return ok && (strings.EqualFold(v, "y") || strings.EqualFold(v, "yes"))
}
