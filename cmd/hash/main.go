// Package main prints a bcrypt hash of a password read from the terminal (or
// stdin when piped). The hash can be inserted directly into the users table
// when seeding an operator account without running the server.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/orion-pds/orion/internal/auth"
)

func main() {
	cost := flag.Int("cost", auth.BcryptCost, "bcrypt cost")
	flag.Parse()

	password, err := readPassword()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if password == "" {
		fmt.Fprintln(os.Stderr, "Error: empty password")
		os.Exit(1)
	}

	hash, err := auth.HashPasswordWithCost(password, *cost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(hash)
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd()) // #nosec G115 -- file descriptors fit in int
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
