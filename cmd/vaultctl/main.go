// Command vaultctl manages the encrypted secret vault used by the server.
//
// Usage:
//
//	vaultctl [-path data/vault.json] init
//	vaultctl set <name> [value]        (reads stdin when value is omitted)
//	vaultctl get <name>
//	vaultctl list
//	vaultctl delete <name>
//	vaultctl change-password
//
// The master password comes from CONCERT_VAULT_PASSWORD; change-password
// additionally reads CONCERT_VAULT_NEW_PASSWORD.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/concertlabs/concert/internal/vault"
)

const (
	passwordEnv    = "CONCERT_VAULT_PASSWORD"
	newPasswordEnv = "CONCERT_VAULT_NEW_PASSWORD"
)

func main() {
	path := flag.String("path", "data/vault.json", "vault file path")
	flag.Parse()

	if flag.NArg() == 0 {
		fail("missing command (init, set, get, list, delete, change-password)")
	}

	password := os.Getenv(passwordEnv)
	if password == "" {
		fail("%s is not set", passwordEnv)
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	switch cmd {
	case "init":
		if _, err := vault.Create(*path, password); err != nil {
			fail("init vault: %v", err)
		}
		fmt.Printf("vault created at %s\n", *path)

	case "set":
		if len(args) < 1 {
			fail("usage: vaultctl set <name> [value]")
		}
		value := readValue(args)
		store := open(*path, password)
		if err := store.Set(args[0], value); err != nil {
			fail("set %s: %v", args[0], err)
		}
		fmt.Printf("secret %s stored\n", args[0])

	case "get":
		if len(args) != 1 {
			fail("usage: vaultctl get <name>")
		}
		store := open(*path, password)
		value, err := store.Get(args[0])
		if err != nil {
			fail("get %s: %v", args[0], err)
		}
		os.Stdout.Write(value)
		fmt.Println()

	case "list":
		store := open(*path, password)
		for _, name := range store.List() {
			fmt.Println(name)
		}

	case "delete":
		if len(args) != 1 {
			fail("usage: vaultctl delete <name>")
		}
		store := open(*path, password)
		if err := store.Delete(args[0]); err != nil {
			fail("delete %s: %v", args[0], err)
		}
		fmt.Printf("secret %s deleted\n", args[0])

	case "change-password":
		newPassword := os.Getenv(newPasswordEnv)
		if newPassword == "" {
			fail("%s is not set", newPasswordEnv)
		}
		store := open(*path, password)
		if err := store.ChangePassword(password, newPassword); err != nil {
			fail("change password: %v", err)
		}
		fmt.Println("password changed, data key rotated")

	default:
		fail("unknown command %q", cmd)
	}
}

func open(path, password string) *vault.Store {
	store, err := vault.Open(path, password)
	if err != nil {
		fail("open vault: %v", err)
	}
	return store
}

// readValue takes the secret from the argument list or, when absent, from
// stdin so values never land in shell history.
func readValue(args []string) []byte {
	if len(args) > 1 {
		return []byte(args[1])
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		fail("read value from stdin: %v", err)
	}
	return []byte(strings.TrimRight(string(data), "\r\n"))
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
