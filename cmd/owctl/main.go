// Command owctl prepares credentials and inspects register catalogs for
// openwatercore.
//
// Usage:
//
//	owctl <command> [flags]
//
// Commands:
//
//	hash-password   Hash an operator password for auth.operator_password_hash
//	new-token       Issue an integration token and print its config hash
//	catalog         List the registers of a catalog file
package main

import (
	"fmt"
	"os"
)

const usage = `owctl - OpenWaterCore helper

Usage:
  owctl <command> [flags]

Commands:
  hash-password   Hash an operator password for auth.operator_password_hash
  new-token       Issue an integration token and print its config hash
  catalog         List the registers of a catalog file

Use "owctl <command> -help" for more information about a command.
`

const (
	exitOK           = 0
	exitCommandError = 1
	exitUsage        = 2
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(exitUsage)
	}

	args := os.Args[2:]

	var code int
	switch os.Args[1] {
	case "hash-password":
		code = runHashPassword(args, os.Stdin, os.Stdout, os.Stderr)
	case "new-token":
		code = runNewToken(args, os.Stdout, os.Stderr)
	case "catalog":
		code = runCatalog(args, os.Stdout, os.Stderr)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n%s", os.Args[1], usage)
		code = exitUsage
	}

	os.Exit(code)
}
