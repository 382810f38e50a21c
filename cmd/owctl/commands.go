package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/KevinKickass/OpenWaterCore/internal/auth"
	"github.com/KevinKickass/OpenWaterCore/internal/catalog"
	"github.com/KevinKickass/OpenWaterCore/internal/config"
)

func runHashPassword(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	fs.SetOutput(stderr)
	password := fs.String("password", "", "password to hash (read from stdin when empty)")
	def := auth.DefaultPasswordHashConfig
	memory := fs.Uint("memory", uint(def.MemoryKiB), "argon2id memory in KiB (auth.password_hash.memory_kib)")
	iterations := fs.Uint("iterations", uint(def.Iterations), "argon2id iterations")
	parallelism := fs.Uint("parallelism", uint(def.Parallelism), "argon2id lanes")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *parallelism == 0 || *parallelism > 255 || *iterations == 0 || *memory < 8**parallelism {
		fmt.Fprintln(stderr, "Error: invalid argon2id parameters")
		return exitUsage
	}

	pw := *password
	if pw == "" {
		line, err := bufio.NewReader(stdin).ReadString('\n')
		if err != nil && err != io.EOF {
			fmt.Fprintf(stderr, "Error: reading password: %v\n", err)
			return exitCommandError
		}
		pw = strings.TrimRight(line, "\r\n")
	}
	if pw == "" {
		fmt.Fprintln(stderr, "Error: empty password")
		return exitCommandError
	}

	hasher := auth.NewPasswordHasher(config.PasswordHashConfig{
		MemoryKiB:   uint32(*memory),
		Iterations:  uint32(*iterations),
		Parallelism: uint8(*parallelism),
	})
	hash, err := hasher.HashPassword(pw)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCommandError
	}

	fmt.Fprintln(stdout, hash)
	return exitOK
}

func runNewToken(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("new-token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	token, hash, err := auth.NewIntegrationTokenGenerator().GenerateToken()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCommandError
	}

	fmt.Fprintf(stdout, "token: %s\n", token)
	fmt.Fprintf(stdout, "hash:  %s\n", hash)
	fmt.Fprintln(stdout, "Add the hash to auth.integration_token_hashes. The token is not shown again.")
	return exitOK
}

func runCatalog(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("catalog", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("file", "", "catalog file (built-in JUDO catalog when empty)")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	loader, err := catalog.NewLoader()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCommandError
	}
	cat, err := loader.Load(*path)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCommandError
	}

	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tKEY\tKIND\tACCESS\tREAD\tWRITE")
	for i, d := range cat.Registers() {
		read, write := "-", "-"
		if d.ReadAddress != nil {
			read = fmt.Sprintf("%s+%d/%d", d.ReadAddress, d.ReadOffset, d.ReadLength)
		}
		if d.WriteAddress != nil {
			write = fmt.Sprintf("%s/%d", d.WriteAddress, d.WriteLength)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", i, d.TranslationKey, d.Kind, d.Access, read, write)
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCommandError
	}

	return exitOK
}
