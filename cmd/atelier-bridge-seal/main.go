// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/atelier-foundation/atelier-bridge/lib/sealed"
	"github.com/atelier-foundation/atelier-bridge/lib/secret"
	"github.com/atelier-foundation/atelier-bridge/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("atelier-bridge-seal", pflag.ContinueOnError)
	generateIdentity := flagSet.String("generate-identity", "", "write a new age identity to this path and print its public key")
	recipients := flagSet.StringArray("recipient", nil, "age public key to seal to (repeatable; a second recipient makes an escrow copy)")
	showVersion := flagSet.Bool("version", false, "print version information and exit")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: atelier-bridge-seal --generate-identity <path>\n")
		fmt.Fprintf(os.Stderr, "       atelier-bridge-seal --recipient <age1...> [--recipient <age1...>]\n\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Printf("atelier-bridge-seal %s\n", version.Info())
		return nil
	}

	if *generateIdentity != "" {
		return writeIdentity(*generateIdentity)
	}
	return sealKey(*recipients)
}

// writeIdentity generates a keypair, writes the private half to path
// (refusing to clobber an existing identity), and prints the public
// key for sealing invocations.
func writeIdentity(path string) error {
	keypair, err := sealed.GenerateKeypair()
	if err != nil {
		return err
	}
	defer keypair.Close()

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s already exists; refusing to overwrite an identity", path)
		}
		return err
	}
	_, writeErr := fmt.Fprintln(file, keypair.PrivateKey.String())
	closeErr := file.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		os.Remove(path)
		return fmt.Errorf("writing identity: %w", err)
	}

	fmt.Fprintf(os.Stderr, "identity written to %s\n", path)
	fmt.Println(keypair.PublicKey)
	return nil
}

// sealKey reads an API key (echo off on a terminal, first line of
// stdin otherwise) and prints its age ciphertext, base64 encoded for
// the YAML config.
func sealKey(recipients []string) error {
	if len(recipients) == 0 {
		return errors.New("at least one --recipient is required (the daemon identity's public key)")
	}
	for _, recipient := range recipients {
		if err := sealed.ParsePublicKey(recipient); err != nil {
			return err
		}
	}

	key, err := readKey()
	if err != nil {
		return err
	}
	defer key.Close()

	ciphertext, err := sealed.Encrypt(key.Bytes(), recipients...)
	if err != nil {
		return err
	}

	fmt.Println(ciphertext)
	return nil
}

func readKey() (*secret.Buffer, error) {
	stdinFileDescriptor := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFileDescriptor) {
		fmt.Fprint(os.Stderr, "API key: ")
		keyBytes, err := term.ReadPassword(stdinFileDescriptor)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return nil, fmt.Errorf("reading key: %w", err)
		}
		buffer, err := secret.NewFromBytes(keyBytes)
		secret.Zero(keyBytes)
		return buffer, err
	}

	// Piped input, for provisioning scripts.
	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("reading stdin: %w", err)
		}
		return nil, errors.New("stdin is empty")
	}
	line := strings.TrimSpace(scanner.Text())
	if line == "" {
		return nil, errors.New("key is empty")
	}
	return secret.NewFromBytes([]byte(line))
}
