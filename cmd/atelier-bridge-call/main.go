// Copyright 2026 The Atelier Bridge Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/atelier-foundation/atelier-bridge/command"
	"github.com/atelier-foundation/atelier-bridge/lib/version"
)

// Exit codes. Transport failures are distinct from error Responses so
// scripts can tell "the bridge said no" from "there is no bridge".
const (
	exitSuccess   = 0
	exitError     = 1
	exitTransport = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	flagSet := pflag.NewFlagSet("atelier-bridge-call", pflag.ContinueOnError)
	address := flagSet.String("address", "localhost:9876", "bridge address (host:port)")
	paramsLiteral := flagSet.String("params", "", `params as a JSON literal; "-" reads them from stdin`)
	timeout := flagSet.Duration("timeout", 30*time.Second, "dial and response timeout")
	showVersion := flagSet.Bool("version", false, "print version information and exit")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: atelier-bridge-call [flags] <command-type>\n\n")
		flagSet.PrintDefaults()
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitSuccess
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitTransport
	}
	if *showVersion {
		fmt.Printf("atelier-bridge-call %s\n", version.Info())
		return exitSuccess
	}

	arguments := flagSet.Args()
	if len(arguments) != 1 {
		flagSet.Usage()
		return exitTransport
	}
	commandType := arguments[0]

	params, err := resolveParams(*paramsLiteral)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitTransport
	}

	response, err := call(*address, *timeout, commandType, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitTransport
	}

	printResponse(response)
	if response.Status == command.StatusSuccess {
		return exitSuccess
	}
	return exitError
}

// resolveParams turns the --params value into the request's raw
// params: empty means no params, "-" reads stdin, anything else is the
// literal. Invalid JSON is rejected here so the mistake reads as a
// usage error, not a bridge response.
func resolveParams(literal string) (json.RawMessage, error) {
	var data []byte
	switch literal {
	case "":
		return nil, nil
	case "-":
		stdin, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading params from stdin: %w", err)
		}
		data = stdin
	default:
		data = []byte(literal)
	}

	if !json.Valid(data) {
		return nil, errors.New("params are not valid JSON")
	}
	return json.RawMessage(data), nil
}

// call performs one command round trip: dial, write the command, read
// exactly one Response.
func call(address string, timeout time.Duration, commandType string, params json.RawMessage) (command.Response, error) {
	connection, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return command.Response{}, err
	}
	defer connection.Close()
	connection.SetDeadline(time.Now().Add(timeout))

	request, err := json.Marshal(command.Command{Type: commandType, Params: params})
	if err != nil {
		return command.Response{}, err
	}
	if _, err := connection.Write(request); err != nil {
		return command.Response{}, fmt.Errorf("sending command: %w", err)
	}

	var response command.Response
	if err := json.NewDecoder(connection).Decode(&response); err != nil {
		return command.Response{}, fmt.Errorf("reading response: %w", err)
	}
	return response, nil
}

func printResponse(response command.Response) {
	pretty, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		fmt.Printf("%+v\n", response)
		return
	}
	fmt.Println(string(pretty))
}
