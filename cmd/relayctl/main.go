// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command relayctl is the admin CLI client: it dials a running relayd's
// unix-domain control socket, sends one command line, and prints the
// response, exiting 0 on success or 1 on a syntax/unknown-command error
// — the same binary exit code contract internal/admin.Admin.Handle
// documents.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
)

var VERSION = "SELFBUILD"

func main() {
	app := cli.NewApp()
	app.Name = "relayctl"
	app.Usage = "admin CLI for relayd"
	app.Version = VERSION
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "admin", Value: "/tmp/relayd.sock", Usage: "admin control socket path"},
	}
	app.Commands = []cli.Command{
		{
			Name:  "show-stat",
			Usage: "show aggregate stream byte counters",
			Action: func(c *cli.Context) error { return sendCommand(c, "show stat") },
		},
		{
			Name:  "show-sess",
			Usage: "list recent stream summaries",
			Action: func(c *cli.Context) error { return sendCommand(c, "show sess") },
		},
		{
			Name:      "enable-server",
			Usage:     "mark a backend server administratively up",
			ArgsUsage: "<name>",
			Action: func(c *cli.Context) error {
				return sendCommand(c, "enable server "+c.Args().First())
			},
		},
		{
			Name:      "disable-server",
			Usage:     "mark a backend server administratively down",
			ArgsUsage: "<name>",
			Action: func(c *cli.Context) error {
				return sendCommand(c, "disable server "+c.Args().First())
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// sendCommand dials the admin socket, writes one line, reads the
// response, and maps an "error: ..." response line to a non-nil error
// so app.Run's own exit-code-1 path fires — mirroring internal/admin's
// binary success/syntax-error contract over the wire.
func sendCommand(c *cli.Context, line string) error {
	conn, err := net.Dial("unix", c.GlobalString("admin"))
	if err != nil {
		return errors.Wrap(err, "relayctl: connecting to admin socket")
	}
	defer conn.Close()

	if _, err := fmt.Fprintln(conn, line); err != nil {
		return errors.Wrap(err, "relayctl: sending command")
	}

	scanner := bufio.NewScanner(conn)
	var out strings.Builder
	for scanner.Scan() {
		out.WriteString(scanner.Text())
		out.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "relayctl: reading response")
	}

	resp := out.String()
	if strings.HasPrefix(resp, "error: ") {
		return errors.New(strings.TrimSuffix(strings.TrimPrefix(resp, "error: "), "\n"))
	}
	fmt.Print(resp)
	return nil
}
