package main

import (
	"context"
	"os"
	"strings"

	"github.com/czh0526/streamrpc/cmd/utils"
	"github.com/czh0526/streamrpc/console"
	"github.com/czh0526/streamrpc/internal/demo"
	"github.com/czh0526/streamrpc/rpc"
	"github.com/juju/errors"
	cli "gopkg.in/urfave/cli.v1"
)

var (
	consoleFlags = []cli.Flag{utils.JSpathFlag, utils.ExecFlag, utils.PreloadJSFlag}

	attachCommand = cli.Command{
		Action:    remoteConsole,
		Name:      "attach",
		Usage:     "Start an interactive JavaScript environment (connect to node)",
		ArgsUsage: "[endpoint]",
		Flags:     append(consoleFlags, utils.DataDirFlag),
	}

	consoleCommand = cli.Command{
		Action: localConsole,
		Name:   "console",
		Usage:  "Start an interactive JavaScript environment against an in-process node",
		Flags:  append(consoleFlags, utils.DataDirFlag),
	}
)

func remoteConsole(ctx *cli.Context) error {
	endpoint := ctx.Args().First()
	if endpoint == "" {
		endpoint = rpc.EndpointIPC()
	}
	var (
		client *rpc.Peer
		err    error
	)
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		client, err = rpc.DialWebsocket(context.Background(), endpoint, "")
	} else {
		client, err = rpc.DialIPC(context.Background(), endpoint)
	}
	if err != nil {
		return errors.Annotate(err, "unable to attach to remote node")
	}
	return runConsole(ctx, client)
}

func localConsole(ctx *cli.Context) error {
	svc, err := demo.New()
	if err != nil {
		return err
	}
	client, err := rpc.DialInProc(svc.Target())
	if err != nil {
		return errors.Annotate(err, "unable to start in-process peer")
	}
	return runConsole(ctx, client)
}

func runConsole(ctx *cli.Context, client *rpc.Peer) error {
	datadir := ctx.String(utils.DataDirFlag.Name)
	var preload []string
	if list := ctx.String(utils.PreloadJSFlag.Name); list != "" {
		preload = strings.Split(list, ",")
	}

	c, err := console.New(client, os.Stdout, datadir, preload)
	if err != nil {
		return errors.Annotate(err, "failed to start the JavaScript console")
	}
	defer c.Stop(false)

	if statement := ctx.String(utils.ExecFlag.Name); statement != "" {
		return c.Evaluate(statement)
	}

	c.Welcome()
	c.Interactive()
	return nil
}
