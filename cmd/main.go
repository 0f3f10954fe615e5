package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/czh0526/streamrpc/cmd/utils"
	"github.com/czh0526/streamrpc/internal/demo"
	"github.com/czh0526/streamrpc/log"
	"github.com/czh0526/streamrpc/node"
	"github.com/czh0526/streamrpc/params"
	cli "gopkg.in/urfave/cli.v1"
)

var (
	app        = cli.NewApp()
	globalNode *node.Node

	serveCommand = cli.Command{
		Action: startNode,
		Name:   "serve",
		Usage:  "Start a node serving the demo service over IPC and WebSocket",
	}
)

func init() {
	app.Name = "streamrpc"
	app.Usage = "bidirectional JSON-RPC over byte streams"
	app.Commands = []cli.Command{
		serveCommand,
		attachCommand,
		consoleCommand,
	}
	app.Flags = []cli.Flag{
		utils.IPCPathFlag,
		utils.WSAddrFlag,
		utils.WSOriginsFlag,
		cli.IntFlag{
			Name:  "verbosity",
			Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug",
			Value: 3,
		},
	}

	app.Action = startNode
	app.Before = func(ctx *cli.Context) error {
		if err := os.MkdirAll(params.HomeDir, 0700); err != nil {
			return err
		}
		fileHandler, err := log.FileHandler(filepath.Join(params.HomeDir, "streamrpc.log"), log.LogfmtFormat())
		if err != nil {
			fmt.Printf("init log file error: %v\n", err)
			os.Exit(-1)
		}
		verbosity := log.Lvl(ctx.GlobalInt("verbosity"))
		log.Root().SetHandler(log.LvlFilterHandler(verbosity, fileHandler))
		return nil
	}
	app.After = func(ctx *cli.Context) error {
		if globalNode != nil {
			return globalNode.Stop()
		}
		return nil
	}
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func startNode(ctx *cli.Context) error {
	n, err := makeNode(ctx)
	if err != nil {
		return err
	}
	globalNode = n

	if err := n.Start(); err != nil {
		return err
	}
	n.Wait()
	return nil
}

func makeNode(ctx *cli.Context) (*node.Node, error) {
	n := node.New(node.Config{
		IPCEndpoint: ctx.GlobalString(utils.IPCPathFlag.Name),
		WSEndpoint:  ctx.GlobalString(utils.WSAddrFlag.Name),
		WSOrigins:   []string{ctx.GlobalString(utils.WSOriginsFlag.Name)},
	})
	if err := n.Register(func() (node.Service, error) {
		return demo.New()
	}); err != nil {
		return nil, err
	}
	return n, nil
}
