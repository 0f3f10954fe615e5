package utils

import (
	"github.com/czh0526/streamrpc/params"
	"github.com/czh0526/streamrpc/rpc"
	cli "gopkg.in/urfave/cli.v1"
)

var (
	DataDirFlag = cli.StringFlag{
		Name:  "datadir",
		Usage: "Data directory for console history",
		Value: params.HomeDir,
	}

	IPCPathFlag = cli.StringFlag{
		Name:  "ipcpath",
		Usage: "Filename for the IPC socket/pipe",
		Value: rpc.EndpointIPC(),
	}

	WSAddrFlag = cli.StringFlag{
		Name:  "wsaddr",
		Usage: "Listen address for the WebSocket endpoint",
		Value: rpc.EndpointWS(),
	}

	WSOriginsFlag = cli.StringFlag{
		Name:  "wsorigins",
		Usage: "Origins from which to accept websocket requests",
		Value: "*",
	}

	JSpathFlag = cli.StringFlag{
		Name:  "jspath",
		Usage: "JavaScript root path (not read by the console; preload files resolve against --datadir)",
		Value: ".",
	}

	ExecFlag = cli.StringFlag{
		Name:  "exec",
		Usage: "Execute JavaScript statement",
	}

	PreloadJSFlag = cli.StringFlag{
		Name:  "preload",
		Usage: "Comma separated list of JavaScript files to preload into the console",
	}
)
