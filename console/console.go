// Package console provides an interactive JavaScript environment whose
// rpc object bridges to a connected peer.
package console

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/czh0526/streamrpc/internal/jsre"
	"github.com/czh0526/streamrpc/rpc"
	"github.com/juju/errors"
	"github.com/robertkrimen/otto"
)

const HistoryFile = "history"

type Console struct {
	client   *rpc.Peer
	jsre     *jsre.JSRE
	prompter UserPrompter
	histPath string
	history  []string
	printer  io.Writer
}

func New(client *rpc.Peer, printer io.Writer, datadir string, preload []string) (*Console, error) {
	console := &Console{
		client:   client,
		jsre:     jsre.New(datadir, printer),
		printer:  printer,
		histPath: filepath.Join(datadir, HistoryFile),
	}
	if err := os.MkdirAll(datadir, 0700); err != nil {
		return nil, errors.Annotate(err, "cannot create console data dir")
	}
	if err := console.init(preload); err != nil {
		return nil, err
	}
	return console, nil
}

func (c *Console) init(preload []string) error {
	bridge := newBridge(c.client, c.printer)

	c.jsre.Set("rpc", struct{}{})
	rpcObj, err := c.jsre.Get("rpc")
	if err != nil {
		return err
	}
	rpcObj.Object().Set("invoke", bridge.Invoke)
	rpcObj.Object().Set("notify", bridge.Notify)
	rpcObj.Object().Set("methods", bridge.Methods)

	consoleObj, err := c.jsre.Get("console")
	if err != nil {
		return err
	}
	consoleObj.Object().Set("log", c.consoleOutput)
	consoleObj.Object().Set("error", c.consoleOutput)

	for _, path := range preload {
		if err := c.jsre.Exec(path); err != nil {
			failure := err.Error()
			if ottoErr, ok := err.(*otto.Error); ok {
				failure = ottoErr.String()
			}
			return errors.Errorf("%s: %s", path, failure)
		}
	}
	return nil
}

func (c *Console) Stop(graceful bool) error {
	if err := os.WriteFile(c.histPath, []byte(strings.Join(c.history, "\n")), 0600); err != nil {
		return err
	}
	c.client.Close()
	c.jsre.Stop(graceful)
	return nil
}

func (c *Console) consoleOutput(call otto.FunctionCall) otto.Value {
	var output []string
	for _, argument := range call.ArgumentList {
		output = append(output, fmt.Sprintf("%v", argument))
	}
	fmt.Fprintln(c.printer, strings.Join(output, " "))
	return otto.Value{}
}

// Execute runs the JavaScript file at path inside the console's VM.
func (c *Console) Execute(path string) error {
	return c.jsre.Exec(path)
}

// Evaluate runs a statement and prints the result.
func (c *Console) Evaluate(statement string) error {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(c.printer, "[native] error: %v\n", r)
		}
	}()
	c.history = append(c.history, statement)
	return c.jsre.Evaluate(statement, c.printer)
}

func (c *Console) Welcome() {
	fmt.Fprintf(c.printer, "Welcome to the streamrpc JavaScript console!\n\n")
	fmt.Fprintf(c.printer, " rpc.invoke(method, args...)  issue a request\n")
	fmt.Fprintf(c.printer, " rpc.notify(method, args...)  send a notification\n")
	fmt.Fprintf(c.printer, " rpc.methods()                list remote methods\n\n")
}

// Interactive reads statements from the prompter until EOF or "exit".
func (c *Console) Interactive() {
	if c.prompter == nil {
		c.prompter = stdinPrompter{}
	}
	for {
		line, err := c.prompter.PromptInput("> ")
		if err != nil {
			fmt.Fprintln(c.printer)
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" {
			return
		}
		c.Evaluate(line)
	}
}
