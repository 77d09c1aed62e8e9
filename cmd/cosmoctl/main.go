package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/docopt/docopt-go"
	"github.com/dustin/go-humanize"

	"github.com/stevemurr/cosmoscope/client"
	"github.com/stevemurr/cosmoscope/codec"
	"github.com/stevemurr/cosmoscope/config"
	"github.com/stevemurr/cosmoscope/events"
)

const CosmoctlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(`Cosmoscope control.

The default addresses are:
    server: %s
    publisher: %s

Usage:
    cosmoctl formats [--server=<server>]
    cosmoctl load [--server=<server>] [--format=<format>] <path>
    cosmoctl query [--server=<server>] <identifier> [<field>...]
    cosmoctl undo [--server=<server>]
    cosmoctl redo [--server=<server>]
    cosmoctl invoke [--server=<server>] <operation> [<arg>...]
    cosmoctl save [--server=<server>] [<name>]
    cosmoctl open [--server=<server>] [<name>]
    cosmoctl list [--server=<server>]
    cosmoctl sessions [--server=<server>]
    cosmoctl subscribe [--publisher=<publisher>] [--count=<count>]

Options:
    -h --help                  Show this screen.
    --version                  Show version.
    --server=<server>          RPC server address.
    --publisher=<publisher>    Event publisher address.
    --format=<format>          Loader format; identified from the file when omitted.
    --count=<count>            Print this many events then exit.

Invoke arguments are parsed as JSON when they are valid JSON and passed as
strings otherwise.`, config.DefaultServerAddress, config.DefaultPublisherAddress)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CosmoctlVersion)
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if subscribe_, _ := opts.Bool("subscribe"); subscribe_ {
		// subscriptions are open ended
		cancel()
		err = subscribe(opts)
	} else {
		c := client.New(stringOpt(opts, "--server", config.DefaultServerAddress))
		err = dispatch(ctx, c, opts)
	}
	if err != nil {
		Err.Printf("%v", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, c *client.Client, opts docopt.Opts) error {
	if formats_, _ := opts.Bool("formats"); formats_ {
		return printResult(c.QueryLoaderFormats(ctx))
	} else if load_, _ := opts.Bool("load"); load_ {
		path, _ := opts.String("<path>")
		return printResult(c.LoadData(ctx, path, stringOpt(opts, "--format", "")))
	} else if query_, _ := opts.Bool("query"); query_ {
		return query(ctx, c, opts)
	} else if undo_, _ := opts.Bool("undo"); undo_ {
		return printResult(c.Undo(ctx))
	} else if redo_, _ := opts.Bool("redo"); redo_ {
		return printResult(c.Redo(ctx))
	} else if invoke_, _ := opts.Bool("invoke"); invoke_ {
		return invoke(ctx, c, opts)
	} else if save_, _ := opts.Bool("save"); save_ {
		return printResult(c.SaveSession(ctx, stringOpt(opts, "<name>", "")))
	} else if open_, _ := opts.Bool("open"); open_ {
		return printResult(c.OpenSession(ctx, stringOpt(opts, "<name>", "")))
	} else if list_, _ := opts.Bool("list"); list_ {
		return printResult(c.ListData(ctx))
	} else if sessions_, _ := opts.Bool("sessions"); sessions_ {
		return sessions(ctx, c)
	}
	return nil
}

// query prints the tagged form of a dataset.
func query(ctx context.Context, c *client.Client, opts docopt.Opts) error {
	id, _ := opts.String("<identifier>")
	fields, _ := opts["<field>"].([]string)
	d, err := c.QueryData(ctx, id, fields...)
	if err != nil {
		return err
	}
	tree, err := codec.EncodeFields(d, fields)
	if err != nil {
		return err
	}
	return printResult(tree, nil)
}

func sessions(ctx context.Context, c *client.Client) error {
	infos, err := c.ListSessions(ctx)
	if err != nil {
		return err
	}
	for _, info := range infos {
		Out.Printf("%-40s %10s  %s", info.Name, humanize.Bytes(uint64(info.Size)), humanize.Time(info.ModifiedAt))
	}
	return nil
}

func invoke(ctx context.Context, c *client.Client, opts docopt.Opts) error {
	operation, _ := opts.String("<operation>")
	raw, _ := opts["<arg>"].([]string)
	args := make([]any, len(raw))
	for i, a := range raw {
		var v any
		if err := json.Unmarshal([]byte(a), &v); err != nil {
			v = a
		}
		args[i] = v
	}
	result, err := c.Invoke(ctx, operation, args...)
	if err != nil {
		return err
	}
	Out.Printf("%s", result)
	return nil
}

func subscribe(opts docopt.Opts) error {
	count := -1
	if s := stringOpt(opts, "--count", ""); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("invalid --count (%s)", err)
		}
		count = n
	}

	url := events.URL(stringOpt(opts, "--publisher", config.DefaultPublisherAddress))
	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sub, err := events.Dial(dialCtx, url)
	if err != nil {
		return err
	}
	defer sub.Close()

	for i := 0; count < 0 || i < count; i++ {
		ev, err := sub.Next(context.Background())
		if err != nil {
			return err
		}
		if err := printResult(ev, nil); err != nil {
			return err
		}
	}
	return nil
}

func stringOpt(opts docopt.Opts, key, fallback string) string {
	if s, err := opts.String(key); err == nil && s != "" {
		return s
	}
	return fallback
}

func printResult(v any, err error) error {
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	Out.Printf("%s", b)
	return nil
}
