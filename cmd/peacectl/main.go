// Command peacectl is an interactive shell client for a peacedbd node,
// mirroring the teacher's cmd/docdbsh: connect, then read dot-commands from
// a prompt and print their results. Where docdbsh reads raw lines off
// bufio.Reader, peacectl uses github.com/peterh/liner for history and
// line editing when stdin is a terminal (github.com/mattn/go-isatty decides
// which mode to use), and github.com/dustin/go-humanize to make counters in
// `.stats` readable.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"

	"github.com/kartikbazzad/peacedb/internal/document"
	"github.com/kartikbazzad/peacedb/internal/rpcclient"
)

const historyFile = ".peacectl_history"

func main() {
	addr := flag.String("addr", "http://127.0.0.1:7420", "peacedbd RPC base URL")
	timeout := flag.Duration("timeout", 5*time.Second, "per-request timeout")
	flag.Parse()

	cl := rpcclient.New(*addr, *timeout)
	fmt.Printf("peacectl connected to %s\n", *addr)
	if !cl.HealthCheck(context.Background()) {
		fmt.Fprintf(os.Stderr, "warning: health check failed, node may be unreachable\n")
	}
	fmt.Println("Type .help for commands, .quit to exit.")

	if isatty.IsTerminal(os.Stdin.Fd()) {
		runInteractive(cl)
	} else {
		runPiped(cl)
	}
}

func runInteractive(cl *rpcclient.Client) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		input, err := line.Prompt("peacectl> ")
		if err != nil { // io.EOF or Ctrl-D/Ctrl-C
			fmt.Println()
			return
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if !dispatch(cl, input) {
			return
		}
	}
}

func runPiped(cl *rpcclient.Client) {
	reader := bufio.NewReader(os.Stdin)
	for {
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input != "" && !dispatch(cl, input) {
			return
		}
		if err != nil {
			if err != io.EOF {
				fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
			}
			return
		}
	}
}

// dispatch executes one REPL command; returns false to end the session.
func dispatch(cl *rpcclient.Client, input string) bool {
	fields := strings.Fields(input)
	cmd := fields[0]
	args := fields[1:]
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch cmd {
	case ".quit", ".exit":
		return false
	case ".help":
		printHelp()
	case ".createdb":
		runCmd(args, 1, func() error { return cl.CreateDb(ctx, args[0]) })
	case ".deletedb":
		runCmd(args, 1, func() error { return cl.DeleteDb(ctx, args[0]) })
	case ".get":
		runCmd(args, 2, func() error {
			rev := ""
			if len(args) > 2 {
				rev = args[2]
			}
			doc, found, err := cl.Get(ctx, args[0], args[1], rev)
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("(not found)")
				return nil
			}
			return printJSON(doc)
		})
	case ".put":
		runCmd(args, 2, func() error {
			doc, err := parseDocArg(strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			res, err := cl.Put(ctx, args[0], doc)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	case ".post":
		runCmd(args, 2, func() error {
			doc, err := parseDocArg(strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			res, err := cl.Post(ctx, args[0], doc)
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	case ".delete":
		runCmd(args, 3, func() error {
			res, err := cl.Delete(ctx, args[0], args[1], args[2])
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	case ".alldocs":
		runCmd(args, 1, func() error {
			skip, limit := parsePage(args[1:])
			docs, err := cl.AllDocs(ctx, args[0], skip, limit, false)
			if err != nil {
				return err
			}
			return printJSON(docs)
		})
	case ".fts":
		runCmd(args, 2, func() error {
			docs, err := cl.FullTextSearch(ctx, args[0], strings.Join(args[1:], " "), 0, 20)
			if err != nil {
				return err
			}
			return printJSON(docs)
		})
	case ".seq":
		runCmd(args, 1, func() error {
			seq, err := cl.Seq(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Println(seq)
			return nil
		})
	case ".stats":
		runCmd(args, 1, func() error { return printStats(ctx, cl, args[0]) })
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q, try .help\n", cmd)
	}
	return true
}

func runCmd(args []string, min int, fn func() error) {
	if len(args) < min {
		fmt.Fprintf(os.Stderr, "not enough arguments\n")
		return
	}
	if err := fn(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}

func parsePage(args []string) (skip, limit int) {
	limit = 50
	if len(args) > 0 {
		if v, err := strconv.Atoi(args[0]); err == nil {
			skip = v
		}
	}
	if len(args) > 1 {
		if v, err := strconv.Atoi(args[1]); err == nil {
			limit = v
		}
	}
	return
}

// parseDocArg decodes a JSON-ish document body, e.g. {"id":"x","data":{"n":1}}.
func parseDocArg(raw string) (*document.Document, error) {
	var doc document.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("invalid document JSON: %w", err)
	}
	return &doc, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// printStats renders a node's per-database counters in full, every digit
// kept, with thousands separators (humanize.Comma).
func printStats(ctx context.Context, cl *rpcclient.Client, db string) error {
	st, err := cl.Stats(ctx, db)
	if err != nil {
		return err
	}
	fmt.Printf("db:              %s\n", st.Db)
	fmt.Printf("seq:             %s\n", humanize.Comma(int64(st.Seq)))
	fmt.Printf("docs total:      %s\n", humanize.Comma(int64(st.DocsTotal)))
	fmt.Printf("docs alive:      %s\n", humanize.Comma(int64(st.DocsAlive)))
	fmt.Printf("docs deleted:    %s\n", humanize.Comma(int64(st.DocsDeleted)))
	fmt.Printf("eq index fields: %s\n", humanize.Comma(int64(st.EqIndexFields)))
	fmt.Printf("tag index count: %s\n", humanize.Comma(int64(st.TagIndexCount)))
	fmt.Printf("fulltext tokens: %s\n", humanize.Comma(int64(st.FullTextTokens)))
	return nil
}

func printHelp() {
	fmt.Println(`Commands:
  .createdb <db>
  .deletedb <db>
  .get <db> <id> [rev]
  .put <db> <json-doc>
  .post <db> <json-doc>
  .delete <db> <id> <rev>
  .alldocs <db> [skip] [limit]
  .fts <db> <query...>
  .seq <db>
  .stats <db>
  .quit`)
}
