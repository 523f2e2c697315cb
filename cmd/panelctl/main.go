package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/auth"
	"github.com/KevinKickass/OpenPanelCore/internal/config"
	"github.com/KevinKickass/OpenPanelCore/internal/project"
	"github.com/KevinKickass/OpenPanelCore/internal/storage"
	"github.com/docopt/docopt-go"
)

const PanelCtlVersion = "0.1.0"

func main() {
	usage := `Panel project control.

Usage:
    panelctl validate <file>
    panelctl convert <in> <out>
    panelctl hash-password <password>
    panelctl list [--config=<path>]
    panelctl push [--config=<path>] [--name=<name>] <file>
    panelctl pull [--config=<path>] <name> <out>

Options:
    -h --help          Show this screen.
    --version          Show version.
    --config=<path>    Server configuration [default: configs/config.yaml].
    --name=<name>      Project name, defaults to the file name.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], PanelCtlVersion)
	if err != nil {
		fail(err)
	}

	if validate_, _ := opts.Bool("validate"); validate_ {
		validate(opts)
	} else if convert_, _ := opts.Bool("convert"); convert_ {
		convert(opts)
	} else if hashPassword_, _ := opts.Bool("hash-password"); hashPassword_ {
		hashPassword(opts)
	} else if list_, _ := opts.Bool("list"); list_ {
		list(opts)
	} else if push_, _ := opts.Bool("push"); push_ {
		push(opts)
	} else if pull_, _ := opts.Bool("pull"); pull_ {
		pull(opts)
	}
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func decodeFile(path string) (*project.Codec, *project.Document) {
	data, err := os.ReadFile(path)
	if err != nil {
		fail(err)
	}
	codec, err := project.NewCodec()
	if err != nil {
		fail(err)
	}
	doc, rep, err := codec.Decode(data, project.FormatFromPath(path))
	printReport(rep)
	if err != nil {
		fail(err)
	}
	return codec, doc
}

func printReport(rep project.Report) {
	for _, issue := range rep.Errors {
		fmt.Fprintf(os.Stderr, "error   %s %s %s\n", issue.Code, issue.ComponentID, issue.Message)
	}
	for _, issue := range rep.Warnings {
		fmt.Fprintf(os.Stderr, "warning %s %s %s\n", issue.Code, issue.ComponentID, issue.Message)
	}
}

func validate(opts docopt.Opts) {
	path, _ := opts.String("<file>")
	_, doc := decodeFile(path)
	fmt.Printf("%s: ok, %d pages, %d components\n", path, len(doc.Pages), len(doc.Components))
}

func convert(opts docopt.Opts) {
	in, _ := opts.String("<in>")
	out, _ := opts.String("<out>")

	codec, doc := decodeFile(in)
	data, err := codec.Encode(doc, project.FormatFromPath(out))
	if err != nil {
		fail(err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fail(err)
	}
	fmt.Printf("wrote %s\n", out)
}

func hashPassword(opts docopt.Opts) {
	password, _ := opts.String("<password>")
	hash, err := auth.HashPassword(password)
	if err != nil {
		fail(err)
	}
	fmt.Println(hash)
}

func openStore(opts docopt.Opts) storage.Store {
	path, _ := opts.String("--config")
	cfg, err := config.Load(path)
	if err != nil {
		fail(err)
	}
	store, err := storage.Open(context.Background(), cfg.Database)
	if err != nil {
		fail(err)
	}
	return store
}

func list(opts docopt.Opts) {
	store := openStore(opts)
	defer store.Close()

	projects, err := store.ListProjects(context.Background())
	if err != nil {
		fail(err)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tBYTES\tUPDATED")
	for _, p := range projects {
		fmt.Fprintf(w, "%s\t%d\t%s\n", p.Name, p.Size, p.UpdatedAt.Format(time.RFC3339))
	}
	w.Flush()
}

func push(opts docopt.Opts) {
	path, _ := opts.String("<file>")
	name, _ := opts.String("--name")
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	codec, doc := decodeFile(path)
	doc.Name = name
	data, err := codec.Encode(doc, project.FormatJSON)
	if err != nil {
		fail(err)
	}

	store := openStore(opts)
	defer store.Close()
	if err := store.SaveProject(context.Background(), name, data); err != nil {
		fail(err)
	}
	fmt.Printf("stored %s (%d bytes)\n", name, len(data))
}

func pull(opts docopt.Opts) {
	name, _ := opts.String("<name>")
	out, _ := opts.String("<out>")

	store := openStore(opts)
	defer store.Close()
	p, err := store.LoadProject(context.Background(), name)
	if err != nil {
		fail(err)
	}

	codec, err := project.NewCodec()
	if err != nil {
		fail(err)
	}
	doc, rep, err := codec.Decode(p.Data, project.FormatJSON)
	printReport(rep)
	if err != nil {
		fail(err)
	}
	data, err := codec.Encode(doc, project.FormatFromPath(out))
	if err != nil {
		fail(err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fail(err)
	}
	fmt.Printf("wrote %s\n", out)
}
