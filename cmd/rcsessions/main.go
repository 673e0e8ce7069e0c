// Command rcsessions lists the recorded sessions in a session directory or
// database, with the number of samples per steering direction. With --export,
// the samples are also written as PNG files into one directory per label,
// ready for uploading as training data.
//
// Example:
//
//	rcsessions -d images
//	rcsessions --db sessions.sqlite --export dataset
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	rccar "github.com/edgeimpulse/rccar-go"
	"github.com/edgeimpulse/rccar-go/dataset"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/disintegration/imaging"
)

func check(logger logs.Log, err error) {
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("rcsessions", "List and export recorded driving sessions")
	dir := parser.String("d", "dir", &argparse.Options{Help: "Directory with session files", Default: ""})
	db := parser.String("", "db", &argparse.Options{Help: "SQLite session database", Default: ""})
	export := parser.String("", "export", &argparse.Options{Help: "Write the samples as PNG files to this directory, one subdirectory per label", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}
	if (*dir == "") == (*db == "") {
		fmt.Print(parser.Usage("need exactly one of --dir and --db"))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	var lister dataset.Lister
	if *dir != "" {
		lister = &dataset.FileStore{Dir: *dir}
	} else {
		store, err := dataset.OpenSQLite(*db)
		check(logger, err)
		defer store.Close()
		lister = store
	}

	ctx := context.Background()
	sessions, err := lister.Sessions(ctx)
	check(logger, err)

	var total [rccar.NumLabels]int
	for _, info := range sessions {
		fmt.Println(info)
		for i, n := range info.Counts {
			total[i] += n
		}
	}
	fmt.Printf("%d sessions: left %d, right %d, straight %d\n", len(sessions), total[rccar.Left], total[rccar.Right], total[rccar.Straight])

	if *export == "" {
		return
	}
	for _, info := range sessions {
		s, err := lister.LoadSession(ctx, info.ID)
		check(logger, err)
		n, err := exportSession(*export, info.Name, s)
		check(logger, err)
		logger.Infof("Exported %d samples of %s", n, info.Name)
	}
}

func exportSession(dir, name string, s dataset.Session) (int, error) {
	for _, l := range rccar.Labels() {
		if err := os.MkdirAll(filepath.Join(dir, l.String()), 0o755); err != nil {
			return 0, err
		}
	}
	for i, smp := range s.Samples {
		path := filepath.Join(dir, smp.Label.String(), fmt.Sprintf("%s.%03d.png", name, i))
		if err := imaging.Save(smp.Image, path); err != nil {
			return i, fmt.Errorf("writing %s: %v", path, err)
		}
	}
	return len(s.Samples), nil
}
