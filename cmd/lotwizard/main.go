package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"spinmill/backend/internal/logging"
	"spinmill/backend/internal/lotwizard"
	"spinmill/backend/internal/millclient"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "lotwizard",
		Usage: "create cotton lots and bale weightments against the mill API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "api",
				Value:   "http://127.0.0.1:8080",
				Usage:   "mill API base URL",
				EnvVars: []string{"MILL_API_URL"},
			},
			&cli.StringFlag{
				Name:    "lot-prefix",
				Value:   lotwizard.DefaultLotPrefix,
				Usage:   "prefix used when a fallback lot number has to be made up",
				EnvVars: []string{"LOT_PREFIX"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				EnvVars: []string{"LOG_LEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "inward",
				Usage:  "list inward entries with the bales still free for lots",
				Action: listInward,
			},
			{
				Name:   "next-number",
				Usage:  "show the next lot number of the current season",
				Action: nextNumber,
			},
			{
				Name:  "create",
				Usage: "walk through creating one lot",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "inward", Usage: "inward entry id; prompted for when empty"},
				},
				Action: createLot,
			},
		},
	}
}

func clientFrom(c *cli.Context) (*millclient.Client, logrus.FieldLogger, error) {
	logger := logging.NewWithOutput(c.App.ErrWriter, c.String("log-level"), "text")
	client, err := millclient.New(c.String("api"), millclient.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return client, logger, nil
}

func listInward(c *cli.Context) error {
	client, _, err := clientFrom(c)
	if err != nil {
		return err
	}
	entries, err := client.ListInwardEntries(c.Context)
	if err != nil {
		return err
	}
	printInwardEntries(c.App.Writer, entries)
	return nil
}

func nextNumber(c *cli.Context) error {
	client, _, err := clientFrom(c)
	if err != nil {
		return err
	}
	lotNo, err := client.NextLotNumber(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, lotNo)
	return nil
}

func createLot(c *cli.Context) error {
	client, logger, err := clientFrom(c)
	if err != nil {
		return err
	}
	s := newSession(client, c.App.Reader, c.App.Writer,
		lotwizard.WithLogger(logger),
		lotwizard.WithLotPrefix(c.String("lot-prefix")),
	)
	return s.run(c.Context, c.String("inward"))
}
