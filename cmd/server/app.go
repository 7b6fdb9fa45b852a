package main

import (
	"time"

	"github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "booking",
		Usage: "showtime seat reservation and booking service",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the expiry sweep",
				Action: serve,
			},
			{
				Name:   "worker",
				Usage:  "consume booking events and record them",
				Action: worker,
			},
			{
				Name:   "sweep",
				Usage:  "expire overdue bookings once and exit",
				Action: sweepOnce,
			},
			{
				Name:   "migrate",
				Usage:  "apply the database schema",
				Action: migrate,
			},
			{
				Name:  "token",
				Usage: "mint a bearer token signed with JWT_SECRET",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "user", Usage: "user id placed in the sub claim", Required: true},
					&cli.StringFlag{Name: "role", Value: "CUSTOMER", Usage: "role claim"},
					&cli.DurationFlag{Name: "ttl", Value: time.Hour, Usage: "token lifetime"},
				},
				Action: token,
			},
		},
	}
}
