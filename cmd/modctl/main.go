// Command modctl is the operator tool for a mod marketplace database.
//
//	modctl hash-password < password.txt
//	modctl --database data/modmarket.db promote alice
//	modctl --database postgres://... demote alice
//	modctl notifications --limit 20
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/sakif/modmarket/internal/auth"
	"github.com/sakif/modmarket/internal/repository/sqlstore"
)

func main() {
	if err := newApp(os.Stdin, os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "modctl:", err)
		os.Exit(1)
	}
}

func newApp(stdin io.Reader, stdout io.Writer) *cli.App {
	return &cli.App{
		Name:      "modctl",
		Usage:     "manage a mod marketplace database",
		Reader:    stdin,
		Writer:    stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database",
				Aliases: []string{"d"},
				Usage:   "SQLite path or postgres:// DSN",
				Value:   "data/modmarket.db",
				EnvVars: []string{"DATABASE_URL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "hash-password",
				Usage:  "read a password from stdin and print its stored form",
				Action: hashPassword,
			},
			{
				Name:      "promote",
				Usage:     "grant admin rights to a user",
				ArgsUsage: "<username>",
				Action:    setAdmin(true),
			},
			{
				Name:      "demote",
				Usage:     "revoke admin rights from a user",
				ArgsUsage: "<username>",
				Action:    setAdmin(false),
			},
			{
				Name:  "notifications",
				Usage: "list recent notification batches",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20},
				},
				Action: listNotifications,
			},
		},
	}
}

func hashPassword(c *cli.Context) error {
	line, err := bufio.NewReader(c.App.Reader).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password on stdin")
	}

	hash, err := auth.NewPasswordService().Hash(password)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hash)
	return nil
}

func setAdmin(isAdmin bool) cli.ActionFunc {
	return func(c *cli.Context) error {
		username := c.Args().First()
		if username == "" {
			return errors.New("username is required")
		}

		db, err := sqlstore.New(c.String("database"))
		if err != nil {
			return err
		}
		defer db.Close()

		ctx := context.Background()
		user, err := db.GetUserByUsername(ctx, username)
		if err != nil {
			return err
		}
		if err := db.SetAdmin(ctx, user.ID, isAdmin); err != nil {
			return err
		}

		fmt.Fprintf(c.App.Writer, "%s (id %d) admin=%t\n", user.Username, user.ID, isAdmin)
		return nil
	}
}

func listNotifications(c *cli.Context) error {
	db, err := sqlstore.New(c.String("database"))
	if err != nil {
		return err
	}
	defer db.Close()

	logs, err := db.ListNotificationLogs(context.Background(), c.Int("limit"))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMOD\tVERSION\tRECIPIENTS\tOK\tFAILED\tSENT")
	for _, l := range logs {
		fmt.Fprintf(tw, "%d\t%d\t%s\t%d\t%d\t%d\t%s\n",
			l.ID, l.ModID, l.Version, l.RecipientCount, l.SuccessCount, l.FailureCount,
			l.CreatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}
