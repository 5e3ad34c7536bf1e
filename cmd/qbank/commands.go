package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/atvirokodosprendimai/qbank/internal/adapters/fileio"
	"github.com/atvirokodosprendimai/qbank/internal/app"
	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
	"github.com/atvirokodosprendimai/qbank/internal/core/usecase"
)

var (
	errValidationFailed = errors.New("some questions failed validation")
	errImportFailed     = errors.New("some questions could not be imported")
)

func out(c *cli.Command) io.Writer {
	return c.Root().Writer
}

func meta(c *cli.Command) domain.MutationMetadata {
	return domain.MutationMetadata{Actor: c.String("actor"), Source: "cli"}
}

func requireArgs(c *cli.Command, n int, usage string) error {
	if c.Args().Len() < n {
		return fmt.Errorf("usage: qbank %s %s", c.Name, usage)
	}
	return nil
}

func collectionFlag() cli.Flag {
	return &cli.StringFlag{Name: "collection", Value: domain.CollectionQuestions, Usage: "questions or archive"}
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printReport(w io.Writer, report domain.Report) {
	fmt.Fprintln(w, report.QuestionName())
	for _, k := range report.Fields() {
		fmt.Fprintf(w, "  %s: %s\n", k, report[k])
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check questions in JSON or XLSX files without storing them",
		ArgsUsage: "FILE...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "ignore-duplicates", Usage: "Skip the name uniqueness check"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := requireArgs(c, 1, "FILE..."); err != nil {
				return err
			}
			return withApp(ctx, c, func(a *app.App) error {
				failed := 0
				for _, path := range c.Args().Slice() {
					qs, err := fileio.ReadFile(path)
					if err != nil {
						return err
					}
					for _, q := range qs {
						report, err := a.Questions.Validate(ctx, q, c.Bool("ignore-duplicates"))
						if err != nil {
							return err
						}
						if len(report) > 0 {
							failed++
							printReport(out(c), report)
						}
					}
				}
				if failed > 0 {
					return fmt.Errorf("%w: %d", errValidationFailed, failed)
				}
				fmt.Fprintln(out(c), "All questions are valid.")
				return nil
			})
		},
	}
}

func importCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Validate and insert questions from a JSON or XLSX file",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all-or-nothing", Usage: "Insert nothing unless every question is valid"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := requireArgs(c, 1, "FILE"); err != nil {
				return err
			}
			qs, err := fileio.ReadFile(c.Args().First())
			if err != nil {
				return err
			}
			return withApp(ctx, c, func(a *app.App) error {
				result, err := a.Imports.Import(ctx, qs, usecase.ImportOptions{AllOrNothing: c.Bool("all-or-nothing")}, meta(c))
				if err != nil {
					return err
				}
				fmt.Fprintln(out(c), result.Summary())
				if !result.OK() {
					return errImportFailed
				}
				return nil
			})
		},
	}
}

func templateCommand() *cli.Command {
	return &cli.Command{
		Name:      "template",
		Usage:     "Write one example question per type to a JSON or XLSX file",
		ArgsUsage: "FILE",
		Action: func(_ context.Context, c *cli.Command) error {
			if err := requireArgs(c, 1, "FILE"); err != nil {
				return err
			}
			if err := fileio.WriteFile(c.Args().First(), usecase.TemplateQuestions()); err != nil {
				return err
			}
			fmt.Fprintf(out(c), "Template written to %s\n", c.Args().First())
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write stored questions to a JSON or XLSX file",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			collectionFlag(),
			&cli.StringFlag{Name: "prefix", Usage: "Only names starting with this prefix"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := requireArgs(c, 1, "FILE"); err != nil {
				return err
			}
			return withApp(ctx, c, func(a *app.App) error {
				var all []domain.Question
				filter := domain.ListFilter{Prefix: c.String("prefix"), Limit: 1000}
				for {
					page, err := a.Questions.List(ctx, c.String("collection"), filter)
					if err != nil {
						return err
					}
					all = append(all, page...)
					if len(page) < filter.Limit {
						break
					}
					last := page[len(page)-1]
					filter.After = last.Name()
					filter.AfterID, _ = last[domain.FieldID].(string)
				}
				for i, q := range all {
					all[i] = q.WithoutID()
				}
				if err := fileio.WriteFile(c.Args().First(), all); err != nil {
					return err
				}
				fmt.Fprintf(out(c), "Exported %d questions to %s\n", len(all), c.Args().First())
				return nil
			})
		},
	}
}

func showCommand() *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Print a stored question as JSON",
		ArgsUsage: "NAME",
		Flags:     []cli.Flag{collectionFlag()},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := requireArgs(c, 1, "NAME"); err != nil {
				return err
			}
			return withApp(ctx, c, func(a *app.App) error {
				q, err := a.Questions.Get(ctx, c.String("collection"), c.Args().First())
				if err != nil {
					return err
				}
				return printJSON(out(c), q)
			})
		},
	}
}

func listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "Print stored question names in order",
		Flags: []cli.Flag{
			collectionFlag(),
			&cli.StringFlag{Name: "prefix", Usage: "Only names starting with this prefix"},
			&cli.StringFlag{Name: "after", Usage: "Start after this name"},
			&cli.IntFlag{Name: "limit", Value: 100, Usage: "Maximum number of names"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return withApp(ctx, c, func(a *app.App) error {
				qs, err := a.Questions.List(ctx, c.String("collection"), domain.ListFilter{
					Prefix: c.String("prefix"),
					After:  c.String("after"),
					Limit:  c.Int("limit"),
				})
				if err != nil {
					return err
				}
				for _, q := range qs {
					fmt.Fprintf(out(c), "%s\t%v\n", q.Name(), q[domain.FieldMoodleType])
				}
				return nil
			})
		},
	}
}

// parseAssignments turns key=value pairs into fields. Values that parse as JSON keep
// the decoded value, anything else is taken as a string.
func parseAssignments(pairs []string) (map[string]any, error) {
	fields := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: expected key=value, got %q", domain.ErrInvalidInput, pair)
		}
		if v, err := domain.DecodeValue([]byte(raw)); err == nil {
			fields[key] = v
		} else {
			fields[key] = raw
		}
	}
	return fields, nil
}

func editCommand() *cli.Command {
	return &cli.Command{
		Name:      "edit",
		Usage:     "Change fields of a stored question",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "set", Usage: "Field assignment key=value, value as JSON or text; repeatable"},
			&cli.BoolFlag{Name: "history", Usage: "Record old and new values in the question history"},
			&cli.BoolFlag{Name: "validate", Usage: "Reject the edit when the result fails validation"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := requireArgs(c, 1, "NAME --set key=value..."); err != nil {
				return err
			}
			fields, err := parseAssignments(c.StringSlice("set"))
			if err != nil {
				return err
			}
			return withApp(ctx, c, func(a *app.App) error {
				name := c.Args().First()
				updated, err := a.Questions.Update(ctx, name, fields, usecase.EditOptions{
					History:  c.Bool("history"),
					Validate: c.Bool("validate"),
				}, meta(c))
				var invalid *domain.ErrInvalidQuestion
				if errors.As(err, &invalid) {
					printReport(out(c), invalid.Report)
					return errValidationFailed
				}
				if err != nil {
					return err
				}
				if !updated {
					fmt.Fprintf(out(c), "No question named %s.\n", name)
					return nil
				}
				fmt.Fprintf(out(c), "Updated %s.\n", name)
				return nil
			})
		},
	}
}

func removeCommand() *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Delete a stored question",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "archive", Usage: "Keep a copy in the archive collection"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := requireArgs(c, 1, "NAME"); err != nil {
				return err
			}
			return withApp(ctx, c, func(a *app.App) error {
				name := c.Args().First()
				deleted, err := a.Questions.Remove(ctx, name, c.Bool("archive"), meta(c))
				if err != nil {
					return err
				}
				switch {
				case !deleted:
					fmt.Fprintf(out(c), "No question named %s.\n", name)
				case c.Bool("archive"):
					fmt.Fprintf(out(c), "Archived %s.\n", name)
				default:
					fmt.Fprintf(out(c), "Removed %s.\n", name)
				}
				return nil
			})
		},
	}
}

func restoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "restore",
		Usage:     "Move an archived question back into the question bank",
		ArgsUsage: "NAME",
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := requireArgs(c, 1, "NAME"); err != nil {
				return err
			}
			return withApp(ctx, c, func(a *app.App) error {
				q, err := a.Questions.Restore(ctx, c.Args().First(), meta(c))
				var invalid *domain.ErrInvalidQuestion
				if errors.As(err, &invalid) {
					printReport(out(c), invalid.Report)
					return errValidationFailed
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(out(c), "Restored %s.\n", q.Name())
				return nil
			})
		},
	}
}

func deriveChildCommand() *cli.Command {
	return &cli.Command{
		Name:      "derive-child",
		Usage:     "Create a child question from a parent, filling its [[...]] placeholders",
		ArgsUsage: "PARENT",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{Name: "fill", Usage: "Placeholder value in order of appearance; repeatable"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := requireArgs(c, 1, "PARENT --fill value..."); err != nil {
				return err
			}
			return withApp(ctx, c, func(a *app.App) error {
				child, err := a.Questions.DeriveChild(ctx, c.Args().First(), c.StringSlice("fill"), meta(c))
				var invalid *domain.ErrInvalidQuestion
				if errors.As(err, &invalid) {
					printReport(out(c), invalid.Report)
					return errValidationFailed
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(out(c), "Created %s.\n", child.Name())
				return nil
			})
		},
	}
}

func nextNameCommand() *cli.Command {
	return &cli.Command{
		Name:      "next-name",
		Usage:     "Propose the next free name in a category",
		ArgsUsage: "CATEGORY",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "family", Value: domain.FamilySingle, Usage: "single or parent"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := requireArgs(c, 1, "CATEGORY"); err != nil {
				return err
			}
			return withApp(ctx, c, func(a *app.App) error {
				name, err := a.Questions.NextName(ctx, c.Args().First(), c.String("family"))
				if err != nil {
					return err
				}
				fmt.Fprintln(out(c), name)
				return nil
			})
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:      "history",
		Usage:     "Print the audit trail of a question, newest first",
		ArgsUsage: "NAME",
		Flags: []cli.Flag{
			collectionFlag(),
			&cli.StringFlag{Name: "action", Usage: "Only events of this type, e.g. question.updated"},
			&cli.BoolFlag{Name: "json", Usage: "Print each event with its payload as JSON"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			if err := requireArgs(c, 1, "NAME"); err != nil {
				return err
			}
			return withApp(ctx, c, func(a *app.App) error {
				filter := domain.AuditFilter{
					Collection:   c.String("collection"),
					QuestionName: c.Args().First(),
					Action:       c.String("action"),
				}
				return usecase.ReplayEvents(ctx, a.Audit, a.Codec, filter, func(ev usecase.ReplayEvent) error {
					if c.Bool("json") {
						return printJSON(out(c), ev)
					}
					var changed []string
					if len(ev.Changed) > 0 {
						_ = json.Unmarshal(ev.Changed, &changed)
					}
					_, err := fmt.Fprintf(out(c), "%d\t%s\t%s\t%s\t%s\n",
						ev.AuditID,
						ev.Envelope.OccurredAt.Format("2006-01-02 15:04:05"),
						ev.Envelope.EventType,
						ev.Envelope.Actor,
						strings.Join(changed, ","),
					)
					return err
				})
			})
		},
	}
}

func outboxCommand() *cli.Command {
	return &cli.Command{
		Name:  "outbox",
		Usage: "Inspect and deliver pending change events",
		Commands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "Print outbox event counts by status",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withApp(ctx, c, func(a *app.App) error {
						counts, err := a.Outbox.CountByStatus(ctx)
						if err != nil {
							return err
						}
						statuses := make([]string, 0, len(counts))
						for s := range counts {
							statuses = append(statuses, s)
						}
						sort.Strings(statuses)
						for _, s := range statuses {
							fmt.Fprintf(out(c), "%s\t%d\n", s, counts[s])
						}
						return nil
					})
				},
			},
			{
				Name:  "flush",
				Usage: "Publish one batch of pending events to the configured webhook or log",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "webhook-url", Sources: cli.EnvVars("QBANK_WEBHOOK_URL"), Usage: "Outbox event webhook target URL"},
					&cli.StringFlag{Name: "webhook-secret", Sources: cli.EnvVars("QBANK_WEBHOOK_SECRET"), Usage: "HMAC-SHA256 signing secret"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, _, err := loadConfig(c)
					if err != nil {
						return err
					}
					return withApp(ctx, c, func(a *app.App) error {
						d := a.NewDispatcher(cfg)
						if err := d.DispatchOnce(ctx); err != nil {
							return err
						}
						m := d.Metrics()
						fmt.Fprintf(out(c), "published %d, failed %d, dead %d\n", m.DispatchSuccessTotal, m.DispatchFailureTotal, m.DispatchDeadTotal)
						return nil
					})
				},
			},
		},
	}
}

func apiKeyCommand() *cli.Command {
	return &cli.Command{
		Name:  "apikey",
		Usage: "Manage HTTP API keys",
		Commands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "Register an API key under a name",
				ArgsUsage: "NAME TOKEN",
				Action: func(ctx context.Context, c *cli.Command) error {
					if err := requireArgs(c, 2, "NAME TOKEN"); err != nil {
						return err
					}
					return withApp(ctx, c, func(a *app.App) error {
						if err := a.Auth.Register(ctx, c.Args().Get(0), c.Args().Get(1)); err != nil {
							return err
						}
						fmt.Fprintf(out(c), "API key %s registered.\n", c.Args().Get(0))
						return nil
					})
				},
			},
			{
				Name:      "revoke",
				Usage:     "Revoke every API key registered under a name",
				ArgsUsage: "NAME",
				Action: func(ctx context.Context, c *cli.Command) error {
					if err := requireArgs(c, 1, "NAME"); err != nil {
						return err
					}
					return withApp(ctx, c, func(a *app.App) error {
						if err := a.Auth.Revoke(ctx, c.Args().First()); err != nil {
							return err
						}
						fmt.Fprintf(out(c), "API key %s revoked.\n", c.Args().First())
						return nil
					})
				},
			},
			{
				Name:  "list",
				Usage: "Print registered API keys",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withApp(ctx, c, func(a *app.App) error {
						keys, err := a.Auth.List(ctx)
						if err != nil {
							return err
						}
						for _, k := range keys {
							status := "active"
							if k.Revoked() {
								status = "revoked"
							}
							lastUsed := "never"
							if k.LastUsedAt != nil {
								lastUsed = k.LastUsedAt.Format(time.RFC3339)
							}
							fmt.Fprintf(out(c), "%s\t%s\t%s\t%s\n", k.Name, k.TokenHash[:12], status, lastUsed)
						}
						return nil
					})
				},
			},
		},
	}
}
