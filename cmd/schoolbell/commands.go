package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"schoolbell/internal/app"
	"schoolbell/internal/auth"
	"schoolbell/internal/authoring"
	"schoolbell/internal/config"
	"schoolbell/internal/export"
	"schoolbell/internal/schedule"
	"schoolbell/internal/storage"
)

// withStore opens the configured store for one command and closes it after.
func withStore(cfgPath string, fn func(ctx context.Context, cfg *config.Config, st storage.Store) error) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	st, err := app.OpenStore(cfg, cliLogger())
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(context.Background(), cfg, st)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the storage schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(*cfgPath, func(_ context.Context, cfg *config.Config, _ storage.Store) error {
				fmt.Printf("storage ready (%s)\n", cfg.Storage.Driver)
				return nil
			})
		},
	}
}

func schoolCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "school",
		Short: "Manage schools",
	}
	cmd.AddCommand(schoolCreateCmd(cfgPath))
	cmd.AddCommand(schoolListCmd(cfgPath))
	cmd.AddCommand(schoolRenameCmd(cfgPath))
	cmd.AddCommand(schoolDeleteCmd(cfgPath))
	return cmd
}

func authoringFor(st storage.Store) *authoring.Service {
	return authoring.New(st, schedule.SystemClock{}, cliLogger())
}

func schoolCreateCmd(cfgPath *string) *cobra.Command {
	var name, apiKey string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a school and print its id and device API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return errors.New("--name is required")
			}
			return withStore(*cfgPath, func(ctx context.Context, _ *config.Config, st storage.Store) error {
				t, err := authoringFor(st).CreateSchool(ctx, name, apiKey)
				if err != nil {
					return err
				}
				fmt.Printf("id:      %s\napi key: %s\n", t.ID, t.APIKey)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "school name")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "device API key (random when empty)")
	return cmd
}

func schoolListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered schools",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(*cfgPath, func(ctx context.Context, _ *config.Config, st storage.Store) error {
				schools, err := authoringFor(st).ListSchools(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tACTIVE SCHEDULE")
				for _, t := range schools {
					fmt.Fprintf(w, "%s\t%s\t%s\n", t.ID, t.Name, t.ActiveScheduleID)
				}
				return w.Flush()
			})
		},
	}
}

func schoolRenameCmd(cfgPath *string) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "rename <school-id>",
		Short: "Rename a school",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(*cfgPath, func(ctx context.Context, _ *config.Config, st storage.Store) error {
				return authoringFor(st).RenameSchool(ctx, args[0], name)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new school name")
	return cmd
}

func schoolDeleteCmd(cfgPath *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <school-id>",
		Short: "Delete a school with its schedules, bells, special days and activity log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("deleting a school cannot be undone; pass --yes to confirm")
			}
			return withStore(*cfgPath, func(ctx context.Context, _ *config.Config, st storage.Store) error {
				if err := authoringFor(st).DeleteSchool(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the deletion")
	return cmd
}

func tokenCmd(cfgPath *string) *cobra.Command {
	var school, user, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an access token for the API and websocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if school == "" || user == "" {
				return errors.New("--school and --user are required")
			}
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			ttl, err := app.TokenTTL(cfg)
			if err != nil {
				return err
			}
			signer, err := auth.NewSigner(cfg.HTTP.JWTSecret, ttl)
			if err != nil {
				return err
			}
			tok, err := signer.Issue(school, user, role)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&school, "school", "", "school id")
	cmd.Flags().StringVar(&user, "user", "", "user id recorded in the activity log")
	cmd.Flags().StringVar(&role, "role", "admin", "role claim")
	return cmd
}

func generateCmd(cfgPath *string) *cobra.Command {
	var (
		start, lessons, day, mode, sound string
		school, scheduleID               string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Expand a lesson plan into bells; prints them, or stores them with --schedule",
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := schedule.ParseLessons(lessons)
			if err != nil {
				return err
			}
			req := schedule.GenerateRequest{
				StartTime:  start,
				Lessons:    plan,
				Day:        day,
				ScheduleID: scheduleID,
				Mode:       schedule.Mode(mode),
				SoundID:    sound,
			}
			if scheduleID == "" {
				bells, err := schedule.GenerateDaySchedule(req)
				if err != nil {
					return err
				}
				return printJSON(bells)
			}
			if school == "" {
				return errors.New("--school is required with --schedule")
			}
			return withStore(*cfgPath, func(ctx context.Context, _ *config.Config, st storage.Store) error {
				bells, err := authoringFor(st).GenerateDay(ctx, school, req)
				if err != nil {
					return err
				}
				return printJSON(bells)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "07:30", "first lesson start (HH:MM)")
	cmd.Flags().StringVar(&lessons, "lessons", "", `lesson/break minutes, e.g. "45/10,45/15,45"`)
	cmd.Flags().StringVar(&day, "day", "Monday", "weekday the bells belong to")
	cmd.Flags().StringVar(&mode, "mode", string(schedule.ModeAppend), "append or overwrite")
	cmd.Flags().StringVar(&sound, "sound", "", "sound id (default sound-1)")
	cmd.Flags().StringVar(&school, "school", "", "school id owning --schedule")
	cmd.Flags().StringVar(&scheduleID, "schedule", "", "schedule id to store the bells in")
	return cmd
}

func exportCmd(cfgPath *string) *cobra.Command {
	var scheduleID, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a schedule as an .xlsx workbook, one sheet per weekday",
		RunE: func(cmd *cobra.Command, args []string) error {
			if scheduleID == "" {
				return errors.New("--schedule is required")
			}
			return withStore(*cfgPath, func(ctx context.Context, _ *config.Config, st storage.Store) error {
				set, err := st.GetSchedule(ctx, scheduleID)
				if err != nil {
					return err
				}
				if set == nil {
					return fmt.Errorf("schedule %s: %w", scheduleID, storage.ErrNotFound)
				}
				if out == "" || out == "-" {
					return export.WriteSchedule(os.Stdout, *set)
				}
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				bw := bufio.NewWriter(f)
				if err := export.WriteSchedule(bw, *set); err != nil {
					_ = f.Close()
					return err
				}
				if err := bw.Flush(); err != nil {
					_ = f.Close()
					return err
				}
				return f.Close()
			})
		},
	}
	cmd.Flags().StringVar(&scheduleID, "schedule", "", "schedule id")
	cmd.Flags().StringVar(&out, "out", "", `output file ("-" or empty for stdout)`)
	return cmd
}
