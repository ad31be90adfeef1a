package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/daviddao/virtualoffice/pkg/model"
)

// teamFile is the import format: a list of personas under "personas".
type teamFile struct {
	Personas []model.Persona `yaml:"personas" toml:"personas"`
}

func personaCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "persona",
		Aliases: []string{"people"},
		Short:   "Manage simulated team members",
	}
	cmd.AddCommand(personaAddCmd(g), personaListCmd(g), personaShowCmd(g),
		personaImportCmd(g), personaRemoveCmd(g))
	return cmd
}

func personaAddCmd(g *globals) *cobra.Command {
	var p model.Persona
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a persona",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(p.Name) == "" {
				return fmt.Errorf("--name is required")
			}
			fillPersonaDefaults(&p)
			return run(g, cmd, func(a *app) error {
				created, err := a.store.CreatePersona(&p)
				if err != nil {
					return err
				}
				if g.jsonOut {
					printJSON(cmd.OutOrStdout(), created)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered %s (id=%d, %s, @%s)\n",
					created.Name, created.ID, created.EmailAddress, created.ChatHandle)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&p.Name, "name", "", "display name")
	f.StringVar(&p.Role, "role", "", "job title")
	f.StringVar(&p.Timezone, "timezone", "UTC", "IANA timezone")
	f.StringVar(&p.WorkHours, "work-hours", "09:00-17:00", "HH:MM-HH:MM")
	f.StringVar(&p.EmailAddress, "email", "", "email address (default: <first>@vdos.local)")
	f.StringVar(&p.ChatHandle, "handle", "", "chat handle (default: lower-case first name)")
	f.BoolVar(&p.IsDepartmentHead, "head", false, "department head")
	f.StringSliceVar(&p.Skills, "skill", nil, "skill (repeatable)")
	return cmd
}

// fillPersonaDefaults derives the chat handle and email from the first
// name when they are not given.
func fillPersonaDefaults(p *model.Persona) {
	p.Name = strings.TrimSpace(p.Name)
	first := strings.ToLower(strings.Fields(p.Name)[0])
	if p.ChatHandle == "" {
		p.ChatHandle = first
	}
	if p.EmailAddress == "" {
		p.EmailAddress = first + "@vdos.local"
	}
	if p.WorkHours == "" {
		p.WorkHours = "09:00-17:00"
	}
}

func personaListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(g, cmd, func(a *app) error {
				people, err := a.store.ListPersonas()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.jsonOut {
					printJSON(out, map[string]interface{}{"personas": people, "count": len(people)})
					return nil
				}
				if len(people) == 0 {
					fmt.Fprintln(out, "no personas")
					return nil
				}
				for _, p := range people {
					head := ""
					if p.IsDepartmentHead {
						head = " " + headLabel("[head]")
					}
					fmt.Fprintf(out, "  %-3d %-20s %-24s %-26s %s%s\n",
						p.ID, p.Name, p.Role, p.EmailAddress, p.WorkHours, head)
				}
				return nil
			})
		},
	}
}

func personaShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a persona with its inbox and pending comms",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(g, cmd, func(a *app) error {
				p, err := a.store.GetPersona(id)
				if err != nil {
					return err
				}
				inbox, err := a.engine.Inbox(id)
				if err != nil {
					return err
				}
				pending, err := a.engine.Scheduled(id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.jsonOut {
					printJSON(out, map[string]interface{}{"persona": p, "inbox": inbox, "scheduled": pending})
					return nil
				}
				fmt.Fprintf(out, "%s (id=%d)\n", p.Name, p.ID)
				fmt.Fprintf(out, "  role:       %s\n", p.Role)
				fmt.Fprintf(out, "  email:      %s\n", p.EmailAddress)
				fmt.Fprintf(out, "  chat:       @%s\n", p.ChatHandle)
				fmt.Fprintf(out, "  hours:      %s %s\n", p.WorkHours, p.Timezone)
				if len(p.Skills) > 0 {
					fmt.Fprintf(out, "  skills:     %s\n", strings.Join(p.Skills, ", "))
				}
				fmt.Fprintf(out, "  registered: %s\n", humanize.Time(p.CreatedAt))
				fmt.Fprintf(out, "inbox: %d message(s)\n", len(inbox))
				for _, m := range inbox {
					fmt.Fprintf(out, "  [t=%d] %s: %s\n", m.Tick, m.SenderName, m.Subject)
				}
				fmt.Fprintf(out, "scheduled: %d\n", len(pending))
				for _, c := range pending {
					fmt.Fprintf(out, "  [t=%d] %s -> %s: %s\n", c.Tick, c.Channel, c.Target, truncate(c.Body, 80))
				}
				return nil
			})
		},
	}
}

func personaImportCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Register personas from a YAML or TOML team file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			team, err := readTeamFile(args[0])
			if err != nil {
				return err
			}
			return run(g, cmd, func(a *app) error {
				out := cmd.OutOrStdout()
				for i := range team {
					created, err := a.store.CreatePersona(&team[i])
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "registered %s (id=%d)\n", created.Name, created.ID)
				}
				fmt.Fprintf(out, "%d persona(s) imported\n", len(team))
				return nil
			})
		},
	}
}

// readTeamFile decodes a team file by extension and fills defaults.
func readTeamFile(path string) ([]model.Persona, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decodeTeam(path, f)
}

func decodeTeam(path string, r io.Reader) ([]model.Persona, error) {
	var tf teamFile
	if strings.ToLower(filepath.Ext(path)) == ".toml" {
		if _, err := toml.NewDecoder(r).Decode(&tf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if err := yaml.NewDecoder(r).Decode(&tf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(tf.Personas) == 0 {
		return nil, fmt.Errorf("%s: no personas", path)
	}
	for i := range tf.Personas {
		if strings.TrimSpace(tf.Personas[i].Name) == "" {
			return nil, fmt.Errorf("%s: persona %d has no name", path, i+1)
		}
		fillPersonaDefaults(&tf.Personas[i])
	}
	return tf.Personas, nil
}

func personaRemoveCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a persona and its runtime state",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(g, cmd, func(a *app) error {
				if err := a.store.DeletePersona(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed persona %d\n", id)
				return nil
			})
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
