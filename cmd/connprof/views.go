package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/connprof/internal/profile"
	"github.com/nupi-ai/connprof/internal/treestore"
)

func newSessionsCommand() *cobra.Command {
	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage the profiles shown in a domain view",
	}
	sessionsCmd.PersistentFlags().String("domain", string(profile.DomainDatasets), "View domain (datasets, files, jobs)")

	sessionsCmd.AddCommand(
		&cobra.Command{
			Use:           "list",
			Short:         "List session nodes",
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          sessionsList,
		},
		&cobra.Command{
			Use:           "add <profile>",
			Short:         "Show a profile in the view",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          sessionsAdd,
		},
		&cobra.Command{
			Use:           "hide <profile>",
			Short:         "Remove a profile from the view",
			Args:          cobra.ExactArgs(1),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          sessionsHide,
		},
	)
	return sessionsCmd
}

func newFavoritesCommand() *cobra.Command {
	favoritesCmd := &cobra.Command{
		Use:   "favorites",
		Short: "Manage favorites of a domain view",
	}
	favoritesCmd.PersistentFlags().String("domain", string(profile.DomainDatasets), "View domain (datasets, files, jobs)")

	favoritesCmd.AddCommand(
		&cobra.Command{
			Use:           "list",
			Short:         "List favorites",
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          favoritesList,
		},
		&cobra.Command{
			Use:           "add <profile> <label>",
			Short:         "Add a favorite reached through a profile",
			Args:          cobra.ExactArgs(2),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          favoritesAdd,
		},
	)
	return favoritesCmd
}

func newHistoryCommand() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Manage the history of a domain view",
	}
	historyCmd.PersistentFlags().String("domain", string(profile.DomainDatasets), "View domain (datasets, files, jobs)")

	historyCmd.AddCommand(
		&cobra.Command{
			Use:           "list",
			Short:         "List history entries, newest first",
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          historyList,
		},
		&cobra.Command{
			Use:           "add <profile> <path>",
			Short:         "Record a path opened through a profile",
			Args:          cobra.ExactArgs(2),
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE:          historyAdd,
		},
	)
	return historyCmd
}

// openView opens the app and returns the view selected by --domain.
func openView(cmd *cobra.Command, out *OutputFormatter) (*app, *treestore.Store, error) {
	raw, _ := cmd.Flags().GetString("domain")
	domain, err := profile.ParseDomain(raw)
	if err != nil {
		return nil, nil, out.Error("Invalid domain", err)
	}
	a, err := openApp(cmd)
	if err != nil {
		return nil, nil, out.Error("Failed to open profile store", err)
	}
	return a, a.view(domain), nil
}

// requireProfile checks that name is a loaded profile.
func requireProfile(a *app, out *OutputFormatter, name string) (profile.Profile, error) {
	p, err := a.registry.LoadNamedProfile(name, "")
	if err != nil {
		return profile.Profile{}, out.Error("Profile not found", err)
	}
	return p, nil
}

func sessionsList(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	a, view, err := openView(cmd, out)
	if err != nil {
		return err
	}
	defer a.Close()

	var names []string
	for _, node := range view.SessionNodes() {
		names = append(names, node.Label)
	}
	if out.jsonMode {
		return out.Print(map[string]any{"domain": view.TreeType(), "sessions": names})
	}
	if len(names) == 0 {
		out.Printf("No sessions in %s\n", view.TreeType())
		return nil
	}
	for _, n := range names {
		out.Printf("%s\n", n)
	}
	return nil
}

func sessionsAdd(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	a, view, err := openView(cmd, out)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := requireProfile(a, out, args[0])
	if err != nil {
		return err
	}
	if !a.caps.Supports(p.Type, view.TreeType()) {
		return out.Error(fmt.Sprintf("Profile type %s does not serve %s", p.Type, view.TreeType()), nil)
	}
	if err := view.AddSession(cmd.Context(), p.Name); err != nil {
		return out.Error("Failed to add session", err)
	}
	return out.Success(fmt.Sprintf("Session %q added to %s", p.Name, view.TreeType()), map[string]any{"name": p.Name})
}

func sessionsHide(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	a, view, err := openView(cmd, out)
	if err != nil {
		return err
	}
	defer a.Close()

	hidden := false
	for _, node := range view.SessionNodes() {
		if node.Profile == args[0] {
			view.HideSession(node)
			hidden = true
		}
	}
	if !hidden {
		return out.Error(fmt.Sprintf("No session %q in %s", args[0], view.TreeType()), nil)
	}
	if err := view.Flush(cmd.Context()); err != nil {
		return out.Error("Failed to save view", err)
	}
	return out.Success(fmt.Sprintf("Session %q hidden", args[0]), map[string]any{"name": args[0]})
}

func favoritesList(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	a, view, err := openView(cmd, out)
	if err != nil {
		return err
	}
	defer a.Close()

	var labels []string
	for _, fav := range view.Favorites() {
		labels = append(labels, fav.Label)
	}
	if out.jsonMode {
		return out.Print(map[string]any{"domain": view.TreeType(), "favorites": labels})
	}
	for _, l := range labels {
		out.Printf("%s\n", l)
	}
	return nil
}

func favoritesAdd(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	a, view, err := openView(cmd, out)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := requireProfile(a, out, args[0])
	if err != nil {
		return err
	}
	if err := view.AddFavorite(cmd.Context(), p.Name, args[1]); err != nil {
		return out.Error("Failed to add favorite", err)
	}
	entry := profile.FormatEntry(p.Name, args[1])
	return out.Success("Favorite added: "+entry, map[string]any{"entry": entry})
}

func historyList(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	a, view, err := openView(cmd, out)
	if err != nil {
		return err
	}
	defer a.Close()

	history := view.FileHistory()
	if out.jsonMode {
		return out.Print(map[string]any{"domain": view.TreeType(), "history": history})
	}
	for _, h := range history {
		out.Printf("%s\n", h)
	}
	return nil
}

func historyAdd(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	a, view, err := openView(cmd, out)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := requireProfile(a, out, args[0])
	if err != nil {
		return err
	}
	if err := view.AddFileHistory(cmd.Context(), p.Name, args[1]); err != nil {
		return out.Error("Failed to record history", err)
	}
	entry := profile.FormatEntry(p.Name, args[1])
	return out.Success("History entry added: "+entry, map[string]any{"entry": entry})
}
