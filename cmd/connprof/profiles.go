package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nupi-ai/connprof/internal/profile"
	"github.com/nupi-ai/connprof/internal/registry"
	"github.com/nupi-ai/connprof/internal/treestore"
)

const defaultCheckParallelism = 4

func newProfilesCommand() *cobra.Command {
	profilesCmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage connection profiles",
	}

	listCmd := &cobra.Command{
		Use:           "list",
		Short:         "List profiles",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          profilesList,
	}
	listCmd.Flags().String("type", "", "Only list profiles of this type")
	listCmd.Flags().String("domain", "", "Only list profiles serving this domain (datasets, files, jobs)")

	showCmd := &cobra.Command{
		Use:           "show <name>",
		Short:         "Show a profile",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          profilesShow,
	}
	showCmd.Flags().String("type", "", "Profile type")

	createCmd := &cobra.Command{
		Use:           "create <name>",
		Short:         "Create a profile, prompting for missing required fields",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          profilesCreate,
	}
	createCmd.Flags().String("type", profile.DefaultType, "Profile type")
	createCmd.Flags().StringArray("set", nil, "Field value as key=value (repeatable)")

	updateCmd := &cobra.Command{
		Use:           "update <name>",
		Short:         "Update profile fields",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          profilesUpdate,
	}
	updateCmd.Flags().String("type", "", "Profile type (resolved from the name when empty)")
	updateCmd.Flags().StringArray("set", nil, "Field value as key=value (repeatable)")
	updateCmd.Flags().StringArray("unset", nil, "Field to remove (repeatable)")
	updateCmd.Flags().Bool("prompt", false, "Prompt for every field, seeded with the current values")

	deleteCmd := &cobra.Command{
		Use:           "delete [name]",
		Short:         "Delete a profile and every reference to it",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          profilesDelete,
	}

	checkCmd := &cobra.Command{
		Use:           "check [name]",
		Short:         "Validate a profile against its backend",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          profilesCheck,
	}
	checkCmd.Flags().Bool("all", false, "Check every profile")
	checkCmd.Flags().Int("parallel", defaultCheckParallelism, "Maximum concurrent checks with --all")
	checkCmd.Flags().Duration("timeout", 30*time.Second, "Timeout for each check")

	defaultCmd := &cobra.Command{
		Use:           "default [name]",
		Short:         "Show the default profiles, or make a profile the default of its type",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          profilesDefault,
	}

	typesCmd := &cobra.Command{
		Use:           "types",
		Short:         "List profile types and their fields",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          profilesTypes,
	}

	exportCmd := &cobra.Command{
		Use:           "export",
		Short:         "Export profiles as YAML (secure fields are omitted)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          profilesExport,
	}
	exportCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
	exportCmd.Flags().StringArray("type", nil, "Only export this type (repeatable)")

	importCmd := &cobra.Command{
		Use:           "import <file>",
		Short:         "Import profiles from a YAML export",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          profilesImport,
	}

	watchCmd := &cobra.Command{
		Use:           "watch",
		Short:         "Reload profiles whenever the store changes",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          profilesWatch,
	}
	watchCmd.Flags().Duration("interval", time.Second, "Polling interval")

	profilesCmd.AddCommand(listCmd, showCmd, createCmd, updateCmd, deleteCmd, checkCmd,
		defaultCmd, typesCmd, exportCmd, importCmd, watchCmd)
	return profilesCmd
}

// parseAssignments turns key=value flags into fields.
func parseAssignments(values []string) (profile.Fields, error) {
	fields := profile.Fields{}
	for _, raw := range values {
		key, value, ok := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid field %q, expected key=value", raw)
		}
		fields[key] = value
	}
	return fields, nil
}

type profileView struct {
	Name    string         `json:"name"`
	Type    string         `json:"type"`
	Default bool           `json:"default"`
	Status  string         `json:"status,omitempty"`
	Fields  profile.Fields `json:"fields,omitempty"`
}

// maskSecure hides secure field values of p.
func maskSecure(a *app, p profile.Profile) profile.Fields {
	fields := p.Fields.Clone()
	schema, ok := a.registry.GetSchema(p.Type)
	if !ok {
		return fields
	}
	for _, key := range schema.SecureNames() {
		if v, ok := fields[key]; ok && v != nil && v != "" {
			fields[key] = "********"
		}
	}
	return fields
}

func isDefault(a *app, p profile.Profile) bool {
	d, ok := a.registry.DefaultProfile(p.Type)
	return ok && d.Name == p.Name
}

func profilesList(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	typ, _ := cmd.Flags().GetString("type")
	rawDomain, _ := cmd.Flags().GetString("domain")

	a, err := openApp(cmd)
	if err != nil {
		return out.Error("Failed to open profile store", err)
	}
	defer a.Close()

	var list []profile.Profile
	switch {
	case rawDomain != "":
		domain, err := profile.ParseDomain(rawDomain)
		if err != nil {
			return out.Error("Invalid domain", err)
		}
		for _, name := range a.registry.NamesForDomain(domain) {
			if p, err := a.registry.LoadNamedProfile(name, typ); err == nil {
				list = append(list, p)
			}
		}
	case typ != "":
		list, _ = a.registry.GetProfiles(typ)
	default:
		list = a.registry.AllProfiles()
	}

	views := make([]profileView, 0, len(list))
	for _, p := range list {
		views = append(views, profileView{Name: p.Name, Type: p.Type, Default: isDefault(a, p)})
	}
	if out.jsonMode {
		return out.Print(map[string]any{"profiles": views})
	}
	if len(views) == 0 {
		out.Printf("No profiles\n")
		return nil
	}
	out.Printf("%-24s %-10s %s\n", "NAME", "TYPE", "DEFAULT")
	for _, v := range views {
		marker := ""
		if v.Default {
			marker = "*"
		}
		out.Printf("%-24s %-10s %s\n", v.Name, v.Type, marker)
	}
	return nil
}

func profilesShow(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	typ, _ := cmd.Flags().GetString("type")

	a, err := openApp(cmd)
	if err != nil {
		return out.Error("Failed to open profile store", err)
	}
	defer a.Close()

	p, err := a.registry.LoadNamedProfile(args[0], typ)
	if err != nil {
		return out.Error("Profile not found", err)
	}
	view := profileView{Name: p.Name, Type: p.Type, Default: isDefault(a, p), Fields: maskSecure(a, p)}
	if out.jsonMode {
		return out.Print(view)
	}
	out.Printf("Name:    %s\n", view.Name)
	out.Printf("Type:    %s\n", view.Type)
	out.Printf("Default: %t\n", view.Default)
	for _, key := range view.Fields.Keys() {
		out.Printf("  %-20s %v\n", key, view.Fields[key])
	}
	return nil
}

func profilesCreate(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	typ, _ := cmd.Flags().GetString("type")
	sets, _ := cmd.Flags().GetStringArray("set")
	basis, err := parseAssignments(sets)
	if err != nil {
		return out.Error("Invalid field", err)
	}

	a, err := openApp(cmd)
	if err != nil {
		return out.Error("Failed to open profile store", err)
	}
	defer a.Close()

	ctx := cmd.Context()
	name, ok := a.registry.CreateNewConnection(ctx, basis, args[0], typ)
	if !ok {
		return out.Error("Profile was not created", nil)
	}
	addSessions(ctx, a, name, typ)
	return out.Success(fmt.Sprintf("Profile %q created", name), map[string]any{"name": name, "type": typ})
}

// addSessions shows a new profile in every view whose domain its type
// serves.
func addSessions(ctx context.Context, a *app, name, typ string) {
	for _, v := range a.views {
		if !a.caps.Supports(typ, v.TreeType()) {
			continue
		}
		if err := v.AddSession(ctx, name); err != nil {
			a.errs.Handle(err, "profiles.create", "cannot add session to "+string(v.TreeType()))
		}
	}
}

func profilesUpdate(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	typ, _ := cmd.Flags().GetString("type")
	sets, _ := cmd.Flags().GetStringArray("set")
	unsets, _ := cmd.Flags().GetStringArray("unset")
	rePrompt, _ := cmd.Flags().GetBool("prompt")

	patch, err := parseAssignments(sets)
	if err != nil {
		return out.Error("Invalid field", err)
	}
	for _, key := range unsets {
		patch[strings.TrimSpace(key)] = nil
	}
	if len(patch) == 0 && !rePrompt {
		return out.Error("Nothing to update; use --set, --unset or --prompt", nil)
	}

	a, err := openApp(cmd)
	if err != nil {
		return out.Error("Failed to open profile store", err)
	}
	defer a.Close()

	info := registry.UpdateInfo{Name: args[0], Type: typ, Patch: patch}
	if !a.registry.UpdateProfile(cmd.Context(), info, rePrompt) {
		return out.Error("Profile was not updated", nil)
	}
	return out.Success(fmt.Sprintf("Profile %q updated", args[0]), map[string]any{"name": args[0]})
}

func profilesDelete(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	a, err := openApp(cmd)
	if err != nil {
		return out.Error("Failed to open profile store", err)
	}
	defer a.Close()

	ctx := cmd.Context()
	var target *profile.Profile
	if len(args) == 1 {
		p, err := a.registry.LoadNamedProfile(args[0], "")
		if err != nil {
			return out.Error("Profile not found", err)
		}
		target = &p
	}

	name := a.registry.DeleteProfile(ctx, treestore.AsConsumers(a.views), target)
	if name == "" {
		return out.Error("Profile was not deleted", nil)
	}
	a.flush(ctx)
	return out.Success(fmt.Sprintf("Profile %q deleted", name), map[string]any{"name": name})
}

type checkView struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	Endpoint string `json:"endpoint,omitempty"`
}

func profilesCheck(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)
	all, _ := cmd.Flags().GetBool("all")
	parallel, _ := cmd.Flags().GetInt("parallel")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if all == (len(args) == 1) {
		return out.Error("Give a profile name or --all", nil)
	}

	a, err := openApp(cmd)
	if err != nil {
		return out.Error("Failed to open profile store", err)
	}
	defer a.Close()

	var targets []profile.Profile
	if all {
		targets = a.registry.AllProfiles()
	} else {
		p, err := a.registry.LoadNamedProfile(args[0], "")
		if err != nil {
			return out.Error("Profile not found", err)
		}
		targets = []profile.Profile{p}
	}

	results := make([]checkView, len(targets))
	g, ctx := errgroup.WithContext(cmd.Context())
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, p := range targets {
		i, p := i, p
		g.Go(func() error {
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			res := a.registry.CheckCurrentProfile(checkCtx, p)
			view := checkView{Name: p.Name, Type: p.Type, Status: string(res.Status)}
			if res.Session != nil {
				view.Endpoint = res.Session.Endpoint
				res.Session.Close()
			}
			results[i] = view
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	if out.jsonMode {
		return out.Print(map[string]any{"results": results, "validity": a.registry.Validity()})
	}
	for _, r := range results {
		if r.Endpoint != "" {
			out.Printf("%-24s %-10s %s (%s)\n", r.Name, r.Type, r.Status, r.Endpoint)
		} else {
			out.Printf("%-24s %-10s %s\n", r.Name, r.Type, r.Status)
		}
	}
	return nil
}

func profilesDefault(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	a, err := openApp(cmd)
	if err != nil {
		return out.Error("Failed to open profile store", err)
	}
	defer a.Close()

	if len(args) == 1 {
		p, err := a.registry.LoadNamedProfile(args[0], "")
		if err != nil {
			return out.Error("Profile not found", err)
		}
		if err := a.registry.SetDefault(cmd.Context(), p.Type, p.Name); err != nil {
			return out.Error("Failed to set default", err)
		}
		return out.Success(fmt.Sprintf("Profile %q is now the default %s profile", p.Name, p.Type),
			map[string]any{"name": p.Name, "type": p.Type})
	}

	defaults := map[string]string{}
	if base, ok := a.registry.BaseProfile(); ok {
		defaults[profile.BaseType] = base.Name
	}
	for _, typ := range a.registry.Defaults().Types() {
		if p, ok := a.registry.DefaultProfile(typ); ok {
			defaults[typ] = p.Name
		}
	}
	if out.jsonMode {
		return out.Print(map[string]any{"defaults": defaults})
	}
	if len(defaults) == 0 {
		out.Printf("No default profiles\n")
		return nil
	}
	types := make([]string, 0, len(defaults))
	for typ := range defaults {
		types = append(types, typ)
	}
	sort.Strings(types)
	for _, typ := range types {
		out.Printf("%-10s %s\n", typ, defaults[typ])
	}
	return nil
}

type typeView struct {
	Type    string   `json:"type"`
	Domains []string `json:"domains,omitempty"`
	Fields  []string `json:"fields"`
}

func profilesTypes(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)

	a, err := openApp(cmd)
	if err != nil {
		return out.Error("Failed to open profile store", err)
	}
	defer a.Close()

	var views []typeView
	for _, typ := range a.registry.AllTypes() {
		v := typeView{Type: typ}
		for _, d := range profile.Domains() {
			if a.caps.Supports(typ, d) {
				v.Domains = append(v.Domains, string(d))
			}
		}
		if schema, ok := a.registry.GetSchema(typ); ok {
			for _, prop := range schema.Properties {
				field := prop.Name
				if prop.Secure {
					field += " (secure)"
				} else if !prop.Optional && prop.Default == nil {
					field += " (required)"
				}
				v.Fields = append(v.Fields, field)
			}
		}
		views = append(views, v)
	}
	if out.jsonMode {
		return out.Print(map[string]any{"types": views})
	}
	for _, v := range views {
		out.Printf("%s [%s]\n", v.Type, strings.Join(v.Domains, ", "))
		for _, f := range v.Fields {
			out.Printf("  %s\n", f)
		}
	}
	return nil
}

func profilesExport(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	output, _ := cmd.Flags().GetString("output")
	types, _ := cmd.Flags().GetStringArray("type")

	a, err := openApp(cmd)
	if err != nil {
		return out.Error("Failed to open profile store", err)
	}
	defer a.Close()

	w := cmd.OutOrStdout()
	if output != "" {
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return out.Error("Failed to create export file", err)
		}
		defer f.Close()
		w = f
	}
	if err := a.registry.Export(w, types...); err != nil {
		return out.Error("Failed to export profiles", err)
	}
	if output != "" {
		return out.Success("Profiles exported to "+output, map[string]any{"path": output})
	}
	return nil
}

func profilesImport(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	f, err := os.Open(args[0])
	if err != nil {
		return out.Error("Failed to open import file", err)
	}
	defer f.Close()

	a, err := openApp(cmd)
	if err != nil {
		return out.Error("Failed to open profile store", err)
	}
	defer a.Close()

	ctx := cmd.Context()
	report, err := a.registry.Import(ctx, f)
	if err != nil {
		return out.Error("Failed to import profiles", err)
	}
	for _, name := range report.Imported {
		if p, err := a.registry.LoadNamedProfile(name, ""); err == nil {
			addSessions(ctx, a, p.Name, p.Type)
		}
	}

	failed := make([]string, 0, len(report.Failed))
	for name := range report.Failed {
		failed = append(failed, name)
	}
	slices.Sort(failed)
	if !out.jsonMode {
		for _, name := range failed {
			out.Printf("failed: %s: %v\n", name, report.Failed[name])
		}
		for _, name := range report.Skipped {
			out.Printf("skipped: %s (name already in use)\n", name)
		}
	}
	return out.Success(fmt.Sprintf("Imported %d profile(s)", len(report.Imported)), map[string]any{
		"imported": report.Imported,
		"skipped":  report.Skipped,
		"failed":   failed,
	})
}

func profilesWatch(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	interval, _ := cmd.Flags().GetDuration("interval")

	a, err := openApp(cmd)
	if err != nil {
		return out.Error("Failed to open profile store", err)
	}
	defer a.Close()
	if a.watcher == nil {
		return out.Error("The selected store cannot be watched", nil)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	stopFollow := a.follow(ctx)
	defer stopFollow()

	out.Printf("Watching %d profile(s); press Ctrl+C to stop\n", len(a.registry.AllProfiles()))
	err = a.registry.Watch(ctx, a.watcher, interval, func(report *registry.RefreshReport) {
		if err := report.Err(); err != nil {
			a.errs.Handle(err, "profiles.refresh", "some profiles could not be loaded")
		}
		if out.jsonMode {
			_ = out.Print(map[string]any{"profiles": report.Profiles, "types": report.Types})
			return
		}
		out.Printf("%s reloaded %d profile(s)\n", time.Now().Format(time.TimeOnly), report.Profiles)
	})
	if err != nil {
		return out.Error("Watch failed", err)
	}
	return nil
}
