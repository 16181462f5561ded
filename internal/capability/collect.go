package capability

import (
	"context"

	"github.com/nupi-ai/connprof/internal/profile"
)

// CollectProfileDetails fills the fields of schema, starting from existing.
// Required properties without a value or default are prompted for; with
// rePrompt every property is prompted, seeded with its current value, and an
// empty answer keeps that value. ok is false when the user cancels. The
// result is normalised against schema.
func (r *Registry) CollectProfileDetails(ctx context.Context, prompts Prompter, existing profile.Fields, schema profile.Schema, rePrompt bool) (fields profile.Fields, ok bool, err error) {
	out := existing.Clone()
	if prompts != nil {
		for _, prop := range schema.Properties {
			current, has := out[prop.Name]
			missing := !has || current == nil || current == ""
			if !rePrompt && !(missing && !prop.Optional && !prop.Secure && prop.Default == nil) {
				continue
			}

			label := prop.Name
			if prop.Description != "" {
				label = prop.Description
			}
			seed := ""
			if !prop.Secure {
				seed = out.String(prop.Name)
			}
			answer, ok := prompts.Input(ctx, label, seed, prop.Secure)
			if !ok {
				return nil, false, nil
			}
			if answer != "" {
				out[prop.Name] = answer
			}
		}
	}

	normalized, err := schema.Normalize(out)
	if err != nil {
		return nil, true, err
	}
	return normalized, true, nil
}

// Credentials returns the user and password to connect with, prompting when
// the options ask for it. ok is false when the user cancels.
func Credentials(ctx context.Context, p profile.Profile, opts SessionOptions) (user, password string, ok bool) {
	user = p.Fields.String("user")
	password = p.Fields.String("password")
	if opts.Prompter == nil || !opts.PromptCredentials {
		return user, password, true
	}
	if opts.ForcePrompt || user == "" {
		if user, ok = opts.Prompter.Input(ctx, "user for "+p.Name, user, false); !ok {
			return "", "", false
		}
	}
	if opts.ForcePrompt || password == "" {
		if password, ok = opts.Prompter.Input(ctx, "password for "+p.Name, "", true); !ok {
			return "", "", false
		}
	}
	return user, password, true
}
