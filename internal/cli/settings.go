package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newSettingsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change application settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSON(cmd.OutOrStdout(), opts.app.Settings.Current())
		},
	}

	setCmd := &cobra.Command{
		Use:   "set key=value...",
		Short: "Change one or more settings",
		Long: `Changes settings by key. Values that parse as JSON keep their type, anything else is a string.

Example:
  visiontalk settings set theme=light fontSize=large
  visiontalk settings set speechRate=1.25 highContrast=true`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := buildPatch(args)
			if err != nil {
				return err
			}
			updated, err := opts.app.Settings.Update(patch)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), updated)
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Restore the default settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.app.Settings.Reset(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Settings reset to default\n", color.GreenString("✓"))
			return nil
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Write the settings as JSON to a file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := opts.app.Settings.Export()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			if err := os.WriteFile(args[0], data, 0o644); err != nil {
				return errors.Wrapf(err, "write %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Settings exported to %s\n", color.GreenString("✓"), args[0])
			return nil
		},
	}

	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the settings with a previously exported file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(err, "read %s", args[0])
			}
			if err := opts.app.Settings.Import(data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Settings imported successfully\n", color.GreenString("✓"))
			return nil
		},
	}

	voiceCmd := &cobra.Command{
		Use:   "voice <file.wav>",
		Short: "Use a wav recording as the custom narration voice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrapf(err, "read %s", args[0])
			}
			if err := opts.app.Settings.SetCustomVoice(filepath.Base(args[0]), contentTypeFor(args[0]), data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Custom voice set\n", color.GreenString("✓"))
			return nil
		},
	}

	previewCmd := &cobra.Command{
		Use:   "preview",
		Short: "Speak a sample sentence with the current voice settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.app.Settings.Preview(cmd.Context(), opts.app.Speech.Synthesizer())
		},
	}

	cmd.AddCommand(setCmd, resetCmd, exportCmd, importCmd, voiceCmd, previewCmd)
	return cmd
}

// buildPatch turns key=value arguments into a JSON merge patch.
func buildPatch(args []string) ([]byte, error) {
	patch := make(map[string]json.RawMessage, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Errorf("invalid setting %q, expected key=value", arg)
		}
		raw := json.RawMessage(value)
		if !json.Valid(raw) {
			quoted, err := json.Marshal(value)
			if err != nil {
				return nil, err
			}
			raw = quoted
		}
		patch[key] = raw
	}
	return json.Marshal(patch)
}

func contentTypeFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return "audio/wav"
	}
	return "application/octet-stream"
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
