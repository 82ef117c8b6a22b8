package cli

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/vision-talk/backend/internal/app"
	"github.com/zhouzirui/vision-talk/backend/internal/config"
	"github.com/zhouzirui/vision-talk/backend/internal/model/chat"
	"github.com/zhouzirui/vision-talk/backend/internal/service/client"
)

type rootOptions struct {
	userID string
	name   string
	email  string

	app *app.App
}

// NewRootCmd builds the visiontalk command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "visiontalk",
		Short: "Accessible AI assistant for the terminal",
		Long: `VisionTalk talks with an AI backend, describes images and the camera feed,
and reads replies aloud with a cloned or built-in voice.

Example:
  visiontalk chat
  visiontalk sessions
  visiontalk settings set fontSize=large speechRate=1.2`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.init(cmd.Context())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.app != nil {
				opts.app.Close()
			}
		},
	}

	defaultUser := os.Getenv("USER")
	if defaultUser == "" {
		defaultUser = "local"
	}
	root.PersistentFlags().StringVarP(&opts.userID, "user", "u", defaultUser, "User id that owns the chat history")
	root.PersistentFlags().StringVar(&opts.name, "name", "", "Display name")
	root.PersistentFlags().StringVar(&opts.email, "email", "", "Email address")

	root.AddCommand(newChatCmd(opts))
	root.AddCommand(newSessionsCmd(opts))
	root.AddCommand(newSettingsCmd(opts))
	return root
}

func (o *rootOptions) init(ctx context.Context) error {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}
	cfg, err := config.Load()
	if err != nil {
		return errors.Wrap(err, "load configuration")
	}
	app.SetupLogger(cfg.LogLevel, true)

	o.app, err = app.New(ctx, cfg, app.Options{LocalCamera: true})
	return err
}

func (o *rootOptions) identity() chat.Identity {
	name := o.name
	if name == "" {
		name = o.userID
	}
	return chat.Identity{UserID: o.userID, DisplayName: name, Email: o.email}
}

func (o *rootOptions) signIn(ctx context.Context) (*client.Client, error) {
	return o.app.Registry.Get(ctx, o.identity())
}
