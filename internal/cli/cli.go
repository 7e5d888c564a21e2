// Package cli implements the easysftp command.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	easysftp "github.com/VikingPathak/Easy-SFTP"
	"github.com/VikingPathak/Easy-SFTP/internal/config"
	"github.com/VikingPathak/Easy-SFTP/internal/logging"
	"github.com/VikingPathak/Easy-SFTP/internal/prompt"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// needsSession marks commands that connect before running.
const needsSession = "easysftp/session"

var sessionAnnotation = map[string]string{needsSession: "true"}

// Session is what the commands need from an *easysftp.Session.
type Session interface {
	ListFiles(ctx context.Context, remotePath string) ([]string, error)
	DownloadFile(ctx context.Context, remoteFilePath, localDir string) error
	UploadFile(ctx context.Context, localFilePath, remotePath string) error
	MoveFile(ctx context.Context, currFilePath, newFilePath string) error
	Close() error
}

// DialFunc opens a Session.
type DialFunc func(ctx context.Context, cfg easysftp.Config, opts ...easysftp.Option) (Session, error)

func dialSession(ctx context.Context, cfg easysftp.Config, opts ...easysftp.Option) (Session, error) {
	s, err := easysftp.Dial(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// App carries the command's I/O and dependencies.
type App struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer

	// Dial defaults to easysftp.Dial.
	Dial DialFunc
	// EnvDir is where .env files are read from.
	EnvDir string

	configFile string
	session    Session
	logger     *zap.Logger
}

// NewApp returns an App wired to the process's standard streams.
func NewApp() *App {
	return &App{In: os.Stdin, Out: os.Stdout, Err: os.Stderr}
}

// NewRootCommand builds the command tree for app.
func NewRootCommand(app *App) *cobra.Command {
	if app.Dial == nil {
		app.Dial = dialSession
	}

	root := &cobra.Command{
		Use:           "easysftp",
		Short:         "List, download, upload and move files on an SFTP server",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[needsSession] == "" {
				return nil
			}
			return app.connect(cmd)
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			return app.close()
		},
	}
	root.SetIn(app.In)
	root.SetOut(app.Out)
	root.SetErr(app.Err)

	root.PersistentFlags().StringVarP(&app.configFile, "config", "c", "", "Path to YAML config file (or set EASYSFTP_CONFIG)")
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newListCommand(app),
		newGetCommand(app),
		newPutCommand(app),
		newMoveCommand(app),
	)
	return root
}

// connect loads configuration, asks for whatever is still missing and
// opens the session used by the subcommand.
func (app *App) connect(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Options{
		File:   app.configFile,
		EnvDir: app.EnvDir,
		Flags:  cmd.Flags(),
	})
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	app.logger = logger

	if err := prompt.New(app.In, app.Err).Resolve(&cfg.SFTP); err != nil {
		return err
	}

	session, err := app.Dial(cmd.Context(), cfg.SFTP, easysftp.WithLogger(logger))
	if err != nil {
		return err
	}
	app.session = session
	return nil
}

func (app *App) close() error {
	var err error
	if app.session != nil {
		err = app.session.Close()
		app.session = nil
	}
	if app.logger != nil {
		_ = app.logger.Sync()
	}
	return err
}

func newListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "ls [remote-path]",
		Annotations: sessionAnnotation,
		Short:       "List the directory containing remote-path (default: working directory)",
		Args:        cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var remotePath string
			if len(args) == 1 {
				remotePath = args[0]
			}
			names, err := app.session.ListFiles(cmd.Context(), remotePath)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newGetCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "get <remote-file> [local-dir]",
		Annotations: sessionAnnotation,
		Short:       "Download a file into local-dir (default: current directory)",
		Args:        cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			localDir := "."
			if len(args) == 2 {
				localDir = args[1]
			}
			return app.session.DownloadFile(cmd.Context(), args[0], localDir)
		},
	}
}

func newPutCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "put <local-file> <remote-dir>",
		Annotations: sessionAnnotation,
		Short:       "Upload a file into a remote directory",
		Args:        cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session.UploadFile(cmd.Context(), args[0], args[1])
		},
	}
}

func newMoveCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:         "mv <remote-file> <new-remote-file>",
		Aliases:     []string{"move"},
		Annotations: sessionAnnotation,
		Short:       "Move or rename a remote file",
		Args:        cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.session.MoveFile(cmd.Context(), args[0], args[1])
		},
	}
}

// Execute runs the command with args and returns the process exit code.
func Execute(ctx context.Context, app *App, args []string) int {
	root := NewRootCommand(app)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if closeErr := app.close(); err == nil {
		err = closeErr
	}
	if err == nil {
		return 0
	}

	fmt.Fprintln(app.Err, "error:", err)
	var sftpErr *easysftp.Error
	if errors.As(err, &sftpErr) && sftpErr.Kind == easysftp.KindAuth {
		fmt.Fprintln(app.Err, "check the username and password or key")
	}
	return 1
}
