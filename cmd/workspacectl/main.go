// Command workspacectl is a small CLI exercising the workspace client:
// log in, inspect the session, upload and download files.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Bheem-Platform/bheem-workspace-sub001/client"
	"github.com/Bheem-Platform/bheem-workspace-sub001/config"
	"github.com/Bheem-Platform/bheem-workspace-sub001/logger"
	"github.com/Bheem-Platform/bheem-workspace-sub001/store"
	"github.com/Bheem-Platform/bheem-workspace-sub001/tracing"
	"github.com/Bheem-Platform/bheem-workspace-sub001/workspace"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func usage() error {
	fmt.Fprintln(os.Stderr, `usage: workspacectl <command> [args]

commands:
  login <email> <password>   authenticate and persist the session
  me                         show the authenticated account
  upload <path> [folder-id]  upload a file
  download <file-id> <path>  download a file
  logout                     revoke and clear the session`)
	return fmt.Errorf("missing or unknown command")
}

func run() error {
	if len(os.Args) < 2 {
		return usage()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("workspacectl", cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := tracing.Init(ctx, tracing.Config{
		ServiceName:  "workspacectl",
		OTLPEndpoint: cfg.OTLPEndpoint,
		Enabled:      cfg.TracingEnabled,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	sessionFile := cfg.SessionFile
	if sessionFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		sessionFile = filepath.Join(home, ".bheem", "session.json")
	}

	clientCfg := client.DefaultConfig(cfg.BaseURL)
	clientCfg.IdentityURL = cfg.IdentityURL
	clientCfg.Timeout = cfg.Timeout
	clientCfg.MaxRetries = cfg.MaxRetries
	clientCfg.RefreshLead = cfg.RefreshLead
	clientCfg.RefreshInterval = cfg.RefreshInterval
	clientCfg.Store = store.NewFileStore(sessionFile)
	clientCfg.Logger = log
	clientCfg.OnAuthFailure = func(loginPath string) {
		fmt.Fprintln(os.Stderr, "session expired, run `workspacectl login` again")
	}

	api, err := client.New(clientCfg)
	if err != nil {
		return fmt.Errorf("create client: %w", err)
	}
	ws := workspace.New(api)

	switch os.Args[1] {
	case "login":
		if len(os.Args) != 4 {
			return usage()
		}
		session, err := ws.Auth().Login(ctx, os.Args[2], os.Args[3])
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		fmt.Printf("logged in as %s (%s)\n", session.Account.Name, session.Account.Email)

	case "me":
		account, err := ws.Auth().Me(ctx)
		if err != nil {
			return fmt.Errorf("fetch account: %w", err)
		}
		fmt.Printf("%s <%s> id=%s\n", account.Name, account.Email, account.ID)

	case "upload":
		if len(os.Args) < 3 {
			return usage()
		}
		folderID := ""
		if len(os.Args) > 3 {
			folderID = os.Args[3]
		}
		f, err := os.Open(os.Args[2])
		if err != nil {
			return fmt.Errorf("open file: %w", err)
		}
		defer f.Close()

		uploaded, err := ws.Files().Upload(ctx, folderID, filepath.Base(os.Args[2]), f,
			func(sent, total int64) {
				fmt.Fprintf(os.Stderr, "\r%d/%d bytes", sent, total)
			})
		if err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		fmt.Printf("\nuploaded %s id=%s size=%d\n", uploaded.Name, uploaded.ID, uploaded.Size)

	case "download":
		if len(os.Args) != 4 {
			return usage()
		}
		out, err := os.Create(os.Args[3])
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer out.Close()

		n, err := ws.Files().Download(ctx, os.Args[2], out)
		if err != nil {
			return fmt.Errorf("download: %w", err)
		}
		fmt.Printf("wrote %d bytes to %s\n", n, os.Args[3])

	case "logout":
		if err := ws.Auth().Logout(ctx); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
		fmt.Println("logged out")

	default:
		return usage()
	}

	return nil
}
