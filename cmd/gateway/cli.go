package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/Duocast/TSOD/internal/control"
	"github.com/Duocast/TSOD/internal/ids"
)

// RunCLI handles day-two operability subcommands against the control
// repository's SQLite file, adapted from the teacher's cli.go
// (version/status/channels/settings/backup) onto this spec's schema:
// version, status, channels [list|create], roles [list|grant|revoke],
// backup (SPEC_FULL.md §12). Returns true if a subcommand was handled.
func RunCLI(args []string, dbPath string) bool {
	if len(args) == 0 {
		return false
	}

	switch args[0] {
	case "version":
		fmt.Printf("gateway %s\n", Version)
		return true
	case "status":
		return cliStatus(dbPath)
	case "channels":
		return cliChannels(args[1:], dbPath)
	case "roles":
		return cliRoles(args[1:], dbPath)
	case "backup":
		return cliBackup(args[1:], dbPath)
	default:
		return false
	}
}

func openRepoOrExit(dbPath string) *control.SQLiteRepo {
	repo, err := control.NewSQLiteRepo(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening database: %v\n", err)
		os.Exit(1)
	}
	return repo
}

func cliStatus(dbPath string) bool {
	repo := openRepoOrExit(dbPath)
	defer repo.Close()

	fi, err := os.Stat(dbPath)
	var size string
	if err == nil {
		size = humanize.Bytes(uint64(fi.Size()))
	} else {
		size = "unknown"
	}

	fmt.Printf("Database: %s (%s)\n", dbPath, size)
	fmt.Printf("Version: %s\n", Version)
	return true
}

func cliChannels(args []string, dbPath string) bool {
	repo := openRepoOrExit(dbPath)
	defer repo.Close()
	ctx := context.Background()

	if len(args) == 0 || args[0] == "list" {
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: gateway channels list <server-id>")
			os.Exit(1)
		}
		server, err := ids.ParseServerID(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid server id: %v\n", err)
			os.Exit(1)
		}
		tx, err := repo.Begin(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		defer tx.Rollback()
		chs, err := repo.ListChannels(ctx, tx, server)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(chs) == 0 {
			fmt.Println("No channels found.")
			return true
		}
		for _, ch := range chs {
			fmt.Printf("  %s  %s\n", ch.ID, ch.Name)
		}
		return true
	}

	if args[0] == "create" && len(args) > 2 {
		server, err := ids.ParseServerID(args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid server id: %v\n", err)
			os.Exit(1)
		}
		name := args[2]
		svc := control.NewService(repo)
		reqCtx := control.RequestContext{ServerID: server, UserID: ids.NewUserID(), IsAdmin: true}
		ch, err := svc.CreateChannel(ctx, reqCtx, name, nil, nil, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error creating channel: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Created channel %q (id=%s)\n", ch.Name, ch.ID)
		return true
	}

	fmt.Fprintln(os.Stderr, "Usage: gateway channels [list <server-id>|create <server-id> <name>]")
	os.Exit(1)
	return true
}

// cliRoles operates on the persisted roles/user_roles tables directly
// (SPEC_FULL.md §12): list shows the two seeded role definitions,
// list-assigned/grant/revoke mutate and read a (server, user)'s role
// assignment through the same repository and decide_permission path the
// running gateway process uses, so a grant/revoke made here takes effect
// on that user's very next request without a restart.
func cliRoles(args []string, dbPath string) bool {
	if len(args) == 0 || args[0] == "list" {
		fmt.Println("admin: all capabilities")
		fmt.Println("member: join_channel, speak, stream, upload")
		return true
	}

	ctx := context.Background()
	repo := openRepoOrExit(dbPath)
	defer repo.Close()

	switch args[0] {
	case "list-assigned":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: gateway roles list-assigned <server-id> <user-id>")
			os.Exit(1)
		}
		server, user := parseServerUser(args[1], args[2])
		tx, err := repo.Begin(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		defer tx.Rollback()
		roles, err := repo.UserRoles(ctx, tx, server, user)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(roles) == 0 {
			fmt.Println("member (default)")
			return true
		}
		for _, r := range roles {
			fmt.Println(r)
		}
		return true

	case "grant", "revoke":
		if len(args) < 4 {
			fmt.Fprintf(os.Stderr, "Usage: gateway roles %s <server-id> <user-id> <role-id>\n", args[0])
			os.Exit(1)
		}
		server, user := parseServerUser(args[1], args[2])
		role := control.RoleID(args[3])

		tx, err := repo.Begin(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		current, err := repo.UserRoles(ctx, tx, server, user)
		if err != nil {
			tx.Rollback()
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if len(current) == 0 {
			current = []control.RoleID{"member"}
		}
		updated := applyRoleChange(current, role, args[0] == "grant")
		if err := repo.SetUserRoles(ctx, tx, server, user, updated); err != nil {
			tx.Rollback()
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		if err := tx.Commit(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("roles for %s: %v\n", user, updated)
		return true
	}

	fmt.Fprintln(os.Stderr, "Usage: gateway roles [list|list-assigned <server-id> <user-id>|grant <server-id> <user-id> <role-id>|revoke <server-id> <user-id> <role-id>]")
	os.Exit(1)
	return true
}

func parseServerUser(serverArg, userArg string) (ids.ServerID, ids.UserID) {
	server, err := ids.ParseServerID(serverArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid server id: %v\n", err)
		os.Exit(1)
	}
	user, err := ids.ParseUserID(userArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid user id: %v\n", err)
		os.Exit(1)
	}
	return server, user
}

func applyRoleChange(current []control.RoleID, role control.RoleID, grant bool) []control.RoleID {
	out := make([]control.RoleID, 0, len(current)+1)
	found := false
	for _, r := range current {
		if r == role {
			found = true
			if !grant {
				continue
			}
		}
		out = append(out, r)
	}
	if grant && !found {
		out = append(out, role)
	}
	return out
}

func cliBackup(args []string, dbPath string) bool {
	repo := openRepoOrExit(dbPath)
	defer repo.Close()

	outPath := "gateway-backup.db"
	if len(args) > 0 {
		outPath = args[0]
	}
	if err := repo.Backup(outPath); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Database backed up to %s\n", outPath)
	return true
}
