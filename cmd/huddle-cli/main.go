package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Alexander-D-Karpov/huddle/internal/authz"
	"github.com/Alexander-D-Karpov/huddle/internal/common/config"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/cache"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/db"
	"github.com/Alexander-D-Karpov/huddle/internal/infra/migrations"
	"github.com/Alexander-D-Karpov/huddle/internal/membership"
	"github.com/Alexander-D-Karpov/huddle/internal/ratelimit"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load(".env")

	migrateCmd := flag.NewFlagSet("migrate", flag.ExitOnError)
	dryRun := migrateCmd.Bool("dry-run", false, "list pending migrations without applying them")

	clearCmd := flag.NewFlagSet("clear-ratelimit", flag.ExitOnError)
	clearAll := clearCmd.Bool("all", false, "clear all rate limits")
	clearClass := clearCmd.String("class", ratelimit.ClassDefault, "limit class (default, send, react)")
	clearSubject := clearCmd.String("subject", "", "user id or client address to clear")

	memberCmd := flag.NewFlagSet("add-member", flag.ExitOnError)
	channel := memberCmd.String("channel", "", "channel id")
	user := memberCmd.String("user", "", "user id")
	role := memberCmd.String("role", string(authz.RoleUser), "role (owner, moderator, user)")
	perms := memberCmd.String("perms", "", "comma separated explicit permissions")

	if len(os.Args) < 2 {
		printUsage()
		return nil
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "migrate":
		if err := migrateCmd.Parse(os.Args[2:]); err != nil {
			return err
		}
		return handleMigrate(ctx, *dryRun)
	case "clear-ratelimit":
		if err := clearCmd.Parse(os.Args[2:]); err != nil {
			return err
		}
		return handleClearRateLimit(ctx, *clearAll, *clearClass, *clearSubject)
	case "add-member":
		if err := memberCmd.Parse(os.Args[2:]); err != nil {
			return err
		}
		return handleAddMember(ctx, *channel, *user, *role, *perms)
	default:
		printUsage()
		return nil
	}
}

func handleMigrate(ctx context.Context, dryRun bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	database, err := db.New(ctx, cfg.Database, zap.NewNop())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if dryRun {
		pending, err := migrations.Pending(ctx, database.Pool)
		if err != nil {
			return fmt.Errorf("list pending migrations: %w", err)
		}
		if len(pending) == 0 {
			fmt.Println("Database is up to date")
			return nil
		}
		for _, m := range pending {
			fmt.Printf("pending: %03d %s\n", m.Version, m.Name)
		}
		return nil
	}

	applied, err := migrations.Run(ctx, database.Pool)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	fmt.Printf("Applied %d migration(s)\n", len(applied))
	return nil
}

func handleClearRateLimit(ctx context.Context, all bool, class, subject string) error {
	if !all && subject == "" {
		return fmt.Errorf("must specify either --all or --subject")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if !cfg.Redis.Enabled {
		return fmt.Errorf("redis is not enabled in config")
	}

	cacheClient, err := cache.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer func() {
		if err := cacheClient.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "error closing cache client: %v\n", err)
		}
	}()

	limiter := ratelimit.NewLimiter(cacheClient, cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, true, zap.NewNop())
	defer limiter.Close()

	if all {
		n, err := limiter.ClearAll(ctx)
		if err != nil {
			return fmt.Errorf("clear all rate limits: %w", err)
		}
		if n == 0 {
			fmt.Println("No rate limit keys found")
			return nil
		}
		fmt.Printf("Cleared %d rate limit key(s)\n", n)
		return nil
	}

	if err := limiter.Reset(ctx, class, subject); err != nil {
		return fmt.Errorf("clear rate limit: %w", err)
	}
	fmt.Printf("Rate limit cleared for %s:%s\n", class, subject)
	return nil
}

func handleAddMember(ctx context.Context, channel, user, roleName, permList string) error {
	channelID, err := uuid.Parse(channel)
	if err != nil {
		return fmt.Errorf("invalid --channel: %w", err)
	}
	userID, err := uuid.Parse(user)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}
	role, ok := authz.ParseRole(roleName)
	if !ok {
		return fmt.Errorf("unknown role %q", roleName)
	}

	var explicit []authz.Permission
	for _, p := range strings.Split(permList, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		perm, ok := authz.ParsePermission(p)
		if !ok {
			return fmt.Errorf("unknown permission %q", p)
		}
		explicit = append(explicit, perm)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	database, err := db.New(ctx, cfg.Database, zap.NewNop())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	if err := membership.NewRepository(database.Pool).SetMember(ctx, channelID, userID, role, explicit); err != nil {
		return fmt.Errorf("set member: %w", err)
	}
	fmt.Printf("User %s is now %s in channel %s\n", userID, role, channelID)
	return nil
}

func printUsage() {
	fmt.Println("Usage: huddle-cli <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  migrate [--dry-run]")
	fmt.Println("        Apply pending database migrations")
	fmt.Println("  clear-ratelimit --all | --subject <id> [--class default|send|react]")
	fmt.Println("        Clear rate limit windows")
	fmt.Println("  add-member --channel <id> --user <id> [--role user] [--perms a,b]")
	fmt.Println("        Grant a user membership in a channel")
}
