package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	cfnats "github.com/Strob0t/realtyhub/internal/adapter/nats"
	"github.com/Strob0t/realtyhub/internal/adapter/postgres"
	"github.com/Strob0t/realtyhub/internal/adapter/ristretto"
	"github.com/Strob0t/realtyhub/internal/config"
	"github.com/Strob0t/realtyhub/internal/domain/tenant"
	"github.com/Strob0t/realtyhub/internal/domain/user"
	"github.com/Strob0t/realtyhub/internal/logger"
	"github.com/Strob0t/realtyhub/internal/port/messagequeue"
	"github.com/Strob0t/realtyhub/internal/service"
	"github.com/Strob0t/realtyhub/internal/tenancy"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "migrate":
		return runAdminMigrate(args[1:])
	case "create-tenant":
		return runAdminCreateTenant(args[1:])
	case "provision", "retry", "resume", "repair":
		return runAdminLifecycle(args[0], args[1:])
	case "list-tenants":
		return runAdminListTenants(args[1:])
	case "create-superuser":
		return runAdminCreateUser(args[1:], true)
	case "create-user":
		return runAdminCreateUser(args[1:], false)
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: realtyhub admin <command> [options]

Commands:
  migrate            Apply pending migrations (--rollback N, --status)
  create-tenant      Register a tenant and provision its partition
  provision          Provision a pending or failed tenant
  retry              Retry provisioning of a failed tenant
  resume             Re-run provisioning stuck in progress
  repair             Add missing tables to a ready tenant
  list-tenants       List all tenants
  create-superuser   Create a platform operator
  create-user        Create a user inside a tenant
  help               Show this help message

Examples:
  realtyhub admin create-tenant --slug acme --name "Acme Realty" --domain acme.example.com
  realtyhub admin retry --slug acme
  realtyhub admin create-superuser --email ops@example.com --name Ops
  realtyhub admin create-user --tenant acme --email jane@acme.example.com --name Jane --role owner
`)
}

// adminDeps are the services an admin command runs against. Provisioning
// dispatches in process; wait blocks until dispatched runs finish.
type adminDeps struct {
	cfg          *config.Config
	store        *postgres.Store
	tenants      *service.TenantService
	provisioning *service.ProvisioningService
	auth         *service.AuthService
	wait         func()
	close        func()
}

func loadAdminDeps(ctx context.Context) (*adminDeps, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, logCloser := logger.New(cfg.Logging)
	slog.SetDefault(log)

	shared := cfg.Tenancy.SharedSchema
	pool, err := postgres.NewPool(ctx, cfg.Postgres, shared)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	closers := []func(){logCloser.Close, pool.Close}

	// Replicas drop their cached routing state when NATS is reachable.
	var bus messagequeue.Broadcaster
	if cfg.NATS.URL != "" {
		q, err := cfnats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats unavailable, replicas keep cached routing until expiry", "error", err)
		} else {
			bus = q
			closers = append(closers, func() { _ = q.Drain() })
		}
	}

	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	l1, err := ristretto.New(1 << 20)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("l1 cache: %w", err)
	}
	closers = append(closers, l1.Close)
	dc := tenancy.NewDomainCache(l1, cfg.Tenancy.HostCacheTTL, cfg.Tenancy.TenantCacheTTL, nil)

	store := postgres.NewStore(pool)
	invalidator := service.NewInvalidator(dc, bus, "admin-"+uuid.NewString())
	provisioning := service.NewProvisioningService(store, postgres.NewSchemaManager(pool, shared), invalidator, nil, &cfg.Provisioning, nil)
	local := service.NewLocalDispatcher(provisioning.Execute, cfg.Provisioning.MaxConcurrent, cfg.Provisioning.Timeout)
	provisioning.SetDispatcher(local)
	creds := service.NewCredentialService(&cfg.Auth, nil)

	return &adminDeps{
		cfg:          cfg,
		store:        store,
		tenants:      service.NewTenantService(store, provisioning, invalidator, nil),
		provisioning: provisioning,
		auth:         service.NewAuthService(postgres.NewTenantUserStore(postgres.NewBinder(pool, shared)), store, creds, &cfg.Auth),
		wait:         local.Wait,
		close:        closeAll,
	}, nil
}

func runAdminMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	rollback := fs.Int("rollback", 0, "roll back the last N migrations")
	status := fs.Bool("status", false, "print the current migration version")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	switch {
	case *status:
		v, err := postgres.MigrationVersion(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		fmt.Printf("migration version: %d\n", v)
	case *rollback > 0:
		if err := postgres.RollbackMigrations(ctx, cfg.Postgres.DSN, *rollback); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *rollback)
	default:
		if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Migrations applied")
	}
	return nil
}

func runAdminCreateTenant(args []string) error {
	fs := flag.NewFlagSet("create-tenant", flag.ContinueOnError)
	slug := fs.String("slug", "", "tenant slug (required)")
	name := fs.String("name", "", "display name (required)")
	primary := fs.String("domain", "", "primary domain")
	backoffice := fs.String("backoffice", "", "back-office domain")
	apiHost := fs.String("api-host", "", "API domain")
	maxAgents := fs.Int("max-agents", 0, "agent seat limit (0 = unlimited)")
	maxListings := fs.Int("max-listings", 0, "listing limit (0 = unlimited)")
	noProvision := fs.Bool("no-provision", false, "register only; provision later")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *slug == "" || *name == "" {
		return fmt.Errorf("--slug and --name are required")
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	t, err := deps.tenants.Create(ctx, tenant.CreateRequest{
		Slug:        *slug,
		DisplayName: *name,
		Domains:     tenant.Domains{Primary: *primary, Backoffice: *backoffice, APIHost: *apiHost},
		Plan:        tenant.Plan{MaxAgents: *maxAgents, MaxListings: *maxListings},
	}, !*noProvision)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}
	if *noProvision {
		fmt.Fprintf(os.Stderr, "Tenant registered: %s (status=%s)\n", t.Slug, t.Status)
		return nil
	}
	return reportOutcome(ctx, deps, t.Slug)
}

func runAdminLifecycle(op string, args []string) error {
	fs := flag.NewFlagSet(op, flag.ContinueOnError)
	slug := fs.String("slug", "", "tenant slug (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *slug == "" {
		return fmt.Errorf("--slug is required")
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	switch op {
	case "repair":
		_, err = deps.provisioning.Repair(ctx, *slug)
	case "provision":
		_, err = deps.provisioning.Request(ctx, *slug)
	case "retry":
		_, err = deps.provisioning.Retry(ctx, *slug)
	case "resume":
		_, err = deps.provisioning.Resume(ctx, *slug)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return reportOutcome(ctx, deps, *slug)
}

// reportOutcome waits for in-process provisioning and prints the result.
func reportOutcome(ctx context.Context, deps *adminDeps, slug string) error {
	deps.wait()
	t, err := deps.tenants.Get(ctx, slug)
	if err != nil {
		return err
	}
	if t.Report != nil {
		printReport(t.Report)
	}
	fmt.Fprintf(os.Stderr, "Tenant %s: status=%s schema=%s\n", t.Slug, t.Status, t.SchemaName)
	if t.Status == tenant.StatusFailed {
		return fmt.Errorf("provisioning failed: %s", t.ProvisioningError)
	}
	return nil
}

func printReport(r *tenant.ProvisionReport) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TABLE\tRESULT")
	for _, res := range r.Tables {
		outcome := "ok"
		if !res.OK() {
			outcome = res.Error
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\n", res.Table, outcome)
	}
	_ = w.Flush()
	fmt.Fprintln(os.Stderr, r.Summary())
}

func runAdminListTenants(args []string) error {
	fs := flag.NewFlagSet("list-tenants", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	tenants, err := deps.tenants.List(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}
	if len(tenants) == 0 {
		fmt.Println("No tenants found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SLUG\tSTATUS\tACTIVE\tSCHEMA\tHOSTS\tCREATED")
	for i := range tenants {
		t := &tenants[i]
		_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\t%s\n",
			t.Slug, t.Status, t.Active, t.SchemaName, strings.Join(t.Domains.Hosts(), ","), t.CreatedAt.Format(time.DateOnly))
	}
	return w.Flush()
}

func runAdminCreateUser(args []string, platform bool) error {
	name := "create-user"
	if platform {
		name = "create-superuser"
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	email := fs.String("email", "", "user email address (required)")
	display := fs.String("name", "", "user display name (required)")
	password := fs.String("password", "", "password (prompted if not provided)") //nolint:gosec // CLI flag
	slug := fs.String("tenant", "", "tenant slug (create-user only)")
	role := fs.String("role", string(user.RoleOwner), "owner, manager or agent (create-user only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *email == "" || *display == "" {
		return fmt.Errorf("--email and --name are required")
	}
	if !platform && *slug == "" {
		return fmt.Errorf("--tenant is required")
	}

	pass := *password
	if pass == "" {
		var err error
		pass, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if pass != confirm {
			return fmt.Errorf("passwords do not match")
		}
	}

	ctx := context.Background()
	deps, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer deps.close()

	req := &user.CreateRequest{Email: *email, Name: *display, Password: pass}
	var u *user.User
	if platform {
		req.Role = user.RoleSuperadmin
		bound, err := tenancy.Bind(ctx, tenancy.Shared(deps.cfg.Tenancy.SharedSchema))
		if err != nil {
			return err
		}
		u, err = deps.auth.CreatePlatformUser(bound, req)
		if err != nil {
			return fmt.Errorf("create superuser: %w", err)
		}
	} else {
		req.Role = user.Role(*role)
		t, err := deps.tenants.Get(ctx, *slug)
		if err != nil {
			return fmt.Errorf("get tenant: %w", err)
		}
		if t.Status != tenant.StatusReady {
			return fmt.Errorf("tenant %s is %s, not ready", t.Slug, t.Status)
		}
		bound, err := tenancy.Bind(ctx, tenancy.ForTenant(t.Slug, t.SchemaName))
		if err != nil {
			return err
		}
		u, err = deps.auth.CreateTenantUser(bound, req)
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
	}

	fmt.Fprintf(os.Stderr, "User created: %s (id=%s, role=%s)\n", u.Email, u.ID, u.Role)
	return nil
}

// promptPassword reads a password from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after password input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
