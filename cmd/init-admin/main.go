package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"llm_portal/internal/auth"
	"llm_portal/internal/config"
	"llm_portal/internal/models"
	"llm_portal/internal/storage"

	"github.com/google/uuid"
)

// Bootstraps the first administrator account. Safe to run repeatedly: it
// exits without changes once any admin exists.
func main() {
	fmt.Println("LLM Portal - Bootstrap Admin Initialization")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	email := strings.ToLower(strings.TrimSpace(os.Getenv("ADMIN_BOOTSTRAP_EMAIL")))
	password := os.Getenv("ADMIN_BOOTSTRAP_PASSWORD")
	departmentName := os.Getenv("ADMIN_BOOTSTRAP_DEPARTMENT")
	if departmentName == "" {
		departmentName = "Administration"
	}

	if email == "" || password == "" {
		fmt.Fprintf(os.Stderr, "ERROR: ADMIN_BOOTSTRAP_EMAIL and ADMIN_BOOTSTRAP_PASSWORD must be set\n")
		os.Exit(1)
	}
	if at := strings.Index(email, "@"); at <= 0 || at == len(email)-1 {
		fmt.Fprintf(os.Stderr, "ERROR: Invalid email format: %s\n", email)
		os.Exit(1)
	}
	if len(password) < 8 {
		fmt.Fprintf(os.Stderr, "ERROR: Password must be at least 8 characters long\n")
		os.Exit(1)
	}

	fmt.Println("Connecting to database...")
	db, err := storage.NewDB(storage.DBConfig{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		QuotaCacheSize:  10, // minimal caches for a one-shot tool
		QuotaCacheTTL:   time.Minute,
		ConfigCacheSize: 10,
		ConfigCacheTTL:  time.Minute,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	users := storage.NewUserRepository(db)
	departments := storage.NewDepartmentRepository(db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	fmt.Println("Checking for existing admin users...")
	existing, err := users.List(ctx, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to check existing users: %v\n", err)
		os.Exit(1)
	}
	for _, u := range existing {
		if u.HasRole(auth.RoleAdmin.String()) {
			fmt.Printf("INFO: Admin user %s already exists. Bootstrap not needed.\n", u.Email)
			fmt.Println("Exiting successfully (no action taken)")
			os.Exit(0)
		}
	}

	if _, err := users.GetByEmail(ctx, email); err == nil {
		fmt.Printf("INFO: User with email %s already exists\n", email)
		fmt.Println("Exiting successfully (no action taken)")
		os.Exit(0)
	} else if !errors.Is(err, storage.ErrUserNotFound) {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to check for existing user: %v\n", err)
		os.Exit(1)
	}

	department, err := findOrCreateDepartment(ctx, departments, departmentName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to prepare department %q: %v\n", departmentName, err)
		os.Exit(1)
	}

	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to hash password: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Creating bootstrap admin user: %s\n", email)
	admin := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		DepartmentID: department.ID,
		Roles:        []string{auth.RoleAdmin.String()},
		Enabled:      true,
	}
	if err := users.Create(ctx, admin); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: Failed to create admin user: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("SUCCESS: Bootstrap admin user created")
	fmt.Printf("Email: %s\n", admin.Email)
	fmt.Printf("ID: %s\n", admin.ID)
	fmt.Printf("Department: %s (%s)\n", department.Name, department.ID)
	fmt.Println("\nUnset ADMIN_BOOTSTRAP_EMAIL and ADMIN_BOOTSTRAP_PASSWORD, then create")
	fmt.Println("further accounts through the admin API.")
}

func findOrCreateDepartment(ctx context.Context, repo *storage.DepartmentRepository, name string) (*models.Department, error) {
	all, err := repo.List(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, d := range all {
		if strings.EqualFold(d.Name, name) {
			return d, nil
		}
	}

	d := &models.Department{
		ID:      uuid.New(),
		Name:    name,
		Enabled: true,
	}
	if err := repo.Create(ctx, d); err != nil {
		return nil, err
	}
	fmt.Printf("Created department: %s\n", d.Name)
	return d, nil
}
