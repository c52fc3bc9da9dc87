package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"equity-core/internal/repository"
	"equity-core/pkg/config"
	"equity-core/pkg/db"
	"equity-core/pkg/db/postgres"
	"equity-core/pkg/exchanges/lssec"
)

type HealthStatus struct {
	Service   string    `json:"service"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthReport struct {
	Overall  string         `json:"overall"`
	Services []HealthStatus `json:"services"`
}

func main() {
	fmt.Println("equity-core health check")
	fmt.Println("========================")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := HealthReport{Overall: "HEALTHY"}

	cfg, status := checkConfig()
	report.Services = append(report.Services, status)
	if cfg != nil {
		report.Services = append(report.Services,
			checkDatabase(ctx, cfg),
			checkLSSec(ctx, cfg),
			checkAPIServer(ctx, cfg),
		)
	}

	for _, svc := range report.Services {
		if svc.Status == "UNHEALTHY" {
			report.Overall = "UNHEALTHY"
			break
		} else if svc.Status == "DEGRADED" {
			report.Overall = "DEGRADED"
		}
	}

	fmt.Println()
	for _, svc := range report.Services {
		icon := "ok "
		switch svc.Status {
		case "UNHEALTHY":
			icon = "ERR"
		case "DEGRADED":
			icon = "WRN"
		}
		fmt.Printf("[%s] %-16s %-10s %s\n", icon, svc.Service, svc.Status, svc.Message)
	}
	fmt.Printf("\nOverall Status: %s\n", report.Overall)

	if len(os.Args) > 1 && os.Args[1] == "--json" {
		jsonData, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(jsonData))
	}

	if report.Overall == "UNHEALTHY" {
		os.Exit(1)
	}
}

func newStatus(service string) HealthStatus {
	return HealthStatus{Service: service, Status: "HEALTHY", Timestamp: time.Now()}
}

func checkConfig() (*config.Config, HealthStatus) {
	status := newStatus("Configuration")
	cfg, err := config.Load("")
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Failed to load: %v", err)
		return nil, status
	}
	status.Message = fmt.Sprintf("port=%s driver=%s dry_run=%v", cfg.App.Port, cfg.Database.Driver, cfg.App.DryRun)
	return cfg, status
}

func checkDatabase(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Database")

	var (
		store repository.Store
		err   error
	)
	if cfg.Database.Driver == "postgres" {
		store, err = postgres.Connect(ctx, postgres.Config{URL: cfg.Database.URL, MaxConns: 1})
	} else {
		store, err = db.New(cfg.Database.Path)
	}
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Connection failed: %v", err)
		return status
	}
	defer store.Close()

	if err := store.Ping(ctx); err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Ping failed: %v", err)
		return status
	}
	status.Message = cfg.Database.Driver + " connected"
	return status
}

func checkLSSec(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("LS-SEC API")
	client := lssec.New(lssec.Config{
		AppKey:      cfg.LSSec.AppKey,
		AppSecret:   cfg.LSSec.AppSecret,
		BaseURL:     cfg.LSSec.BaseURL,
		HTTPTimeout: cfg.HTTPTimeout(),
	})
	if _, err := client.AccessToken(ctx); err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Token request failed: %v", err)
		return status
	}
	status.Message = "Token issued by " + cfg.LSSec.BaseURL
	return status
}

func checkAPIServer(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Operator API")
	if !cfg.API.Enabled {
		status.Status = "DEGRADED"
		status.Message = "Disabled"
		return status
	}

	url := fmt.Sprintf("http://localhost:%s/health", cfg.App.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = err.Error()
		return status
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("Not reachable: %v", err)
		return status
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return status
	}
	status.Message = "Running"
	return status
}
