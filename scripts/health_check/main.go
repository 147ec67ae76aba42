package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/grandb369/tradebot/pkg/config"
	"github.com/grandb369/tradebot/pkg/db"
	exfutusdt "github.com/grandb369/tradebot/pkg/exchanges/binance/futures_usdt"
	marketbinance "github.com/grandb369/tradebot/pkg/market/binance"
)

// health_check probes the pieces a running bot depends on.
//
// Usage:
//   go run ./scripts/health_check [--json]

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
	fmt.Println("Market maker health check")
	fmt.Println("=========================")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	report := HealthReport{Overall: "HEALTHY"}

	cfg, cfgStatus := checkConfig()
	report.Services = append(report.Services, cfgStatus)
	if cfg != nil {
		report.Services = append(report.Services,
			checkJournal(ctx, cfg),
			checkBinance(ctx, cfg),
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
		icon := "✓"
		if svc.Status == "UNHEALTHY" {
			icon = "✗"
		} else if svc.Status == "DEGRADED" {
			icon = "⚠"
		}
		fmt.Printf("%s %-14s %-9s %s\n", icon, svc.Service, svc.Status, svc.Message)
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
	cfg, err := config.Load()
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = err.Error()
		return nil, status
	}
	status.Message = fmt.Sprintf("symbol=%s dry_run=%v testnet=%v", cfg.Symbol, cfg.DryRun, cfg.BinanceTestnet)
	return cfg, status
}

func checkJournal(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Journal")
	if cfg.JournalPath == "" {
		status.Status = "DEGRADED"
		status.Message = "JOURNAL_PATH not set"
		return status
	}
	database, err := db.New(cfg.JournalPath)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = err.Error()
		return status
	}
	defer database.Close()

	rows, err := database.ListOrderEvents(ctx, "", 1)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("query failed: %v", err)
		return status
	}
	if len(rows) == 0 {
		status.Message = "empty"
		return status
	}
	status.Message = fmt.Sprintf("last event %s at %s", rows[0].EventType, rows[0].CreatedAt.Format(time.RFC3339))
	return status
}

func checkBinance(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("Binance")
	client := exfutusdt.NewClient(exfutusdt.Config{
		APIKey:     cfg.BinanceAPIKey,
		APISecret:  cfg.BinanceAPISecret,
		Testnet:    cfg.BinanceTestnet,
		RecvWindow: cfg.RecvWindow,
	}, nil)

	serverTime, err := client.GetServerTime(ctx)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("server time: %v", err)
		return status
	}
	filters, err := client.GetSymbolFilters(ctx, cfg.Symbol)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("exchange info: %v", err)
		return status
	}

	network := "MAINNET"
	if cfg.BinanceTestnet {
		network = "TESTNET"
	}
	skew := time.Since(time.UnixMilli(serverTime)).Truncate(time.Millisecond)
	status.Message = fmt.Sprintf("%s skew=%s tick=%s step=%s", network, skew, filters.TickSize, filters.StepSize)

	if cfg.DryRun || cfg.BinanceAPIKey == "" {
		return status
	}
	if _, err := client.GetPositions(ctx, cfg.Symbol); err != nil {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("%s, signed request failed: %v", status.Message, err)
		return status
	}
	key, err := client.CreateListenKey(ctx)
	if err != nil {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("%s, listen key failed: %v", status.Message, err)
		return status
	}
	ch, stop, err := marketbinance.NewStreamClient(cfg.BinanceTestnet, nil).SubscribeUserData(ctx, key)
	if err != nil {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("%s, user stream failed: %v", status.Message, err)
		return status
	}
	stop()
	for range ch {
	}
	status.Message += ", user stream ok"
	return status
}

func checkAPIServer(ctx context.Context, cfg *config.Config) HealthStatus {
	status := newStatus("API Server")
	if cfg.APIAddr == "" {
		status.Status = "DEGRADED"
		status.Message = "API_ADDR not set"
		return status
	}
	base := "http://" + cfg.APIAddr
	if strings.HasPrefix(cfg.APIAddr, ":") {
		base = "http://localhost" + cfg.APIAddr
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/status", nil)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = err.Error()
		return status
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		status.Status = "UNHEALTHY"
		status.Message = fmt.Sprintf("not reachable: %v", err)
		return status
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return status
	}

	var body struct {
		ShutdownActive bool   `json:"shutdown_active"`
		ShutdownReason string `json:"shutdown_reason"`
		UptimeSeconds  int64  `json:"uptime_seconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		status.Status = "DEGRADED"
		status.Message = fmt.Sprintf("bad status body: %v", err)
		return status
	}
	if body.ShutdownActive {
		status.Status = "DEGRADED"
		status.Message = "shutting down: " + body.ShutdownReason
		return status
	}
	status.Message = fmt.Sprintf("running, uptime=%ds", body.UptimeSeconds)
	return status
}
