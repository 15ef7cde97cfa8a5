// Package main runs the interactive invoicing client: a local store,
// a connectivity probe and the sync engine behind a small shell.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wadi-transport/invoicesync/internal/client/api"
	"github.com/wadi-transport/invoicesync/internal/client/connectivity"
	"github.com/wadi-transport/invoicesync/internal/client/store"
	"github.com/wadi-transport/invoicesync/internal/client/sync"
	"github.com/wadi-transport/invoicesync/internal/models"
)

var (
	version   string
	buildDate string
)

func prompt(scanner *bufio.Scanner, label string) string {
	fmt.Printf("%s: ", label)
	if !scanner.Scan() {
		return ""
	}
	return strings.TrimSpace(scanner.Text())
}

func promptFloat(scanner *bufio.Scanner, label string) float64 {
	v, _ := strconv.ParseFloat(prompt(scanner, label), 64)
	return v
}

// promptInvoice collects the fields of a new invoice from stdin.
func promptInvoice(scanner *bufio.Scanner) models.Invoice {
	inv := models.Invoice{
		DriverName:         prompt(scanner, "driver name"),
		VehicleType:        prompt(scanner, "vehicle type"),
		VehicleNumber:      prompt(scanner, "vehicle number"),
		Axles:              prompt(scanner, "axles"),
		AllowedWeightTotal: prompt(scanner, "allowed total weight"),
		AllowedLoadWeight:  prompt(scanner, "allowed load weight"),
		EmptyWeight:        prompt(scanner, "empty weight"),
		Overweight:         prompt(scanner, "overweight"),
		Type:               prompt(scanner, "type (incoming/outgoing)"),
		RouteOrRegion:      prompt(scanner, "route or region"),
		ScaleName:          prompt(scanner, "scale name"),
		Fee:                promptFloat(scanner, "fee"),
		Penalty:            promptFloat(scanner, "penalty"),
		Discount:           promptFloat(scanner, "discount"),
		PayableAmount:      promptFloat(scanner, "payable amount"),
	}
	inv.NetAmount = inv.PayableAmount - inv.Discount + inv.Penalty
	return inv
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

// repl runs the interactive shell loop.
func repl(ctx context.Context, engine *sync.Engine) {
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("invoicesync> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		args := strings.Fields(line)
		if len(args) == 0 {
			continue
		}
		switch args[0] {
		case "help":
			fmt.Println("Commands: help, login, logout, status, sync, invoices [search]," +
				" invoice <id>, add-invoice, delete-invoice <id>, users, add-user," +
				" delete-user <id>, settings, exit")
		case "login":
			username := prompt(scanner, "username")
			password := prompt(scanner, "password")
			u, err := engine.Login(ctx, username, password)
			if err != nil {
				fmt.Println("Login failed:", err)
				continue
			}
			fmt.Printf("Logged in as %s (%s)\n", u.Name, u.Role)
		case "logout":
			engine.Logout(ctx)
			fmt.Println("Logged out")
		case "status":
			if engine.Online() {
				fmt.Println("online")
			} else {
				fmt.Println("offline")
			}
		case "sync":
			if err := engine.SyncCycle(ctx); err != nil {
				fmt.Println("Sync failed:", err)
			} else {
				fmt.Println("Sync complete")
			}
		case "invoices":
			var filter models.InvoiceFilter
			if len(args) > 1 {
				filter.SearchTerm = strings.Join(args[1:], " ")
			}
			page, err := engine.Invoices(ctx, filter, 1, 20)
			if err != nil {
				fmt.Println("List failed:", err)
				continue
			}
			for _, inv := range page.Invoices {
				fmt.Printf("%s  %s  %s  %.2f\n",
					inv.InvoiceNumber, inv.CreatedAt.Format("2006-01-02"), inv.DriverName, inv.NetAmount)
			}
			fmt.Printf("%d of %d total\n", len(page.Invoices), page.Total)
		case "invoice":
			if len(args) < 2 {
				fmt.Println("Usage: invoice <id>")
				continue
			}
			inv, err := engine.InvoiceByID(ctx, args[1])
			if err != nil {
				fmt.Println("Not found:", err)
				continue
			}
			printJSON(inv)
		case "add-invoice":
			inv, err := engine.SaveInvoice(ctx, promptInvoice(scanner))
			if err != nil {
				fmt.Println("Save failed:", err)
				continue
			}
			fmt.Println("Saved", inv.InvoiceNumber)
		case "delete-invoice":
			if len(args) < 2 {
				fmt.Println("Usage: delete-invoice <id>")
				continue
			}
			if err := engine.DeleteInvoice(ctx, args[1]); err != nil {
				fmt.Println("Delete failed:", err)
			} else {
				fmt.Println("Invoice deleted")
			}
		case "users":
			users, err := engine.Users(ctx)
			if err != nil {
				fmt.Println("List failed:", err)
				continue
			}
			for _, u := range users {
				fmt.Printf("%s  %s  %s  %s\n", u.ID, u.Username, u.Name, u.Role)
			}
		case "add-user":
			name := prompt(scanner, "name")
			username := prompt(scanner, "username")
			password := prompt(scanner, "password")
			u, err := engine.AddUser(ctx, name, username, password)
			if err != nil {
				fmt.Println("Add failed:", err)
				continue
			}
			fmt.Println("User created:", u.Username)
		case "delete-user":
			if len(args) < 2 {
				fmt.Println("Usage: delete-user <id>")
				continue
			}
			if err := engine.DeleteUser(ctx, args[1]); err != nil {
				fmt.Println("Delete failed:", err)
			} else {
				fmt.Println("User deleted")
			}
		case "settings":
			s, err := engine.Settings(ctx)
			if err != nil {
				fmt.Println("Settings failed:", err)
				continue
			}
			printJSON(s)
		case "exit":
			fmt.Println("Bye")
			return
		default:
			fmt.Println("Unknown command. Type 'help' for a list of commands.")
		}
	}
}

func main() {
	var (
		baseURL      string
		dbPath       string
		deviceID     string
		syncSpec     string
		pollInterval time.Duration
		showVer      bool
	)

	flag.StringVar(&baseURL, "url", "http://localhost:8080", "server base URL")
	flag.StringVar(&dbPath, "db", "invoicesync.db", "path to local database")
	flag.StringVar(&deviceID, "device", "", "device identifier (generated when empty)")
	flag.StringVar(&syncSpec, "sync-every", "@every 1m", "periodic sync cron spec")
	flag.DurationVar(&pollInterval, "poll", 10*time.Second, "connectivity poll interval")
	flag.BoolVar(&showVer, "version", false, "show build version and date")
	flag.Parse()

	if showVer {
		fmt.Printf("InvoiceSync Client\nVersion: %s\nBuild Date: %s\n", version, buildDate)
		return
	}

	if deviceID == "" {
		deviceID = "device_" + uuid.NewString()[:8]
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	st, err := store.Open(dbPath)
	if err != nil {
		log.Fatal("cannot open local store", zap.Error(err))
	}
	defer st.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := api.New(baseURL, nil)
	probe := connectivity.NewProbe(baseURL+"/healthz", pollInterval, nil)
	probe.Start(ctx)

	engine := sync.New(st, client, probe, deviceID, log)
	engine.Start(ctx)

	scheduler := sync.NewScheduler(engine, syncSpec, log)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal("cannot start sync scheduler", zap.Error(err))
	}
	defer scheduler.Stop()

	fmt.Printf("invoicesync client %s (device %s)\n", buildVersion(), deviceID)
	repl(ctx, engine)
}

func buildVersion() string {
	if version == "" {
		return "dev"
	}
	return version
}
