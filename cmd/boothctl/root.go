package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var flagAddr string

var rootCmd = &cobra.Command{
	Use:   "boothctl",
	Short: "Operator CLI for a running photo booth",
	Long: `boothctl talks to the HTTP API of a booth runtime. It can inspect the
visitor interaction state, trigger a capture while the capture window is
open, and list the photos the booth has kept.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "", "Base URL of the booth runtime (default BOOTH_ADDR or http://127.0.0.1:8080)")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

func apiBase() string {
	if flagAddr != "" {
		return strings.TrimRight(flagAddr, "/")
	}
	if env := os.Getenv("BOOTH_ADDR"); env != "" {
		return strings.TrimRight(env, "/")
	}
	return "http://127.0.0.1:8080"
}

var httpClient = &http.Client{Timeout: 10 * time.Second}

func getJSON(path string, out any) error {
	resp, err := httpClient.Get(apiBase() + path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func postJSON(path string, wantStatus int, out any) error {
	resp, err := httpClient.Post(apiBase()+path, "application/json", nil)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		return fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
